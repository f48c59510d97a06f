package mirror

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Registry maps view ids to their mirrors.
type Registry struct {
	mu      sync.Mutex
	mirrors map[string]*Mirror
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		mirrors: make(map[string]*Mirror),
		now:     time.Now,
	}
}

// Get returns the mirror for viewID and marks it as seen.
func (r *Registry) Get(viewID string) (*Mirror, bool) {
	if viewID == "" {
		return nil, false
	}
	r.mu.Lock()
	m, ok := r.mirrors[viewID]
	r.mu.Unlock()
	if ok {
		m.touch(r.now())
	}
	return m, ok
}

// Create registers an empty mirror under a new view id.
func (r *Registry) Create() (string, *Mirror) {
	m := New()
	return r.Register(m), m
}

// Register stores m under a fresh view id and returns the id.
func (r *Registry) Register(m *Mirror) string {
	id := uuid.NewString()
	m.touch(r.now())

	r.mu.Lock()
	r.mirrors[id] = m
	r.mu.Unlock()
	return id
}

func (r *Registry) Remove(viewID string) {
	r.mu.Lock()
	delete(r.mirrors, viewID)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mirrors)
}

// Sweep drops mirrors not seen for longer than idle and returns how many
// were removed.
func (r *Registry) Sweep(idle time.Duration) int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, m := range r.mirrors {
		if m.idleSince(now) > idle {
			delete(r.mirrors, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Int("remaining", len(r.mirrors)).Msg("swept idle mirrors")
	}
	return removed
}
