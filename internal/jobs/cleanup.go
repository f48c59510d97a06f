package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opsdash/dashboard-server/internal/mirror"
)

// SessionPurger removes session rows past their retention window.
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type CleanupJob struct {
	sessions   SessionPurger
	registry   *mirror.Registry
	mirrorIdle time.Duration
	interval   time.Duration
	done       chan struct{}
	stopOnce   sync.Once
}

// NewCleanupJob builds the housekeeping job. Either sessions or registry may
// be nil to skip that part.
func NewCleanupJob(sessions SessionPurger, registry *mirror.Registry, mirrorIdle, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		sessions:   sessions,
		registry:   registry,
		mirrorIdle: mirrorIdle,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		log.Info().Msg("cleanup job stopped")
	})
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if j.sessions != nil {
		j.runCleanup(ctx, "sessions", j.sessions.DeleteExpired)
	}
	if j.registry != nil {
		j.runCleanup(ctx, "idle mirrors", func(context.Context) (int64, error) {
			return int64(j.registry.Sweep(j.mirrorIdle)), nil
		})
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
