// Package mirror holds the per-connection UI state that reflects the
// durable session: who is logged in, with which token.
package mirror

import (
	"sync"
	"time"

	"github.com/opsdash/dashboard-server/internal/model"
)

// Well-known keys.
const (
	KeyLoggedIn     = "logged_in"
	KeyUserID       = "user_id"
	KeyUsername     = "username"
	KeyName         = "name"
	KeyRoleID       = "role_id"
	KeyRoleName     = "role_name"
	KeySessionToken = "session_token"
)

// Mirror is a mutex-guarded key/value map owned by one browser view.
// It is a cache of the session store and never authoritative.
type Mirror struct {
	mu       sync.RWMutex
	values   map[string]any
	lastSeen time.Time
}

func New() *Mirror {
	return &Mirror{values: make(map[string]any), lastSeen: time.Now()}
}

func (m *Mirror) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *Mirror) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *Mirror) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

func (m *Mirror) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Clear removes every key.
func (m *Mirror) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.values)
}

func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// SetSession writes the identity and token in one step.
func (m *Mirror) SetSession(identity model.Identity, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[KeyLoggedIn] = true
	m.values[KeyUserID] = identity.UserID
	m.values[KeyUsername] = identity.Username
	m.values[KeyName] = identity.Name
	m.values[KeyRoleID] = identity.RoleID
	m.values[KeyRoleName] = identity.RoleName
	m.values[KeySessionToken] = token
}

// Identity returns the mirrored identity when the view is logged in.
func (m *Mirror) Identity() (model.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if loggedIn, _ := m.values[KeyLoggedIn].(bool); !loggedIn {
		return model.Identity{}, false
	}
	id, _ := m.values[KeyUserID].(int64)
	username, _ := m.values[KeyUsername].(string)
	name, _ := m.values[KeyName].(string)
	roleID, _ := m.values[KeyRoleID].(int64)
	roleName, _ := m.values[KeyRoleName].(string)
	return model.Identity{
		UserID:   id,
		Username: username,
		Name:     name,
		RoleID:   roleID,
		RoleName: roleName,
	}, true
}

func (m *Mirror) Token() string {
	v, _ := m.Get(KeySessionToken)
	token, _ := v.(string)
	return token
}

func (m *Mirror) LoggedIn() bool {
	v, _ := m.Get(KeyLoggedIn)
	loggedIn, _ := v.(bool)
	return loggedIn
}

func (m *Mirror) touch(now time.Time) {
	m.mu.Lock()
	m.lastSeen = now
	m.mu.Unlock()
}

func (m *Mirror) idleSince(now time.Time) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return now.Sub(m.lastSeen)
}
