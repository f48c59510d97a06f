package model

import (
	"time"
)

// Column limits for audit metadata.
const (
	MaxIPAddressLength = 45
	MaxUserAgentLength = 500
)

type Session struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"userId"`
	TokenHash    string    `db:"token_hash" json:"-"`
	IPAddress    *string   `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent    *string   `db:"user_agent" json:"userAgent,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	ExpiresAt    time.Time `db:"expires_at" json:"expiresAt"`
	LastActivity time.Time `db:"last_activity" json:"lastActivity"`
	IsActive     bool      `db:"is_active" json:"isActive"`
}

type CreateSessionParams struct {
	UserID    int64
	IPAddress *string
	UserAgent *string
	ExpiresAt time.Time
}

// SessionSummary is the monitoring projection of an active session.
type SessionSummary struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"userId"`
	Username     string    `db:"username" json:"username"`
	RoleName     string    `db:"role_name" json:"role"`
	IPAddress    *string   `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent    *string   `db:"user_agent" json:"userAgent,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	LastActivity time.Time `db:"last_activity" json:"lastActivity"`
	ExpiresAt    time.Time `db:"expires_at" json:"expiresAt"`
}

// SessionLookup is a session row joined with its user and role.
type SessionLookup struct {
	UserID       int64     `db:"user_id"`
	Username     string    `db:"username"`
	RoleName     string    `db:"role_name"`
	ExpiresAt    time.Time `db:"expires_at"`
	LastActivity time.Time `db:"last_activity"`
	IsActive     bool      `db:"is_active"`
}

// SessionPolicy decides whether a stored session is still usable.
// A zero IdleTimeout disables idle enforcement.
type SessionPolicy struct {
	IdleTimeout time.Duration
}

// Expired reports whether a session is past its absolute expiry or idle limit.
// A session expiring exactly at now is expired.
func (p SessionPolicy) Expired(expiresAt, lastActivity, now time.Time) bool {
	if !now.Before(expiresAt) {
		return true
	}
	if p.IdleTimeout > 0 && now.Sub(lastActivity) >= p.IdleTimeout {
		return true
	}
	return false
}

// Evaluate classifies a looked-up session. A nil lookup is NotFound.
func (p SessionPolicy) Evaluate(row *SessionLookup, now time.Time) SessionValidation {
	if row == nil {
		return NotFoundSession()
	}
	if !row.IsActive {
		return InactiveSession()
	}
	if now.Before(row.ExpiresAt) && p.IdleTimeout > 0 && now.Sub(row.LastActivity) >= p.IdleTimeout {
		return IdleSession()
	}
	if p.Expired(row.ExpiresAt, row.LastActivity, now) {
		return ExpiredSession()
	}
	return ValidSession(row.UserID, row.Username, row.RoleName)
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
