package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/opsdash/dashboard-server/internal/database"
	"github.com/opsdash/dashboard-server/internal/model"
	"github.com/opsdash/dashboard-server/internal/util"
)

// MinTokenLength is the shortest token worth a store round trip.
const MinTokenLength = 32

// ErrTokenCollision is returned when a freshly generated token hit the
// unique constraint twice in a row.
var ErrTokenCollision = errors.New("session token collision")

// SessionRepository is the durable source of truth for sessions. Tokens are
// passed in clear and stored hashed.
type SessionRepository interface {
	CreateSession(ctx context.Context, params model.CreateSessionParams) (*model.Session, string, error)
	GetSessionByToken(ctx context.Context, token string) (model.SessionValidation, error)
	DeactivateSession(ctx context.Context, token string) (bool, error)
	UpdateActivity(ctx context.Context, token string) (bool, error)
	IsExpired(ctx context.Context, token string) (bool, error)
	ForceDeactivateUserSessions(ctx context.Context, userID int64) (int64, error)
	ListActiveSessions(ctx context.Context, userID *int64) ([]model.SessionSummary, error)
	DeleteExpired(ctx context.Context) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db        database.DBTX
	policy    model.SessionPolicy
	retention time.Duration
	now       func() time.Time
	newToken  func() (string, error)
}

// NewSessionRepository builds the Postgres session store. retention is how
// long expired or revoked rows are kept before DeleteExpired removes them.
func NewSessionRepository(db *sqlx.DB, policy model.SessionPolicy, retention time.Duration) SessionRepository {
	return &sessionRepo{
		db:        db,
		policy:    policy,
		retention: retention,
		now:       time.Now,
		newToken:  util.GenerateToken,
	}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	clone := *r
	clone.db = tx
	return &clone
}

func (r *sessionRepo) CreateSession(ctx context.Context, params model.CreateSessionParams) (*model.Session, string, error) {
	for attempt := 1; attempt <= 2; attempt++ {
		token, err := r.newToken()
		if err != nil {
			return nil, "", fmt.Errorf("%w: generate token: %v", ErrStore, err)
		}

		session, err := r.insert(ctx, token, params)
		if err == nil {
			return session, token, nil
		}
		if !isUniqueViolation(err) {
			return nil, "", fmt.Errorf("%w: insert session: %v", ErrStore, err)
		}
		log.Warn().Int("attempt", attempt).Int64("userId", params.UserID).Msg("session token collision")
	}
	return nil, "", fmt.Errorf("%w: %w", ErrStore, ErrTokenCollision)
}

func (r *sessionRepo) insert(ctx context.Context, token string, params model.CreateSessionParams) (*model.Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := r.now()
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO user_sessions (user_id, token_hash, ip_address, user_agent, created_at, expires_at, last_activity, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $5, TRUE)
		RETURNING *
	`, params.UserID, util.HashToken(token), params.IPAddress, params.UserAgent, now, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) GetSessionByToken(ctx context.Context, token string) (model.SessionValidation, error) {
	if len(token) < MinTokenLength {
		return model.NotFoundSession(), nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var row model.SessionLookup
	err := r.db.GetContext(ctx, &row, `
		SELECT s.user_id, u.username, ro.name AS role_name,
		       s.expires_at, s.last_activity, s.is_active
		FROM user_sessions s
		JOIN user_accounts u ON u.id = s.user_id
		JOIN roles ro ON ro.id = u.role_id
		WHERE s.token_hash = $1
	`, util.HashToken(token))
	found, err := HandleNotFound(&row, err)
	if err != nil {
		return model.InvalidSession("system error"), fmt.Errorf("%w: select session: %v", ErrStore, err)
	}
	return r.policy.Evaluate(found, r.now()), nil
}

func (r *sessionRepo) DeactivateSession(ctx context.Context, token string) (bool, error) {
	if len(token) < MinTokenLength {
		return false, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `
		UPDATE user_sessions SET is_active = FALSE WHERE token_hash = $1
	`, util.HashToken(token))
	if err != nil {
		return false, fmt.Errorf("%w: deactivate session: %v", ErrStore, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: deactivate session: %v", ErrStore, err)
	}
	return n > 0, nil
}

func (r *sessionRepo) UpdateActivity(ctx context.Context, token string) (bool, error) {
	if len(token) < MinTokenLength {
		return false, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `
		UPDATE user_sessions SET last_activity = GREATEST(last_activity, $2)
		WHERE token_hash = $1 AND is_active
	`, util.HashToken(token), r.now())
	if err != nil {
		return false, fmt.Errorf("%w: update activity: %v", ErrStore, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: update activity: %v", ErrStore, err)
	}
	return n > 0, nil
}

// IsExpired fails closed: a missing row or a store error both count as expired.
func (r *sessionRepo) IsExpired(ctx context.Context, token string) (bool, error) {
	if len(token) < MinTokenLength {
		return true, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var row struct {
		ExpiresAt    time.Time `db:"expires_at"`
		LastActivity time.Time `db:"last_activity"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT expires_at, last_activity FROM user_sessions WHERE token_hash = $1
	`, util.HashToken(token))
	found, err := HandleNotFound(&row, err)
	if err != nil {
		return true, fmt.Errorf("%w: select expiry: %v", ErrStore, err)
	}
	if found == nil {
		return true, nil
	}
	return r.policy.Expired(found.ExpiresAt, found.LastActivity, r.now()), nil
}

func (r *sessionRepo) ForceDeactivateUserSessions(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `
		UPDATE user_sessions SET is_active = FALSE WHERE user_id = $1 AND is_active
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: deactivate user sessions: %v", ErrStore, err)
	}
	return result.RowsAffected()
}

func (r *sessionRepo) ListActiveSessions(ctx context.Context, userID *int64) ([]model.SessionSummary, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	sessions := []model.SessionSummary{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT s.id, s.user_id, u.username, ro.name AS role_name,
		       s.ip_address, s.user_agent, s.created_at, s.last_activity, s.expires_at
		FROM user_sessions s
		JOIN user_accounts u ON u.id = s.user_id
		JOIN roles ro ON ro.id = u.role_id
		WHERE s.is_active AND s.expires_at > $1
		  AND ($2::BIGINT IS NULL OR s.user_id = $2)
		ORDER BY s.last_activity DESC
	`, r.now(), userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrStore, err)
	}
	return sessions, nil
}

func (r *sessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cutoff := r.now().Add(-r.retention)
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM user_sessions
		WHERE expires_at < $1 OR (NOT is_active AND last_activity < $1)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired: %v", ErrStore, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired: %v", ErrStore, err)
	}
	return n, nil
}
