package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opsdash/dashboard-server/internal/audit"
	"github.com/opsdash/dashboard-server/internal/messages"
	"github.com/opsdash/dashboard-server/internal/model"
	"github.com/opsdash/dashboard-server/internal/repository"
	"github.com/opsdash/dashboard-server/internal/sessionctx"
	"github.com/opsdash/dashboard-server/internal/util"
)

// SessionResult is the outcome of CreateUserSession. Message is always safe
// to show to the end user.
type SessionResult struct {
	Success   bool      `json:"success"`
	SessionID int64     `json:"sessionId,omitempty"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Message   string    `json:"message,omitempty"`
}

type SessionService struct {
	sessionRepo repository.SessionRepository
	lifetime    time.Duration
	now         func() time.Time
}

// NewSessionService creates the session service. lifetime is used whenever a
// caller passes a non-positive ttl.
func NewSessionService(sessionRepo repository.SessionRepository, lifetime time.Duration) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		lifetime:    lifetime,
		now:         time.Now,
	}
}

// CreateUserSession never returns an error; failures are reported through
// SessionResult with a generic message.
func (s *SessionService) CreateUserSession(ctx context.Context, identity model.Identity, sc sessionctx.Context, ttl time.Duration) SessionResult {
	if ttl <= 0 {
		ttl = s.lifetime
	}

	ip := model.Truncate(sc.ClientIP, model.MaxIPAddressLength)
	ua := model.Truncate(sc.UserAgent, model.MaxUserAgentLength)
	expiresAt := s.now().Add(ttl)

	session, token, err := s.sessionRepo.CreateSession(ctx, model.CreateSessionParams{
		UserID:    identity.UserID,
		IPAddress: optional(ip),
		UserAgent: optional(ua),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		log.Error().Err(err).Int64("userId", identity.UserID).Msg("create session failed")
		return SessionResult{Message: messages.Get(sc.Locale, messages.SystemError)}
	}

	log.Info().
		Int64("sessionId", session.ID).
		Int64("userId", identity.UserID).
		Str("token", util.MaskToken(token)).
		Time("expiresAt", session.ExpiresAt).
		Msg("session created")

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionCreate,
		UserID:    identity.UserID,
		Username:  identity.Username,
		SessionID: session.ID,
		IP:        ip,
		UserAgent: ua,
	})

	return SessionResult{
		Success:   true,
		SessionID: session.ID,
		Token:     token,
		ExpiresAt: session.ExpiresAt,
		Message:   messages.Get(sc.Locale, messages.LoginSuccess),
	}
}

// Validate fails closed: store errors yield Invalid("system error").
func (s *SessionService) Validate(ctx context.Context, token string) model.SessionValidation {
	if token == "" {
		return model.InvalidSession("no token")
	}

	v, err := s.sessionRepo.GetSessionByToken(ctx, token)
	if err != nil {
		log.Error().Err(err).Str("token", util.MaskToken(token)).Msg("validate session failed")
		return model.InvalidSession("system error")
	}
	return v
}

// Refresh touches last_activity unless the session is expired.
func (s *SessionService) Refresh(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}

	expired, err := s.sessionRepo.IsExpired(ctx, token)
	if err != nil {
		log.Error().Err(err).Str("token", util.MaskToken(token)).Msg("expiry check failed")
		return false
	}
	if expired {
		return false
	}

	ok, err := s.sessionRepo.UpdateActivity(ctx, token)
	if err != nil {
		log.Error().Err(err).Str("token", util.MaskToken(token)).Msg("update activity failed")
		return false
	}
	return ok
}

// Revoke is idempotent. A missing token counts as already revoked.
func (s *SessionService) Revoke(ctx context.Context, token string) bool {
	if token == "" {
		return true
	}

	found, err := s.sessionRepo.DeactivateSession(ctx, token)
	if err != nil {
		log.Error().Err(err).Str("token", util.MaskToken(token)).Msg("revoke session failed")
		return false
	}
	if found {
		log.Info().Str("token", util.MaskToken(token)).Msg("session revoked")
	}
	return true
}

func (s *SessionService) ForceLogoutUser(ctx context.Context, userID int64) bool {
	n, err := s.sessionRepo.ForceDeactivateUserSessions(ctx, userID)
	if err != nil {
		log.Error().Err(err).Int64("userId", userID).Msg("force logout failed")
		return false
	}
	log.Info().Int64("userId", userID).Int64("revoked", n).Msg("user sessions force-deactivated")
	return true
}

func (s *SessionService) ListActiveSessions(ctx context.Context, userID *int64) ([]model.SessionSummary, error) {
	return s.sessionRepo.ListActiveSessions(ctx, userID)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
