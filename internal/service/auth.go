package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/opsdash/dashboard-server/internal/errors"
	"github.com/opsdash/dashboard-server/internal/messages"
	"github.com/opsdash/dashboard-server/internal/model"
	"github.com/opsdash/dashboard-server/internal/repository"
	"github.com/opsdash/dashboard-server/internal/sessionctx"
	"github.com/opsdash/dashboard-server/internal/util"
)

type LoginResult struct {
	Identity  model.Identity `json:"user"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Message   string         `json:"message"`
}

// PasswordVerifier checks a plaintext password against a stored hash.
type PasswordVerifier func(plain, hash string) bool

type AuthService struct {
	userRepo repository.UserRepository
	sessions *SessionService
	verify   PasswordVerifier
}

func NewAuthService(userRepo repository.UserRepository, sessions *SessionService) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		sessions: sessions,
		verify:   util.CheckPasswordHash,
	}
}

// Login authenticates a user and opens a session. Every failure is an
// AppError whose message is localized for sc.Locale and reveals nothing
// about which check failed, except for disabled accounts after a correct
// password.
func (s *AuthService) Login(ctx context.Context, username, password string, sc sessionctx.Context) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperrors.MissingRequired(messages.Get(sc.Locale, messages.RequiredFields))
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("login: user lookup failed")
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, messages.Get(sc.Locale, messages.SystemError), err)
	}

	loginFailed := apperrors.InvalidCredentials(messages.Get(sc.Locale, messages.LoginFailed))

	if user == nil || !user.IsVerified {
		log.Warn().Str("username", username).Msg("login: unknown or unverified user")
		return nil, loginFailed
	}

	if !s.verify(password, user.PasswordHash) {
		log.Warn().Str("username", username).Int64("userId", user.ID).Msg("login: invalid password")
		return nil, loginFailed
	}

	if !user.IsActive {
		log.Warn().Int64("userId", user.ID).Msg("login: account disabled")
		return nil, apperrors.AccountDisabled(messages.Get(sc.Locale, messages.AccountDisabled))
	}

	identity := user.Identity()
	result := s.sessions.CreateUserSession(ctx, identity, sc, 0)
	if !result.Success {
		return nil, apperrors.Internal(result.Message)
	}

	log.Info().Int64("userId", user.ID).Str("role", user.RoleName).Msg("login successful")

	return &LoginResult{
		Identity:  identity,
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		Message:   result.Message,
	}, nil
}
