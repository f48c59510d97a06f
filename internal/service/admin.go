package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/opsdash/dashboard-server/internal/config"
	"github.com/opsdash/dashboard-server/internal/database"
	apperrors "github.com/opsdash/dashboard-server/internal/errors"
	"github.com/opsdash/dashboard-server/internal/model"
	"github.com/opsdash/dashboard-server/internal/repository"
	"github.com/opsdash/dashboard-server/internal/util"
)

// Transactor runs fn inside a single database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type AdminService struct {
	tx          Transactor
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	sessions    *SessionService
	hashCost    int
}

func NewAdminService(
	tx Transactor,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	sessions *SessionService,
) *AdminService {
	return &AdminService{
		tx:          tx,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		sessions:    sessions,
		hashCost:    config.PasswordHashCost,
	}
}

func (s *AdminService) ListSessions(ctx context.Context, userID *int64) ([]model.SessionSummary, error) {
	sessions, err := s.sessions.ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return sessions, nil
}

func (s *AdminService) ForceLogout(ctx context.Context, userID int64) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return apperrors.Database(err)
	}
	if user == nil {
		return apperrors.NotFound("User")
	}
	if !s.sessions.ForceLogoutUser(ctx, userID) {
		return apperrors.Internal("Failed to revoke sessions")
	}
	return nil
}

// DeactivateUser disables the account and revokes all of its sessions in one
// transaction. It returns the number of sessions revoked.
func (s *AdminService) DeactivateUser(ctx context.Context, actorID, userID int64) (int64, error) {
	if actorID == userID {
		return 0, apperrors.ValidationError("Cannot deactivate your own account")
	}

	var revoked int64
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		found, err := s.userRepo.WithTx(tx).Deactivate(ctx, userID)
		if err != nil {
			return apperrors.Database(err)
		}
		if !found {
			return apperrors.NotFound("User")
		}

		revoked, err = s.sessionRepo.WithTx(tx).ForceDeactivateUserSessions(ctx, userID)
		if err != nil {
			return apperrors.Database(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().
		Int64("actorId", actorID).
		Int64("userId", userID).
		Int64("revoked", revoked).
		Msg("user deactivated")
	return revoked, nil
}

// ActivateUser re-enables a deactivated account. Sessions revoked at
// deactivation stay revoked; the user logs in again.
func (s *AdminService) ActivateUser(ctx context.Context, actorID, userID int64) error {
	found, err := s.userRepo.Activate(ctx, userID)
	if err != nil {
		return apperrors.Database(err)
	}
	if !found {
		return apperrors.NotFound("User")
	}

	log.Info().
		Int64("actorId", actorID).
		Int64("userId", userID).
		Msg("user activated")
	return nil
}

// EnsureDefaultAdmin creates the configured administrator when no active
// admin account exists. It reports whether an account was created.
func (s *AdminService) EnsureDefaultAdmin(ctx context.Context, admin config.BootstrapAdmin) (bool, error) {
	if !admin.Enabled() {
		return false, nil
	}

	n, err := s.userRepo.CountActiveByRole(ctx, model.RoleAdmin)
	if err != nil {
		return false, apperrors.Database(err)
	}
	if n > 0 {
		log.Debug().Int("admins", n).Msg("active admin present, bootstrap skipped")
		return false, nil
	}

	role, err := s.userRepo.FindRoleByName(ctx, model.RoleAdmin)
	if err != nil {
		return false, apperrors.Database(err)
	}
	if role == nil || !role.IsActive {
		return false, apperrors.Internal("Admin role is missing or disabled")
	}

	hash, err := util.HashPassword(admin.Password, s.hashCost)
	if err != nil {
		return false, apperrors.Internal("Failed to hash password").WithCause(err)
	}

	user, err := s.userRepo.Create(ctx, model.CreateUserParams{
		Username:     admin.Username,
		Name:         admin.Name,
		PasswordHash: hash,
		RoleID:       role.ID,
		IsVerified:   true,
		IsActive:     true,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return false, apperrors.Conflict(fmt.Sprintf("Username %q already exists without an active admin role", admin.Username))
	}
	if err != nil {
		return false, apperrors.Database(err)
	}

	log.Info().Int64("userId", user.ID).Str("username", user.Username).Msg("default admin created")
	return true, nil
}
