package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/opsdash/dashboard-server/internal/mirror"
	"github.com/opsdash/dashboard-server/internal/model"
	"github.com/opsdash/dashboard-server/internal/repository"
	"github.com/opsdash/dashboard-server/internal/util"
)

// RestorationManager keeps a view's mirror in step with the session store.
type RestorationManager struct {
	sessions *SessionService
	userRepo repository.UserRepository
}

// NewRestorationManager builds the manager. userRepo may be nil, in which
// case the mirror gets only what the session lookup returns.
func NewRestorationManager(sessions *SessionService, userRepo repository.UserRepository) *RestorationManager {
	return &RestorationManager{sessions: sessions, userRepo: userRepo}
}

// RestoreFromToken populates m from a valid token. On any other outcome m is
// left untouched and false is returned.
func (rm *RestorationManager) RestoreFromToken(ctx context.Context, m *mirror.Mirror, token string) bool {
	v := rm.sessions.Validate(ctx, token)
	if !v.IsValid() {
		log.Info().
			Str("token", util.MaskToken(token)).
			Str("status", string(v.Status)).
			Str("reason", v.Reason).
			Msg("session restore rejected")
		return false
	}

	identity := model.Identity{
		UserID:   v.UserID,
		Username: v.Username,
		RoleName: v.RoleName,
	}
	if rm.userRepo != nil {
		if user, err := rm.userRepo.FindByID(ctx, v.UserID); err == nil && user != nil {
			identity = user.Identity()
		}
	}

	m.SetSession(identity, token)
	log.Info().Int64("userId", v.UserID).Msg("session restored")
	return true
}

// EnsureActive validates the mirrored token. On failure both the mirror and
// the stored session are cleared; on success activity is refreshed.
func (rm *RestorationManager) EnsureActive(ctx context.Context, m *mirror.Mirror) bool {
	token := m.Token()
	if token == "" {
		return false
	}

	v := rm.sessions.Validate(ctx, token)
	if !v.IsValid() {
		log.Info().Str("token", util.MaskToken(token)).Str("reason", v.Reason).Msg("mirrored session no longer valid")
		rm.ClearAll(ctx, m, token)
		return false
	}

	rm.sessions.Refresh(ctx, token)
	return true
}

// ClearAll always clears m and reports true, even if revoking token in the
// store fails.
func (rm *RestorationManager) ClearAll(ctx context.Context, m *mirror.Mirror, token string) bool {
	m.Clear()
	if token != "" && !rm.sessions.Revoke(ctx, token) {
		log.Warn().Str("token", util.MaskToken(token)).Msg("store revoke failed during clear")
	}
	return true
}
