package middleware

import (
	"net/http"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/opsdash/dashboard-server/internal/audit"
	apperrors "github.com/opsdash/dashboard-server/internal/errors"
	"github.com/opsdash/dashboard-server/internal/httputil"
	"github.com/opsdash/dashboard-server/internal/messages"
	"github.com/opsdash/dashboard-server/internal/model"
)

type contextKey string

// GetIdentity returns the logged-in identity mirrored for this request.
func GetIdentity(r *http.Request) (model.Identity, bool) {
	m := GetMirror(r.Context())
	if m == nil {
		return model.Identity{}, false
	}
	return m.Identity()
}

// RequireSession rejects requests whose view is not logged in. It must run
// after ViewMiddleware.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetIdentity(r); !ok {
			httputil.WriteError(w, apperrors.Unauthorized(
				messages.Get(r.Header.Get("Accept-Language"), messages.SessionExpired)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole allows only identities holding one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := GetIdentity(r)
			if !ok {
				httputil.WriteError(w, apperrors.Unauthorized(
					messages.Get(r.Header.Get("Accept-Language"), messages.SessionExpired)))
				return
			}
			if !slices.Contains(roles, identity.RoleName) {
				log.Warn().
					Int64("userId", identity.UserID).
					Str("role", identity.RoleName).
					Str("path", r.URL.Path).
					Msg("role check failed")
				audit.LogFromRequest(r, audit.Event{
					Type:     audit.EventAuthFailure,
					UserID:   identity.UserID,
					Username: identity.Username,
					Details:  map[string]interface{}{"path": r.URL.Path, "role": identity.RoleName},
				})
				httputil.WriteError(w, apperrors.Forbidden(
					messages.Get(r.Header.Get("Accept-Language"), messages.Forbidden)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
