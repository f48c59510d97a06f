package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opsdash/dashboard-server/internal/audit"
	"github.com/opsdash/dashboard-server/internal/mirror"
	"github.com/opsdash/dashboard-server/internal/util"
)

const (
	// ViewCookie identifies the browser view that owns a mirror.
	ViewCookie = "dash_view"
	// SessionParam carries a session token in the page URL.
	SessionParam = "session"
	ViewMaxAge   = 24 * time.Hour
)

const (
	MirrorContextKey contextKey = "mirror"
	ViewContextKey   contextKey = "view"
)

// SessionRestorer moves session state between the store and a mirror.
type SessionRestorer interface {
	RestoreFromToken(ctx context.Context, m *mirror.Mirror, token string) bool
	EnsureActive(ctx context.Context, m *mirror.Mirror) bool
}

func GetMirror(ctx context.Context) *mirror.Mirror {
	if m, ok := ctx.Value(MirrorContextKey).(*mirror.Mirror); ok {
		return m
	}
	return nil
}

func GetViewID(ctx context.Context) string {
	id, _ := ctx.Value(ViewContextKey).(string)
	return id
}

// ViewMiddleware attaches the caller's mirror to the request context and
// keeps it in step with the session store.
type ViewMiddleware struct {
	registry *mirror.Registry
	restorer SessionRestorer
	secure   bool
}

func NewViewMiddleware(registry *mirror.Registry, restorer SessionRestorer, secure bool) *ViewMiddleware {
	return &ViewMiddleware{registry: registry, restorer: restorer, secure: secure}
}

// Handler restores or revalidates the view's session before next runs.
// Views are registered, and the view cookie issued, only once they hold a
// session worth mirroring; anonymous traffic leaves no registry entry.
func (m *ViewMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var viewID string
		if cookie, err := r.Cookie(ViewCookie); err == nil {
			viewID = cookie.Value
		}

		view, ok := m.registry.Get(viewID)
		if !ok {
			viewID = ""
			view = mirror.New()
		}

		vw := &viewWriter{ResponseWriter: w, owner: m, view: view, viewID: viewID, bearer: bearerToken(r)}
		ctx := r.Context()

		restored, redirect := false, false
		if token := r.URL.Query().Get(SessionParam); token != "" {
			restored = m.restorer.RestoreFromToken(ctx, view, token)
			event := audit.Event{Type: audit.EventSessionRestore}
			if restored {
				if identity, ok := view.Identity(); ok {
					event.UserID = identity.UserID
					event.Username = identity.Username
				}
			} else {
				event.Type = audit.EventRestoreFailure
				event.Details = map[string]interface{}{"token": util.MaskToken(token)}
			}
			audit.LogFromRequest(r, event)

			// The token leaves the URL whether or not it was accepted.
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				redirect = true
			} else {
				q := r.URL.Query()
				q.Del(SessionParam)
				r.URL.RawQuery = q.Encode()
			}
		} else if vw.bearer != "" && vw.bearer != view.Token() {
			restored = m.restorer.RestoreFromToken(ctx, view, vw.bearer)
		}

		// A mirrored session is only trusted after the store confirms it.
		if !restored && view.LoggedIn() && !m.restorer.EnsureActive(ctx, view) {
			log.Debug().Str("view", viewID).Msg("mirrored session ended")
		}

		if redirect {
			http.Redirect(vw, r, stripSessionParam(r), http.StatusSeeOther)
			return
		}

		ctx = context.WithValue(ctx, MirrorContextKey, view)
		ctx = context.WithValue(ctx, ViewContextKey, viewID)
		next.ServeHTTP(vw, r.WithContext(ctx))
		vw.sync()
	})
}

// viewWriter reconciles the registry with the view's session state just
// before the response headers go out.
type viewWriter struct {
	http.ResponseWriter
	owner  *ViewMiddleware
	view   *mirror.Mirror
	viewID string
	bearer string
	once   sync.Once
}

func (w *viewWriter) WriteHeader(code int) {
	w.sync()
	w.ResponseWriter.WriteHeader(code)
}

func (w *viewWriter) Write(b []byte) (int, error) {
	w.sync()
	return w.ResponseWriter.Write(b)
}

func (w *viewWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *viewWriter) sync() {
	w.once.Do(func() {
		loggedIn := w.view.LoggedIn()
		switch {
		case w.viewID == "" && loggedIn && w.view.Token() != w.bearer:
			// Bearer-only clients resend their token; only sessions the
			// browser cannot replay on its own are mirrored.
			w.viewID = w.owner.registry.Register(w.view)
			SetViewCookie(w.ResponseWriter, w.viewID, w.owner.secure)
		case w.viewID != "" && !loggedIn:
			w.owner.registry.Remove(w.viewID)
			ClearViewCookie(w.ResponseWriter)
		}
	})
}

func stripSessionParam(r *http.Request) string {
	u := *r.URL
	q := u.Query()
	q.Del(SessionParam)
	u.RawQuery = q.Encode()
	u.Scheme = ""
	u.Host = ""
	return u.RequestURI()
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func SetViewCookie(w http.ResponseWriter, viewID string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     ViewCookie,
		Value:    viewID,
		Path:     "/",
		MaxAge:   int(ViewMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearViewCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     ViewCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
