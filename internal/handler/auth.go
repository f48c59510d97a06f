package handler

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opsdash/dashboard-server/internal/audit"
	apperrors "github.com/opsdash/dashboard-server/internal/errors"
	"github.com/opsdash/dashboard-server/internal/httputil"
	"github.com/opsdash/dashboard-server/internal/messages"
	"github.com/opsdash/dashboard-server/internal/middleware"
	"github.com/opsdash/dashboard-server/internal/mirror"
	"github.com/opsdash/dashboard-server/internal/model"
	"github.com/opsdash/dashboard-server/internal/service"
	"github.com/opsdash/dashboard-server/internal/sessionctx"
)

type AuthHandler struct {
	authService *service.AuthService
	restorer    *service.RestorationManager
	extractor   *sessionctx.Extractor
	loginLimit  *middleware.LoginLimitMiddleware
}

func NewAuthHandler(
	authService *service.AuthService,
	restorer *service.RestorationManager,
	extractor *sessionctx.Extractor,
	loginLimit *middleware.LoginLimitMiddleware,
) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		restorer:    restorer,
		extractor:   extractor,
		loginLimit:  loginLimit,
	}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.loginLimit.Handler).Post("/login", h.Login)
	r.Post("/logout", h.Logout)
	r.With(middleware.RequireSession).Get("/me", h.Me)

	return r
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Next     string `json:"next"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	Redirect  string         `json:"redirect"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      model.Identity `json:"user"`
	Message   string         `json:"message"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	sc := h.extractor.Capture(r)

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if !h.loginLimit.AllowAccount(w, r, req.Username) {
		return
	}

	result, err := h.authService.Login(r.Context(), req.Username, req.Password, sc)
	if err != nil {
		audit.LogFromRequest(r, audit.Event{
			Type:     audit.EventLoginFailure,
			Username: req.Username,
			IP:       sc.ClientIP,
			Details:  map[string]interface{}{"code": string(apperrors.GetCode(err))},
		})
		httputil.WriteError(w, err)
		return
	}

	if m := middleware.GetMirror(r.Context()); m != nil {
		m.SetSession(result.Identity, result.Token)
	}

	audit.LogFromRequest(r, audit.Event{
		Type:     audit.EventLoginSuccess,
		UserID:   result.Identity.UserID,
		Username: result.Identity.Username,
		IP:       sc.ClientIP,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		Redirect:  redirectWithToken(req.Next, result.Token),
		ExpiresAt: result.ExpiresAt,
		User:      result.Identity,
		Message:   result.Message,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	m := middleware.GetMirror(r.Context())
	if m == nil {
		m = mirror.New()
	}

	identity, _ := m.Identity()
	token := m.Token()
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	h.restorer.ClearAll(r.Context(), m, token)

	audit.LogFromRequest(r, audit.Event{
		Type:     audit.EventLogout,
		UserID:   identity.UserID,
		Username: identity.Username,
	})

	sc := h.extractor.Capture(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": messages.Get(sc.Locale, messages.LogoutSuccess),
	})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.GetIdentity(r)
	sc := h.extractor.Capture(r)

	writeJSON(w, http.StatusOK, map[string]any{
		"user":     identity,
		"viewId":   middleware.GetViewID(r.Context()),
		"client":   sc.ClientInfo(),
		"timezone": sc.DisplayTimezone(),
	})
}

// redirectWithToken builds the post-login URL. Only same-site paths are
// honored; anything else goes to the root.
func redirectWithToken(next, token string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		next = "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Host != "" || u.Scheme != "" {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set(middleware.SessionParam, token)
	u.RawQuery = q.Encode()
	return u.String()
}
