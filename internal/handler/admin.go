package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opsdash/dashboard-server/internal/audit"
	apperrors "github.com/opsdash/dashboard-server/internal/errors"
	"github.com/opsdash/dashboard-server/internal/httputil"
	"github.com/opsdash/dashboard-server/internal/middleware"
	"github.com/opsdash/dashboard-server/internal/model"
	"github.com/opsdash/dashboard-server/internal/service"
)

type AdminHandler struct {
	adminService *service.AdminService
}

func NewAdminHandler(adminService *service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequireRole(model.RoleAdmin))

	r.Get("/sessions", h.ListSessions)
	r.Post("/users/{id}/force-logout", h.ForceLogout)
	r.Post("/users/{id}/deactivate", h.DeactivateUser)
	r.Post("/users/{id}/activate", h.ActivateUser)

	return r
}

func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)

	var userID *int64
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httputil.WriteError(w, apperrors.InvalidInput("user_id", "must be a positive integer"))
			return
		}
		userID = &id
	}

	sessions, err := h.adminService.ListSessions(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": Page(sessions, p),
		"total": len(sessions),
	})
}

func (h *AdminHandler) ForceLogout(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.adminService.ForceLogout(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	actor, _ := middleware.GetIdentity(r)
	audit.LogFromRequest(r, audit.Event{
		Type:     audit.EventForceLogout,
		UserID:   id,
		Username: actor.Username,
		Details:  map[string]interface{}{"actor_id": actor.UserID},
	})

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AdminHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	actor, _ := middleware.GetIdentity(r)
	revoked, err := h.adminService.DeactivateUser(r.Context(), actor.UserID, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventUserDeactivate,
		UserID:  id,
		Details: map[string]interface{}{"actor_id": actor.UserID, "revoked_sessions": revoked},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"revokedSessions": revoked,
	})
}

func (h *AdminHandler) ActivateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	actor, _ := middleware.GetIdentity(r)
	if err := h.adminService.ActivateUser(r.Context(), actor.UserID, id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventUserActivate,
		UserID:  id,
		Details: map[string]interface{}{"actor_id": actor.UserID},
	})

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
