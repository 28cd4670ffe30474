// Package handler exposes the staff review surface: dashboard stats, the
// review queue, assignment, and status decisions.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"certreg/internal/application/models"
	"certreg/internal/application/service"
	"certreg/internal/application/store"
	"certreg/internal/audit"
	"certreg/internal/user"
	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/platform/httputil"
	"certreg/pkg/requestcontext"
)

// defaultExpiryWindow is how far ahead the renewals view looks.
const defaultExpiryWindow = 30 * 24 * time.Hour

type Handler struct {
	apps     *service.Service
	users    *user.Service
	recorder *audit.Recorder
	logger   *slog.Logger
}

func New(apps *service.Service, users *user.Service, recorder *audit.Recorder, logger *slog.Logger) *Handler {
	return &Handler{apps: apps, users: users, recorder: recorder, logger: logger}
}

// Register mounts the staff routes. The caller wraps them in RequireAuth +
// RequireStaff; the user-management subtree additionally requires
// super-admin.
func (h *Handler) Register(r chi.Router, requireSuperAdmin func(http.Handler) http.Handler) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/stats", h.handleStats)
		r.Get("/applications", h.handleListApplications)
		r.Get("/applications/expiring", h.handleListExpiring)
		r.Get("/applications/{id}", h.handleGetApplication)
		r.Get("/applications/{id}/audit", h.handleApplicationAudit)
		r.Patch("/applications/{id}/status", h.handleUpdateStatus)
		r.Post("/applications/{id}/assign", h.handleAssign)
		r.Post("/applications/{id}/unassign", h.handleUnassign)
		r.Get("/audit", h.handleRecentAudit)

		r.Group(func(r chi.Router) {
			r.Use(requireSuperAdmin)
			r.Get("/users", h.handleListUsers)
			r.Patch("/users/{id}/role", h.handleChangeRole)
			r.Patch("/users/{id}/status", h.handleSetActive)
		})
	})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.apps.Stats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleListApplications(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{}
	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Status = &status
	}
	if raw := q.Get("certificate_type"); raw != "" {
		certType, err := models.ParseCertificateType(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Type = &certType
	}
	if raw := q.Get("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user_id"))
			return
		}
		filter.UserID = &userID
	}
	if raw := q.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil && offset > 0 {
			filter.Offset = offset
		}
	}

	apps, err := h.apps.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"applications": apps})
}

func (h *Handler) handleListExpiring(w http.ResponseWriter, r *http.Request) {
	window := defaultExpiryWindow
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid days"))
			return
		}
		window = time.Duration(days) * 24 * time.Hour
	}
	apps, err := h.apps.ListExpiring(r.Context(), window)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"applications": apps})
}

func (h *Handler) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	app, err := h.apps.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (h *Handler) handleApplicationAudit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.recorder.ListByApplication(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	entries, err := h.recorder.ListRecent(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (r *statusRequest) Validate() error {
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	if r.Status == "" {
		return dErrors.New(dErrors.CodeValidation, "status is required")
	}
	return nil
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[statusRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	app, err := h.apps.UpdateStatus(ctx, id, status, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	app, err := h.apps.Assign(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (h *Handler) handleUnassign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	app, err := h.apps.Unassign(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"users": users})
}

type roleRequest struct {
	Role string `json:"role"`
}

func (r *roleRequest) Validate() error {
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
	if r.Role == "" {
		return dErrors.New(dErrors.CodeValidation, "role is required")
	}
	return nil
}

func (h *Handler) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[roleRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	updated, err := h.users.ChangeRole(ctx, id, requestcontext.Role(req.Role))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (r *activeRequest) Validate() error {
	if r.Active == nil {
		return dErrors.New(dErrors.CodeValidation, "active is required")
	}
	return nil
}

func (h *Handler) handleSetActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[activeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	updated, err := h.users.SetActive(ctx, id, *req.Active)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}
