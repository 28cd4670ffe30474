// Package handler exposes the applicant-facing application endpoints.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"certreg/internal/application/models"
	"certreg/internal/application/service"
	"certreg/internal/application/store"
	"certreg/internal/dossier"
	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/platform/httputil"
	"certreg/pkg/requestcontext"
)

type Handler struct {
	apps     *service.Service
	dossiers *dossier.Service
	logger   *slog.Logger
}

func New(apps *service.Service, dossiers *dossier.Service, logger *slog.Logger) *Handler {
	return &Handler{apps: apps, dossiers: dossiers, logger: logger}
}

// Register mounts the applicant routes. Auth middleware is applied by the
// caller.
func (h *Handler) Register(r chi.Router) {
	r.Route("/applications", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Post("/pay", h.handlePay)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Patch("/", h.handleUpdate)
			r.Post("/submit", h.handleSubmit)
			r.Post("/cancel", h.handleCancel)
			r.Post("/renew", h.handleRenew)

			r.Put("/company-info", h.handleSaveCompanyInfo)
			r.Get("/company-info", h.handleGetCompanyInfo)
			r.Post("/directors", h.handleAddDirector)
			r.Get("/directors", h.handleListDirectors)
			r.Delete("/directors/{directorID}", h.handleDeleteDirector)
			r.Post("/documents", h.handleAddDocument)
			r.Get("/documents", h.handleListDocuments)
			r.Delete("/documents/{documentID}", h.handleDeleteDocument)
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

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[createRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	app, err := h.apps.Create(ctx, req.CertificateType, req.Class, req.Description)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, app)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := store.ListFilter{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil && offset > 0 {
			filter.Offset = offset
		}
	}

	apps, err := h.apps.List(ctx, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"applications": apps})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
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

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[updateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	app, err := h.apps.UpdateDraft(ctx, id, req.Class, req.Description, req.CurrentStep)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	app, err := h.apps.Submit(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	app, err := h.apps.Cancel(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	renewal, err := h.apps.Renew(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, renewal)
}

func (h *Handler) handlePay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[payRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	paid, err := h.apps.Pay(ctx, req.ApplicationIDs)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"paid": paid})
}

// requireOwned loads the application through the service so ownership and
// staff visibility rules apply before any dossier access.
func (h *Handler) requireOwned(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return 0, false
	}
	if _, err := h.apps.Get(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return 0, false
	}
	return id, true
}

func (h *Handler) handleSaveCompanyInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requireOwned(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[companyInfoRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	info := &dossier.CompanyInfo{
		ApplicationID:      id,
		CompanyName:        req.CompanyName,
		RegistrationNumber: req.RegistrationNumber,
		Address:            req.Address,
		Phone:              req.Phone,
		Email:              req.Email,
	}
	if err := h.dossiers.SaveCompanyInfo(ctx, info); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (h *Handler) handleGetCompanyInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireOwned(w, r)
	if !ok {
		return
	}
	info, err := h.dossiers.CompanyInfo(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (h *Handler) handleAddDirector(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requireOwned(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[directorRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	d := &dossier.Director{
		ApplicationID: id,
		FullName:      req.FullName,
		NationalID:    req.NationalID,
		Phone:         req.Phone,
		Email:         req.Email,
	}
	if err := h.dossiers.AddDirector(ctx, d); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, d)
}

func (h *Handler) handleListDirectors(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireOwned(w, r)
	if !ok {
		return
	}
	directors, err := h.dossiers.Directors(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"directors": directors})
}

func (h *Handler) handleDeleteDirector(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireOwned(w, r)
	if !ok {
		return
	}
	directorID, err := pathID(r, "directorID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.dossiers.RemoveDirector(r.Context(), id, directorID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requireOwned(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[documentRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	doc := &dossier.Document{
		ApplicationID: id,
		DocumentType:  req.DocumentType,
		FileName:      req.FileName,
		SizeBytes:     req.SizeBytes,
	}
	if err := h.dossiers.AddDocument(ctx, doc); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, doc)
}

func (h *Handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireOwned(w, r)
	if !ok {
		return
	}
	docs, err := h.dossiers.Documents(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *Handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireOwned(w, r)
	if !ok {
		return
	}
	documentID, err := pathID(r, "documentID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.dossiers.RemoveDocument(r.Context(), id, documentID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
