// Package handler exposes the unauthenticated public verification flow.
package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"certreg/internal/verification"
	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/platform/httputil"
	"certreg/pkg/requestcontext"
)

type Handler struct {
	verifier *verification.Service
	logger   *slog.Logger
}

func New(verifier *verification.Service, logger *slog.Logger) *Handler {
	return &Handler{verifier: verifier, logger: logger}
}

// Register mounts the public routes. No auth: these are the endpoints an
// employer or inspector uses to check a contractor's certificate.
func (h *Handler) Register(r chi.Router) {
	r.Route("/public", func(r chi.Router) {
		r.Post("/otp/send", h.handleSendOTP)
		r.Post("/otp/verify", h.handleVerifyOTP)
		r.Get("/verify/{identifier}", h.handleLookup)
	})
}

type sendOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
}

func (r *sendOTPRequest) Validate() error {
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
	if r.PhoneNumber == "" {
		return dErrors.New(dErrors.CodeValidation, "phone_number is required")
	}
	return nil
}

func (h *Handler) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[sendOTPRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.verifier.RequestOTP(ctx, req.PhoneNumber); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "a verification code has been sent",
	})
}

type verifyOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
	OTP         string `json:"otp"`
}

func (r *verifyOTPRequest) Validate() error {
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
	r.OTP = strings.TrimSpace(r.OTP)
	if r.PhoneNumber == "" || r.OTP == "" {
		return dErrors.New(dErrors.CodeValidation, "phone_number and otp are required")
	}
	return nil
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[verifyOTPRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	token, expiresAt, err := h.verifier.VerifyOTP(ctx, req.PhoneNumber, req.OTP)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message":    "verified",
		"token":      token,
		"expires_at": expiresAt,
	})
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	identifier := strings.TrimSpace(chi.URLParam(r, "identifier"))
	token := r.URL.Query().Get("token")
	if identifier == "" || token == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "identifier and token are required"))
		return
	}
	result, err := h.verifier.Lookup(r.Context(), identifier, token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
