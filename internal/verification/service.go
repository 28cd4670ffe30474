package verification

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"certreg/internal/application/models"
	"certreg/internal/dossier"
	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/platform/sentinel"
	"certreg/pkg/requestcontext"
)

var (
	otpRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certreg_otp_requests_total",
		Help: "One-time codes requested through the public verification flow",
	})
	otpVerifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certreg_otp_verifications_total",
		Help: "One-time code verification attempts by outcome",
	}, []string{"outcome"})
	lookupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certreg_certificate_lookups_total",
		Help: "Public certificate lookups by outcome",
	}, []string{"outcome"})
)

const (
	otpTTL   = 5 * time.Minute
	tokenTTL = 15 * time.Minute

	otpDigits = 6
)

// CertificateFinder resolves a public identifier (certificate number,
// security token, or record id) to an application.
type CertificateFinder interface {
	FindByIdentifier(ctx context.Context, identifier string) (*models.Application, error)
}

// CompanyFinder supplies the company details joined into the public lookup
// projection.
type CompanyFinder interface {
	CompanyInfo(ctx context.Context, applicationID int64) (*dossier.CompanyInfo, error)
}

// CodeSender delivers the one-time code to the requester's phone.
type CodeSender interface {
	SendCode(ctx context.Context, phoneNumber, code string) error
}

// LogSender stands in for an SMS gateway in dev and tests.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendCode(_ context.Context, phoneNumber, code string) error {
	s.logger.Info("verification code dispatched", "phone_number", phoneNumber, "code", code)
	return nil
}

// Result is the redacted projection public lookups return. Certificate and
// company facts only; no applicant identifiers.
type Result struct {
	ID                int64      `json:"id"`
	CertificateNumber string     `json:"certificate_number"`
	CertificateType   string     `json:"certificate_type"`
	CertificateClass  string     `json:"certificate_class,omitempty"`
	Status            string     `json:"status"`
	Valid             bool       `json:"valid"`
	CompanyName       string     `json:"company_name,omitempty"`
	CompanyAddress    string     `json:"company_address,omitempty"`
	IssuedDate        *time.Time `json:"issued_date,omitempty"`
	ExpiryDate        *time.Time `json:"expiry_date,omitempty"`
}

// Service runs the two-step public verification flow: prove you control a
// phone number, then look up certificates with the resulting token.
type Service struct {
	store     Store
	finder    CertificateFinder
	companies CompanyFinder
	sender    CodeSender
	logger    *slog.Logger
	rand      io.Reader
}

// Option configures a Service.
type Option func(*Service)

// WithRand overrides the entropy source. Tests inject a fixed reader to get
// deterministic codes.
func WithRand(r io.Reader) Option {
	return func(s *Service) { s.rand = r }
}

func NewService(store Store, finder CertificateFinder, companies CompanyFinder,
	sender CodeSender, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		finder:    finder,
		companies: companies,
		sender:    sender,
		logger:    logger,
		rand:      rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestOTP generates and dispatches a one-time code to the phone number.
// A fresh request replaces any pending code for the same number.
func (s *Service) RequestOTP(ctx context.Context, phoneNumber string) error {
	otpRequestsTotal.Inc()

	code, err := s.generateCode()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not generate code")
	}
	if err := s.store.SaveOTP(ctx, phoneNumber, code, otpTTL); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not store code")
	}
	if err := s.sender.SendCode(ctx, phoneNumber, code); err != nil {
		s.logger.Error("code dispatch failed", "phone_number", phoneNumber, "error", err)
	}
	return nil
}

// VerifyOTP exchanges a valid one-time code for a verification token. The
// code is consumed on success; expired, unknown, and mismatched codes all
// collapse into one error so callers learn nothing extra from the failure
// mode.
func (s *Service) VerifyOTP(ctx context.Context, phoneNumber, code string) (string, time.Time, error) {
	err := s.store.ConsumeOTP(ctx, phoneNumber, code)
	switch {
	case errors.Is(err, sentinel.ErrNotFound),
		errors.Is(err, sentinel.ErrExpired),
		errors.Is(err, sentinel.ErrInvalidState):
		otpVerifyTotal.WithLabelValues("rejected").Inc()
		return "", time.Time{}, dErrors.New(dErrors.CodeInvalidOTP, "the code is invalid or has expired")
	case err != nil:
		otpVerifyTotal.WithLabelValues("error").Inc()
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not verify code")
	}

	buf := make([]byte, 16)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not mint token")
	}
	token := hex.EncodeToString(buf)
	if err := s.store.SaveToken(ctx, token, phoneNumber, tokenTTL); err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not store token")
	}

	otpVerifyTotal.WithLabelValues("verified").Inc()
	expiresAt := requestcontext.Now(ctx).Add(tokenTTL)
	return token, expiresAt, nil
}

// Lookup returns the redacted certificate record for the identifier. Any
// unexpired verification token unlocks lookups; the token proves the caller
// verified a phone number, not a claim on one particular certificate. Only
// post-decision statuses are disclosed: an in-flight application is
// indistinguishable from a nonexistent one.
func (s *Service) Lookup(ctx context.Context, identifier, token string) (*Result, error) {
	if _, err := s.store.LookupToken(ctx, token); err != nil {
		lookupTotal.WithLabelValues("unauthorized").Inc()
		return nil, dErrors.New(dErrors.CodeUnauthorized, "verification token is invalid or expired")
	}

	app, err := s.finder.FindByIdentifier(ctx, identifier)
	if errors.Is(err, sentinel.ErrNotFound) {
		lookupTotal.WithLabelValues("not_found").Inc()
		return nil, dErrors.New(dErrors.CodeNotFound, "no certificate found for this identifier")
	}
	if err != nil {
		lookupTotal.WithLabelValues("error").Inc()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not look up certificate")
	}
	if !app.Status.CertificateVisible() {
		lookupTotal.WithLabelValues("not_found").Inc()
		return nil, dErrors.New(dErrors.CodeNotFound, "no certificate found for this identifier")
	}

	lookupTotal.WithLabelValues("found").Inc()
	now := requestcontext.Now(ctx)
	result := &Result{
		ID:                app.ID,
		CertificateNumber: app.CertificateNumber,
		CertificateType:   string(app.Type),
		CertificateClass:  app.Class,
		Status:            string(app.Status),
		Valid:             app.Status == models.StatusApproved && app.ExpiryDate != nil && app.ExpiryDate.After(now),
		IssuedDate:        app.IssuedDate,
		ExpiryDate:        app.ExpiryDate,
	}
	if info, err := s.companies.CompanyInfo(ctx, app.ID); err == nil {
		result.CompanyName = info.CompanyName
		result.CompanyAddress = info.Address
	}
	return result, nil
}

func (s *Service) generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(s.rand, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n), nil
}
