// Package service implements the application lifecycle: the applicant's
// side (draft, submit, pay, cancel, renew) and the reviewer's side
// (assignment and status decisions).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"certreg/internal/application/models"
	"certreg/internal/application/store"
	"certreg/internal/audit"
	"certreg/internal/certificate"
	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/platform/sentinel"
	"certreg/pkg/requestcontext"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certreg_status_transitions_total",
		Help: "Status transitions applied, by target status",
	}, []string{"to"})
	certificatesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certreg_certificates_issued_total",
		Help: "Certificates issued (first approvals only)",
	})
	assignmentConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certreg_assignment_conflicts_total",
		Help: "Assignment attempts rejected because another reviewer holds the application",
	})
)

// Dossier is the slice of the dossier service the lifecycle needs: the
// completeness gate before submission and the clone step during renewal.
type Dossier interface {
	Completeness(ctx context.Context, applicationID int64) ([]string, error)
	CloneInto(ctx context.Context, fromApplicationID, toApplicationID int64) error
}

// Notifier delivers best-effort notifications; implementations must never
// return an error into the lifecycle.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, title, message string)
	NotifyStaff(ctx context.Context, title, message string)
}

// TxRunner wraps fn in a database transaction carried through the context,
// so every store call inside fn joins the same unit of work. The in-memory
// wiring runs fn directly.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoopTxRunner satisfies TxRunner without a database. The in-memory store's
// Execute already serializes through its mutex.
type NoopTxRunner struct{}

func (NoopTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Service orchestrates the application lifecycle.
type Service struct {
	apps     store.Store
	dossier  Dossier
	issuer   *certificate.Issuer
	recorder *audit.Recorder
	notifier Notifier
	tx       TxRunner
	logger   *slog.Logger
}

func New(apps store.Store, dossier Dossier, issuer *certificate.Issuer,
	recorder *audit.Recorder, notifier Notifier, tx TxRunner, logger *slog.Logger) *Service {
	return &Service{
		apps:     apps,
		dossier:  dossier,
		issuer:   issuer,
		recorder: recorder,
		notifier: notifier,
		tx:       tx,
		logger:   logger,
	}
}

// Create opens a draft application for the authenticated applicant. One
// live application per certificate type: a second one is rejected until the
// first reaches a terminal status.
func (s *Service) Create(ctx context.Context, certType, class, description string) (*models.Application, error) {
	parsed, err := models.ParseCertificateType(certType)
	if err != nil {
		return nil, err
	}
	userID := requestcontext.UserID(ctx)

	existing, err := s.apps.FindActive(ctx, userID, parsed)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not check existing applications")
	}
	if existing != nil {
		return nil, dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("you already have an active %s application (#%d)", parsed, existing.ID))
	}

	app := models.New(userID, parsed, class, description, requestcontext.Now(ctx))
	if err := s.apps.Create(ctx, app); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not create application")
	}

	s.record(ctx, audit.Entry{
		ActorID:       userID,
		ApplicationID: &app.ID,
		SubjectUserID: &userID,
		Action:        audit.ActionApplicationCreated,
	})
	return app, nil
}

// Get loads one application. Applicants see only their own; staff see all.
func (s *Service) Get(ctx context.Context, id int64) (*models.Application, error) {
	app, err := s.apps.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not load application")
	}
	if !requestcontext.ActorRole(ctx).IsStaff() && !app.OwnedBy(requestcontext.UserID(ctx)) {
		// Hidden, not forbidden: non-owners must not learn the id exists.
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	return app, nil
}

// List returns applications visible to the actor. Applicants are pinned to
// their own; staff may filter by status, type, and applicant.
func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]*models.Application, error) {
	if !requestcontext.ActorRole(ctx).IsStaff() {
		userID := requestcontext.UserID(ctx)
		filter.UserID = &userID
	}
	apps, err := s.apps.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not list applications")
	}
	return apps, nil
}

// UpdateDraft edits the mutable fields of a draft. Only the owner may
// touch it, and only while it is still a draft.
func (s *Service) UpdateDraft(ctx context.Context, id int64, class, description string, step int) (*models.Application, error) {
	userID := requestcontext.UserID(ctx)
	app, err := s.apps.Execute(ctx, id,
		func(a *models.Application) error {
			if !a.OwnedBy(userID) {
				return dErrors.New(dErrors.CodeNotFound, "application not found")
			}
			if a.Status != models.StatusDraft {
				return dErrors.New(dErrors.CodeInvalidTransition,
					"only draft applications can be edited")
			}
			if step != 0 && (step < a.CurrentStep || step > 5) {
				return dErrors.New(dErrors.CodeValidation, "invalid wizard step")
			}
			return nil
		},
		func(a *models.Application) {
			if class != "" {
				a.Class = class
			}
			if description != "" {
				a.Description = description
			}
			if step != 0 {
				a.CurrentStep = step
			}
			a.UpdatedAt = requestcontext.Now(ctx)
		},
	)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	return app, err
}

// Submit moves a draft into the review queue. Blocked until the dossier is
// complete: company info, at least one director, at least one document.
func (s *Service) Submit(ctx context.Context, id int64) (*models.Application, error) {
	userID := requestcontext.UserID(ctx)

	// Ownership first, so a foreign id never leaks completeness details.
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	missing, err := s.dossier.Completeness(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not check application completeness")
	}
	if len(missing) > 0 {
		return nil, dErrors.New(dErrors.CodeIncompleteApplication,
			fmt.Sprintf("application is incomplete: missing %v", missing))
	}

	var app *models.Application
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		app, err = s.apps.Execute(ctx, id,
			func(a *models.Application) error {
				if !a.OwnedBy(userID) {
					return dErrors.New(dErrors.CodeNotFound, "application not found")
				}
				return models.ValidateTransition(a.Status, models.StatusSubmitted)
			},
			func(a *models.Application) {
				a.ApplyStatus(models.StatusSubmitted, requestcontext.Now(ctx))
			},
		)
		if err != nil {
			return err
		}
		return s.recorder.Record(ctx, audit.Entry{
			ActorID:       userID,
			ApplicationID: &app.ID,
			SubjectUserID: &app.UserID,
			Action:        audit.ActionStatusUpdate(models.StatusSubmitted),
		})
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	if err != nil {
		return nil, err
	}

	transitionsTotal.WithLabelValues(string(models.StatusSubmitted)).Inc()
	s.notifier.NotifyStaff(ctx, "New application submitted",
		fmt.Sprintf("Application #%d (%s) is awaiting review.", app.ID, app.Type))
	return app, nil
}

// Cancel withdraws an in-flight application. Owner only; terminal and
// approved applications cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id int64) (*models.Application, error) {
	userID := requestcontext.UserID(ctx)

	var app *models.Application
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		app, err = s.apps.Execute(ctx, id,
			func(a *models.Application) error {
				if !a.OwnedBy(userID) {
					return dErrors.New(dErrors.CodeNotFound, "application not found")
				}
				return models.ValidateCancel(a.Status)
			},
			func(a *models.Application) {
				a.ApplyStatus(models.StatusCancelled, requestcontext.Now(ctx))
			},
		)
		if err != nil {
			return err
		}
		return s.recorder.Record(ctx, audit.Entry{
			ActorID:       userID,
			ApplicationID: &app.ID,
			SubjectUserID: &app.UserID,
			Action:        audit.ActionStatusUpdate(models.StatusCancelled),
		})
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	if err != nil {
		return nil, err
	}

	transitionsTotal.WithLabelValues(string(models.StatusCancelled)).Inc()
	return app, nil
}

// Pay settles the fees on the given applications as one batch. Every id
// must be an owned draft or pending_payment application still before the
// payment-complete step; a single ineligible id rejects the whole batch and
// nothing is settled.
func (s *Service) Pay(ctx context.Context, ids []int64) ([]*models.Application, error) {
	userID := requestcontext.UserID(ctx)
	if len(ids) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "no application ids given")
	}

	payable := func(a *models.Application) error {
		if !a.OwnedBy(userID) {
			return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("application #%d not found", a.ID))
		}
		if a.Status != models.StatusDraft && a.Status != models.StatusPendingPayment {
			return dErrors.New(dErrors.CodeInvalidTransition,
				fmt.Sprintf("application #%d is not awaiting payment", a.ID))
		}
		if a.CurrentStep >= models.StepPaymentComplete {
			return dErrors.New(dErrors.CodeInvalidTransition,
				fmt.Sprintf("application #%d is already past payment", a.ID))
		}
		return nil
	}

	// Validate the whole batch up front so an ineligible id fails before
	// any mutation, then settle inside one unit of work.
	for _, id := range ids {
		app, err := s.apps.FindByID(ctx, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("application #%d not found", id))
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not load application")
		}
		if err := payable(app); err != nil {
			return nil, err
		}
	}

	var paid []*models.Application
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		paid = paid[:0]
		for _, id := range ids {
			app, err := s.apps.Execute(ctx, id, payable,
				func(a *models.Application) {
					a.ApplyStatus(models.StatusDraft, requestcontext.Now(ctx))
					a.CurrentStep = models.StepPaymentComplete
				},
			)
			if err != nil {
				return err
			}
			paid = append(paid, app)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, app := range paid {
		s.record(ctx, audit.Entry{
			ActorID:       userID,
			ApplicationID: &app.ID,
			SubjectUserID: &app.UserID,
			Action:        audit.ActionStatusUpdate(models.StatusDraft),
			Detail:        "payment settled",
		})
	}
	return paid, nil
}

// Renew starts a fresh cycle from an approved certificate: a new draft of
// the same type and class, seeded with the previous company info and
// directors, opened at the payment step. Documents must be re-uploaded.
func (s *Service) Renew(ctx context.Context, id int64) (*models.Application, error) {
	userID := requestcontext.UserID(ctx)

	source, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !source.OwnedBy(userID) {
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	if source.Status != models.StatusApproved && source.Status != models.StatusSuspended {
		return nil, dErrors.New(dErrors.CodeInvalidTransition,
			"only approved or suspended certificates can be renewed")
	}

	renewal := models.New(userID, source.Type, source.Class, source.Description, requestcontext.Now(ctx))
	renewal.CurrentStep = models.StepPaymentComplete
	if err := s.apps.Create(ctx, renewal); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not create renewal")
	}
	if err := s.dossier.CloneInto(ctx, source.ID, renewal.ID); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not carry over application details")
	}

	s.record(ctx, audit.Entry{
		ActorID:       userID,
		ApplicationID: &renewal.ID,
		SubjectUserID: &userID,
		Action:        audit.ActionApplicationCreated,
		Detail:        fmt.Sprintf("renewal of application #%d", source.ID),
	})
	return renewal, nil
}

// Stats summarizes the register for the admin dashboard.
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	stats, err := s.apps.Stats(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not compute stats")
	}
	return stats, nil
}

// ListExpiring returns approved certificates expiring within the window.
func (s *Service) ListExpiring(ctx context.Context, within time.Duration) ([]*models.Application, error) {
	now := requestcontext.Now(ctx)
	apps, err := s.apps.ListExpiring(ctx, now, now.Add(within))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not list expiring certificates")
	}
	return apps, nil
}

// record writes an audit entry outside a transaction; failures are logged,
// not propagated.
func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if err := s.recorder.Record(ctx, entry); err != nil {
		s.logger.Error("audit record failed", "action", entry.Action, "error", err)
	}
}
