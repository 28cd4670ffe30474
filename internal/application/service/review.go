package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"certreg/internal/application/models"
	"certreg/internal/audit"
	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/platform/sentinel"
	"certreg/pkg/requestcontext"
)

var tracer = otel.Tracer("certreg/application")

// UpdateStatus applies a reviewer decision. The actor must hold the
// assignment, the transition must be legal, and on entry into approved a
// certificate is issued: number and token are minted on first approval and
// kept verbatim afterwards, while the expiry window restarts on every
// approval.
//
// The row lock, transition, issuance, and audit write all run in one
// transaction, so a reviewer losing the assignment race cannot half-apply a
// decision.
func (s *Service) UpdateStatus(ctx context.Context, id int64, to models.Status, reason string) (*models.Application, error) {
	actorID := requestcontext.UserID(ctx)

	ctx, span := tracer.Start(ctx, "application.UpdateStatus", trace.WithAttributes(
		attribute.Int64("application.id", id),
		attribute.String("application.target_status", string(to)),
	))
	defer span.End()

	// Mint candidate certificate data up front; Execute's mutate callback
	// cannot fail. ApplyIssuance discards the candidate when the
	// application already carries a number.
	var issued *models.Application
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.apps.FindByID(ctx, id)
		if err != nil {
			return err
		}

		var number, token string
		if to == models.StatusApproved && current.NeedsCertificate() {
			data, err := s.issuer.Issue(current.Class, current.InternalUID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "could not issue certificate")
			}
			number, token = data.Number, data.Token
		}

		issued, err = s.apps.Execute(ctx, id,
			func(a *models.Application) error {
				if err := a.RequireAssigned(actorID); err != nil {
					return err
				}
				return models.ValidateTransition(a.Status, to)
			},
			func(a *models.Application) {
				now := requestcontext.Now(ctx)
				a.ApplyStatus(to, now)
				if to == models.StatusApproved {
					a.ApplyIssuance(number, token, now)
				}
			},
		)
		if err != nil {
			return err
		}

		return s.recorder.Record(ctx, audit.Entry{
			ActorID:       actorID,
			ApplicationID: &issued.ID,
			SubjectUserID: &issued.UserID,
			Action:        audit.ActionStatusUpdate(to),
			Detail:        reason,
		})
	})
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	case errors.Is(err, sentinel.ErrConflict):
		// The freshly minted certificate number already exists. The token
		// space makes this vanishingly rare; treat it as fatal rather than
		// silently looping on issuance.
		return nil, dErrors.Wrap(err, dErrors.CodeCertificateCollision,
			"certificate number collision, the decision was not applied")
	case err != nil:
		return nil, err
	}

	transitionsTotal.WithLabelValues(string(to)).Inc()
	if to == models.StatusApproved && issued.IssuedDate != nil &&
		issued.IssuedDate.Equal(issued.UpdatedAt) {
		certificatesIssuedTotal.Inc()
	}

	s.notifyDecision(ctx, issued, to, reason)
	return issued, nil
}

func (s *Service) notifyDecision(ctx context.Context, app *models.Application, to models.Status, reason string) {
	var title, message string
	switch to {
	case models.StatusApproved:
		title = "Application approved"
		message = fmt.Sprintf("Your %s certificate %s has been issued.", app.Type, app.CertificateNumber)
	case models.StatusRejected:
		title = "Application rejected"
		message = fmt.Sprintf("Your %s application was rejected. %s", app.Type, reason)
	case models.StatusSuspended:
		title = "Certificate suspended"
		message = fmt.Sprintf("Your certificate %s has been suspended. %s", app.CertificateNumber, reason)
	default:
		title = "Application updated"
		message = fmt.Sprintf("Your %s application is now %s.", app.Type, to)
	}
	s.notifier.NotifyUser(ctx, app.UserID, title, message)
}
