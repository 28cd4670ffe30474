package service

import (
	"context"
	"errors"

	"certreg/internal/application/models"
	"certreg/internal/audit"
	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/platform/sentinel"
	"certreg/pkg/requestcontext"
)

// Assign claims an application for the acting reviewer. The claim is
// exclusive: while held, no other reviewer can take it or act on it. A
// super-admin may reassign over an existing holder; admins racing for an
// unassigned application are serialized by the store, so exactly one wins.
func (s *Service) Assign(ctx context.Context, id int64) (*models.Application, error) {
	actorID := requestcontext.UserID(ctx)
	override := requestcontext.ActorRole(ctx) == requestcontext.RoleSuperAdmin

	var previous *int64
	app, err := s.apps.Execute(ctx, id,
		func(a *models.Application) error {
			previous = a.AssignedTo
			return a.CanAssign(actorID, override)
		},
		func(a *models.Application) {
			a.ApplyAssign(actorID, requestcontext.Now(ctx))
		},
	)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	case dErrors.HasCode(err, dErrors.CodeAlreadyAssigned):
		assignmentConflictsTotal.Inc()
		return nil, err
	case err != nil:
		return nil, err
	}

	detail := ""
	if override && previous != nil && *previous != actorID {
		detail = "reassigned by super-admin override"
	}
	s.record(ctx, audit.Entry{
		ActorID:       actorID,
		ApplicationID: &app.ID,
		SubjectUserID: &app.UserID,
		Action:        audit.ActionApplicationAssigned,
		Detail:        detail,
	})
	return app, nil
}

// Unassign releases the claim. Only the holder may release it, except for a
// super-admin override.
func (s *Service) Unassign(ctx context.Context, id int64) (*models.Application, error) {
	actorID := requestcontext.UserID(ctx)
	override := requestcontext.ActorRole(ctx) == requestcontext.RoleSuperAdmin

	app, err := s.apps.Execute(ctx, id,
		func(a *models.Application) error {
			if a.AssignedTo == nil {
				return dErrors.New(dErrors.CodeNotAssigned, "application is not assigned")
			}
			return a.CanUnassign(actorID, override)
		},
		func(a *models.Application) {
			a.ApplyUnassign(requestcontext.Now(ctx))
		},
	)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	case err != nil:
		return nil, err
	}

	s.record(ctx, audit.Entry{
		ActorID:       actorID,
		ApplicationID: &app.ID,
		SubjectUserID: &app.UserID,
		Action:        audit.ActionApplicationUnassigned,
	})
	return app, nil
}
