// Package store persists applications. Implementations must make Execute
// atomic relative to other Execute calls on the same application id: the
// in-memory store holds its mutex across validate and mutate, the postgres
// store uses SELECT ... FOR UPDATE. This is what lets two reviewers race an
// assignment and have exactly one win.
package store

import (
	"context"
	"time"

	"certreg/internal/application/models"
)

// ListFilter narrows List results. Zero-value fields are ignored.
type ListFilter struct {
	Status *models.Status
	Type   *models.CertificateType
	UserID *int64
	Limit  int
	Offset int
}

// Store is the persistence boundary for applications.
//
// Error contract: FindByID and FindByIdentifier return sentinel.ErrNotFound
// (wrapped) when no row matches; Update returns sentinel.ErrConflict when a
// write violates the certificate number uniqueness constraint.
type Store interface {
	// Create persists a new application and assigns its id.
	Create(ctx context.Context, app *models.Application) error
	FindByID(ctx context.Context, id int64) (*models.Application, error)
	// FindByIdentifier resolves certificate number, security token, or (if
	// the identifier is purely numeric) the record id; first match wins.
	FindByIdentifier(ctx context.Context, identifier string) (*models.Application, error)
	// FindActive returns the applicant's non-terminal application of the
	// given type, if any. Rejected and cancelled applications don't count.
	FindActive(ctx context.Context, userID int64, certType models.CertificateType) (*models.Application, error)
	List(ctx context.Context, filter ListFilter) ([]*models.Application, error)
	// ListExpiring returns approved applications whose expiry falls inside
	// [from, to], soonest first.
	ListExpiring(ctx context.Context, from, to time.Time) ([]*models.Application, error)
	Stats(ctx context.Context) (*models.Stats, error)
	Update(ctx context.Context, app *models.Application) error
	// Execute atomically loads the application, runs validate, and if it
	// passes applies mutate and persists the result. The lock (mutex or row
	// lock) is held across both callbacks.
	Execute(ctx context.Context, id int64,
		validate func(app *models.Application) error,
		mutate func(app *models.Application)) (*models.Application, error)
}
