package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"certreg/internal/application/models"
	"certreg/pkg/platform/sentinel"
)

// InMemory keeps applications in a map for tests and single-process dev.
// Execute holds the store mutex across validate and mutate, giving the same
// atomicity the postgres store gets from row locks.
type InMemory struct {
	mu     sync.RWMutex
	apps   map[int64]*models.Application
	nextID int64
}

// NewInMemory constructs an empty in-memory application store.
func NewInMemory() *InMemory {
	return &InMemory{apps: make(map[int64]*models.Application)}
}

func (s *InMemory) Create(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	app.ID = s.nextID
	s.apps[app.ID] = copyApp(app)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id int64) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, fmt.Errorf("application %d: %w", id, sentinel.ErrNotFound)
	}
	return copyApp(app), nil
}

func (s *InMemory) FindByIdentifier(_ context.Context, identifier string) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var numericID int64
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		numericID = id
	}

	for _, app := range s.apps {
		if app.CertificateNumber != "" && app.CertificateNumber == identifier {
			return copyApp(app), nil
		}
		if app.SecurityToken != "" && app.SecurityToken == identifier {
			return copyApp(app), nil
		}
	}
	if numericID != 0 {
		if app, ok := s.apps[numericID]; ok {
			return copyApp(app), nil
		}
	}
	return nil, fmt.Errorf("certificate %q: %w", identifier, sentinel.ErrNotFound)
}

func (s *InMemory) FindActive(_ context.Context, userID int64, certType models.CertificateType) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, app := range s.apps {
		if app.UserID == userID && app.Type == certType &&
			app.Status != models.StatusRejected && app.Status != models.StatusCancelled {
			return copyApp(app), nil
		}
	}
	return nil, fmt.Errorf("active application: %w", sentinel.ErrNotFound)
}

func (s *InMemory) List(_ context.Context, filter ListFilter) ([]*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Application
	for _, app := range s.apps {
		if filter.Status != nil && app.Status != *filter.Status {
			continue
		}
		if filter.Type != nil && app.Type != *filter.Type {
			continue
		}
		if filter.UserID != nil && app.UserID != *filter.UserID {
			continue
		}
		out = append(out, copyApp(app))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *InMemory) ListExpiring(_ context.Context, from, to time.Time) ([]*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Application
	for _, app := range s.apps {
		if app.Status != models.StatusApproved || app.ExpiryDate == nil {
			continue
		}
		if app.ExpiryDate.Before(from) || app.ExpiryDate.After(to) {
			continue
		}
		out = append(out, copyApp(app))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiryDate.Before(*out[j].ExpiryDate)
	})
	return out, nil
}

func (s *InMemory) Stats(_ context.Context) (*models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.Stats{TypeBreakdown: make(map[string]int64)}
	for _, app := range s.apps {
		stats.Total++
		stats.TypeBreakdown[string(app.Type)]++
		switch app.Status {
		case models.StatusDraft, models.StatusSubmitted, models.StatusPendingPayment, models.StatusInReview:
			stats.Pending++
		case models.StatusApproved:
			stats.Approved++
		case models.StatusRejected:
			stats.Rejected++
		}
	}
	return stats, nil
}

func (s *InMemory) Update(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[app.ID]; !ok {
		return fmt.Errorf("application %d: %w", app.ID, sentinel.ErrNotFound)
	}
	if err := s.checkCertificateUnique(app); err != nil {
		return err
	}
	s.apps[app.ID] = copyApp(app)
	return nil
}

func (s *InMemory) Execute(_ context.Context, id int64,
	validate func(app *models.Application) error,
	mutate func(app *models.Application)) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[id]
	if !ok {
		return nil, fmt.Errorf("application %d: %w", id, sentinel.ErrNotFound)
	}

	working := copyApp(app)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)

	if err := s.checkCertificateUnique(working); err != nil {
		return nil, err
	}
	s.apps[id] = copyApp(working)
	return working, nil
}

// checkCertificateUnique mirrors the database uniqueness constraint on
// certificate_number. Must be called while holding s.mu.
func (s *InMemory) checkCertificateUnique(app *models.Application) error {
	if app.CertificateNumber == "" {
		return nil
	}
	for _, other := range s.apps {
		if other.ID != app.ID && other.CertificateNumber == app.CertificateNumber {
			return fmt.Errorf("certificate number %s: %w", app.CertificateNumber, sentinel.ErrConflict)
		}
	}
	return nil
}

func paginate(apps []*models.Application, limit, offset int) []*models.Application {
	if offset >= len(apps) {
		return nil
	}
	apps = apps[offset:]
	if limit > 0 && limit < len(apps) {
		apps = apps[:limit]
	}
	return apps
}

func copyApp(app *models.Application) *models.Application {
	cp := *app
	if app.AssignedTo != nil {
		v := *app.AssignedTo
		cp.AssignedTo = &v
	}
	if app.IssuedDate != nil {
		v := *app.IssuedDate
		cp.IssuedDate = &v
	}
	if app.ExpiryDate != nil {
		v := *app.ExpiryDate
		cp.ExpiryDate = &v
	}
	return &cp
}
