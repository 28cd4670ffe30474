package dossier

import (
	"context"
	"errors"
	"fmt"

	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/platform/sentinel"
	"certreg/pkg/requestcontext"
)

// Service manages the dossier of an application.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) SaveCompanyInfo(ctx context.Context, info *CompanyInfo) error {
	now := requestcontext.Now(ctx)
	if info.CreatedAt.IsZero() {
		info.CreatedAt = now
	}
	info.UpdatedAt = now
	if err := s.store.UpsertCompanyInfo(ctx, info); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not save company info")
	}
	return nil
}

func (s *Service) CompanyInfo(ctx context.Context, applicationID int64) (*CompanyInfo, error) {
	info, err := s.store.GetCompanyInfo(ctx, applicationID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "company info not provided yet")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not load company info")
	}
	return info, nil
}

func (s *Service) AddDirector(ctx context.Context, d *Director) error {
	d.CreatedAt = requestcontext.Now(ctx)
	if err := s.store.AddDirector(ctx, d); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not add director")
	}
	return nil
}

func (s *Service) Directors(ctx context.Context, applicationID int64) ([]*Director, error) {
	return s.store.ListDirectors(ctx, applicationID)
}

func (s *Service) RemoveDirector(ctx context.Context, applicationID, directorID int64) error {
	err := s.store.DeleteDirector(ctx, applicationID, directorID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "director not found on this application")
	}
	return err
}

func (s *Service) AddDocument(ctx context.Context, doc *Document) error {
	doc.UploadedAt = requestcontext.Now(ctx)
	if err := s.store.AddDocument(ctx, doc); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not add document")
	}
	return nil
}

func (s *Service) Documents(ctx context.Context, applicationID int64) ([]*Document, error) {
	return s.store.ListDocuments(ctx, applicationID)
}

func (s *Service) RemoveDocument(ctx context.Context, applicationID, documentID int64) error {
	err := s.store.DeleteDocument(ctx, applicationID, documentID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "document not found on this application")
	}
	return err
}

// Completeness reports which sections are still missing before the
// application may be submitted: company info, at least one director, at
// least one document. An empty result means the dossier is complete.
func (s *Service) Completeness(ctx context.Context, applicationID int64) ([]string, error) {
	var missing []string

	_, err := s.store.GetCompanyInfo(ctx, applicationID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		missing = append(missing, SectionCompanyInfo)
	case err != nil:
		return nil, fmt.Errorf("completeness check: %w", err)
	}

	directors, err := s.store.ListDirectors(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("completeness check: %w", err)
	}
	if len(directors) == 0 {
		missing = append(missing, SectionDirectors)
	}

	documents, err := s.store.ListDocuments(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("completeness check: %w", err)
	}
	if len(documents) == 0 {
		missing = append(missing, SectionDocuments)
	}
	return missing, nil
}

// CloneInto copies the company info and directors of one application onto
// another. Used by renewal: the new draft starts with the previous cycle's
// dossier, minus documents, which must be re-uploaded fresh.
func (s *Service) CloneInto(ctx context.Context, fromApplicationID, toApplicationID int64) error {
	now := requestcontext.Now(ctx)

	info, err := s.store.GetCompanyInfo(ctx, fromApplicationID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return fmt.Errorf("clone company info: %w", err)
	}
	if info != nil {
		clone := *info
		clone.ID = 0
		clone.ApplicationID = toApplicationID
		clone.CreatedAt = now
		clone.UpdatedAt = now
		if err := s.store.UpsertCompanyInfo(ctx, &clone); err != nil {
			return fmt.Errorf("clone company info: %w", err)
		}
	}

	directors, err := s.store.ListDirectors(ctx, fromApplicationID)
	if err != nil {
		return fmt.Errorf("clone directors: %w", err)
	}
	for _, d := range directors {
		clone := *d
		clone.ID = 0
		clone.ApplicationID = toApplicationID
		clone.CreatedAt = now
		if err := s.store.AddDirector(ctx, &clone); err != nil {
			return fmt.Errorf("clone directors: %w", err)
		}
	}
	return nil
}
