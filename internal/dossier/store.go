package dossier

import (
	"context"
)

// Store persists dossier material keyed by application id.
//
// Error contract: GetCompanyInfo returns sentinel.ErrNotFound (wrapped) when
// the application has no company record yet; delete operations return
// sentinel.ErrNotFound when nothing matched.
type Store interface {
	// UpsertCompanyInfo inserts or replaces the single company record of an
	// application.
	UpsertCompanyInfo(ctx context.Context, info *CompanyInfo) error
	GetCompanyInfo(ctx context.Context, applicationID int64) (*CompanyInfo, error)

	AddDirector(ctx context.Context, d *Director) error
	ListDirectors(ctx context.Context, applicationID int64) ([]*Director, error)
	DeleteDirector(ctx context.Context, applicationID, directorID int64) error

	AddDocument(ctx context.Context, doc *Document) error
	ListDocuments(ctx context.Context, applicationID int64) ([]*Document, error)
	DeleteDocument(ctx context.Context, applicationID, documentID int64) error
}
