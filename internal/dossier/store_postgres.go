package dossier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"certreg/pkg/platform/sentinel"
	txcontext "certreg/pkg/platform/tx"
)

// PostgresStore persists dossier material in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) UpsertCompanyInfo(ctx context.Context, info *CompanyInfo) error {
	err := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO company_info (
			application_id, company_name, registration_number, address,
			phone, email, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (application_id) DO UPDATE SET
			company_name = EXCLUDED.company_name,
			registration_number = EXCLUDED.registration_number,
			address = EXCLUDED.address,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		info.ApplicationID, info.CompanyName, info.RegistrationNumber,
		info.Address, info.Phone, info.Email, info.CreatedAt, info.UpdatedAt,
	).Scan(&info.ID)
	if err != nil {
		return fmt.Errorf("upsert company info: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCompanyInfo(ctx context.Context, applicationID int64) (*CompanyInfo, error) {
	var info CompanyInfo
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, application_id, company_name, registration_number, address,
		       phone, email, created_at, updated_at
		FROM company_info WHERE application_id = $1`, applicationID,
	).Scan(&info.ID, &info.ApplicationID, &info.CompanyName, &info.RegistrationNumber,
		&info.Address, &info.Phone, &info.Email, &info.CreatedAt, &info.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("company info for application %d: %w", applicationID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get company info: %w", err)
	}
	return &info, nil
}

func (s *PostgresStore) AddDirector(ctx context.Context, d *Director) error {
	err := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO directors (application_id, full_name, national_id, phone, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		d.ApplicationID, d.FullName, d.NationalID, d.Phone, d.Email, d.CreatedAt,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("insert director: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDirectors(ctx context.Context, applicationID int64) ([]*Director, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, application_id, full_name, national_id, phone, email, created_at
		FROM directors WHERE application_id = $1 ORDER BY id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list directors: %w", err)
	}
	defer rows.Close()

	var out []*Director
	for rows.Next() {
		var d Director
		if err := rows.Scan(&d.ID, &d.ApplicationID, &d.FullName, &d.NationalID,
			&d.Phone, &d.Email, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan director: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteDirector(ctx context.Context, applicationID, directorID int64) error {
	return s.deleteScoped(ctx, "directors", applicationID, directorID)
}

func (s *PostgresStore) AddDocument(ctx context.Context, doc *Document) error {
	err := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO documents (application_id, document_type, file_name, storage_path, size_bytes, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		doc.ApplicationID, doc.DocumentType, doc.FileName, doc.StoragePath,
		doc.SizeBytes, doc.UploadedAt,
	).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, applicationID int64) ([]*Document, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, application_id, document_type, file_name, storage_path, size_bytes, uploaded_at
		FROM documents WHERE application_id = $1 ORDER BY id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.ApplicationID, &doc.DocumentType, &doc.FileName,
			&doc.StoragePath, &doc.SizeBytes, &doc.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, &doc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, applicationID, documentID int64) error {
	return s.deleteScoped(ctx, "documents", applicationID, documentID)
}

func (s *PostgresStore) deleteScoped(ctx context.Context, table string, applicationID, id int64) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id = $1 AND application_id = $2`, id, applicationID)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s row %d: %w", table, id, sentinel.ErrNotFound)
	}
	return nil
}
