package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"certreg/internal/application/models"
	"certreg/pkg/platform/sentinel"
	txcontext "certreg/pkg/platform/tx"
)

// Postgres persists applications in PostgreSQL. Queries run against the
// transaction from context when the caller opened a unit of work, or the
// pool otherwise.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed application store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const appColumns = `id, user_id, certificate_type, certificate_class, description,
	status, current_step, internal_uid, certificate_number, security_token,
	issued_date, expiry_date, assigned_to, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, app *models.Application) error {
	query := `
		INSERT INTO applications (
			user_id, certificate_type, certificate_class, description,
			status, current_step, internal_uid, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		app.UserID,
		string(app.Type),
		nullString(app.Class),
		nullString(app.Description),
		string(app.Status),
		app.CurrentStep,
		app.InternalUID,
		app.CreatedAt,
		app.UpdatedAt,
	).Scan(&app.ID)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, id int64) (*models.Application, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+appColumns+` FROM applications WHERE id = $1`, id)
	return scanApplication(row)
}

func (s *Postgres) FindByIdentifier(ctx context.Context, identifier string) (*models.Application, error) {
	conditions := []string{"certificate_number = $1", "security_token = $1"}
	args := []any{identifier}
	if numericID, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		conditions = append(conditions, "id = $2")
		args = append(args, numericID)
	}
	query := `SELECT ` + appColumns + ` FROM applications WHERE ` +
		strings.Join(conditions, " OR ") + ` LIMIT 1`
	row := s.execer(ctx).QueryRowContext(ctx, query, args...)
	return scanApplication(row)
}

func (s *Postgres) FindActive(ctx context.Context, userID int64, certType models.CertificateType) (*models.Application, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+appColumns+` FROM applications
		WHERE user_id = $1 AND certificate_type = $2
		  AND status NOT IN ('rejected', 'cancelled')
		LIMIT 1`, userID, string(certType))
	return scanApplication(row)
}

func (s *Postgres) List(ctx context.Context, filter ListFilter) ([]*models.Application, error) {
	query := `SELECT ` + appColumns + ` FROM applications WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Status != nil {
		query += ` AND status = ` + arg(string(*filter.Status))
	}
	if filter.Type != nil {
		query += ` AND certificate_type = ` + arg(string(*filter.Type))
	}
	if filter.UserID != nil {
		query += ` AND user_id = ` + arg(*filter.UserID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()
	return collectApplications(rows)
}

func (s *Postgres) ListExpiring(ctx context.Context, from, to time.Time) ([]*models.Application, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+appColumns+` FROM applications
		WHERE status = 'approved'
		  AND expiry_date IS NOT NULL
		  AND expiry_date BETWEEN $1 AND $2
		ORDER BY expiry_date ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list expiring applications: %w", err)
	}
	defer rows.Close()
	return collectApplications(rows)
}

func (s *Postgres) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{TypeBreakdown: make(map[string]int64)}

	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('draft', 'submitted', 'pending_payment', 'in_review')),
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'rejected')
		FROM applications`)
	if err := row.Scan(&stats.Total, &stats.Pending, &stats.Approved, &stats.Rejected); err != nil {
		return nil, fmt.Errorf("application stats: %w", err)
	}

	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT certificate_type, COUNT(*) FROM applications GROUP BY certificate_type`)
	if err != nil {
		return nil, fmt.Errorf("application type breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var certType string
		var count int64
		if err := rows.Scan(&certType, &count); err != nil {
			return nil, fmt.Errorf("scan type breakdown: %w", err)
		}
		stats.TypeBreakdown[certType] = count
	}
	return stats, rows.Err()
}

func (s *Postgres) Update(ctx context.Context, app *models.Application) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE applications SET
			certificate_type = $2, certificate_class = $3, description = $4,
			status = $5, current_step = $6, certificate_number = $7,
			security_token = $8, issued_date = $9, expiry_date = $10,
			assigned_to = $11, updated_at = $12
		WHERE id = $1`,
		app.ID,
		string(app.Type),
		nullString(app.Class),
		nullString(app.Description),
		string(app.Status),
		app.CurrentStep,
		nullString(app.CertificateNumber),
		nullString(app.SecurityToken),
		nullTime(app.IssuedDate),
		nullTime(app.ExpiryDate),
		nullInt64(app.AssignedTo),
		app.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("certificate number %s: %w", app.CertificateNumber, sentinel.ErrConflict)
		}
		return fmt.Errorf("update application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("application %d: %w", app.ID, sentinel.ErrNotFound)
	}
	return nil
}

// Execute locks the application row, runs validate, and persists the
// mutation. When the caller already opened a transaction (via
// pkg/platform/tx), the row lock joins that unit of work, so assignment
// checks and status writes commit or roll back together.
func (s *Postgres) Execute(ctx context.Context, id int64,
	validate func(app *models.Application) error,
	mutate func(app *models.Application)) (*models.Application, error) {

	run := func(ctx context.Context) (*models.Application, error) {
		row := s.execer(ctx).QueryRowContext(ctx,
			`SELECT `+appColumns+` FROM applications WHERE id = $1 FOR UPDATE`, id)
		app, err := scanApplication(row)
		if err != nil {
			return nil, err
		}
		if err := validate(app); err != nil {
			return nil, err
		}
		mutate(app)
		if err := s.Update(ctx, app); err != nil {
			return nil, err
		}
		return app, nil
	}

	if _, ok := txcontext.From(ctx); ok {
		return run(ctx)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin execute tx: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	app, err := run(txcontext.WithTx(ctx, sqlTx))
	if err != nil {
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit execute tx: %w", err)
	}
	return app, nil
}

func scanApplication(row *sql.Row) (*models.Application, error) {
	var app models.Application
	var class, description, certNumber, secToken sql.NullString
	var issued, expiry sql.NullTime
	var assignedTo sql.NullInt64
	var certType, status string
	var internalUID uuid.UUID

	err := row.Scan(
		&app.ID, &app.UserID, &certType, &class, &description,
		&status, &app.CurrentStep, &internalUID, &certNumber, &secToken,
		&issued, &expiry, &assignedTo, &app.CreatedAt, &app.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("application: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan application: %w", err)
	}

	parsedStatus, err := models.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("stored status %q: %w", status, sentinel.ErrInvalidState)
	}

	app.Type = models.CertificateType(certType)
	app.Status = parsedStatus
	app.InternalUID = internalUID
	app.Class = class.String
	app.Description = description.String
	app.CertificateNumber = certNumber.String
	app.SecurityToken = secToken.String
	if issued.Valid {
		app.IssuedDate = &issued.Time
	}
	if expiry.Valid {
		app.ExpiryDate = &expiry.Time
	}
	if assignedTo.Valid {
		app.AssignedTo = &assignedTo.Int64
	}
	return &app, nil
}

func collectApplications(rows *sql.Rows) ([]*models.Application, error) {
	var out []*models.Application
	for rows.Next() {
		var app models.Application
		var class, description, certNumber, secToken sql.NullString
		var issued, expiry sql.NullTime
		var assignedTo sql.NullInt64
		var certType, status string
		var internalUID uuid.UUID

		err := rows.Scan(
			&app.ID, &app.UserID, &certType, &class, &description,
			&status, &app.CurrentStep, &internalUID, &certNumber, &secToken,
			&issued, &expiry, &assignedTo, &app.CreatedAt, &app.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}

		parsedStatus, err := models.ParseStatus(status)
		if err != nil {
			return nil, fmt.Errorf("stored status %q: %w", status, sentinel.ErrInvalidState)
		}

		app.Type = models.CertificateType(certType)
		app.Status = parsedStatus
		app.InternalUID = internalUID
		app.Class = class.String
		app.Description = description.String
		app.CertificateNumber = certNumber.String
		app.SecurityToken = secToken.String
		if issued.Valid {
			app.IssuedDate = &issued.Time
		}
		if expiry.Valid {
			app.ExpiryDate = &expiry.Time
		}
		if assignedTo.Valid {
			app.AssignedTo = &assignedTo.Int64
		}
		out = append(out, &app)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
