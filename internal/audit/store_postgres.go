package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	txcontext "certreg/pkg/platform/tx"
)

// PostgresStore implements Store using the transactional outbox pattern.
// Append writes both the queryable audit_entries row and an outbox row in
// the caller's transaction; the outbox worker drains the outbox to Kafka.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, timestamp, actor_id, application_id, subject_user_id,
			action, detail, request_id, ip
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.Timestamp, entry.ActorID, entry.ApplicationID,
		entry.SubjectUserID, entry.Action, entry.Detail, entry.RequestID, entry.IP,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	aggregateID := entry.ID.String()
	if entry.ApplicationID != nil {
		aggregateID = fmt.Sprintf("%d", *entry.ApplicationID)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), "application", aggregateID, entry.Action, payload, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByApplication(ctx context.Context, applicationID int64) ([]Entry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, timestamp, actor_id, application_id, subject_user_id,
		       action, detail, request_id, ip
		FROM audit_entries
		WHERE application_id = $1
		ORDER BY timestamp DESC`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, timestamp, actor_id, application_id, subject_user_id,
		       action, detail, request_id, ip
		FROM audit_entries
		ORDER BY timestamp DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var appID, subjectID sql.NullInt64
		err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorID, &appID, &subjectID,
			&e.Action, &e.Detail, &e.RequestID, &e.IP)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if appID.Valid {
			e.ApplicationID = &appID.Int64
		}
		if subjectID.Valid {
			e.SubjectUserID = &subjectID.Int64
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

// OutboxRow is one pending outbox record awaiting publication.
type OutboxRow struct {
	ID        uuid.UUID
	EventType string
	Key       string
	Payload   []byte
}

// ListUnpublished returns up to limit unpublished outbox rows, oldest first.
func (s *PostgresStore) ListUnpublished(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, aggregate_id, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		if err := rows.Scan(&r.ID, &r.EventType, &r.Key, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkPublished stamps the outbox row so it is not republished.
func (s *PostgresStore) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET published_at = $2 WHERE id = $1`, id, time.Now())
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
