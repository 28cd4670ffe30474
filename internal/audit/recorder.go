package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"certreg/pkg/requestcontext"
)

// Store is the persistence boundary for audit entries. The postgres
// implementation writes through the transactional outbox so entries commit
// with the mutation they describe.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByApplication(ctx context.Context, applicationID int64) ([]Entry, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}

// Recorder captures audit entries. It is append-only and fills in the fields
// every entry carries (id, timestamp, request correlation) so call sites only
// name the action.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record persists the entry. Timestamp and request metadata come from the
// context when the entry leaves them zero.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}
	if entry.IP == "" {
		entry.IP = requestcontext.ClientIP(ctx)
	}
	if err := r.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *Recorder) ListByApplication(ctx context.Context, applicationID int64) ([]Entry, error) {
	return r.store.ListByApplication(ctx, applicationID)
}

func (r *Recorder) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	return r.store.ListRecent(ctx, limit)
}
