package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// OutboxSource is where the worker reads pending rows from.
type OutboxSource interface {
	ListUnpublished(ctx context.Context, limit int) ([]OutboxRow, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
}

// Publisher ships one outbox payload downstream.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// OutboxWorker drains the outbox to the publisher on an interval. Rows that
// fail to publish stay in the outbox and are retried next tick, so downstream
// delivery is at-least-once.
type OutboxWorker struct {
	source    OutboxSource
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewOutboxWorker(source OutboxSource, publisher Publisher, logger *slog.Logger) *OutboxWorker {
	return &OutboxWorker{
		source:    source,
		publisher: publisher,
		logger:    logger,
		interval:  2 * time.Second,
		batchSize: 100,
	}
}

func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *OutboxWorker) drain(ctx context.Context) {
	rows, err := w.source.ListUnpublished(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("audit outbox read failed", "error", err)
		return
	}
	for _, row := range rows {
		if err := w.publisher.Publish(ctx, row.Key, row.Payload); err != nil {
			w.logger.Error("audit publish failed",
				"outbox_id", row.ID, "event_type", row.EventType, "error", err)
			return
		}
		if err := w.source.MarkPublished(ctx, row.ID); err != nil {
			w.logger.Error("audit outbox mark failed", "outbox_id", row.ID, "error", err)
			return
		}
	}
}
