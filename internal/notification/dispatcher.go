package notification

import (
	"context"
	"log/slog"

	"certreg/pkg/requestcontext"
)

// Mailer sends a copy of a notification out-of-band. Implementations must
// not block on remote delivery.
type Mailer interface {
	Send(ctx context.Context, userID int64, subject, body string) error
}

// LogMailer writes outbound mail to the log. Stands in for a real mail
// relay in dev and tests.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, userID int64, subject, body string) error {
	m.logger.Info("mail dispatched", "user_id", userID, "subject", subject, "body", body)
	return nil
}

// StaffDirectory resolves which users should receive staff-wide broadcasts.
type StaffDirectory interface {
	ListStaffIDs(ctx context.Context) ([]int64, error)
}

// Dispatcher fans notifications out to the store and the mailer. Every
// method is best-effort: failures are logged and swallowed so the business
// action that triggered the notification still succeeds.
type Dispatcher struct {
	store  Store
	mailer Mailer
	staff  StaffDirectory
	logger *slog.Logger
}

func NewDispatcher(store Store, mailer Mailer, staff StaffDirectory, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, mailer: mailer, staff: staff, logger: logger}
}

// NotifyUser delivers one notification to one user.
func (d *Dispatcher) NotifyUser(ctx context.Context, userID int64, title, message string) {
	n := &Notification{
		UserID:    userID,
		Title:     title,
		Message:   message,
		CreatedAt: requestcontext.Now(ctx),
	}
	if err := d.store.Create(ctx, n); err != nil {
		d.logger.Error("notification store failed", "user_id", userID, "title", title, "error", err)
		return
	}
	if err := d.mailer.Send(ctx, userID, title, message); err != nil {
		d.logger.Error("notification mail failed", "user_id", userID, "title", title, "error", err)
	}
}

// NotifyStaff broadcasts to every staff user.
func (d *Dispatcher) NotifyStaff(ctx context.Context, title, message string) {
	ids, err := d.staff.ListStaffIDs(ctx)
	if err != nil {
		d.logger.Error("staff lookup failed", "title", title, "error", err)
		return
	}
	for _, id := range ids {
		d.NotifyUser(ctx, id, title, message)
	}
}

// List returns the user's notifications, optionally unread only.
func (d *Dispatcher) List(ctx context.Context, userID int64, unreadOnly bool) ([]*Notification, error) {
	return d.store.ListByUser(ctx, userID, unreadOnly)
}

// MarkRead marks one of the user's notifications as read.
func (d *Dispatcher) MarkRead(ctx context.Context, userID, notificationID int64) error {
	return d.store.MarkRead(ctx, userID, notificationID)
}
