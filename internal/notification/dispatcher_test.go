package notification

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certreg/pkg/platform/sentinel"
	"certreg/pkg/requestcontext"
)

type staticStaff struct {
	ids []int64
	err error
}

func (s staticStaff) ListStaffIDs(context.Context) ([]int64, error) { return s.ids, s.err }

type failingStore struct{ Store }

func (failingStore) Create(context.Context, *Notification) error {
	return errors.New("store down")
}

func newDispatcher(t *testing.T, staff StaffDirectory) (*Dispatcher, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	logger := slog.Default()
	return NewDispatcher(store, NewLogMailer(logger), staff, logger), store
}

func TestNotifyUserStoresAndStampsTime(t *testing.T) {
	d, store := newDispatcher(t, staticStaff{})
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	d.NotifyUser(ctx, 7, "Application approved", "Your certificate is ready.")

	got, err := store.ListByUser(ctx, 7, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Application approved", got[0].Title)
	assert.Equal(t, now, got[0].CreatedAt)
	assert.False(t, got[0].Read)
}

func TestNotifyUserSwallowsStoreFailure(t *testing.T) {
	logger := slog.Default()
	d := NewDispatcher(failingStore{}, NewLogMailer(logger), staticStaff{}, logger)

	// Must not panic or propagate; best-effort delivery.
	d.NotifyUser(context.Background(), 7, "t", "m")
}

func TestNotifyStaffFansOut(t *testing.T) {
	d, store := newDispatcher(t, staticStaff{ids: []int64{1, 2, 3}})
	ctx := context.Background()

	d.NotifyStaff(ctx, "New submission", "Application 9 submitted.")

	for _, id := range []int64{1, 2, 3} {
		got, err := store.ListByUser(ctx, id, true)
		require.NoError(t, err)
		assert.Len(t, got, 1, "staff user %d", id)
	}
}

func TestMarkReadScopedToOwner(t *testing.T) {
	d, store := newDispatcher(t, staticStaff{})
	ctx := context.Background()

	d.NotifyUser(ctx, 7, "t", "m")
	got, err := store.ListByUser(ctx, 7, true)
	require.NoError(t, err)
	require.Len(t, got, 1)

	err = d.MarkRead(ctx, 8, got[0].ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound, "foreign user cannot mark read")

	require.NoError(t, d.MarkRead(ctx, 7, got[0].ID))
	unread, err := store.ListByUser(ctx, 7, true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
