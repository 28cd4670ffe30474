//go:build integration

package store

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certreg/internal/application/models"
	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/platform/sentinel"
	"certreg/pkg/testutil/containers"
)

func insertUser(t *testing.T, pg *containers.PostgresContainer, email string) int64 {
	t.Helper()
	var id int64
	err := pg.DB.QueryRow(`
		INSERT INTO users (email, full_name, password_hash, role, active, created_at, updated_at)
		VALUES ($1, 'Test User', 'x', 'user', TRUE, now(), now())
		RETURNING id`, email).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestPostgresStore(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	store := NewPostgres(pg.DB)
	ctx := context.Background()

	reset := func(t *testing.T) int64 {
		t.Helper()
		require.NoError(t, pg.Truncate(ctx, "applications", "users"))
		return insertUser(t, pg, "applicant@example.com")
	}

	t.Run("create and find round trip", func(t *testing.T) {
		userID := reset(t)
		app := models.New(userID, models.TypeElectrical, "A", "rewiring works", time.Now().UTC())
		require.NoError(t, store.Create(ctx, app))
		require.NotZero(t, app.ID)

		got, err := store.FindByID(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, app.InternalUID, got.InternalUID)
		assert.Equal(t, models.StatusDraft, got.Status)
		assert.Equal(t, "A", got.Class)
	})

	t.Run("find by identifier resolves number, token, and id", func(t *testing.T) {
		userID := reset(t)
		app := models.New(userID, models.TypeBuilding, "", "", time.Now().UTC())
		require.NoError(t, store.Create(ctx, app))
		app.Status = models.StatusApproved
		app.CertificateNumber = "MWHWR-XX-26-AAAAA-BBBBB-CCCCC"
		app.SecurityToken = "AAAAA-BBBBB-CCCCC"
		require.NoError(t, store.Update(ctx, app))

		for _, identifier := range []string{
			app.CertificateNumber,
			app.SecurityToken,
			strconv.FormatInt(app.ID, 10),
		} {
			got, err := store.FindByIdentifier(ctx, identifier)
			require.NoError(t, err, identifier)
			assert.Equal(t, app.ID, got.ID)
		}

		_, err := store.FindByIdentifier(ctx, "NO-SUCH-THING")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("duplicate certificate number is a conflict", func(t *testing.T) {
		userID := reset(t)
		first := models.New(userID, models.TypeElectrical, "", "", time.Now().UTC())
		require.NoError(t, store.Create(ctx, first))
		first.CertificateNumber = "MWHWR-XX-26-DUPLI-CATED-VALUE"
		first.SecurityToken = "DUPLI-CATED-VALUE"
		require.NoError(t, store.Update(ctx, first))

		second := models.New(userID, models.TypeBuilding, "", "", time.Now().UTC())
		require.NoError(t, store.Create(ctx, second))
		second.CertificateNumber = first.CertificateNumber
		second.SecurityToken = first.SecurityToken

		err := store.Update(ctx, second)
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("find active skips terminal statuses", func(t *testing.T) {
		userID := reset(t)
		app := models.New(userID, models.TypeCivil, "", "", time.Now().UTC())
		require.NoError(t, store.Create(ctx, app))

		active, err := store.FindActive(ctx, userID, models.TypeCivil)
		require.NoError(t, err)
		assert.Equal(t, app.ID, active.ID)

		app.Status = models.StatusCancelled
		require.NoError(t, store.Update(ctx, app))
		_, err = store.FindActive(ctx, userID, models.TypeCivil)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("execute serializes racing assignments", func(t *testing.T) {
		userID := reset(t)
		app := models.New(userID, models.TypeElectrical, "", "", time.Now().UTC())
		app.Status = models.StatusSubmitted
		require.NoError(t, store.Create(ctx, app))

		const reviewers = 8
		var wg sync.WaitGroup
		wins := make(chan int64, reviewers)
		for i := int64(1); i <= reviewers; i++ {
			wg.Add(1)
			go func(reviewerID int64) {
				defer wg.Done()
				_, err := store.Execute(ctx, app.ID,
					func(a *models.Application) error { return a.CanAssign(reviewerID, false) },
					func(a *models.Application) { a.ApplyAssign(reviewerID, time.Now().UTC()) },
				)
				if err == nil {
					wins <- reviewerID
				}
			}(i)
		}
		wg.Wait()
		close(wins)

		var winners []int64
		for id := range wins {
			winners = append(winners, id)
		}
		require.Len(t, winners, 1, "exactly one reviewer must win the assignment")

		got, err := store.FindByID(ctx, app.ID)
		require.NoError(t, err)
		require.NotNil(t, got.AssignedTo)
		assert.Equal(t, winners[0], *got.AssignedTo)
	})

	t.Run("execute validation failure leaves the row untouched", func(t *testing.T) {
		userID := reset(t)
		app := models.New(userID, models.TypeElectrical, "", "", time.Now().UTC())
		require.NoError(t, store.Create(ctx, app))

		_, err := store.Execute(ctx, app.ID,
			func(a *models.Application) error {
				return dErrors.New(dErrors.CodeInvalidTransition, "nope")
			},
			func(a *models.Application) { a.Status = models.StatusApproved },
		)
		require.Error(t, err)

		got, err := store.FindByID(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDraft, got.Status)
	})

	t.Run("stats counts drafts as pending", func(t *testing.T) {
		userID := reset(t)
		draft := models.New(userID, models.TypeElectrical, "", "", time.Now().UTC())
		require.NoError(t, store.Create(ctx, draft))
		approved := models.New(userID, models.TypeBuilding, "", "", time.Now().UTC())
		require.NoError(t, store.Create(ctx, approved))
		approved.Status = models.StatusApproved
		require.NoError(t, store.Update(ctx, approved))

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Total)
		assert.Equal(t, int64(1), stats.Pending)
		assert.Equal(t, int64(1), stats.Approved)
		assert.Equal(t, int64(1), stats.TypeBreakdown["electrical"])
	})
}
