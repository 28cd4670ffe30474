package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "certreg/pkg/domain-errors"
)

func TestValidateTransition(t *testing.T) {
	t.Run("approval only from submitted, in_review or suspended", func(t *testing.T) {
		for _, from := range []Status{StatusSubmitted, StatusInReview, StatusSuspended} {
			assert.NoError(t, ValidateTransition(from, StatusApproved), "from %s", from)
		}
		for _, from := range []Status{StatusDraft, StatusPendingPayment, StatusRejected, StatusCancelled} {
			err := ValidateTransition(from, StatusApproved)
			require.Error(t, err, "from %s", from)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
		}
	})

	t.Run("rejection blocked from terminal statuses", func(t *testing.T) {
		for _, from := range []Status{StatusRejected, StatusCancelled} {
			err := ValidateTransition(from, StatusRejected)
			require.Error(t, err, "from %s", from)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
		}
		assert.NoError(t, ValidateTransition(StatusApproved, StatusRejected))
		assert.NoError(t, ValidateTransition(StatusDraft, StatusRejected))
	})

	t.Run("self transition is rejected", func(t *testing.T) {
		err := ValidateTransition(StatusApproved, StatusApproved)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	t.Run("ungated edges are permitted", func(t *testing.T) {
		assert.NoError(t, ValidateTransition(StatusApproved, StatusSuspended))
		assert.NoError(t, ValidateTransition(StatusSubmitted, StatusInReview))
		assert.NoError(t, ValidateTransition(StatusDraft, StatusPendingPayment))
	})
}

func TestValidateCancel(t *testing.T) {
	for _, from := range []Status{StatusDraft, StatusSubmitted, StatusPendingPayment, StatusInReview} {
		assert.NoError(t, ValidateCancel(from), "from %s", from)
	}
	for _, from := range []Status{StatusApproved, StatusRejected, StatusCancelled, StatusSuspended} {
		err := ValidateCancel(from)
		require.Error(t, err, "from %s", from)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	}
}

func TestParseStatusRejectsUnknownValues(t *testing.T) {
	_, err := ParseStatus("archived")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	status, err := ParseStatus("pending_payment")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, status)
}

func TestAssignmentGuards(t *testing.T) {
	now := time.Now()

	t.Run("assign to self when unassigned", func(t *testing.T) {
		app := New(1, TypeElectrical, "A", "", now)
		require.NoError(t, app.CanAssign(10, false))
		app.ApplyAssign(10, now)
		assert.True(t, app.AssignedToReviewer(10))
	})

	t.Run("assign is idempotent for the holder", func(t *testing.T) {
		app := New(1, TypeElectrical, "A", "", now)
		app.ApplyAssign(10, now)
		assert.NoError(t, app.CanAssign(10, false))
	})

	t.Run("second reviewer is blocked without override", func(t *testing.T) {
		app := New(1, TypeElectrical, "A", "", now)
		app.ApplyAssign(10, now)

		err := app.CanAssign(11, false)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyAssigned))

		assert.NoError(t, app.CanAssign(11, true), "super-admin override may reassign")
	})

	t.Run("unassign requires holder or override", func(t *testing.T) {
		app := New(1, TypeElectrical, "A", "", now)
		app.ApplyAssign(10, now)

		err := app.CanUnassign(11, false)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

		require.NoError(t, app.CanUnassign(10, false))
		app.ApplyUnassign(now)
		assert.Nil(t, app.AssignedTo)
	})

	t.Run("requireAssigned distinguishes unassigned from foreign holder", func(t *testing.T) {
		app := New(1, TypeElectrical, "A", "", now)

		err := app.RequireAssigned(10)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAssigned))

		app.ApplyAssign(11, now)
		err = app.RequireAssigned(10)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

		assert.NoError(t, app.RequireAssigned(11))
	})
}

func TestApplyIssuance(t *testing.T) {
	created := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	firstApproval := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	reApproval := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	app := New(1, TypeElectrical, "A", "", created)
	require.True(t, app.NeedsCertificate())

	app.ApplyIssuance("MWHWR-A-25-AAAAA-BBBBB-CCCCC", "AAAAA-BBBBB-CCCCC", firstApproval)

	require.NotNil(t, app.IssuedDate)
	assert.Equal(t, firstApproval, *app.IssuedDate)
	require.NotNil(t, app.ExpiryDate)
	assert.Equal(t, firstApproval.Add(CertificateValidity), *app.ExpiryDate)
	assert.False(t, app.NeedsCertificate())

	// Re-approval: number, token and issued date stay put, expiry advances.
	app.ApplyIssuance("MWHWR-A-25-XXXXX-YYYYY-ZZZZZ", "XXXXX-YYYYY-ZZZZZ", reApproval)

	assert.Equal(t, "MWHWR-A-25-AAAAA-BBBBB-CCCCC", app.CertificateNumber)
	assert.Equal(t, "AAAAA-BBBBB-CCCCC", app.SecurityToken)
	assert.Equal(t, firstApproval, *app.IssuedDate)
	assert.Equal(t, reApproval.Add(CertificateValidity), *app.ExpiryDate)
}

func TestInternalUIDMintedAtCreation(t *testing.T) {
	a := New(1, TypeBuilding, "", "", time.Now())
	b := New(1, TypeBuilding, "", "", time.Now())
	assert.NotEqual(t, a.InternalUID, b.InternalUID)
	assert.NotZero(t, a.InternalUID)
}
