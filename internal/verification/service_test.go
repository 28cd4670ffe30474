package verification

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certreg/internal/application/models"
	appstore "certreg/internal/application/store"
	"certreg/internal/dossier"
	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/requestcontext"
	"certreg/pkg/testutil"
)

const testPhone = "+265991234567"

type capturingSender struct {
	phoneNumber string
	code        string
}

func (c *capturingSender) SendCode(_ context.Context, phoneNumber, code string) error {
	c.phoneNumber = phoneNumber
	c.code = code
	return nil
}

type fixture struct {
	svc      *Service
	sender   *capturingSender
	apps     *appstore.InMemory
	dossiers *dossier.Service
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	sender := &capturingSender{}
	apps := appstore.NewInMemory()
	dossiers := dossier.NewService(dossier.NewInMemoryStore())
	store := NewInMemoryStore(WithClock(func() time.Time { return *clock }))
	svc := NewService(store, apps, dossiers, sender, slog.Default())
	return &fixture{svc: svc, sender: sender, apps: apps, dossiers: dossiers, clock: clock}
}

func (f *fixture) seedCertificate(t *testing.T, status models.Status, number string) *models.Application {
	t.Helper()
	app := models.New(1, models.TypeElectrical, "A", "", *f.clock)
	app.Status = status
	app.CertificateNumber = number
	app.SecurityToken = number[len(number)-17:]
	if status == models.StatusApproved {
		expiry := f.clock.Add(300 * 24 * time.Hour)
		app.ExpiryDate = &expiry
	}
	require.NoError(t, f.apps.Create(context.Background(), app))
	return app
}

// verifiedToken runs the request+verify steps and returns the token.
func (f *fixture) verifiedToken(t *testing.T, ctx context.Context) string {
	t.Helper()
	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))
	token, _, err := f.svc.VerifyOTP(ctx, testPhone, f.sender.code)
	require.NoError(t, err)
	return token
}

func TestOTPRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := requestcontext.WithTime(context.Background(), *f.clock)
	app := f.seedCertificate(t, models.StatusApproved, "MWHWR-A-25-AAAAA-BBBBB-CCCCC")
	require.NoError(t, f.dossiers.SaveCompanyInfo(ctx, &dossier.CompanyInfo{
		ApplicationID: app.ID, CompanyName: "Acme Ltd", RegistrationNumber: "R-100", Address: "1 Main St",
	}))

	var token string
	testutil.Given(t, "a code has been requested for a phone number", func(t *testing.T) {
		require.NoError(t, f.svc.RequestOTP(ctx, testPhone))
		require.Equal(t, testPhone, f.sender.phoneNumber)
		require.Len(t, f.sender.code, 6)
	})

	testutil.When(t, "the code is exchanged for a verification token", func(t *testing.T) {
		var expiresAt time.Time
		var err error
		token, expiresAt, err = f.svc.VerifyOTP(ctx, testPhone, f.sender.code)
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.Equal(t, f.clock.Add(tokenTTL), expiresAt)
	})

	testutil.Then(t, "the token unlocks the redacted lookup", func(t *testing.T) {
		result, err := f.svc.Lookup(ctx, app.CertificateNumber, token)
		require.NoError(t, err)
		assert.Equal(t, app.ID, result.ID)
		assert.Equal(t, "approved", result.Status)
		assert.True(t, result.Valid)
		assert.Equal(t, "electrical", result.CertificateType)
		assert.Equal(t, "Acme Ltd", result.CompanyName)
		assert.Equal(t, "1 Main St", result.CompanyAddress)
	})
}

func TestOTPIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))
	code := f.sender.code

	_, _, err := f.svc.VerifyOTP(ctx, testPhone, code)
	require.NoError(t, err)

	_, _, err = f.svc.VerifyOTP(ctx, testPhone, code)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidOTP))
}

func TestOTPExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))
	code := f.sender.code

	*f.clock = f.clock.Add(otpTTL + time.Second)

	_, _, err := f.svc.VerifyOTP(ctx, testPhone, code)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidOTP))
}

func TestWrongCodeDoesNotConsumePendingOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))

	_, _, err := f.svc.VerifyOTP(ctx, testPhone, "000000")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidOTP))

	_, _, err = f.svc.VerifyOTP(ctx, testPhone, f.sender.code)
	assert.NoError(t, err, "the real code still works after a typo")
}

func TestResendOverwritesPendingCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))
	first := f.sender.code
	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))
	second := f.sender.code

	if first != second {
		_, _, err := f.svc.VerifyOTP(ctx, testPhone, first)
		require.Error(t, err, "superseded code must be rejected")
	}
	_, _, err := f.svc.VerifyOTP(ctx, testPhone, second)
	assert.NoError(t, err)
}

func TestLookupUnknownIdentifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.verifiedToken(t, ctx)

	_, err := f.svc.Lookup(ctx, "NO-SUCH-CERT", token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestLookupHidesInFlightApplications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seedCertificate(t, models.StatusInReview, "MWHWR-A-25-AAAAA-BBBBB-CCCCC")
	token := f.verifiedToken(t, ctx)

	_, err := f.svc.Lookup(ctx, app.CertificateNumber, token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound),
		"in-flight statuses must look like missing certificates")
}

func TestTokenUnlocksAnyCertificate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.seedCertificate(t, models.StatusApproved, "MWHWR-A-25-AAAAA-BBBBB-CCCCC")
	second := f.seedCertificate(t, models.StatusApproved, "MWHWR-A-25-DDDDD-EEEEE-FFFFF")
	token := f.verifiedToken(t, ctx)

	for _, identifier := range []string{
		first.CertificateNumber,
		second.CertificateNumber,
		second.SecurityToken,
	} {
		result, err := f.svc.Lookup(ctx, identifier, token)
		require.NoError(t, err, "one verified phone number covers any certificate lookup")
		assert.Equal(t, "approved", result.Status)
	}
}

func TestLookupTokenExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seedCertificate(t, models.StatusApproved, "MWHWR-A-25-AAAAA-BBBBB-CCCCC")
	token := f.verifiedToken(t, ctx)

	*f.clock = f.clock.Add(tokenTTL + time.Second)

	_, err := f.svc.Lookup(ctx, app.CertificateNumber, token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestSuspendedCertificateIsDisclosedButInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seedCertificate(t, models.StatusSuspended, "MWHWR-A-25-AAAAA-BBBBB-CCCCC")
	token := f.verifiedToken(t, ctx)

	result, err := f.svc.Lookup(ctx, app.CertificateNumber, token)
	require.NoError(t, err)
	assert.Equal(t, "suspended", result.Status)
	assert.False(t, result.Valid)
}
