package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certreg/internal/application/models"
	"certreg/internal/application/store"
	"certreg/internal/audit"
	"certreg/internal/certificate"
	"certreg/internal/dossier"
	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/requestcontext"
	"certreg/pkg/testutil"
)

type recordedNote struct {
	userID  int64
	title   string
	message string
}

type stubNotifier struct {
	mu     sync.Mutex
	users  []recordedNote
	staff  []recordedNote
}

func (n *stubNotifier) NotifyUser(_ context.Context, userID int64, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, recordedNote{userID: userID, title: title, message: message})
}

func (n *stubNotifier) NotifyStaff(_ context.Context, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.staff = append(n.staff, recordedNote{title: title, message: message})
}

type fixture struct {
	svc      *Service
	apps     *store.InMemory
	dossiers *dossier.Service
	auditLog *audit.InMemoryStore
	notifier *stubNotifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	apps := store.NewInMemory()
	dossiers := dossier.NewService(dossier.NewInMemoryStore())
	auditLog := audit.NewInMemoryStore()
	notifier := &stubNotifier{}
	issuer := certificate.NewIssuer("test-secret", "MWHWR")

	svc := New(apps, dossiers, issuer, audit.NewRecorder(auditLog), notifier,
		NoopTxRunner{}, slog.Default())
	return &fixture{
		svc:      svc,
		apps:     apps,
		dossiers: dossiers,
		auditLog: auditLog,
		notifier: notifier,
		now:      time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) applicantCtx(userID int64) context.Context {
	ctx := requestcontext.WithUserID(context.Background(), userID)
	ctx = requestcontext.WithRole(ctx, requestcontext.RoleUser)
	return requestcontext.WithTime(ctx, f.now)
}

func (f *fixture) adminCtx(userID int64) context.Context {
	ctx := requestcontext.WithUserID(context.Background(), userID)
	ctx = requestcontext.WithRole(ctx, requestcontext.RoleAdmin)
	return requestcontext.WithTime(ctx, f.now)
}

func (f *fixture) superAdminCtx(userID int64) context.Context {
	ctx := requestcontext.WithUserID(context.Background(), userID)
	ctx = requestcontext.WithRole(ctx, requestcontext.RoleSuperAdmin)
	return requestcontext.WithTime(ctx, f.now)
}

func (f *fixture) completeDossier(t *testing.T, appID int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.dossiers.SaveCompanyInfo(ctx, &dossier.CompanyInfo{
		ApplicationID: appID, CompanyName: "Acme Ltd", RegistrationNumber: "R-100", Address: "1 Main St",
	}))
	require.NoError(t, f.dossiers.AddDirector(ctx, &dossier.Director{
		ApplicationID: appID, FullName: "Jane Doe", NationalID: "N-1",
	}))
	require.NoError(t, f.dossiers.AddDocument(ctx, &dossier.Document{
		ApplicationID: appID, DocumentType: "registration", FileName: "reg.pdf",
	}))
}

// submittedApp creates, completes, and submits an application for user 1.
func (f *fixture) submittedApp(t *testing.T) *models.Application {
	t.Helper()
	ctx := f.applicantCtx(1)
	app, err := f.svc.Create(ctx, "electrical", "A", "rewiring works")
	require.NoError(t, err)
	f.completeDossier(t, app.ID)
	app, err = f.svc.Submit(ctx, app.ID)
	require.NoError(t, err)
	return app
}

func (f *fixture) lastAction(t *testing.T) string {
	t.Helper()
	entries, err := f.auditLog.ListRecent(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	return entries[0].Action
}

func TestCreateRejectsSecondActiveApplication(t *testing.T) {
	f := newFixture(t)
	ctx := f.applicantCtx(1)

	_, err := f.svc.Create(ctx, "electrical", "A", "")
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, "electrical", "B", "")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = f.svc.Create(ctx, "building", "A", "")
	assert.NoError(t, err, "a different certificate type is allowed")
}

func TestCreateRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(f.applicantCtx(1), "nuclear", "A", "")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestGetHidesForeignApplications(t *testing.T) {
	f := newFixture(t)

	app, err := f.svc.Create(f.applicantCtx(1), "electrical", "A", "")
	require.NoError(t, err)

	_, err = f.svc.Get(f.applicantCtx(2), app.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound),
		"non-owner gets not-found, not forbidden")

	got, err := f.svc.Get(f.adminCtx(10), app.ID)
	require.NoError(t, err, "staff can view any application")
	assert.Equal(t, app.ID, got.ID)
}

func TestSubmitBlockedUntilDossierComplete(t *testing.T) {
	f := newFixture(t)
	ctx := f.applicantCtx(1)

	app, err := f.svc.Create(ctx, "electrical", "A", "")
	require.NoError(t, err)

	testutil.When(t, "the dossier is still empty", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, app.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeIncompleteApplication))
	})

	testutil.Then(t, "a completed dossier unblocks submission", func(t *testing.T) {
		f.completeDossier(t, app.ID)
		submitted, err := f.svc.Submit(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSubmitted, submitted.Status)
		assert.Len(t, f.notifier.staff, 1)
		assert.Equal(t, "STATUS_UPDATE_SUBMITTED", f.lastAction(t))
	})
}

func TestUpdateStatusRequiresAssignment(t *testing.T) {
	f := newFixture(t)
	app := f.submittedApp(t)

	_, err := f.svc.UpdateStatus(f.adminCtx(10), app.ID, models.StatusInReview, "")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAssigned))

	_, err = f.svc.Assign(f.adminCtx(10), app.ID)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(f.adminCtx(11), app.ID, models.StatusInReview, "")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden),
		"a non-holder reviewer cannot act")

	updated, err := f.svc.UpdateStatus(f.adminCtx(10), app.ID, models.StatusInReview, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInReview, updated.Status)
}

func TestAssignIsExclusive(t *testing.T) {
	f := newFixture(t)
	app := f.submittedApp(t)

	_, err := f.svc.Assign(f.adminCtx(10), app.ID)
	require.NoError(t, err)

	_, err = f.svc.Assign(f.adminCtx(11), app.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyAssigned))

	reassigned, err := f.svc.Assign(f.superAdminCtx(12), app.ID)
	require.NoError(t, err, "super-admin may take over")
	assert.True(t, reassigned.AssignedToReviewer(12))
}

func TestAssignRaceHasExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	app := f.submittedApp(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Assign(f.adminCtx(int64(100+i)), app.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyAssigned))
		}
	}
	assert.Equal(t, 1, winners)
}

func TestUnassignRules(t *testing.T) {
	f := newFixture(t)
	app := f.submittedApp(t)

	_, err := f.svc.Unassign(f.adminCtx(10), app.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAssigned))

	_, err = f.svc.Assign(f.adminCtx(10), app.ID)
	require.NoError(t, err)

	_, err = f.svc.Unassign(f.adminCtx(11), app.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

	released, err := f.svc.Unassign(f.adminCtx(10), app.ID)
	require.NoError(t, err)
	assert.Nil(t, released.AssignedTo)
	assert.Equal(t, audit.ActionApplicationUnassigned, f.lastAction(t))
}

func TestApprovalGate(t *testing.T) {
	f := newFixture(t)
	ctx := f.applicantCtx(1)

	app, err := f.svc.Create(ctx, "electrical", "A", "")
	require.NoError(t, err)

	adminCtx := f.adminCtx(10)
	_, err = f.svc.Assign(adminCtx, app.ID)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(adminCtx, app.ID, models.StatusApproved, "")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition),
		"a draft cannot be approved")
}

func TestApproveIssuesCertificate(t *testing.T) {
	f := newFixture(t)
	app := f.submittedApp(t)

	adminCtx := f.adminCtx(10)
	_, err := f.svc.Assign(adminCtx, app.ID)
	require.NoError(t, err)

	approved, err := f.svc.UpdateStatus(adminCtx, app.ID, models.StatusApproved, "all checks passed")
	require.NoError(t, err)

	assert.Equal(t, models.StatusApproved, approved.Status)
	assert.Regexp(t, `^MWHWR-A-\d{2}-[0-9A-HJKMNP-TV-Z]{5}-[0-9A-HJKMNP-TV-Z]{5}-[0-9A-HJKMNP-TV-Z]{5}$`,
		approved.CertificateNumber)
	require.NotNil(t, approved.IssuedDate)
	require.NotNil(t, approved.ExpiryDate)
	assert.Equal(t, approved.IssuedDate.Add(models.CertificateValidity), *approved.ExpiryDate)

	require.Len(t, f.notifier.users, 1)
	assert.Equal(t, int64(1), f.notifier.users[0].userID)
	assert.Contains(t, f.notifier.users[0].message, approved.CertificateNumber)
	assert.Equal(t, "STATUS_UPDATE_APPROVED", f.lastAction(t))
}

func TestReApprovalKeepsNumberAndExtendsExpiry(t *testing.T) {
	f := newFixture(t)
	app := f.submittedApp(t)

	adminCtx := f.adminCtx(10)
	_, err := f.svc.Assign(adminCtx, app.ID)
	require.NoError(t, err)

	approved, err := f.svc.UpdateStatus(adminCtx, app.ID, models.StatusApproved, "")
	require.NoError(t, err)
	number := approved.CertificateNumber
	firstExpiry := *approved.ExpiryDate

	_, err = f.svc.UpdateStatus(adminCtx, app.ID, models.StatusSuspended, "fee arrears")
	require.NoError(t, err)

	// Later re-approval restarts the validity window.
	f.now = f.now.Add(30 * 24 * time.Hour)
	reApproved, err := f.svc.UpdateStatus(f.adminCtx(10), app.ID, models.StatusApproved, "arrears cleared")
	require.NoError(t, err)

	assert.Equal(t, number, reApproved.CertificateNumber, "certificate number is permanent")
	assert.Equal(t, *approved.IssuedDate, *reApproved.IssuedDate, "issued date is permanent")
	assert.True(t, reApproved.ExpiryDate.After(firstExpiry), "expiry restarts on re-approval")
}

func TestCancelRules(t *testing.T) {
	f := newFixture(t)
	ctx := f.applicantCtx(1)

	app, err := f.svc.Create(ctx, "electrical", "A", "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(f.applicantCtx(2), app.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound), "only the owner can cancel")

	cancelled, err := f.svc.Cancel(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, app.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func TestPaySettlesDraftsAndPendingPayments(t *testing.T) {
	f := newFixture(t)
	ctx := f.applicantCtx(1)

	draft, err := f.svc.Create(ctx, "electrical", "A", "")
	require.NoError(t, err)

	pending, err := f.svc.Create(ctx, "building", "", "")
	require.NoError(t, err)
	f.completeDossier(t, pending.ID)
	_, err = f.svc.Submit(ctx, pending.ID)
	require.NoError(t, err)
	adminCtx := f.adminCtx(10)
	_, err = f.svc.Assign(adminCtx, pending.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(adminCtx, pending.ID, models.StatusPendingPayment, "fees due")
	require.NoError(t, err)

	paid, err := f.svc.Pay(ctx, []int64{draft.ID, pending.ID})
	require.NoError(t, err, "drafts before the payment step are payable too")
	require.Len(t, paid, 2)
	for _, app := range paid {
		assert.Equal(t, models.StatusDraft, app.Status)
		assert.Equal(t, models.StepPaymentComplete, app.CurrentStep)
	}

	_, err = f.svc.Pay(ctx, []int64{draft.ID})
	require.Error(t, err, "nothing left to pay once past the payment step")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func TestPayRejectsTheWholeBatchOnOneIneligibleID(t *testing.T) {
	f := newFixture(t)
	ctx := f.applicantCtx(1)

	draft, err := f.svc.Create(ctx, "electrical", "A", "")
	require.NoError(t, err)

	_, err = f.svc.Pay(ctx, []int64{draft.ID, 9999})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	got, err := f.svc.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStep, "eligible ids stay untouched when the batch fails")
}

func TestRenewClonesDossierIntoNewDraft(t *testing.T) {
	f := newFixture(t)
	app := f.submittedApp(t)

	adminCtx := f.adminCtx(10)
	_, err := f.svc.Assign(adminCtx, app.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(adminCtx, app.ID, models.StatusApproved, "")
	require.NoError(t, err)

	ctx := f.applicantCtx(1)
	renewal, err := f.svc.Renew(ctx, app.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusDraft, renewal.Status)
	assert.Equal(t, 4, renewal.CurrentStep)
	assert.Equal(t, app.Type, renewal.Type)
	assert.NotEqual(t, app.ID, renewal.ID)
	assert.Empty(t, renewal.CertificateNumber, "a renewal earns its own certificate")

	info, err := f.dossiers.CompanyInfo(ctx, renewal.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", info.CompanyName)

	docs, err := f.dossiers.Documents(ctx, renewal.ID)
	require.NoError(t, err)
	assert.Empty(t, docs, "documents are not carried over")
}

func TestRenewRequiresApprovedSource(t *testing.T) {
	f := newFixture(t)
	app := f.submittedApp(t)

	_, err := f.svc.Renew(f.applicantCtx(1), app.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func TestListScopesApplicantsToTheirOwn(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(f.applicantCtx(1), "electrical", "A", "")
	require.NoError(t, err)
	_, err = f.svc.Create(f.applicantCtx(2), "electrical", "A", "")
	require.NoError(t, err)

	mine, err := f.svc.List(f.applicantCtx(1), store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, int64(1), mine[0].UserID)

	all, err := f.svc.List(f.adminCtx(10), store.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStatsAndExpiring(t *testing.T) {
	f := newFixture(t)
	app := f.submittedApp(t)

	adminCtx := f.adminCtx(10)
	_, err := f.svc.Assign(adminCtx, app.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(adminCtx, app.ID, models.StatusApproved, "")
	require.NoError(t, err)

	stats, err := f.svc.Stats(adminCtx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Approved)

	expiring, err := f.svc.ListExpiring(adminCtx, 2*models.CertificateValidity)
	require.NoError(t, err)
	assert.Len(t, expiring, 1)

	expiring, err = f.svc.ListExpiring(adminCtx, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, expiring)
}
