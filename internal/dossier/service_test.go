package dossier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/requestcontext"
	"certreg/pkg/testutil"
)

func TestCompleteness(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()
	const appID = int64(1)

	testutil.Given(t, "an application with an empty dossier", func(t *testing.T) {
		missing, err := svc.Completeness(ctx, appID)
		require.NoError(t, err)
		assert.Equal(t, []string{SectionCompanyInfo, SectionDirectors, SectionDocuments}, missing)
	})

	testutil.When(t, "company info and a director are provided", func(t *testing.T) {
		require.NoError(t, svc.SaveCompanyInfo(ctx, &CompanyInfo{
			ApplicationID: appID, CompanyName: "Acme Ltd", RegistrationNumber: "R-100", Address: "1 Main St",
		}))
		require.NoError(t, svc.AddDirector(ctx, &Director{
			ApplicationID: appID, FullName: "Jane Doe", NationalID: "N-1",
		}))
	})

	testutil.Then(t, "only documents remain outstanding", func(t *testing.T) {
		missing, err := svc.Completeness(ctx, appID)
		require.NoError(t, err)
		assert.Equal(t, []string{SectionDocuments}, missing)
	})

	testutil.Then(t, "a document completes the dossier", func(t *testing.T) {
		require.NoError(t, svc.AddDocument(ctx, &Document{
			ApplicationID: appID, DocumentType: "registration", FileName: "reg.pdf",
		}))
		missing, err := svc.Completeness(ctx, appID)
		require.NoError(t, err)
		assert.Empty(t, missing)
	})
}

func TestSaveCompanyInfoIsUpsert(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()

	first := &CompanyInfo{ApplicationID: 1, CompanyName: "Acme Ltd", RegistrationNumber: "R-100", Address: "1 Main St"}
	require.NoError(t, svc.SaveCompanyInfo(ctx, first))

	second := &CompanyInfo{ApplicationID: 1, CompanyName: "Acme Holdings", RegistrationNumber: "R-100", Address: "2 Main St"}
	require.NoError(t, svc.SaveCompanyInfo(ctx, second))

	got, err := svc.CompanyInfo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID, "upsert keeps the original row")
	assert.Equal(t, "Acme Holdings", got.CompanyName)
}

func TestRemoveDirectorScopedToApplication(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()

	d := &Director{ApplicationID: 1, FullName: "Jane Doe", NationalID: "N-1"}
	require.NoError(t, svc.AddDirector(ctx, d))

	err := svc.RemoveDirector(ctx, 2, d.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	require.NoError(t, svc.RemoveDirector(ctx, 1, d.ID))
}

func TestCloneIntoCopiesCompanyAndDirectorsNotDocuments(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	require.NoError(t, svc.SaveCompanyInfo(ctx, &CompanyInfo{
		ApplicationID: 1, CompanyName: "Acme Ltd", RegistrationNumber: "R-100", Address: "1 Main St",
	}))
	require.NoError(t, svc.AddDirector(ctx, &Director{ApplicationID: 1, FullName: "Jane Doe", NationalID: "N-1"}))
	require.NoError(t, svc.AddDirector(ctx, &Director{ApplicationID: 1, FullName: "John Roe", NationalID: "N-2"}))
	require.NoError(t, svc.AddDocument(ctx, &Document{ApplicationID: 1, DocumentType: "registration", FileName: "reg.pdf"}))

	require.NoError(t, svc.CloneInto(ctx, 1, 2))

	info, err := svc.CompanyInfo(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", info.CompanyName)

	directors, err := svc.Directors(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, directors, 2)

	docs, err := svc.Documents(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, docs, "documents must be re-uploaded for a renewal")
}
