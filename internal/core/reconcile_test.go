package core_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/patientsync/internal/core"
	"github.com/JonMunkholm/patientsync/internal/core/coretest"
)

const (
	tenantID  = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	creatorID = "16fd2706-8baf-433b-82eb-8c7fada847da"

	storedID = "11111111-1111-4111-8111-111111111111"
	partnerA = "22222222-2222-4222-8222-222222222222"
	partnerB = "33333333-3333-4333-8333-333333333333"

	header = "patient_id,external_id,first_name,last_name,dob,gender,email,phone,address,notes"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newReconciler(repo core.PatientRepository) *core.Reconciler {
	return &core.Reconciler{
		Repo:        repo,
		TenantID:    tenantID,
		CreatedByID: creatorID,
		Now:         func() time.Time { return fixedNow },
	}
}

func csvOf(lines ...string) *strings.Reader {
	return strings.NewReader(header + "\n" + strings.Join(lines, "\n") + "\n")
}

func TestReconcile_EndToEnd(t *testing.T) {
	repo := coretest.New()
	repo.AddPatient(storedID, "Ada@Example.com", "Ada", "Lovelace")

	src := csvOf(
		"P1,"+partnerA+",Ada,Lovelace,1815-12-10,F,ada@example.com,5551234567,,",
		"P2,"+partnerB+",Alan,Turing,06/23/1912,male,alan@example.com,15557654321,,",
		"P3,short,row",
	)

	result, err := newReconciler(repo).Reconcile(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, header, result.Header)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 1, result.New)
	assert.Equal(t, 1, result.Corrected)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.SkippedRows, 1)
	assert.Equal(t, 4, result.SkippedRows[0].Line)

	require.Len(t, result.Annotated, 2)
	assert.Equal(t, "P1,"+partnerA+",Ada,Lovelace,1815-12-10,F,ada@example.com,5551234567,,,"+storedID, result.Annotated[0])
	assert.True(t, strings.HasSuffix(result.Annotated[1], ",,,"), "new rows carry an empty correction: %q", result.Annotated[1])

	require.Len(t, result.Pending, 1)
	rec := result.Pending[0]
	assert.Equal(t, partnerB, rec.ID, "valid partner id is reused")
	assert.Equal(t, tenantID, rec.TenantID)
	assert.Equal(t, creatorID, rec.CreatedByID)
	assert.Equal(t, "alan@example.com", rec.Email)
	assert.Equal(t, core.GenderMale, rec.Gender)
	assert.Equal(t, "+15557654321", rec.PhoneNumber)
	assert.True(t, rec.DOB.Valid)
	assert.Equal(t, "1912-06-23", rec.DOB.Time.Format("2006-01-02"))
	assert.Equal(t, fixedNow, rec.CreatedAt)
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
	assert.False(t, rec.SSN.Valid)
	assert.Nil(t, rec.Metadata)

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, core.OutcomeMatched, result.Outcomes[0].Kind)
	assert.Equal(t, storedID, result.Outcomes[0].ExistingID)
	assert.Equal(t, core.OutcomeNew, result.Outcomes[1].Kind)
	require.NotNil(t, result.Outcomes[1].Record)

	assert.Len(t, repo.EmailCalls, 1, "emails are resolved with a single bulk query")
	assert.ElementsMatch(t, []string{"ada@example.com", "alan@example.com"}, repo.EmailCalls[0])
	assert.Empty(t, repo.CreateCalls, "reconcile never writes to the store")
}

func TestReconcile_MatchedWithoutDrift(t *testing.T) {
	repo := coretest.New()
	repo.AddPatient(storedID, "ada@example.com", "Ada", "Lovelace")

	result, err := newReconciler(repo).Reconcile(context.Background(), csvOf(
		"P1,"+storedID+",Ada,Lovelace,1815-12-10,F,ADA@EXAMPLE.COM,555,,",
	))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 0, result.Corrected)
	assert.True(t, strings.HasSuffix(result.Annotated[0], ",,,"))
	assert.Empty(t, result.Pending)
}

func TestReconcile_GeneratesDistinctIDs(t *testing.T) {
	repo := coretest.New()

	// The generator repeats itself once; the repeat must be discarded.
	ids := []string{partnerA, partnerA, partnerB}
	next := 0
	r := newReconciler(repo)
	r.NewID = func() string {
		id := ids[next]
		next++
		return id
	}

	result, err := r.Reconcile(context.Background(), csvOf(
		"P1,not-a-uuid,A,One,1990-01-01,M,one@example.com,555,,",
		"P2,,B,Two,1990-01-02,F,two@example.com,556,,",
	))
	require.NoError(t, err)
	require.Len(t, result.Pending, 2)

	assert.Equal(t, partnerA, result.Pending[0].ID)
	assert.Equal(t, partnerB, result.Pending[1].ID)
}

func TestReconcile_ReusedPartnerIDNotGenerated(t *testing.T) {
	repo := coretest.New()
	ids := []string{partnerA, partnerB}
	next := 0
	r := newReconciler(repo)
	r.NewID = func() string {
		id := ids[next]
		next++
		return id
	}

	result, err := r.Reconcile(context.Background(), csvOf(
		"P1,"+partnerA+",A,One,1990-01-01,M,one@example.com,555,,",
		"P2,bogus,B,Two,1990-01-02,F,two@example.com,556,,",
	))
	require.NoError(t, err)
	require.Len(t, result.Pending, 2)

	assert.Equal(t, partnerA, result.Pending[0].ID)
	assert.Equal(t, partnerB, result.Pending[1].ID, "generated id must not collide with a reused partner id")
}

func TestReconcile_EmptyEmailIsNew(t *testing.T) {
	repo := coretest.New()
	repo.AddPatient(storedID, "", "Nobody", "Blank")

	result, err := newReconciler(repo).Reconcile(context.Background(), csvOf(
		"P1,bogus,A,One,1990-01-01,M,,555,,",
	))
	require.NoError(t, err)

	assert.Equal(t, 1, result.New)
	require.Len(t, result.Pending, 1)
	assert.Empty(t, result.Pending[0].Email)
	assert.Empty(t, repo.EmailCalls, "no lookup is issued without emails")
}

func TestReconcile_BadDOBCountedNotFatal(t *testing.T) {
	repo := coretest.New()

	result, err := newReconciler(repo).Reconcile(context.Background(), csvOf(
		"P1,bogus,A,One,someday,M,one@example.com,555,,",
		"P2,bogus,B,Two,1990-01-02,F,two@example.com,556,,",
	))
	require.NoError(t, err)

	assert.Equal(t, 2, result.New)
	assert.Equal(t, 1, result.BuildFailures)
	assert.Len(t, result.Pending, 1)
	assert.Len(t, result.Annotated, 2, "rows that failed to build are still annotated")
	assert.Nil(t, result.Outcomes[0].Record)
}

func TestReconcile_TwoDigitYearFollowsRunTime(t *testing.T) {
	tests := []struct {
		now  time.Time
		want int
	}{
		{fixedNow, 1930},
		{time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC), 2030},
	}

	for _, tt := range tests {
		t.Run(tt.now.Format("2006"), func(t *testing.T) {
			r := newReconciler(coretest.New())
			r.Now = func() time.Time { return tt.now }

			result, err := r.Reconcile(context.Background(), csvOf(
				"P1,"+partnerA+",Ada,Lovelace,1/1/30,F,ada@example.com,555,,",
			))
			require.NoError(t, err)
			require.Len(t, result.Pending, 1)
			assert.Equal(t, tt.want, result.Pending[0].DOB.Time.Year())
		})
	}
}

func TestReconcile_MissingConfig(t *testing.T) {
	tests := []struct {
		name    string
		tenant  string
		creator string
		want    string
	}{
		{"no tenant", "", creatorID, "TENANT_ID"},
		{"no creator", tenantID, "", "CREATED_BY_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := coretest.New()
			r := &core.Reconciler{Repo: repo, TenantID: tt.tenant, CreatedByID: tt.creator}

			_, err := r.Reconcile(context.Background(), csvOf("P1,x,A,B,1990-01-01,M,a@b.c,555,,"))
			require.ErrorIs(t, err, core.ErrMissingConfig)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, repo.EmailCalls, "no query before configuration is checked")
		})
	}
}

func TestReconcile_EmptyInput(t *testing.T) {
	_, err := newReconciler(coretest.New()).Reconcile(context.Background(), strings.NewReader(""))
	require.ErrorIs(t, err, core.ErrEmptyInput)
}

func TestReconcile_LookupFailure(t *testing.T) {
	repo := coretest.New()
	repo.ErrFindByEmails = errors.New("connection refused")

	_, err := newReconciler(repo).Reconcile(context.Background(), csvOf(
		"P1,x,A,B,1990-01-01,M,a@b.c,555,,",
	))
	require.Error(t, err)
	assert.Equal(t, "DB004", core.ErrorCode(err))
}

func TestReconcile_CollisionPicksLowestID(t *testing.T) {
	repo := coretest.New()
	repo.AddPatient(partnerB, "dup@example.com", "B", "Dup")
	repo.AddPatient(partnerA, "DUP@example.com", "A", "Dup")

	result, err := newReconciler(repo).Reconcile(context.Background(), csvOf(
		"P1,bogus,A,Dup,1990-01-01,M,dup@example.com,555,,",
	))
	require.NoError(t, err)

	assert.Equal(t, partnerA, result.Outcomes[0].ExistingID)
	assert.Equal(t, partnerA, result.Outcomes[0].Correction)
}

func TestReconcile_ManyRows(t *testing.T) {
	repo := coretest.New()
	var lines []string
	for i := 0; i < 250; i++ {
		if i%5 == 0 {
			repo.AddPatient(fmt.Sprintf("00000000-0000-4000-8000-%012d", i), fmt.Sprintf("p%d@example.com", i), "F", "L")
		}
		lines = append(lines, fmt.Sprintf("P%d,ext%d,F,L,1990-01-01,F,p%d@example.com,555,,", i, i, i))
	}

	r := newReconciler(repo)
	r.ProgressEvery = 50
	result, err := r.Reconcile(context.Background(), csvOf(lines...))
	require.NoError(t, err)

	assert.Equal(t, 250, result.Processed)
	assert.Equal(t, 50, result.Matched)
	assert.Equal(t, 200, result.New)
	assert.Equal(t, 50, result.Corrected)
	assert.Len(t, repo.EmailCalls, 1)
}
