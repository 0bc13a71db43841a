package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/patientsync/internal/core"
	"github.com/JonMunkholm/patientsync/internal/core/coretest"
)

func sampleResult(t *testing.T) *core.ReconcileResult {
	t.Helper()
	repo := coretest.New()
	repo.AddPatient(storedID, "ada@example.com", "Ada", "Lovelace")

	result, err := newReconciler(repo).Reconcile(context.Background(), csvOf(
		"P1,"+partnerA+",Ada,Lovelace,1815-12-10,F,ada@example.com,555,,",
		"P2,"+partnerB+",Alan,Turing,1912-06-23,M,alan@example.com,556,,",
	))
	require.NoError(t, err)
	return result
}

func TestWriteArtifacts_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "patients_updated.csv")
	batchPath := filepath.Join(dir, "out", "patients_to_create.json")
	result := sampleResult(t)

	require.NoError(t, core.WriteArtifacts(csvPath, batchPath, result))

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, header+","+core.UpdateColumn, lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ","+storedID))
	assert.True(t, strings.HasSuffix(lines[2], ",,,"))

	records, err := core.LoadBatch(batchPath)
	require.NoError(t, err)
	require.Len(t, records, 1)

	want := result.Pending[0]
	got := records[0]
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Email, got.Email)
	assert.Equal(t, want.Gender, got.Gender)
	assert.Equal(t, want.PhoneNumber, got.PhoneNumber)
	assert.Equal(t, want.DOB, got.DOB)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
	assert.False(t, got.SSN.Valid, "ssn stays null")
	assert.Nil(t, got.Metadata)

	entries, err := os.ReadDir(filepath.Dir(csvPath))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files are left behind")
}

func TestWriteArtifacts_BatchFieldNames(t *testing.T) {
	dir := t.TempDir()
	batchPath := filepath.Join(dir, "batch.json")
	require.NoError(t, core.WriteArtifacts(filepath.Join(dir, "out.csv"), batchPath, sampleResult(t)))

	data, err := os.ReadFile(batchPath)
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	for _, key := range []string{"id", "tenantId", "email", "firstName", "lastName", "dob", "gender", "phoneNumber", "createdById", "ssn", "metadata", "createdAt", "updatedAt"} {
		assert.Contains(t, raw[0], key)
	}
	assert.Equal(t, "1912-06-23", raw[0]["dob"])
	assert.Nil(t, raw[0]["ssn"])
}

func TestWriteArtifacts_NoPendingWritesEmptyArray(t *testing.T) {
	dir := t.TempDir()
	batchPath := filepath.Join(dir, "batch.json")
	result := &core.ReconcileResult{Header: header}

	require.NoError(t, core.WriteArtifacts(filepath.Join(dir, "out.csv"), batchPath, result))

	data, err := os.ReadFile(batchPath)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(data)))

	_, err = core.LoadBatch(batchPath)
	assert.ErrorIs(t, err, core.ErrBatchEmpty)
}

func TestWriteArtifacts_PairIsAtomic(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "patients_updated.csv")
	// A directory at the batch path is never replaced.
	batchPath := filepath.Join(dir, "patients_to_create.json")
	require.NoError(t, os.MkdirAll(filepath.Join(batchPath, "occupied"), 0o755))

	err := core.WriteArtifacts(csvPath, batchPath, sampleResult(t))
	require.Error(t, err)

	_, statErr := os.Stat(csvPath)
	assert.True(t, os.IsNotExist(statErr), "annotated csv must not exist without its batch")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}

func TestWriteArtifacts_Overwrites(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out.csv")
	batchPath := filepath.Join(dir, "batch.json")
	require.NoError(t, os.WriteFile(csvPath, []byte("stale"), 0o644))
	require.NoError(t, os.WriteFile(batchPath, []byte("stale"), 0o644))

	require.NoError(t, core.WriteArtifacts(csvPath, batchPath, sampleResult(t)))

	records, err := core.LoadBatch(batchPath)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "previous pair is not kept alongside the new one")
}

func TestWriteArtifacts_FailedMoveRestoresPreviousPair(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "patients_updated.csv")
	batchPath := filepath.Join(dir, "patients_to_create.json")
	require.NoError(t, os.WriteFile(csvPath, []byte("previous csv"), 0o644))
	require.NoError(t, os.WriteFile(batchPath, []byte("previous batch"), 0o644))

	restore := core.SetRename(func(oldpath, newpath string) error {
		if newpath == batchPath && strings.HasSuffix(oldpath, ".tmp") {
			return errors.New("no space left on device")
		}
		return os.Rename(oldpath, newpath)
	})
	defer restore()

	err := core.WriteArtifacts(csvPath, batchPath, sampleResult(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no space left on device")

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "previous csv", string(data))
	data, err = os.ReadFile(batchPath)
	require.NoError(t, err)
	assert.Equal(t, "previous batch", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp or set-aside files are left behind")
}

func TestWriteArtifacts_FailedMoveWithoutPreviousPair(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "patients_updated.csv")
	batchPath := filepath.Join(dir, "patients_to_create.json")

	restore := core.SetRename(func(oldpath, newpath string) error {
		if newpath == batchPath {
			return errors.New("no space left on device")
		}
		return os.Rename(oldpath, newpath)
	})
	defer restore()

	require.Error(t, core.WriteArtifacts(csvPath, batchPath, sampleResult(t)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "annotated csv must not exist without its batch")
}

func TestLoadBatch_Errors(t *testing.T) {
	valid := core.NewPatientRecord{
		ID:          partnerA,
		TenantID:    tenantID,
		CreatedByID: creatorID,
		DOB:         pgtype.Date{Time: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC), Valid: true},
	}
	encode := func(recs ...core.NewPatientRecord) string {
		b, err := json.Marshal(recs)
		require.NoError(t, err)
		return string(b)
	}
	badID := valid
	badID.ID = "nope"
	noTenant := valid
	noTenant.TenantID = ""
	noDOB := valid
	noDOB.DOB = pgtype.Date{}

	tests := []struct {
		name    string
		content *string
		want    error
	}{
		{"missing file", nil, core.ErrBatchMissing},
		{"empty file", ptr(""), core.ErrBatchEmpty},
		{"whitespace", ptr("  \n"), core.ErrBatchEmpty},
		{"empty array", ptr("[]"), core.ErrBatchEmpty},
		{"null", ptr("null"), core.ErrBatchEmpty},
		{"not json", ptr("{oops"), core.ErrBatchMalformed},
		{"object not array", ptr(`{"id":"x"}`), core.ErrBatchMalformed},
		{"bad dob", ptr(`[{"id":"` + partnerA + `","dob":"01/01/1990"}]`), core.ErrBatchMalformed},
		{"null dob", ptr(encode(noDOB)), core.ErrBatchMalformed},
		{"bad id", ptr(encode(badID)), core.ErrBatchMalformed},
		{"no tenant", ptr(encode(valid, noTenant)), core.ErrBatchMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "batch.json")
			if tt.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tt.content), 0o644))
			}
			_, err := core.LoadBatch(path)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadBatch_EmptyEmailAllowed(t *testing.T) {
	rec := core.NewPatientRecord{
		ID:          partnerA,
		TenantID:    tenantID,
		CreatedByID: creatorID,
		DOB:         pgtype.Date{Time: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC), Valid: true},
	}
	b, err := json.Marshal([]core.NewPatientRecord{rec})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(path, b, 0o644))

	records, err := core.LoadBatch(path)
	require.NoError(t, err)
	assert.Empty(t, records[0].Email)
}

func ptr(s string) *string { return &s }
