package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// PatientRepository is the store capability the pipeline consumes.
// Satisfied by *store.PatientRepo and by the in-memory fake used in tests.
type PatientRepository interface {
	// FindByEmails matches emails case-insensitively and projects (id, email).
	FindByEmails(ctx context.Context, emails []string) ([]EmailMatch, error)
	FindByIDs(ctx context.Context, ids []string) ([]PatientSummary, error)
	// FindUserByID returns nil, nil when the user does not exist.
	FindUserByID(ctx context.Context, id string) (*User, error)
	CreateOne(ctx context.Context, rec NewPatientRecord) error
}

// EmailMatch is the (id, email) projection returned by FindByEmails.
type EmailMatch struct {
	ID    string
	Email string
}

// PatientSummary identifies an already persisted patient.
type PatientSummary struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
}

// User is a store user that may own created patients.
type User struct {
	ID    string
	Email string
}

// Gender is the normalized gender enum stored on patients.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderOther  Gender = "OTHER"
)

// Column positions in the partner export.
const (
	ColPatientID = iota
	ColExternalID
	ColFirstName
	ColLastName
	ColDOB
	ColGender
	ColEmail
	ColPhone

	// MinColumns is the minimum number of fields a data line must carry.
	MinColumns = 10
)

// UpdateColumn is appended to the annotated CSV header.
const UpdateColumn = "update_partner_external_id"

// SourceRow is one parsed line of the partner export.
type SourceRow struct {
	Line       int    // 1-based line number in the source file
	Raw        string // original line, echoed back in the annotated CSV
	ExternalID string
	FirstName  string
	LastName   string
	DOB        string
	Gender     string
	Email      string // original casing
	EmailKey   string // lower-cased match key
	Phone      string
}

// NewPatientRecord is a synthesized patient awaiting insertion.
// It is written to the pending-insert batch and never mutated afterwards.
type NewPatientRecord struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenantId"`
	Email       string           `json:"email"`
	FirstName   string           `json:"firstName"`
	LastName    string           `json:"lastName"`
	DOB         pgtype.Date      `json:"dob"`
	Gender      Gender           `json:"gender"`
	PhoneNumber string           `json:"phoneNumber"`
	CreatedByID string           `json:"createdById"`
	SSN         pgtype.Text      `json:"ssn"`
	Metadata    *json.RawMessage `json:"metadata"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// OutcomeKind tags a reconciliation outcome.
type OutcomeKind int

const (
	OutcomeMatched OutcomeKind = iota
	OutcomeNew
)

func (k OutcomeKind) String() string {
	if k == OutcomeMatched {
		return "matched"
	}
	return "new"
}

// Outcome is the per-row reconciliation result. ExistingID is set for
// OutcomeMatched; Record is set for OutcomeNew unless building it failed.
type Outcome struct {
	Kind       OutcomeKind
	Line       int
	ExistingID string
	Correction string
	Record     *NewPatientRecord
}

// ReconcileResult holds everything a reconciliation run produced.
type ReconcileResult struct {
	Header        string
	Annotated     []string
	Outcomes      []Outcome
	Pending       []NewPatientRecord
	Processed     int
	Matched       int
	New           int
	Corrected     int
	Skipped       int
	BuildFailures int
	SkippedRows   []RowError
	Duration      time.Duration
}

// FailedRecord describes a record the insertion runner could not persist.
type FailedRecord struct {
	ID     string
	Email  string
	Reason string
	Code   string
}

// InsertResult contains the counts of an insertion run.
type InsertResult struct {
	Total      int
	Inserted   int
	Duplicates int
	Failed     []FailedRecord
	Duration   time.Duration
}
