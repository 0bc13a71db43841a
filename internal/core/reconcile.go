package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/patientsync/internal/logging"
	"github.com/JonMunkholm/patientsync/internal/schema"
)

// DefaultProgressEvery is how often (in rows) progress is logged.
const DefaultProgressEvery = 100

// Reconciler classifies partner rows as existing or new patients.
type Reconciler struct {
	Repo        PatientRepository
	TenantID    string
	CreatedByID string

	// ProgressEvery defaults to DefaultProgressEvery when zero.
	ProgressEvery int
	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Reconcile reads the export from src, resolves every email with one bulk
// lookup and returns the annotated lines and the pending inserts.
func (r *Reconciler) Reconcile(ctx context.Context, src io.Reader) (*ReconcileResult, error) {
	start := time.Now()
	if r.TenantID == "" {
		return nil, fmt.Errorf("%w: TENANT_ID is not set", ErrMissingConfig)
	}
	if r.CreatedByID == "" {
		return nil, fmt.Errorf("%w: CREATED_BY_ID is not set", ErrMissingConfig)
	}

	logger := logging.FromContext(ctx)
	reader := NewSourceReader(src)

	header, err := reader.Header()
	if err != nil {
		return nil, err
	}

	if mismatches := schema.HeaderMismatches(header); len(mismatches) > 0 {
		logger.Warn("header does not match the expected export layout, reading by position",
			"mismatches", mismatches,
		)
	}

	result := &ReconcileResult{Header: header}

	// Pass one: parse everything so all emails are known before the lookup.
	var rows []SourceRow
	for {
		line, lineNum, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		row, err := ParseLine(line, lineNum)
		if err != nil {
			var rowErr *RowError
			if errors.As(err, &rowErr) {
				logger.Warn("skipping row", "line", rowErr.Line, "reason", rowErr.Message)
				result.Skipped++
				result.SkippedRows = append(result.SkippedRows, *rowErr)
				continue
			}
			return nil, err
		}
		rows = append(rows, row)
	}

	resolver := Resolver{Repo: r.Repo}
	identity, err := resolver.Resolve(ctx, CollectEmails(rows))
	if err != nil {
		return nil, err
	}

	// Pass two: join in memory.
	now := r.now().UTC()
	every := r.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}
	usedIDs := make(map[string]bool)

	result.Outcomes = make([]Outcome, 0, len(rows))
	result.Annotated = make([]string, 0, len(rows))
	for _, row := range rows {
		outcome := Outcome{Line: row.Line}

		if existingID, ok := identity.Lookup(row.EmailKey); ok {
			outcome.Kind = OutcomeMatched
			outcome.ExistingID = existingID
			if row.ExternalID != existingID {
				outcome.Correction = existingID
				result.Corrected++
			}
			result.Matched++
		} else {
			outcome.Kind = OutcomeNew
			result.New++

			rec, err := r.buildRecord(row, r.assignID(row, usedIDs), now)
			if err != nil {
				logger.Warn("could not build new patient",
					"line", row.Line,
					"email", row.Email,
					"error", err,
					"code", ErrorCode(err),
				)
				result.BuildFailures++
			} else {
				outcome.Record = &rec
				result.Pending = append(result.Pending, rec)
			}
		}

		result.Outcomes = append(result.Outcomes, outcome)
		result.Annotated = append(result.Annotated, row.Raw+","+outcome.Correction)
		result.Processed++

		if result.Processed%every == 0 {
			logger.Info("reconcile progress",
				"processed", result.Processed,
				"matched", result.Matched,
				"new", result.New,
			)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// assignID reuses a well-formed partner id and otherwise generates one that
// has not been handed out earlier in the run.
func (r *Reconciler) assignID(row SourceRow, used map[string]bool) string {
	if IsValidUUID(row.ExternalID) {
		used[row.ExternalID] = true
		return row.ExternalID
	}
	for {
		id := r.newID()
		if !used[id] {
			used[id] = true
			return id
		}
	}
}

func (r *Reconciler) buildRecord(row SourceRow, id string, now time.Time) (NewPatientRecord, error) {
	dob, err := ParseDOBAt(row.DOB, now)
	if err != nil {
		return NewPatientRecord{}, &RowError{Line: row.Line, Field: "dob", Value: row.DOB, Message: err.Error()}
	}

	return NewPatientRecord{
		ID:          id,
		TenantID:    r.TenantID,
		Email:       row.EmailKey,
		FirstName:   row.FirstName,
		LastName:    row.LastName,
		DOB:         dob,
		Gender:      ClassifyGender(row.Gender),
		PhoneNumber: NormalizePhone(row.Phone),
		CreatedByID: r.CreatedByID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reconciler) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}
