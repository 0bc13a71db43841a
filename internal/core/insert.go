package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/patientsync/internal/logging"
)

// Inserter persists a pending batch one record at a time.
//
// Existing ids are re-checked with a single bulk query before inserting, so
// the runner can be invoked again after a partial failure. The check is not
// transactional: two runners racing on the same batch can both pass it.
type Inserter struct {
	Repo PatientRepository
}

// Run validates the batch's creators, skips ids already in the store and
// inserts the rest. Per-record failures are counted, not returned.
func (ins *Inserter) Run(ctx context.Context, records []NewPatientRecord) (*InsertResult, error) {
	start := time.Now()
	logger := logging.FromContext(ctx)
	result := &InsertResult{Total: len(records)}

	if err := ins.checkCreators(ctx, records); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	ids = dedupeLower(ids)

	existing, err := ins.Repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("check existing patients: %w", err)
	}
	present := make(map[string]PatientSummary, len(existing))
	for _, p := range existing {
		present[normalizeID(p.ID)] = p
	}

	// Only ids that made it into the store count as duplicates later in the
	// batch; a repeat of a failed id is attempted again.
	inserted := make(map[string]bool, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("insert cancelled after %d records: %w", result.Inserted, err)
		}

		key := normalizeID(rec.ID)
		if p, ok := present[key]; ok {
			logger.Info("patient already exists, skipping",
				"id", rec.ID,
				"first_name", p.FirstName,
				"last_name", p.LastName,
				"email", p.Email,
			)
			result.Duplicates++
			continue
		}
		if inserted[key] {
			logger.Info("id repeated in batch, skipping", "id", rec.ID, "email", rec.Email)
			result.Duplicates++
			continue
		}

		if err := ins.Repo.CreateOne(ctx, rec); err != nil {
			code := ErrorCode(err)
			logger.Error("insert failed",
				"id", rec.ID,
				"email", rec.Email,
				"first_name", rec.FirstName,
				"last_name", rec.LastName,
				"error", err,
				"code", code,
			)
			result.Failed = append(result.Failed, FailedRecord{
				ID:     rec.ID,
				Email:  rec.Email,
				Reason: err.Error(),
				Code:   code,
			})
			continue
		}
		inserted[key] = true
		result.Inserted++
		logger.Debug("patient inserted", "id", rec.ID, "email", rec.Email)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// checkCreators verifies every distinct createdById is a store user.
func (ins *Inserter) checkCreators(ctx context.Context, records []NewPatientRecord) error {
	creators := make(map[string]struct{})
	for _, rec := range records {
		creators[rec.CreatedByID] = struct{}{}
	}
	ids := make([]string, 0, len(creators))
	for id := range creators {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		user, err := ins.Repo.FindUserByID(ctx, id)
		if err != nil {
			return fmt.Errorf("look up creator %s: %w", id, err)
		}
		if user == nil {
			return fmt.Errorf("%w: %s", ErrCreatorNotFound, id)
		}
	}
	return nil
}

// normalizeID lower-cases ids; Postgres renders uuid values in lower case.
func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
