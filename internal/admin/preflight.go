// Package admin provides administrative checks for the patient database.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/patientsync/internal/core"
	"github.com/JonMunkholm/patientsync/internal/logging"
	"github.com/JonMunkholm/patientsync/internal/store"
)

// PreflightTimeout is the maximum duration for the preflight check.
const PreflightTimeout = 10 * time.Second

const preflightSQL = `SELECT to_regclass('patients') IS NOT NULL, to_regclass('users') IS NOT NULL`

// Preflight verifies the patients and users tables are reachable with the
// current search_path. It does not create or alter anything.
func Preflight(ctx context.Context, db store.DBTX) error {
	ctx, cancel := context.WithTimeout(ctx, PreflightTimeout)
	defer cancel()

	var patients, users bool
	if err := db.QueryRow(ctx, preflightSQL).Scan(&patients, &users); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}

	var missing []string
	if !patients {
		missing = append(missing, "patients")
	}
	if !users {
		missing = append(missing, "users")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", core.ErrSchemaMissing, missing)
	}

	logging.FromContext(ctx).Debug("preflight passed")
	return nil
}
