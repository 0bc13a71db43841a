// Package core provides the reconciliation and insertion pipeline.
//
// # Error Codes Reference
//
// Every failure that reaches a log line or the terminal carries a code so
// operators can grep runs and compare them. Codes are grouped by category:
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: a patient with this id or email already exists
//	        Patterns: SQLSTATE 23505, "duplicate key"
//	DB002 - Foreign key: referenced tenant or creator does not exist
//	        Patterns: SQLSTATE 23503, "violates foreign key"
//	DB003 - Not null: a required column was empty
//	        Patterns: SQLSTATE 23502, "violates not-null"
//	DB004 - Connection refused: unable to reach the database
//	DB005 - Connection reset: the connection dropped mid-run
//	DB006 - Timeout: the statement or run deadline elapsed
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date: date of birth could not be parsed
//	VAL002 - Invalid value: the database rejected a value's format
//	         Patterns: SQLSTATE class 22
//	VAL003 - Short row: the line has fewer columns than required
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - Empty file: the source CSV has no header
//	FILE002 - Batch missing: the pending batch file does not exist
//	FILE003 - Batch empty: the pending batch holds no records
//	FILE004 - Batch malformed: the pending batch could not be decoded
//	FILE005 - Input missing: the source CSV does not exist
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Missing config: TENANT_ID or CREATED_BY_ID is not set
//	RUN002 - Creator not found: the batch's creator is not a store user
//	RUN003 - Schema missing: the patients or users table is not reachable
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: check the log for the technical error
//
// Sentinel errors and SQLSTATE codes are checked first; the remaining
// patterns are matched case-insensitively using strings.Contains, and the
// first match wins.
package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// UserMessage is the operator-facing description of an error.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Code for grep and support reference
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrMissingConfig, UserMessage{"Tenant or creator id is not configured", "Set TENANT_ID and CREATED_BY_ID", "RUN001"}},
	{ErrCreatorNotFound, UserMessage{"Creator user does not exist in the store", "Check CREATED_BY_ID used for reconciliation", "RUN002"}},
	{ErrSchemaMissing, UserMessage{"Patient tables not found in the database", "Check DATABASE_URL and the search_path", "RUN003"}},
	{ErrEmptyInput, UserMessage{"The source CSV is empty", "Export the partner file again", "FILE001"}},
	{ErrBatchMissing, UserMessage{"Pending batch file not found", "Run reconcile first or pass --batch", "FILE002"}},
	{ErrBatchEmpty, UserMessage{"Pending batch holds no records", "Nothing to insert", "FILE003"}},
	{ErrBatchMalformed, UserMessage{"Pending batch could not be decoded", "Re-run reconcile to regenerate it", "FILE004"}},
	{ErrInputMissing, UserMessage{"Source CSV not found", "Check RECONCILE_INPUT or pass --input", "FILE005"}},
}

var sqlStateMessages = map[string]UserMessage{
	"23505": {"A patient with this id or email already exists", "Re-run insert; existing ids are skipped", "DB001"},
	"23503": {"Referenced tenant or creator does not exist", "Check TENANT_ID and CREATED_BY_ID", "DB002"},
	"23502": {"A required column was empty", "Fix the source row and reconcile again", "DB003"},
}

// errorPattern maps a lower-cased substring to a message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// Order matters: more specific patterns come first.
var errorPatterns = []errorPattern{
	{"duplicate key", UserMessage{"A patient with this id or email already exists", "Re-run insert; existing ids are skipped", "DB001"}},
	{"violates unique", UserMessage{"A patient with this id or email already exists", "Re-run insert; existing ids are skipped", "DB001"}},
	{"violates foreign key", UserMessage{"Referenced tenant or creator does not exist", "Check TENANT_ID and CREATED_BY_ID", "DB002"}},
	{"violates not-null", UserMessage{"A required column was empty", "Fix the source row and reconcile again", "DB003"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Check DATABASE_URL and try again", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Re-run; the insert stage is replay-safe", "DB005"}},
	{"deadline exceeded", UserMessage{"Operation timed out", "Raise INSERT_TIMEOUT or re-run", "DB006"}},
	{"timeout", UserMessage{"Operation timed out", "Raise INSERT_TIMEOUT or re-run", "DB006"}},
	{"invalid date", UserMessage{"Invalid date of birth", "Use YYYY-MM-DD or MM/DD/YYYY", "VAL001"}},
	{"expected at least", UserMessage{"Row has too few columns", "Check for missing or embedded commas", "VAL003"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the log for the technical error",
	Code:    "ERR000",
}

// MapError converts a technical error to an operator-facing message.
// Returns the zero UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := sqlStateMessages[pgErr.Code]; ok {
			return msg
		}
		if strings.HasPrefix(pgErr.Code, "22") {
			return UserMessage{"The database rejected a value's format", "Fix the source row and reconcile again", "VAL002"}
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// ErrorCode returns just the code for err.
func ErrorCode(err error) string {
	return MapError(err).Code
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
