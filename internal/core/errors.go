package core

import "errors"

// Precondition failures. These are the only errors that escape a run;
// row and record level problems are converted into counters and log lines.
var (
	ErrMissingConfig   = errors.New("missing required configuration")
	ErrInputMissing    = errors.New("source file not found")
	ErrEmptyInput      = errors.New("empty file: source has no header row")
	ErrBatchMissing    = errors.New("pending batch not found")
	ErrBatchEmpty      = errors.New("pending batch is empty")
	ErrBatchMalformed  = errors.New("pending batch is malformed")
	ErrCreatorNotFound = errors.New("creator user not found")
	ErrSchemaMissing   = errors.New("required table missing")
)
