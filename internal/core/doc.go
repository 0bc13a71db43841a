// Package core provides the business logic for reconciling partner patient
// exports against the patient store.
//
// The package is independent of any CLI or storage driver. It talks to the
// store only through [PatientRepository], so the same code runs against
// PostgreSQL in production and an in-memory fake in tests.
//
// # Stages
//
// A sync is two independently invocable stages joined by a file on disk:
//
//  1. [Reconciler.Reconcile] reads the export, collects every email, resolves
//     them with one bulk [PatientRepository.FindByEmails] call and joins the
//     rows against the result in memory. Rows whose email is known become
//     matched outcomes; the rest become [NewPatientRecord] values.
//  2. [WriteArtifacts] persists the annotated CSV and the pending batch as a
//     pair. [LoadBatch] reads the batch back.
//  3. [Inserter.Run] re-checks the batch against the store with one
//     [PatientRepository.FindByIDs] call and inserts the rest one at a time.
//
// Because the insert stage skips ids that already exist, it can be re-run
// after a partial failure without creating duplicates.
//
// # Export Layout
//
// Lines are split on a plain comma and read by position: an ignored
// leading patient id, then partner external id, first name, last name,
// date of birth, gender, email and phone. Quoted fields are not supported.
//
// # Identity Rules
//
//   - Emails match case-insensitively; an empty email never matches.
//   - When several stored patients share an email, the lowest id wins.
//   - A matched row whose external id differs from the stored id gets the
//     stored id in the update_partner_external_id column.
//   - A new patient keeps the partner id if it is a version 1-5 UUID and
//     otherwise gets a freshly generated one, unique within the run.
//
// # Error Handling
//
// Only the sentinel errors in errors.go end a run. Row defects become
// [RowError] values and counters; insert failures become [FailedRecord]
// entries tagged with a code from [MapError].
package core
