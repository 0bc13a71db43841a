// Package schema describes the partner export layout and the patient
// tables the pipeline reads and writes.
package schema

import "strings"

// FieldType is the expected content of an export column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldUUID
	FieldDate
	FieldEmail
	FieldPhone
)

// FieldSpec describes one positional column of the partner export.
type FieldSpec struct {
	Name       string
	Type       FieldType
	AllowEmpty bool
}

// PatientExportFieldSpecs lists the columns the pipeline reads, in order.
// Columns past the last entry are carried through untouched.
var PatientExportFieldSpecs = []FieldSpec{
	{Name: "patient_id", Type: FieldText, AllowEmpty: true},
	{Name: "partner_external_id", Type: FieldUUID, AllowEmpty: true},
	{Name: "first_name", Type: FieldText, AllowEmpty: true},
	{Name: "last_name", Type: FieldText, AllowEmpty: true},
	{Name: "dob", Type: FieldDate},
	{Name: "gender", Type: FieldText, AllowEmpty: true},
	{Name: "email", Type: FieldEmail, AllowEmpty: true},
	{Name: "phone", Type: FieldPhone, AllowEmpty: true},
}

// HeaderMismatches compares header names against PatientExportFieldSpecs
// and returns "position: got X, want Y" entries. Names are compared
// case-insensitively. A short header reports the missing names.
func HeaderMismatches(header string) []string {
	names := strings.Split(header, ",")
	var out []string
	for i, spec := range PatientExportFieldSpecs {
		if i >= len(names) {
			out = append(out, spec.Name+": missing")
			continue
		}
		got := strings.ToLower(strings.TrimSpace(names[i]))
		if got != spec.Name && !alias(got, spec.Name) {
			out = append(out, spec.Name+": got "+got)
		}
	}
	return out
}

var aliases = map[string][]string{
	"partner_external_id": {"external_id", "partner_id"},
	"dob":                 {"date_of_birth", "birth_date"},
	"phone":               {"phone_number"},
}

func alias(got, want string) bool {
	for _, a := range aliases[want] {
		if got == a {
			return true
		}
	}
	return false
}

// PatientsDDL is the table layout the repository expects. Used by the
// store integration tests; production schema is managed elsewhere.
const PatientsDDL = `
CREATE TABLE IF NOT EXISTS users (
	id    uuid PRIMARY KEY,
	email text NOT NULL
);

CREATE TABLE IF NOT EXISTS patients (
	id            uuid PRIMARY KEY,
	tenant_id     uuid NOT NULL,
	email         text,
	first_name    text,
	last_name     text,
	dob           date NOT NULL,
	gender        text NOT NULL CHECK (gender IN ('MALE', 'FEMALE', 'OTHER')),
	phone_number  text,
	created_by_id uuid NOT NULL REFERENCES users (id),
	ssn           text,
	metadata      jsonb,
	created_at    timestamptz NOT NULL,
	updated_at    timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS patients_lower_email_idx ON patients (lower(email));
`
