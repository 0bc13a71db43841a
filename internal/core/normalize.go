package core

// normalize.go holds the field normalizers applied to partner rows before a
// new patient record is built:
//   - gender free text to the MALE/FEMALE/OTHER enum
//   - phone numbers to a +1-prefixed string
//   - UUID shape checks for reusing partner identifiers
//   - dates of birth in the formats partners actually send

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// uuidRegex matches canonical version 1-5 UUIDs with an RFC 4122 variant.
var uuidRegex = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would land more than this many years in the future
// are moved to the previous century.
var TwoDigitYearPivot = 0

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
		time.RFC3339,
	}
)

// ClassifyGender maps free-text gender to the stored enum.
// Unrecognized and empty values map to GenderOther.
func ClassifyGender(raw string) Gender {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "m", "male":
		return GenderMale
	case "f", "female":
		return GenderFemale
	default:
		return GenderOther
	}
}

// NormalizePhone prefixes a North American country code.
// Digit count and formatting are not checked; callers must tolerate
// malformed output.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "+1"):
		return s
	case strings.HasPrefix(s, "1"):
		return "+" + s
	default:
		return "+1" + s
	}
}

// IsValidUUID reports whether raw is a canonical version 1-5 UUID.
func IsValidUUID(raw string) bool {
	return uuidRegex.MatchString(raw)
}

// ParseDOBAt parses a date of birth into a UTC calendar date. Two-digit
// years are resolved against now and TwoDigitYearPivot.
func ParseDOBAt(raw string, now time.Time) (pgtype.Date, error) {
	d := toPgDate(raw, now)
	if !d.Valid {
		if strings.TrimSpace(raw) == "" {
			return d, fmt.Errorf("invalid date: empty date of birth")
		}
		return d, fmt.Errorf("invalid date %q", strings.TrimSpace(raw))
	}
	return d, nil
}

// toPgDate returns an invalid Date for empty or unparseable input.
func toPgDate(s string, now time.Time) pgtype.Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Date{Valid: false}
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return calendarDate(t)
		}
	}

	pivotYear := now.Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return calendarDate(t)
		}
	}

	return pgtype.Date{Valid: false}
}

// calendarDate drops the clock and zone of t.
func calendarDate(t time.Time) pgtype.Date {
	y, m, d := t.Date()
	return pgtype.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Valid: true}
}
