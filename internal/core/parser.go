package core

// parser.go turns the partner export into SourceRows.
//
// The export is read line by line. Each line is split on a plain comma:
// quoted fields are not supported, so a comma inside a value shifts every
// column after it. Lines with fewer than MinColumns fields are skipped with
// a RowError rather than failing the run.

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const utf8BOM = "\uFEFF"

// RowError describes a row-level defect. The row is skipped or degraded
// and the run continues.
type RowError struct {
	Line    int    // 1-based line number in the source file
	Field   string // offending column, empty for whole-row defects
	Value   string
	Message string
}

func (e *RowError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// ParseLine splits one data line into a SourceRow.
func ParseLine(line string, lineNum int) (SourceRow, error) {
	raw := strings.TrimRight(line, "\r\n")
	fields := strings.Split(raw, ",")
	if len(fields) < MinColumns {
		return SourceRow{}, &RowError{
			Line:    lineNum,
			Message: fmt.Sprintf("row has %d columns, expected at least %d", len(fields), MinColumns),
		}
	}

	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	email := fields[ColEmail]
	return SourceRow{
		Line:       lineNum,
		Raw:        raw,
		ExternalID: fields[ColExternalID],
		FirstName:  fields[ColFirstName],
		LastName:   fields[ColLastName],
		DOB:        fields[ColDOB],
		Gender:     fields[ColGender],
		Email:      email,
		EmailKey:   strings.ToLower(email),
		Phone:      fields[ColPhone],
	}, nil
}

// SourceReader reads the export one line at a time.
// It drops a leading UTF-8 BOM, replaces invalid UTF-8 with '?' and
// skips blank lines while keeping line numbers aligned with the file.
type SourceReader struct {
	r       *bufio.Reader
	lineNum int
	header  string
	started bool
}

// NewSourceReader wraps r for line-by-line reading.
func NewSourceReader(r io.Reader) *SourceReader {
	return &SourceReader{r: bufio.NewReader(r)}
}

// Header returns the header line. It returns ErrEmptyInput if the source
// has no header.
func (s *SourceReader) Header() (string, error) {
	if s.started {
		return s.header, nil
	}
	s.started = true

	line, err := s.readLine()
	if errors.Is(err, io.EOF) && line == "" {
		return "", ErrEmptyInput
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read header: %w", err)
	}
	s.header = strings.TrimPrefix(line, utf8BOM)
	if strings.TrimSpace(s.header) == "" {
		return "", ErrEmptyInput
	}
	return s.header, nil
}

// Next returns the next non-blank data line and its line number.
// It returns io.EOF once the source is exhausted.
func (s *SourceReader) Next() (string, int, error) {
	if !s.started {
		if _, err := s.Header(); err != nil {
			return "", 0, err
		}
	}

	for {
		line, err := s.readLine()
		if line != "" && strings.TrimSpace(line) != "" {
			return line, s.lineNum, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", 0, io.EOF
			}
			return "", 0, fmt.Errorf("read line %d: %w", s.lineNum, err)
		}
	}
}

// readLine returns one line without its terminator. A final line without
// a newline is returned together with io.EOF.
func (s *SourceReader) readLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if line == "" && err != nil {
		return "", err
	}
	s.lineNum++

	line = strings.TrimRight(line, "\r\n")
	if !utf8.ValidString(line) {
		line = strings.ToValidUTF8(line, "?")
	}
	if errors.Is(err, io.EOF) {
		return line, io.EOF
	}
	return line, err
}
