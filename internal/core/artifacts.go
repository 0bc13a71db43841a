package core

// artifacts.go persists the two outputs of a reconciliation run and loads
// the pending batch back for the insertion stage.
//
// The annotated CSV and the pending batch are a matched pair. Both are
// written to temp files next to their targets and renamed into place only
// after both writes succeed. A pair from an earlier run is restored if the
// new one cannot be moved into place.

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// WriteArtifacts writes the annotated CSV and the pending batch.
// On failure neither target is left half-written.
func WriteArtifacts(annotatedPath, batchPath string, result *ReconcileResult) (err error) {
	if result == nil {
		return fmt.Errorf("write artifacts: nil result")
	}

	var temps []string
	defer func() {
		if err != nil {
			for _, p := range temps {
				os.Remove(p)
			}
		}
	}()

	csvTmp, err := writeTemp(annotatedPath, func(w *bufio.Writer) error {
		if _, err := w.WriteString(result.Header + "," + UpdateColumn + "\n"); err != nil {
			return err
		}
		for _, line := range result.Annotated {
			if _, err := w.WriteString(line + "\n"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write annotated csv: %w", err)
	}
	temps = append(temps, csvTmp)

	pending := result.Pending
	if pending == nil {
		pending = []NewPatientRecord{}
	}
	batchTmp, err := writeTemp(batchPath, func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(pending)
	})
	if err != nil {
		return fmt.Errorf("write pending batch: %w", err)
	}
	temps = append(temps, batchTmp)

	return commit([]*placement{
		{tmp: csvTmp, target: annotatedPath},
		{tmp: batchTmp, target: batchPath},
	})
}

// rename moves a file into place. Tests replace it to simulate a failing
// filesystem.
var rename = os.Rename

type placement struct {
	tmp    string
	target string
	backup string
	placed bool
}

// commit moves every temp file onto its target. Targets that already exist
// are set aside first and restored if any move fails, so the previous pair
// survives a failed run intact.
func commit(ps []*placement) error {
	for _, p := range ps {
		info, err := os.Lstat(p.target)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			rollback(ps)
			return fmt.Errorf("stat %s: %w", p.target, err)
		}
		if info.IsDir() {
			rollback(ps)
			return fmt.Errorf("%s is a directory", p.target)
		}
		backup := p.target + ".prev"
		if err := rename(p.target, backup); err != nil {
			rollback(ps)
			return fmt.Errorf("set aside %s: %w", p.target, err)
		}
		p.backup = backup
	}

	for _, p := range ps {
		if err := rename(p.tmp, p.target); err != nil {
			rollback(ps)
			return fmt.Errorf("move %s into place: %w", filepath.Base(p.target), err)
		}
		p.placed = true
	}

	for _, p := range ps {
		if p.backup != "" {
			os.Remove(p.backup)
		}
	}
	return nil
}

func rollback(ps []*placement) {
	for _, p := range ps {
		if p.placed {
			os.Remove(p.target)
			p.placed = false
		}
		if p.backup != "" {
			os.Rename(p.backup, p.target)
			p.backup = ""
		}
	}
}

// writeTemp creates a temp file in the directory of target, fills it with
// fill and returns its path.
func writeTemp(target string, fill func(*bufio.Writer) error) (string, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", err
	}
	path := f.Name()

	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// LoadBatch reads a pending batch written by WriteArtifacts.
func LoadBatch(path string) ([]NewPatientRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBatchMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read pending batch: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBatchEmpty, path)
	}

	var records []NewPatientRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBatchMalformed, path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBatchEmpty, path)
	}

	for i, rec := range records {
		if err := checkRecord(rec); err != nil {
			return nil, fmt.Errorf("%w: %s: record %d: %v", ErrBatchMalformed, path, i, err)
		}
	}
	return records, nil
}

func checkRecord(rec NewPatientRecord) error {
	switch {
	case !IsValidUUID(rec.ID):
		return fmt.Errorf("invalid id %q", rec.ID)
	case rec.TenantID == "":
		return fmt.Errorf("missing tenantId")
	case rec.CreatedByID == "":
		return fmt.Errorf("missing createdById")
	case !rec.DOB.Valid:
		return fmt.Errorf("missing dob")
	}
	return nil
}
