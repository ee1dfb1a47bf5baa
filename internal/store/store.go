// Package store reads and writes tender record files (one JSON object per line)
// and keeps them indexed by tender number while a sync run works on them.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/timmy/tendersync/internal/domain"
)

// maxLineSize bounds a single record line. Scraped records carry the full
// table row (all_cells) and can be large.
const maxLineSize = 16 << 20

// MalformedRecordError describes a line that could not be decoded into a record.
type MalformedRecordError struct {
	Line int
	Err  error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// LoadReport summarizes what Load saw besides the records themselves.
type LoadReport struct {
	Lines      int
	Malformed  []*MalformedRecordError
	Duplicates int
	Missing    bool // the file did not exist; the collection is empty
}

// Load reads a record file. A missing file yields an empty collection.
// Malformed lines are reported and skipped. Later duplicates of a tender
// number replace earlier ones in place.
func Load(path string) (*Collection, *LoadReport, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewCollection(), &LoadReport{Missing: true}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open record file: %w", err)
	}
	defer f.Close()

	c, report, err := Read(f)
	if err != nil {
		return nil, nil, fmt.Errorf("read record file %s: %w", path, err)
	}
	return c, report, nil
}

// Read decodes records from r, one JSON object per line.
func Read(r io.Reader) (*Collection, *LoadReport, error) {
	c := NewCollection()
	report := &LoadReport{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		report.Lines++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var t domain.Tender
		if err := json.Unmarshal(line, &t); err != nil {
			report.Malformed = append(report.Malformed, &MalformedRecordError{Line: report.Lines, Err: err})
			continue
		}
		if t.Key() == "" {
			report.Malformed = append(report.Malformed, &MalformedRecordError{Line: report.Lines, Err: errors.New("record has no tender number")})
			continue
		}
		if !c.Upsert(&t) {
			report.Duplicates++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return c, report, nil
}

// Save atomically replaces path with records: the data is written to a
// temporary file in the same directory, synced, and renamed over the
// destination. On any failure the destination is left untouched.
func Save(path string, records []*domain.Tender) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err = Write(tmp, records); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	mode := fs.FileMode(0o644)
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
	}
	if err = os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace record file: %w", err)
	}
	return nil
}

// Write encodes records one per line, without HTML escaping.
func Write(w io.Writer, records []*domain.Tender) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, t := range records {
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("encode %s: %w", t.Key(), err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}

// TempFiles lists leftover temporary files next to path. Used by tests and
// by the sync command to report interrupted writes.
func TempFiles(path string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	prefix := "." + filepath.Base(path) + ".tmp-"
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			out = append(out, filepath.Join(filepath.Dir(path), e.Name()))
		}
	}
	return out, nil
}
