package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/timmy/tendersync/internal/domain"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	c, report, err := Load(filepath.Join(t.TempDir(), "con_detailed_tenders.jsonl"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() != 0 || !report.Missing {
		t.Errorf("expected empty collection from missing file, got %d records (missing=%v)", c.Len(), report.Missing)
	}
}

func TestLoad_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	writeLines(t, path,
		`{"tender_number":"CON250000001","status":"გამოცხადებულია","published_date":"2025-01-10"}`,
		`{not json`,
		``,
		`{"status":"no number"}`,
		`{"tender_number":"CON250000002","published_date":"2025-01-11"}`,
	)

	c, report, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if len(report.Malformed) != 2 {
		t.Fatalf("malformed = %d, want 2", len(report.Malformed))
	}
	if report.Malformed[0].Line != 2 || report.Malformed[1].Line != 4 {
		t.Errorf("malformed lines = %d, %d; want 2, 4", report.Malformed[0].Line, report.Malformed[1].Line)
	}
	var mre *MalformedRecordError
	if !errors.As(report.Malformed[0], &mre) {
		t.Error("expected *MalformedRecordError")
	}
}

func TestLoad_DuplicatesLastWriteWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	writeLines(t, path,
		`{"tender_number":"CON1","status":"გამოცხადებულია"}`,
		`{"tender_number":"CON2","status":"გამოცხადებულია"}`,
		`{"tender_number":"CON1","status":"ხელშეკრულება დადებულია"}`,
	)

	c, report, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() != 2 || report.Duplicates != 1 {
		t.Fatalf("Len=%d Duplicates=%d, want 2 and 1", c.Len(), report.Duplicates)
	}
	records := c.Records()
	if records[0].Number != "CON1" || records[0].Status != "ხელშეკრულება დადებულია" {
		t.Errorf("first record = %+v, want CON1 with final status at original position", records[0])
	}
}

func TestLoad_UnreadablePathFails(t *testing.T) {
	if _, _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error when the record path is a directory")
	}
}

func TestSave_RoundTripIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	writeLines(t, path,
		`{"published_date":"2025-01-10","tender_number":"CON1","buyer":"ქ. თბილისის მერია","extra":{"b":1,"a":2}}`,
		`{"number":"CON2","amount":12.5}`,
	)

	c, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Save(path, c.Records()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, _ := os.ReadFile(path)

	c, _, err = Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if err := Save(path, c.Records()); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	second, _ := os.ReadFile(path)

	if string(first) != string(second) {
		t.Errorf("save is not idempotent:\n%s\n---\n%s", first, second)
	}
	if !strings.Contains(string(first), `"tender_number":"CON2"`) {
		t.Errorf("alias key not normalized: %s", first)
	}
}

func TestSave_FailureLeavesOriginalIntact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	writeLines(t, path, `{"tender_number":"CON1"}`)
	before, _ := os.ReadFile(path)

	broken := &domain.Tender{
		Number: "CON2",
		Extra:  map[string]json.RawMessage{"bad": json.RawMessage(`{unterminated`)},
	}
	err := Save(path, []*domain.Tender{{Number: "CON1"}, broken})
	if err == nil {
		t.Fatal("expected encode failure")
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Errorf("original modified after failed save:\n%s\n---\n%s", before, after)
	}
	leftovers, err := TempFiles(path)
	if err != nil {
		t.Fatalf("TempFiles: %v", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestCollection_WindowQueries(t *testing.T) {
	c := NewCollection(
		&domain.Tender{Number: "A", PublishedDate: domain.MustParseDate("2025-01-01")},
		&domain.Tender{Number: "B", PublishedDate: domain.MustParseDate("2025-01-03")},
		&domain.Tender{Number: "C", PublishedDate: domain.MustParseDate("2025-01-03")},
		&domain.Tender{Number: "D"},
	)

	w := domain.SyncWindow{From: domain.MustParseDate("2025-01-02"), To: domain.MustParseDate("2025-01-05")}
	if got := c.CountInWindow(w); got != 2 {
		t.Errorf("CountInWindow = %d, want 2", got)
	}
	latest, ok := c.LatestPublished()
	if !ok || latest.String() != "2025-01-03" {
		t.Errorf("LatestPublished = %s, %v", latest, ok)
	}
	if _, ok := NewCollection().LatestPublished(); ok {
		t.Error("empty collection should have no latest date")
	}
}
