package status

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/timmy/tendersync/internal/domain"
)

func TestClassifier_Partition(t *testing.T) {
	c := NewClassifier(nil)
	records := []*domain.Tender{
		{Number: "CON1", Status: "გამოცხადებულია"},
		{Number: "CON2", Status: "ხელშეკრულება დადებულია"},
		{Number: "CON3", Status: "  შერჩევა/შეფასება "},
		{Number: "CON4", Status: "ახალი სტატუსი"},
		{Number: "CON5", Status: ""},
		{Number: "CON6", Status: "შეწყვეტილია"},
	}

	active, final := c.Partition(records)

	if len(active)+len(final) != len(records) {
		t.Fatalf("partition lost records: %d + %d != %d", len(active), len(final), len(records))
	}
	wantActive := []string{"CON1", "CON3", "CON4", "CON5"}
	if len(active) != len(wantActive) {
		t.Fatalf("active = %d records, want %d", len(active), len(wantActive))
	}
	for i, num := range wantActive {
		if active[i].Number != num {
			t.Errorf("active[%d] = %s, want %s", i, active[i].Number, num)
		}
	}
	if len(final) != 2 || final[0].Number != "CON2" || final[1].Number != "CON6" {
		t.Errorf("unexpected final set: %v", final)
	}
}

func TestClassifier_ClassOf(t *testing.T) {
	c := NewClassifier(nil)
	tests := []struct {
		label     string
		wantClass Class
		wantKnown bool
	}{
		{"არ შედგა", ClassFinal, true},
		{"contract_signed", ClassFinal, true},
		{"გამარჯვებული გამოვლენილია", ClassActive, true},
		{"unheard of", ClassActive, false},
	}
	for _, tt := range tests {
		class, known := c.ClassOf(tt.label)
		if class != tt.wantClass || known != tt.wantKnown {
			t.Errorf("ClassOf(%q) = %s/%v, want %s/%v", tt.label, class, known, tt.wantClass, tt.wantKnown)
		}
	}
}

func TestIsRecent(t *testing.T) {
	cutoff := domain.MustParseDate("2025-01-01")
	cases := []struct {
		published string
		want      bool
	}{
		{"2024-12-31", false},
		{"2025-01-01", true},
		{"2025-03-01", true},
		{"", true},
	}
	for _, tc := range cases {
		tender := &domain.Tender{Number: "X"}
		if tc.published != "" {
			tender.PublishedDate = domain.MustParseDate(tc.published)
		}
		if got := IsRecent(tender, cutoff); got != tc.want {
			t.Errorf("IsRecent(%q) = %v, want %v", tc.published, got, tc.want)
		}
	}
}

func TestLoadFile_Formats(t *testing.T) {
	dir := t.TempDir()

	recommendations := filepath.Join(dir, "tender_statuses.json")
	writeFile(t, recommendations, `{
  "filtering_recommendations": {
    "active_tenders": ["გამოცხადებულია"],
    "completed_tenders": ["ხელშეკრულება დადებულია"],
    "failed_tenders": ["არ შედგა"],
    "exclude_from_analysis": ["error"]
  }
}`)
	tagged := filepath.Join(dir, "statuses.yaml")
	writeFile(t, tagged, `statuses:
  - key: open
    label: Open
    class: active
  - key: closed
    label: Closed
    class: final
`)

	v, err := LoadFile(recommendations)
	if err != nil {
		t.Fatalf("LoadFile(json): %v", err)
	}
	if got := len(v.Labels(ClassFinal)); got != 2 {
		t.Errorf("final labels = %d, want 2", got)
	}

	v, err = LoadFile(tagged)
	if err != nil {
		t.Fatalf("LoadFile(yaml): %v", err)
	}
	if e, ok := v.Lookup("closed"); !ok || e.Class != ClassFinal {
		t.Errorf("Lookup(closed) = %+v, %v", e, ok)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "statuses:\n  - label: Weird\n    class: pending\n")
	if _, err := LoadFile(bad); err == nil {
		t.Error("expected error for unknown class")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
