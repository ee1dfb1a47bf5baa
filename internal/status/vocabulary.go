package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Class is the lifecycle class of a status label.
type Class string

const (
	ClassActive Class = "active"
	ClassFinal  Class = "final"
)

// Entry is one status in the vocabulary.
type Entry struct {
	Key   string `yaml:"key" json:"key"`
	Label string `yaml:"label" json:"label"`
	Class Class  `yaml:"class" json:"class"`
}

// Vocabulary is the closed set of known status labels. Build it once at
// startup and pass it to the classifier; it is read-only afterwards.
type Vocabulary struct {
	entries []Entry
	byLabel map[string]Entry
}

// NewVocabulary indexes entries by trimmed label and key.
func NewVocabulary(entries []Entry) (*Vocabulary, error) {
	v := &Vocabulary{byLabel: make(map[string]Entry, len(entries)*2)}
	for i, e := range entries {
		e.Label = strings.TrimSpace(e.Label)
		e.Key = strings.TrimSpace(e.Key)
		if e.Label == "" {
			return nil, fmt.Errorf("status entry %d has no label", i)
		}
		switch e.Class {
		case ClassActive, ClassFinal:
		default:
			return nil, fmt.Errorf("status %q: unknown class %q", e.Label, e.Class)
		}
		v.entries = append(v.entries, e)
		v.byLabel[e.Label] = e
		if e.Key != "" {
			v.byLabel[e.Key] = e
		}
	}
	return v, nil
}

// Default returns the portal's status set.
func Default() *Vocabulary {
	v, _ := NewVocabulary([]Entry{
		{Key: "announced", Label: "გამოცხადებულია", Class: ClassActive},
		{Key: "accepting_proposals", Label: "წინადადებების მიღება დაწყებულია", Class: ClassActive},
		{Key: "deadline_passed", Label: "წინადადებების მიღება დასრულებულია", Class: ClassActive},
		{Key: "evaluation", Label: "შერჩევა/შეფასება", Class: ClassActive},
		{Key: "winner_announced", Label: "გამარჯვებული გამოვლენილია", Class: ClassActive},
		{Key: "contract_preparation", Label: "მიმდინარეობს ხელშეკრულების მომზადება", Class: ClassActive},
		{Key: "contract_signed", Label: "ხელშეკრულება დადებულია", Class: ClassFinal},
		{Key: "failed", Label: "არ შედგა", Class: ClassFinal},
		{Key: "negative_result", Label: "დასრულებულია უარყოფითი შედეგით", Class: ClassFinal},
		{Key: "terminated", Label: "შეწყვეტილია", Class: ClassFinal},
	})
	return v
}

// Entries returns the vocabulary in declaration order.
func (v *Vocabulary) Entries() []Entry {
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

// Lookup resolves a label or key.
func (v *Vocabulary) Lookup(label string) (Entry, bool) {
	e, ok := v.byLabel[strings.TrimSpace(label)]
	return e, ok
}

// Labels returns the labels of the given class.
func (v *Vocabulary) Labels(class Class) []string {
	var out []string
	for _, e := range v.entries {
		if e.Class == class {
			out = append(out, e.Label)
		}
	}
	return out
}

// statusFile covers both accepted on-disk shapes.
type statusFile struct {
	Statuses []Entry `yaml:"statuses" json:"statuses"`

	// Shape written by the scraper's status discovery step.
	FilteringRecommendations *struct {
		ActiveTenders    []string `yaml:"active_tenders" json:"active_tenders"`
		CompletedTenders []string `yaml:"completed_tenders" json:"completed_tenders"`
		FailedTenders    []string `yaml:"failed_tenders" json:"failed_tenders"`
	} `yaml:"filtering_recommendations" json:"filtering_recommendations"`
}

// LoadFile reads a vocabulary from a YAML or JSON file. JSON files are parsed
// with encoding/json; anything else with yaml.v3.
func LoadFile(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read status vocabulary: %w", err)
	}

	var sf statusFile
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &sf)
	} else {
		err = yaml.Unmarshal(data, &sf)
	}
	if err != nil {
		return nil, fmt.Errorf("parse status vocabulary %s: %w", path, err)
	}

	entries := sf.Statuses
	if rec := sf.FilteringRecommendations; rec != nil {
		for _, label := range rec.ActiveTenders {
			entries = append(entries, Entry{Label: label, Class: ClassActive})
		}
		for _, label := range append(rec.CompletedTenders, rec.FailedTenders...) {
			entries = append(entries, Entry{Label: label, Class: ClassFinal})
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("status vocabulary %s defines no statuses", path)
	}
	return NewVocabulary(entries)
}
