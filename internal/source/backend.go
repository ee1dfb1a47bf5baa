package source

import (
	"context"
	"errors"
	"strings"

	"github.com/timmy/tendersync/internal/domain"
)

var (
	// ErrNotFound means the portal no longer serves the tender (e.g. delisted).
	ErrNotFound = errors.New("tender not found")

	// ErrCountUnavailable means the backend could not answer a count query.
	ErrCountUnavailable = errors.New("count unavailable")
)

// Filter narrows backend queries to one procurement type and category.
type Filter struct {
	TenderType   string
	CategoryCode string
}

// Matches reports whether t belongs to the filtered set. The tender type is
// taken from the record or, failing that, from the number prefix.
func (f Filter) Matches(t *domain.Tender) bool {
	if f.TenderType != "" {
		typ := t.TenderType
		if typ == "" {
			typ = TypeFromNumber(t.Number)
		}
		if !strings.EqualFold(typ, f.TenderType) {
			return false
		}
	}
	if f.CategoryCode != "" && t.CategoryCode != "" && !strings.HasPrefix(t.CategoryCode, f.CategoryCode) {
		return false
	}
	return true
}

// TypeFromNumber returns the alphabetic prefix of a tender number ("CON250000123" -> "CON").
func TypeFromNumber(number string) string {
	for i, r := range number {
		if r < 'A' || r > 'Z' {
			return number[:i]
		}
	}
	return number
}

// FetchResult is one item of a batch fetch: a record or a per-item error.
type FetchResult struct {
	Number string
	Tender *domain.Tender
	Err    error
}

// Backend is the scraper collaborator the sync engine drives. Implementations
// may fetch concurrently internally; every call returns once all of its items
// are resolved or ctx is done.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// FetchByIDs re-fetches full records. The result holds one entry per id;
	// missing tenders carry ErrNotFound.
	FetchByIDs(ctx context.Context, ids []string, f Filter) ([]FetchResult, error)

	// FetchByWindow returns every tender published in w. The error is set
	// when the window as a whole could not be fetched.
	FetchByWindow(ctx context.Context, w domain.SyncWindow, f Filter) ([]FetchResult, error)

	// CountForWindow returns the number of tenders published in w. It must
	// not have side effects.
	CountForWindow(ctx context.Context, w domain.SyncWindow, f Filter) (int, error)
}
