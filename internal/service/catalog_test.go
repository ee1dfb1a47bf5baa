package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/timmy/tendersync/internal/domain"
	"github.com/timmy/tendersync/internal/store"
)

func catalogTender(number, st, published, buyer string) *domain.Tender {
	t := &domain.Tender{Number: number, Status: st, Buyer: buyer}
	if published != "" {
		t.PublishedDate = domain.MustParseDate(published)
	}
	return t
}

func newTestCatalog(t *testing.T, records ...*domain.Tender) (*Catalog, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, domain.DataFileName("CON"))
	if err := store.Save(path, records); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return NewCatalog(dir, domain.DefaultTenderTypes(), nil, nil), path
}

func TestCatalog_QueryFiltersAndPages(t *testing.T) {
	withTitle := catalogTender("CON250000004", announced, "2025-12-04", "Tbilisi City Hall")
	withTitle.Extra = map[string]json.RawMessage{"title": json.RawMessage(`"Road repair"`)}

	c, _ := newTestCatalog(t,
		catalogTender("CON250000001", announced, "2025-12-01", "Ministry of Health"),
		catalogTender("CON250000002", signed, "2025-12-02", "Tbilisi City Hall"),
		catalogTender("CON250000003", "ახალი სტატუსი", "2025-12-03", "Batumi City Hall"),
		withTitle,
		catalogTender("CON250000005", announced, "", "Ministry of Health"),
	)

	tests := []struct {
		name  string
		q     TenderQuery
		want  []string
		total int
	}{
		{
			name:  "newest first, undated last",
			q:     TenderQuery{TenderType: "CON"},
			want:  []string{"CON250000004", "CON250000003", "CON250000002", "CON250000001", "CON250000005"},
			total: 5,
		},
		{
			name:  "active class includes unknown statuses",
			q:     TenderQuery{TenderType: "con", Status: "active"},
			want:  []string{"CON250000004", "CON250000003", "CON250000001", "CON250000005"},
			total: 4,
		},
		{
			name:  "exact status label",
			q:     TenderQuery{TenderType: "CON", Status: signed},
			want:  []string{"CON250000002"},
			total: 1,
		},
		{
			name:  "buyer substring",
			q:     TenderQuery{TenderType: "CON", Buyer: "city hall"},
			want:  []string{"CON250000004", "CON250000003", "CON250000002"},
			total: 3,
		},
		{
			name: "date range excludes undated",
			q: TenderQuery{TenderType: "CON",
				DateFrom: domain.MustParseDate("2025-12-02"), DateTo: domain.MustParseDate("2025-12-03")},
			want:  []string{"CON250000003", "CON250000002"},
			total: 2,
		},
		{
			name:  "search matches extra title",
			q:     TenderQuery{TenderType: "CON", Search: "road"},
			want:  []string{"CON250000004"},
			total: 1,
		},
		{
			name:  "second page",
			q:     TenderQuery{TenderType: "CON", Page: 2, PageSize: 2},
			want:  []string{"CON250000002", "CON250000001"},
			total: 5,
		},
		{
			name:  "page past the end",
			q:     TenderQuery{TenderType: "CON", Page: 9, PageSize: 2},
			want:  []string{},
			total: 5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := c.Query(tt.q)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if page.Total != tt.total {
				t.Errorf("total = %d, want %d", page.Total, tt.total)
			}
			got := make([]string, 0, len(page.Items))
			for _, item := range page.Items {
				got = append(got, item.Number)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("items = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("items = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestCatalog_GetAndUnknownType(t *testing.T) {
	c, _ := newTestCatalog(t, catalogTender("CON250000001", announced, "2025-12-01", "X"))

	got, ok, err := c.Get("CON", "CON250000001")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	got.Status = "mutated"
	again, _, _ := c.Get("CON", "CON250000001")
	if again.Status != announced {
		t.Error("Get must return a copy")
	}

	if _, ok, err := c.Get("CON", "CON999"); ok || err != nil {
		t.Errorf("missing record: ok=%v err=%v", ok, err)
	}
	if _, err := c.Query(TenderQuery{TenderType: "XYZ"}); !errors.Is(err, ErrUnknownTenderType) {
		t.Errorf("unknown type err = %v", err)
	}
}

func TestCatalog_MissingFileIsEmpty(t *testing.T) {
	c := NewCatalog(t.TempDir(), domain.DefaultTenderTypes(), nil, nil)
	page, err := c.Query(TenderQuery{TenderType: "NAT"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.Total != 0 || len(page.Items) != 0 {
		t.Errorf("page = %+v", page)
	}
}

func TestCatalog_WatchInvalidatesOnSave(t *testing.T) {
	c, path := newTestCatalog(t, catalogTender("CON250000001", announced, "2025-12-01", "X"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()

	if page, err := c.Query(TenderQuery{TenderType: "CON"}); err != nil || page.Total != 1 {
		t.Fatalf("initial query: %+v, %v", page, err)
	}

	// Watcher registration races the first write; keep saving until seen.
	updated := []*domain.Tender{
		catalogTender("CON250000001", signed, "2025-12-01", "X"),
		catalogTender("CON250000002", announced, "2025-12-05", "Y"),
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := store.Save(path, updated); err != nil {
			t.Fatalf("Save: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		page, err := c.Query(TenderQuery{TenderType: "CON"})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if page.Total == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("catalog never picked up the rewritten file")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}
