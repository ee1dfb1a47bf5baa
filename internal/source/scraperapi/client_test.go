package scraperapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timmy/tendersync/internal/domain"
	"github.com/timmy/tendersync/internal/source"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(&Config{BaseURL: srv.URL, Timeout: 5 * time.Second, Workers: 3, RetryCount: retries, RetryWait: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(&Config{}); err == nil {
		t.Error("expected error without base URL")
	}
}

func TestFetchByIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("tender_type"); got != "CON" {
			t.Errorf("tender_type = %q", got)
		}
		switch strings.TrimPrefix(r.URL.Path, "/api/tenders/") {
		case "CON1":
			writeJSON(w, http.StatusOK, `{"tender_number":"CON1","status":"ხელშეკრულება დადებულია","published_date":"2025-01-10"}`)
		case "CON2":
			writeJSON(w, http.StatusNotFound, `{"error":"not found"}`)
		default:
			writeJSON(w, http.StatusBadGateway, `{"error":"browser crashed"}`)
		}
	}, 0)

	results, err := c.FetchByIDs(context.Background(), []string{"CON1", "CON2", "CON3"}, source.Filter{TenderType: "CON"})
	if err != nil {
		t.Fatalf("FetchByIDs: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Err != nil || results[0].Tender.Status != "ხელშეკრულება დადებულია" {
		t.Errorf("CON1 = %+v", results[0])
	}
	if !errors.Is(results[1].Err, source.ErrNotFound) {
		t.Errorf("CON2 err = %v, want ErrNotFound", results[1].Err)
	}
	if results[2].Err == nil || !strings.Contains(results[2].Err.Error(), "browser crashed") {
		t.Errorf("CON3 err = %v", results[2].Err)
	}
}

func TestFetchByWindow(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("date_from") != "2025-12-01" || q.Get("date_to") != "2025-12-03" {
			t.Errorf("unexpected window %s..%s", q.Get("date_from"), q.Get("date_to"))
		}
		writeJSON(w, http.StatusOK, `{"tenders":[{"tender_number":"CON9"},{"procurement_number":"CON8"}],"errors":[{"tender_number":"CON7","error":"timeout"}]}`)
	}, 0)

	window := domain.SyncWindow{From: domain.MustParseDate("2025-12-01"), To: domain.MustParseDate("2025-12-03")}
	results, err := c.FetchByWindow(context.Background(), window, source.Filter{})
	if err != nil {
		t.Fatalf("FetchByWindow: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[1].Number != "CON8" || results[2].Err == nil {
		t.Errorf("unexpected results %+v", results)
	}
}

func TestCountForWindow(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		switch r.URL.Query().Get("date_from") {
		case "2025-01-01":
			writeJSON(w, http.StatusOK, `{"count":0}`)
		case "2025-01-02":
			if n < 3 {
				writeJSON(w, http.StatusServiceUnavailable, `{"error":"busy"}`)
				return
			}
			writeJSON(w, http.StatusOK, `{"count":17}`)
		default:
			writeJSON(w, http.StatusOK, `{}`)
		}
	}, 2)

	day := func(s string) domain.SyncWindow { return domain.Day(domain.MustParseDate(s)) }

	n, err := c.CountForWindow(context.Background(), day("2025-01-01"), source.Filter{})
	if err != nil || n != 0 {
		t.Errorf("zero count = %d, %v", n, err)
	}
	n, err = c.CountForWindow(context.Background(), day("2025-01-02"), source.Filter{})
	if err != nil || n != 17 {
		t.Errorf("retried count = %d, %v", n, err)
	}
	if _, err := c.CountForWindow(context.Background(), day("2025-01-03"), source.Filter{}); !errors.Is(err, source.ErrCountUnavailable) {
		t.Errorf("missing count err = %v, want ErrCountUnavailable", err)
	}
}
