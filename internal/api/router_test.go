package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/timmy/tendersync/internal/api/middleware"
	"github.com/timmy/tendersync/internal/domain"
	"github.com/timmy/tendersync/internal/logger"
	"github.com/timmy/tendersync/internal/runlog"
	"github.com/timmy/tendersync/internal/service"
	"github.com/timmy/tendersync/internal/store"
)

func newTestServer(t *testing.T, runs ...*domain.RunRecord) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	records := []*domain.Tender{
		{Number: "CON250000001", Status: "გამოცხადებულია", PublishedDate: domain.MustParseDate("2025-12-01"), Buyer: "City Hall"},
		{Number: "CON250000002", Status: "ხელშეკრულება დადებულია", PublishedDate: domain.MustParseDate("2025-12-02"), Buyer: "Ministry"},
	}
	if err := store.Save(filepath.Join(dir, domain.DataFileName("CON")), records); err != nil {
		t.Fatal(err)
	}

	history := runlog.NewHistory(filepath.Join(dir, "update_logs.json"), 0)
	for _, r := range runs {
		if err := history.Record(r); err != nil {
			t.Fatal(err)
		}
	}

	log := logger.New(&logger.Config{Level: "error", Format: "json", Output: io.Discard})
	catalog := service.NewCatalog(dir, domain.DefaultTenderTypes(), nil, log)
	r := SetupRouter(catalog, history, log, RouterConfig{
		Mode:            "test",
		ServiceName:     "tendersync-api",
		CORS:            middleware.CORSConfig{AllowAllOrigins: true},
		FreshnessWindow: 48 * time.Hour,
		ExposeMetrics:   true,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestRouter_Tenders(t *testing.T) {
	srv := newTestServer(t)

	var page struct {
		Items []map[string]interface{} `json:"items"`
		Total int                      `json:"total"`
	}
	if code := getJSON(t, srv.URL+"/api/v1/tenders?type=CON&status=active", &page); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if page.Total != 1 || page.Items[0]["tender_number"] != "CON250000001" {
		t.Errorf("page = %+v", page)
	}

	var one map[string]interface{}
	if code := getJSON(t, srv.URL+"/api/v1/tenders/CON/CON250000002", &one); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if one["buyer"] != "Ministry" {
		t.Errorf("record = %v", one)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/tenders/CON/CON999", http.StatusNotFound},
		{"/api/v1/tenders?type=XYZ", http.StatusBadRequest},
		{"/api/v1/tenders?date_from=yesterday", http.StatusBadRequest},
		{"/api/v1/tenders?date_from=2025-12-05&date_to=2025-12-01", http.StatusBadRequest},
		{"/health", http.StatusOK},
		{"/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestRouter_SystemEndpoints(t *testing.T) {
	t.Run("no data", func(t *testing.T) {
		srv := newTestServer(t)

		var logs map[string]interface{}
		if code := getJSON(t, srv.URL+"/api/v1/system/update-logs", &logs); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if list, ok := logs["logs"].([]interface{}); !ok || len(list) != 0 {
			t.Errorf("logs = %v, want empty list", logs["logs"])
		}
		if logs["latest_status"] != nil {
			t.Errorf("latest_status = %v, want null", logs["latest_status"])
		}

		var health map[string]interface{}
		if code := getJSON(t, srv.URL+"/api/v1/system/health", &health); code != http.StatusServiceUnavailable {
			t.Errorf("health status = %d", code)
		}
		if health["status"] != string(domain.HealthNoData) {
			t.Errorf("health = %v", health)
		}
	})

	t.Run("recent success", func(t *testing.T) {
		run := domain.NewRunRecord("run-1", time.Now().Add(-time.Hour))
		run.Finish(domain.RunStatusSuccess, time.Now())
		srv := newTestServer(t, run)

		var logs map[string]interface{}
		getJSON(t, srv.URL+"/api/v1/system/update-logs", &logs)
		if logs["latest_status"] != "SUCCESS" {
			t.Errorf("latest_status = %v", logs["latest_status"])
		}
		if age, ok := logs["last_run_age_hours"].(float64); !ok || age < 0.9 || age > 1.1 {
			t.Errorf("last_run_age_hours = %v", logs["last_run_age_hours"])
		}

		var health map[string]interface{}
		if code := getJSON(t, srv.URL+"/api/v1/system/health", &health); code != http.StatusOK {
			t.Errorf("health status = %d (%v)", code, health)
		}
		if code := getJSON(t, srv.URL+"/api/v1/system/health?threshold_hours=0.5", &health); code != http.StatusServiceUnavailable {
			t.Errorf("tight threshold status = %d", code)
		}
		if health["status"] != string(domain.HealthStale) {
			t.Errorf("health = %v, want stale", health)
		}
		if code := getJSON(t, srv.URL+"/api/v1/system/health?threshold_hours=abc", nil); code != http.StatusBadRequest {
			t.Errorf("bad threshold status = %d", code)
		}
	})
}

func TestRouter_RequestIDPropagates(t *testing.T) {
	srv := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}
