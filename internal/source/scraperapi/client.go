// Package scraperapi talks to the browser-automation scraper service over HTTP.
package scraperapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/tendersync/internal/domain"
	"github.com/timmy/tendersync/internal/logger"
	"github.com/timmy/tendersync/internal/source"
)

// Config holds connection settings for the scraper service.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Workers    int
	RetryCount int
	RetryWait  time.Duration
}

// Client implements source.Backend against the scraper service.
type Client struct {
	client  *resty.Client
	workers int
}

// New creates a scraper service client.
// Parameters:
//   - cfg: base URL, credentials, timeout and worker settings.
//
// Returns:
//   - *Client: initialized client.
//   - error: non-nil when the base URL is missing.
func New(cfg *Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("scraper base URL is required")
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/"))
	client.SetHeader("Accept", "application/json")
	client.SetHeader("User-Agent", "tendersync/1.0")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	client.SetTimeout(timeout)

	client.SetRetryCount(cfg.RetryCount)
	if cfg.RetryWait > 0 {
		client.SetRetryWaitTime(cfg.RetryWait)
	}
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
		return r.StatusCode() >= http.StatusInternalServerError || r.StatusCode() == http.StatusTooManyRequests
	})

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Client{client: client, workers: workers}, nil
}

// Name identifies the backend in logs.
func (c *Client) Name() string { return "scraperapi" }

type windowResponse struct {
	Tenders []*domain.Tender `json:"tenders"`
	Errors  []struct {
		TenderNumber string `json:"tender_number"`
		Error        string `json:"error"`
	} `json:"errors"`
}

type countResponse struct {
	Count *int `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func filterParams(f source.Filter) map[string]string {
	params := map[string]string{}
	if f.TenderType != "" {
		params["tender_type"] = f.TenderType
	}
	if f.CategoryCode != "" {
		params["category_code"] = f.CategoryCode
	}
	return params
}

func windowParams(w domain.SyncWindow, f source.Filter) map[string]string {
	params := filterParams(f)
	params["date_from"] = w.From.String()
	params["date_to"] = w.To.String()
	return params
}

func statusError(resp *resty.Response, apiErr *errorResponse) error {
	msg := strings.TrimSpace(string(resp.Body()))
	if apiErr != nil && apiErr.Error != "" {
		msg = apiErr.Error
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Errorf("scraper returned HTTP %d: %s", resp.StatusCode(), msg)
}

// FetchByIDs fetches each tender on its own request, spread over the worker
// pool. Results come back in the order of ids.
func (c *Client) FetchByIDs(ctx context.Context, ids []string, f source.Filter) ([]source.FetchResult, error) {
	results := make([]source.FetchResult, len(ids))

	type job struct {
		idx int
		id  string
	}
	jobs := make(chan job, c.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results[j.idx] = source.FetchResult{Number: j.id, Err: err}
					continue
				}
				t, err := c.fetchOne(ctx, j.id, f)
				results[j.idx] = source.FetchResult{Number: j.id, Tender: t, Err: err}
			}
		}()
	}

	for i, id := range ids {
		jobs <- job{idx: i, id: id}
	}
	close(jobs)
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	logger.With(logger.Fields{
		logger.FieldBackend: c.Name(),
		logger.FieldCount:   len(ids),
		"failed":            failed,
	}).Debug(ctx, "Fetched tenders by number")

	return results, ctx.Err()
}

func (c *Client) fetchOne(ctx context.Context, id string, f source.Filter) (*domain.Tender, error) {
	var t domain.Tender
	var apiErr errorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(filterParams(f)).
		SetResult(&t).
		SetError(&apiErr).
		Get("/api/tenders/" + url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("fetch %s: %w", id, source.ErrNotFound)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %s: %w", id, statusError(resp, &apiErr))
	}
	if t.Key() == "" {
		t.Number = id
	}
	return &t, nil
}

// FetchByWindow asks the scraper to collect every tender published in w.
func (c *Client) FetchByWindow(ctx context.Context, w domain.SyncWindow, f source.Filter) ([]source.FetchResult, error) {
	var body windowResponse
	var apiErr errorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(windowParams(w, f)).
		SetResult(&body).
		SetError(&apiErr).
		Get("/api/tenders")
	if err != nil {
		return nil, fmt.Errorf("fetch window %s: %w", w, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch window %s: %w", w, statusError(resp, &apiErr))
	}

	results := make([]source.FetchResult, 0, len(body.Tenders)+len(body.Errors))
	for _, t := range body.Tenders {
		if t == nil {
			continue
		}
		results = append(results, source.FetchResult{Number: t.Key(), Tender: t})
	}
	for _, e := range body.Errors {
		results = append(results, source.FetchResult{Number: e.TenderNumber, Err: errors.New(e.Error)})
	}
	return results, nil
}

// CountForWindow asks the portal search for its result count over w.
// Any failure is reported as source.ErrCountUnavailable.
func (c *Client) CountForWindow(ctx context.Context, w domain.SyncWindow, f source.Filter) (int, error) {
	var body countResponse
	var apiErr errorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(windowParams(w, f)).
		SetResult(&body).
		SetError(&apiErr).
		Get("/api/tenders/count")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", source.ErrCountUnavailable, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("%w: %v", source.ErrCountUnavailable, statusError(resp, &apiErr))
	}
	if body.Count == nil || *body.Count < 0 {
		return 0, fmt.Errorf("%w: response has no count", source.ErrCountUnavailable)
	}
	return *body.Count, nil
}
