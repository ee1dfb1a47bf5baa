package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/timmy/tendersync/internal/domain"
	"github.com/timmy/tendersync/internal/logger"
	"github.com/timmy/tendersync/internal/status"
	"github.com/timmy/tendersync/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// ErrUnknownTenderType is returned for a type code that is not configured.
var ErrUnknownTenderType = errors.New("unknown tender type")

// TenderQuery filters catalog reads. Status is either a class ("active",
// "final") or an exact status label.
type TenderQuery struct {
	TenderType string
	Status     string
	Buyer      string
	DateFrom   domain.Date
	DateTo     domain.Date
	Search     string
	Page       int
	PageSize   int
}

// TenderPage is one page of query results, newest publication first.
type TenderPage struct {
	Items    []*domain.Tender `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

type catalogEntry struct {
	records *store.Collection
	// sorted by published date descending, undated last
	ordered []*domain.Tender
}

// Catalog serves record files to readers. Each type's file is loaded on
// first use and dropped from the cache when the file changes on disk.
type Catalog struct {
	dir        string
	types      []domain.TenderType
	byFile     map[string]string
	classifier *status.Classifier
	logger     *logger.Logger

	mu    sync.RWMutex
	cache map[string]*catalogEntry
	// bumped on every invalidation so a load racing a file change is not cached
	gen uint64
}

// NewCatalog creates a catalog over the record files in dir.
func NewCatalog(dir string, types []domain.TenderType, classifier *status.Classifier, log *logger.Logger) *Catalog {
	if classifier == nil {
		classifier = status.NewClassifier(nil)
	}
	byFile := make(map[string]string, len(types))
	for _, tt := range types {
		name := tt.File
		if name == "" {
			name = domain.DataFileName(tt.Code)
		}
		byFile[filepath.Base(name)] = tt.Code
	}
	return &Catalog{
		dir:        dir,
		types:      types,
		byFile:     byFile,
		classifier: classifier,
		logger:     log,
		cache:      make(map[string]*catalogEntry),
	}
}

// Types returns the configured tender types.
func (c *Catalog) Types() []domain.TenderType {
	return c.types
}

// Get returns one tender by type and number.
func (c *Catalog) Get(tenderType, number string) (*domain.Tender, bool, error) {
	entry, err := c.entry(tenderType)
	if err != nil {
		return nil, false, err
	}
	t, ok := entry.records.Get(strings.TrimSpace(number))
	if !ok {
		return nil, false, nil
	}
	return t.Clone(), true, nil
}

// Query returns one page of a type's records matching q.
func (c *Catalog) Query(q TenderQuery) (*TenderPage, error) {
	entry, err := c.entry(q.TenderType)
	if err != nil {
		return nil, err
	}

	page, size := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	buyer := strings.ToLower(strings.TrimSpace(q.Buyer))
	search := strings.ToLower(strings.TrimSpace(q.Search))
	statusFilter := strings.TrimSpace(q.Status)

	var matched []*domain.Tender
	for _, t := range entry.ordered {
		if !c.matchStatus(t, statusFilter) {
			continue
		}
		if buyer != "" && !strings.Contains(strings.ToLower(t.Buyer), buyer) {
			continue
		}
		if !q.DateFrom.IsZero() && (t.PublishedDate.IsZero() || t.PublishedDate.Before(q.DateFrom)) {
			continue
		}
		if !q.DateTo.IsZero() && (t.PublishedDate.IsZero() || t.PublishedDate.After(q.DateTo)) {
			continue
		}
		if search != "" && !matchesSearch(t, search) {
			continue
		}
		matched = append(matched, t)
	}

	result := &TenderPage{Items: []*domain.Tender{}, Total: len(matched), Page: page, PageSize: size}
	start := (page - 1) * size
	if start < len(matched) {
		end := start + size
		if end > len(matched) {
			end = len(matched)
		}
		for _, t := range matched[start:end] {
			result.Items = append(result.Items, t.Clone())
		}
	}
	return result, nil
}

func (c *Catalog) matchStatus(t *domain.Tender, filter string) bool {
	switch filter {
	case "":
		return true
	case string(status.ClassActive):
		return c.classifier.IsActive(t)
	case string(status.ClassFinal):
		return !c.classifier.IsActive(t)
	default:
		return strings.TrimSpace(t.Status) == filter
	}
}

func matchesSearch(t *domain.Tender, needle string) bool {
	if strings.Contains(strings.ToLower(t.Number), needle) ||
		strings.Contains(strings.ToLower(t.Buyer), needle) {
		return true
	}
	for _, key := range []string{"title", "description", "procurement_object"} {
		if strings.Contains(strings.ToLower(t.ExtraString(key)), needle) {
			return true
		}
	}
	return false
}

// Invalidate drops a type's cached records.
func (c *Catalog) Invalidate(tenderType string) {
	c.mu.Lock()
	delete(c.cache, strings.ToUpper(tenderType))
	c.gen++
	c.mu.Unlock()
}

func (c *Catalog) entry(code string) (*catalogEntry, error) {
	tt, err := domain.LookupTenderType(c.types, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTenderType, code)
	}
	key := strings.ToUpper(tt.Code)

	c.mu.RLock()
	entry, ok := c.cache[key]
	gen := c.gen
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	path := tt.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.dir, path)
	}
	records, report, err := store.Load(path)
	if err != nil {
		return nil, err
	}
	if len(report.Malformed) > 0 && c.logger != nil {
		c.logger.WithFields(logger.Fields{
			logger.FieldTenderType: key,
			logger.FieldCount:      len(report.Malformed),
		}).Warn("Skipped malformed lines while loading catalog")
	}

	ordered := records.Records()
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].PublishedDate, ordered[j].PublishedDate
		if a.IsZero() != b.IsZero() {
			return b.IsZero()
		}
		return a.After(b)
	})
	entry = &catalogEntry{records: records, ordered: ordered}

	c.mu.Lock()
	if c.gen == gen {
		c.cache[key] = entry
	}
	c.mu.Unlock()
	return entry, nil
}

// Watch invalidates cached types whenever their record file is written,
// created, renamed or removed. It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(c.dir); err != nil {
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			code, ok := c.byFile[filepath.Base(ev.Name)]
			if !ok {
				continue
			}
			c.Invalidate(code)
			if c.logger != nil {
				c.logger.WithFields(logger.Fields{
					logger.FieldTenderType: code,
					"event":                ev.Op.String(),
				}).Debug("Record file changed, cache invalidated")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if c.logger != nil {
				c.logger.WithError(err).Warn("File watcher error")
			}
		}
	}
}
