package store

import "github.com/timmy/tendersync/internal/domain"

// Collection is an ordered set of tenders keyed by tender number.
// It is not safe for concurrent mutation.
type Collection struct {
	records []*domain.Tender
	index   map[string]int
}

// NewCollection builds a collection from records; later duplicates win.
func NewCollection(records ...*domain.Tender) *Collection {
	c := &Collection{index: make(map[string]int, len(records))}
	for _, t := range records {
		c.Upsert(t)
	}
	return c
}

// Len returns the number of distinct tenders.
func (c *Collection) Len() int { return len(c.records) }

// Get looks a tender up by number.
func (c *Collection) Get(number string) (*domain.Tender, bool) {
	i, ok := c.index[number]
	if !ok {
		return nil, false
	}
	return c.records[i], true
}

// Upsert replaces the tender with the same number in place, or appends it.
// It reports whether t was new.
func (c *Collection) Upsert(t *domain.Tender) bool {
	key := t.Key()
	if i, ok := c.index[key]; ok {
		c.records[i] = t
		return false
	}
	c.index[key] = len(c.records)
	c.records = append(c.records, t)
	return true
}

// Records returns the tenders in file order. The slice is a copy; the
// tenders are shared.
func (c *Collection) Records() []*domain.Tender {
	out := make([]*domain.Tender, len(c.records))
	copy(out, c.records)
	return out
}

// Filter returns the tenders for which keep returns true, in file order.
func (c *Collection) Filter(keep func(*domain.Tender) bool) []*domain.Tender {
	var out []*domain.Tender
	for _, t := range c.records {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// CountInWindow counts tenders published inside w. Undated tenders are never counted.
func (c *Collection) CountInWindow(w domain.SyncWindow) int {
	n := 0
	for _, t := range c.records {
		if w.Contains(t.PublishedDate) {
			n++
		}
	}
	return n
}

// LatestPublished returns the most recent publication date, if any tender is dated.
func (c *Collection) LatestPublished() (domain.Date, bool) {
	var latest domain.Date
	for _, t := range c.records {
		if t.PublishedDate.After(latest) {
			latest = t.PublishedDate
		}
	}
	return latest, !latest.IsZero()
}
