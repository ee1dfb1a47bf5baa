package service

import (
	"bytes"
	"encoding/json"

	"github.com/timmy/tendersync/internal/domain"
)

// Keys rewritten on every scrape. A difference in these alone does not make a
// record "changed"; they are carried along when something else changed.
var volatileKeys = map[string]bool{
	"scraped_at":        true,
	"date_window":       true,
	"extraction_method": true,
}

// mergeOutcome describes what a re-fetch changed.
type mergeOutcome struct {
	StatusChanged bool
	Fields        []string
}

func (o mergeOutcome) Changed() bool {
	return o.StatusChanged || len(o.Fields) > 0
}

// mergeTender applies fetched on top of stored. Fetched values win field by
// field, but a populated stored field is never cleared by an empty or null
// fetched value. stored is not modified.
func mergeTender(stored, fetched *domain.Tender) (*domain.Tender, mergeOutcome) {
	merged := stored.Clone()
	var out mergeOutcome

	if fetched.Status != "" && fetched.Status != stored.Status {
		merged.Status = fetched.Status
		out.StatusChanged = true
	}

	strFields := []struct {
		name string
		dst  *string
		val  string
	}{
		{domain.KeyBuyer, &merged.Buyer, fetched.Buyer},
		{domain.KeyCategoryCode, &merged.CategoryCode, fetched.CategoryCode},
		{domain.KeyTenderType, &merged.TenderType, fetched.TenderType},
	}
	for _, f := range strFields {
		if f.val != "" && f.val != *f.dst {
			*f.dst = f.val
			out.Fields = append(out.Fields, f.name)
		}
	}

	if !fetched.PublishedDate.IsZero() && !fetched.PublishedDate.Equal(stored.PublishedDate) {
		merged.PublishedDate = fetched.PublishedDate
		delete(merged.Extra, domain.KeyPublishedDate)
		out.Fields = append(out.Fields, domain.KeyPublishedDate)
	}
	if !fetched.DeadlineDate.IsZero() && !fetched.DeadlineDate.Equal(stored.DeadlineDate) {
		merged.DeadlineDate = fetched.DeadlineDate
		delete(merged.Extra, domain.KeyDeadlineDate)
		out.Fields = append(out.Fields, domain.KeyDeadlineDate)
	}
	if fetched.Amount != nil && (stored.Amount == nil || *stored.Amount != *fetched.Amount) {
		a := *fetched.Amount
		merged.Amount = &a
		delete(merged.Extra, domain.KeyAmount)
		out.Fields = append(out.Fields, domain.KeyAmount)
	}

	if merged.Extra == nil && len(fetched.Extra) > 0 {
		merged.Extra = make(map[string]json.RawMessage, len(fetched.Extra))
	}
	var volatile []string
	for k, v := range fetched.Extra {
		if isEmptyJSON(v) {
			continue
		}
		if old, ok := merged.Extra[k]; ok && jsonEqual(old, v) {
			continue
		}
		if volatileKeys[k] {
			volatile = append(volatile, k)
			continue
		}
		merged.Extra[k] = v
		out.Fields = append(out.Fields, k)
	}

	if out.Changed() {
		for _, k := range volatile {
			merged.Extra[k] = fetched.Extra[k]
		}
	}
	return merged, out
}

func isEmptyJSON(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	switch string(v) {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}

func jsonEqual(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
