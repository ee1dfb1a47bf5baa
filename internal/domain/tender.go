package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Record keys with dedicated fields on Tender.
const (
	KeyTenderNumber  = "tender_number"
	KeyStatus        = "status"
	KeyPublishedDate = "published_date"
	KeyDeadlineDate  = "deadline_date"
	KeyBuyer         = "buyer"
	KeyCategoryCode  = "category_code"
	KeyAmount        = "amount"
	KeyTenderType    = "tender_type"
)

// Older scraper output used these keys for the tender number.
var numberAliases = []string{"procurement_number", "number"}

// Tender is one procurement notice. Keys without a dedicated field are kept
// verbatim in Extra so that unknown scraped attributes survive a round trip.
type Tender struct {
	Number        string
	Status        string
	PublishedDate Date
	DeadlineDate  Date
	Buyer         string
	CategoryCode  string
	Amount        *float64
	TenderType    string

	Extra map[string]json.RawMessage
}

// Key returns the identity used for deduplication.
func (t *Tender) Key() string {
	return strings.TrimSpace(t.Number)
}

// Clone returns a deep copy.
func (t *Tender) Clone() *Tender {
	c := *t
	if t.Amount != nil {
		a := *t.Amount
		c.Amount = &a
	}
	if t.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(t.Extra))
		for k, v := range t.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// ExtraString returns Extra[key] decoded as a string, or "" when absent or not a string.
func (t *Tender) ExtraString(key string) string {
	raw, ok := t.Extra[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// UnmarshalJSON decodes one record object. The tender number may appear under
// any of its historical keys. Values of the wrong shape for a dedicated field
// (an unparseable date, a textual amount) are kept in Extra unchanged.
func (t *Tender) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("record is not a JSON object")
	}
	*t = Tender{Extra: make(map[string]json.RawMessage)}

	takeString := func(key string, dst *string) {
		v, ok := raw[key]
		if !ok {
			return
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			*dst = s
			delete(raw, key)
		} else if string(v) == "null" {
			delete(raw, key)
		}
	}
	takeDate := func(key string, dst *Date) {
		v, ok := raw[key]
		if !ok {
			return
		}
		var d Date
		if err := d.UnmarshalJSON(v); err == nil {
			*dst = d
			delete(raw, key)
		}
	}

	takeString(KeyTenderNumber, &t.Number)
	for _, alias := range numberAliases {
		if t.Number != "" {
			break
		}
		takeString(alias, &t.Number)
	}
	for _, alias := range numberAliases {
		if v, ok := raw[alias]; ok {
			var s string
			if json.Unmarshal(v, &s) == nil && strings.TrimSpace(s) == strings.TrimSpace(t.Number) {
				delete(raw, alias)
			}
		}
	}
	t.Number = strings.TrimSpace(t.Number)

	takeString(KeyStatus, &t.Status)
	takeString(KeyBuyer, &t.Buyer)
	takeString(KeyCategoryCode, &t.CategoryCode)
	takeString(KeyTenderType, &t.TenderType)
	takeDate(KeyPublishedDate, &t.PublishedDate)
	takeDate(KeyDeadlineDate, &t.DeadlineDate)

	if v, ok := raw[KeyAmount]; ok {
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			t.Amount = &f
			delete(raw, KeyAmount)
		} else if string(v) == "null" {
			delete(raw, KeyAmount)
		}
	}

	for k, v := range raw {
		t.Extra[k] = v
	}
	return nil
}

// MarshalJSON writes the record with keys in sorted order so the same record
// always serializes to the same bytes. Unset dedicated fields are omitted.
func (t Tender) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(t.Extra)+8)
	for k, v := range t.Extra {
		out[k] = v
	}

	put := func(key string, v interface{}) error {
		b, err := marshalNoEscape(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		out[key] = b
		return nil
	}

	fields := []struct {
		key string
		val string
	}{
		{KeyTenderNumber, t.Number},
		{KeyStatus, t.Status},
		{KeyBuyer, t.Buyer},
		{KeyCategoryCode, t.CategoryCode},
		{KeyTenderType, t.TenderType},
	}
	for _, f := range fields {
		if f.val == "" {
			continue
		}
		if err := put(f.key, f.val); err != nil {
			return nil, err
		}
	}
	if !t.PublishedDate.IsZero() {
		if err := put(KeyPublishedDate, t.PublishedDate.String()); err != nil {
			return nil, err
		}
	}
	if !t.DeadlineDate.IsZero() {
		if err := put(KeyDeadlineDate, t.DeadlineDate.String()); err != nil {
			return nil, err
		}
	}
	if t.Amount != nil {
		if err := put(KeyAmount, *t.Amount); err != nil {
			return nil, err
		}
	}
	return marshalNoEscape(out)
}

func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
