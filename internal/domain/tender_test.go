package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTenderUnmarshal_NumberAliases(t *testing.T) {
	testCases := []struct {
		name string
		line string
		want string
	}{
		{name: "canonical key", line: `{"tender_number":"CON250000001"}`, want: "CON250000001"},
		{name: "procurement_number alias", line: `{"procurement_number":"NAT240000123"}`, want: "NAT240000123"},
		{name: "number alias", line: `{"number":" SPA250000009 "}`, want: "SPA250000009"},
		{name: "canonical wins", line: `{"number":"X1","tender_number":"CON1"}`, want: "CON1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var tender Tender
			if err := json.Unmarshal([]byte(tc.line), &tender); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if tender.Key() != tc.want {
				t.Errorf("Key() = %q, want %q", tender.Key(), tc.want)
			}
		})
	}
}

func TestTenderRoundTrip_PreservesUnknownFields(t *testing.T) {
	line := `{"tender_number":"CON250000001","status":"გამოცხადებულია","published_date":"2025-01-15","amount":1500.5,"detail_url":"https://tenders.procurement.gov.ge/x?a=1&b=2","all_cells":["a","b"],"participants_count":3}`

	var tender Tender
	if err := json.Unmarshal([]byte(line), &tender); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tender.PublishedDate.String() != "2025-01-15" {
		t.Errorf("PublishedDate = %q", tender.PublishedDate)
	}
	if tender.Amount == nil || *tender.Amount != 1500.5 {
		t.Errorf("Amount = %v", tender.Amount)
	}
	if got := tender.ExtraString("detail_url"); !strings.Contains(got, "&b=2") {
		t.Errorf("detail_url = %q", got)
	}

	first, err := json.Marshal(tender)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var again Tender
	if err := json.Unmarshal(first, &again); err != nil {
		t.Fatalf("unmarshal again: %v", err)
	}
	second, err := json.Marshal(again)
	if err != nil {
		t.Fatalf("marshal again: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("serialization not stable:\n%s\n%s", first, second)
	}
	for _, key := range []string{`"all_cells":["a","b"]`, `"participants_count":3`, `"status":"გამოცხადებულია"`} {
		if !strings.Contains(string(first), key) {
			t.Errorf("output %s missing %s", first, key)
		}
	}
}

func TestTenderUnmarshal_UnparseableDateKeptVerbatim(t *testing.T) {
	var tender Tender
	if err := json.Unmarshal([]byte(`{"tender_number":"CON1","published_date":"soon"}`), &tender); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !tender.PublishedDate.IsZero() {
		t.Errorf("expected undated record, got %s", tender.PublishedDate)
	}
	out, _ := json.Marshal(tender)
	if !strings.Contains(string(out), `"published_date":"soon"`) {
		t.Errorf("raw date lost: %s", out)
	}
}

func TestTenderUnmarshal_RejectsNonObject(t *testing.T) {
	var tender Tender
	for _, line := range []string{`[]`, `"x"`, `null`, `{"a":`} {
		if err := json.Unmarshal([]byte(line), &tender); err == nil {
			t.Errorf("expected error for %s", line)
		}
	}
}
