package domain

import (
	"fmt"
	"strings"
)

// TenderType describes one procurement category and the data file holding it.
type TenderType struct {
	Code         string `mapstructure:"code" json:"code"`
	File         string `mapstructure:"file" json:"file"`
	CategoryCode string `mapstructure:"category_code" json:"category_code,omitempty"`
}

// Procurement type codes published on the portal.
var tenderTypeCodes = []string{"CON", "NAT", "SPA", "CNT", "MEP", "DAP", "TEP", "GEO", "DEP", "GRA"}

// DataFileName returns the conventional record file name for a type code.
func DataFileName(code string) string {
	return strings.ToLower(code) + "_detailed_tenders.jsonl"
}

// DefaultTenderTypes returns every known type with its conventional file name.
func DefaultTenderTypes() []TenderType {
	types := make([]TenderType, 0, len(tenderTypeCodes))
	for _, code := range tenderTypeCodes {
		tt := TenderType{Code: code, File: DataFileName(code)}
		if code == "CON" {
			tt.CategoryCode = "60100000"
		}
		types = append(types, tt)
	}
	return types
}

// LookupTenderType finds code (case-insensitive) in types.
func LookupTenderType(types []TenderType, code string) (TenderType, error) {
	for _, tt := range types {
		if strings.EqualFold(tt.Code, code) {
			if tt.File == "" {
				tt.File = DataFileName(tt.Code)
			}
			return tt, nil
		}
	}
	return TenderType{}, fmt.Errorf("unknown tender type %q", code)
}
