package parser

import (
	"strings"
	"time"
)

// fallbackLayouts are tried after the explicit day-first forms. Output is
// always canonical yyyy-mm-dd regardless of which layout matched.
var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02 Jan 2006",
	"Jan 2, 2006",
}

// NormalizeDate converts dd/mm/yyyy, d-m-yyyy and yyyy-mm-dd inputs into a
// canonical yyyy-mm-dd string. Returns false when no form matches.
func NormalizeDate(input string) (string, bool) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", false
	}

	// Dashes and slashes are interchangeable in day-first inputs.
	normalized := strings.ReplaceAll(raw, "-", "/")

	if parts := strings.Split(normalized, "/"); len(parts) == 3 {
		day, month, year := parts[0], parts[1], parts[2]

		// An ISO date arrives as yyyy/mm/dd after separator normalization.
		if len(day) == 4 {
			year, day = day, year
		}

		if ts, err := time.Parse("2/1/2006", day+"/"+month+"/"+year); err == nil {
			return ts.Format("2006-01-02"), true
		}
	}

	for _, layout := range fallbackLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.Format("2006-01-02"), true
		}
	}

	return "", false
}
