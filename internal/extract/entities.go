package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/trident-re/mailroom/internal/ai"
)

// Rule-based entity harvesting. Runs on every extracted text as a cheap
// supplement to the AI service and as the fallback when its calls fail.
var (
	addressRe = regexp.MustCompile(`(?i)\b\d{1,6}\s+(?:[A-Za-z0-9'.]+\s+){1,4}` +
		`(?:street|st|avenue|ave|boulevard|blvd|drive|dr|lane|ln|road|rd|court|ct|circle|cir|place|pl|way|terrace|ter|trail|trl|parkway|pkwy)\b\.?` +
		`(?:\s*(?:#|apt|unit|suite|ste)\.?\s*[A-Za-z0-9-]+)?`)

	mlsRe = regexp.MustCompile(`(?i)\bMLS\s*(?:#|number|no\.?|id)?[:\s]*([A-Z0-9-]{5,12})\b`)

	loanRe = regexp.MustCompile(`(?i)\bloan\s*(?:#|number|no\.?)?[:\s]*(\d{5,12})\b`)

	// Dated milestones: a type keyword within a short window before a date
	dateCtxRe = regexp.MustCompile(`(?i)\b(inspection|appraisal|closing|deadline|due)\b[^.\n]{0,60}?` +
		`((?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2},?\s+\d{4}` +
		`|\d{1,2}/\d{1,2}/\d{2,4}` +
		`|\d{4}-\d{2}-\d{2})`)
)

var dateLayouts = []string{
	"January 2, 2006",
	"January 2 2006",
	"1/2/2006",
	"1/2/06",
	"2006-01-02",
}

// NormalizeLoanNumber converts any recognized loan identifier to the
// canonical LN-<digits> form the property store uses.
func NormalizeLoanNumber(raw string) string {
	digits := strings.TrimSpace(raw)
	digits = strings.TrimPrefix(strings.ToUpper(digits), "LN-")
	digits = strings.TrimLeft(digits, "#: ")
	if digits == "" {
		return ""
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return "LN-" + digits
}

// HarvestEntities pulls structured identifiers out of free text with the
// rule set above.
func HarvestEntities(text string) ai.Entities {
	var e ai.Entities

	for _, m := range addressRe.FindAllString(text, 10) {
		e.Addresses = append(e.Addresses, strings.TrimSpace(m))
	}
	e.Addresses = dedupe(e.Addresses)

	for _, m := range mlsRe.FindAllStringSubmatch(text, 10) {
		e.MLSNumbers = append(e.MLSNumbers, strings.ToUpper(m[1]))
	}
	e.MLSNumbers = dedupe(e.MLSNumbers)

	for _, m := range loanRe.FindAllStringSubmatch(text, 10) {
		if ln := NormalizeLoanNumber(m[1]); ln != "" {
			e.LoanNumbers = append(e.LoanNumbers, ln)
		}
	}
	e.LoanNumbers = dedupe(e.LoanNumbers)

	for _, m := range dateCtxRe.FindAllStringSubmatch(text, 10) {
		kind := strings.ToLower(m[1])
		if kind == "due" {
			kind = "deadline"
		}
		if date, ok := parseDate(m[2]); ok {
			e.Dates = append(e.Dates, ai.DateOfInterest{
				Type: kind,
				Date: date.Format("2006-01-02"),
			})
		}
	}

	return e
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		key := strings.ToLower(item)
		if !seen[key] {
			seen[key] = true
			out = append(out, item)
		}
	}
	return out
}
