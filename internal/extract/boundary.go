package extract

import (
	"regexp"
	"strings"

	"github.com/trident-re/mailroom/internal/ai"
)

// Form-title patterns that mark the first page of a new logical document
// inside a bundled PDF. Checked against the top lines of each page.
var formTitlePatterns = []regexp.Regexp{
	*regexp.MustCompile(`(?i)^\s*(residential\s+)?purchase\s+(and\s+sale\s+)?agreement`),
	*regexp.MustCompile(`(?i)^\s*(real\s+estate\s+)?sales?\s+contract`),
	*regexp.MustCompile(`(?i)^\s*seller('?s)?\s+(property\s+)?disclosure`),
	*regexp.MustCompile(`(?i)^\s*(property\s+|home\s+)?inspection\s+report`),
	*regexp.MustCompile(`(?i)^\s*appraisal\s+(report|summary)`),
	*regexp.MustCompile(`(?i)^\s*addendum`),
	*regexp.MustCompile(`(?i)^\s*amendment\s+to`),
	*regexp.MustCompile(`(?i)^\s*closing\s+disclosure`),
	*regexp.MustCompile(`(?i)^\s*(uniform\s+)?loan\s+(estimate|application)`),
	*regexp.MustCompile(`(?i)^\s*title\s+commitment`),
	*regexp.MustCompile(`(?i)^\s*settlement\s+statement`),
	*regexp.MustCompile(`(?i)^\s*lead[\s-]based\s+paint`),
	*regexp.MustCompile(`(?i)^\s*escrow\s+(instructions|agreement)`),
	*regexp.MustCompile(`(?i)^\s*counter\s*offer`),
	*regexp.MustCompile(`(?i)^\s*listing\s+agreement`),
}

// Continuation markers: a page carrying one of these near the top belongs
// to the previous document even if it also matches a title pattern.
var continuationPatterns = []regexp.Regexp{
	*regexp.MustCompile(`(?i)page\s+\d+\s+of\s+\d+`),
	*regexp.MustCompile(`(?i)\(continued\)`),
	*regexp.MustCompile(`(?i)continuation\s+of`),
}

const titleScanLines = 6

// DetectBoundaries is the rule-based fallback for PDF bundle splitting: a
// new document starts on any page whose top lines carry a form title and no
// continuation marker. Page 1 always starts the first document, so a
// non-empty PDF always yields at least one range.
func DetectBoundaries(pages []string) []ai.PageRange {
	if len(pages) == 0 {
		return nil
	}

	var starts []int
	for i, page := range pages {
		if i == 0 {
			starts = append(starts, 1)
			continue
		}
		if pageStartsDocument(page) {
			starts = append(starts, i+1)
		}
	}

	ranges := make([]ai.PageRange, 0, len(starts))
	for i, start := range starts {
		end := len(pages)
		if i+1 < len(starts) {
			end = starts[i+1] - 1
		}
		ranges = append(ranges, ai.PageRange{Start: start, End: end})
	}
	return ranges
}

func pageStartsDocument(page string) bool {
	head := topLines(page, titleScanLines)
	if head == "" {
		return false
	}

	for _, pattern := range continuationPatterns {
		if pattern.MatchString(head) {
			return false
		}
	}

	for _, line := range strings.Split(head, "\n") {
		for _, pattern := range formTitlePatterns {
			if pattern.MatchString(line) {
				return true
			}
		}
	}
	return false
}

func topLines(page string, n int) string {
	var kept []string
	for _, line := range strings.Split(page, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kept = append(kept, line)
		if len(kept) == n {
			break
		}
	}
	return strings.Join(kept, "\n")
}

// Document-type inference used when the AI analysis is unavailable. Returns
// the inferred type and a fixed fallback confidence, or ("", 0) when
// nothing matches.
var docTypePatterns = []struct {
	docType string
	pattern *regexp.Regexp
}{
	{"contract", regexp.MustCompile(`(?i)purchase\s+(and\s+sale\s+)?agreement|sales?\s+contract|counter\s*offer`)},
	{"disclosure", regexp.MustCompile(`(?i)disclosure|lead[\s-]based\s+paint`)},
	{"inspection", regexp.MustCompile(`(?i)inspection\s+(report|notice)`)},
	{"appraisal", regexp.MustCompile(`(?i)appraisal`)},
	{"closing", regexp.MustCompile(`(?i)closing\s+disclosure|settlement\s+statement|escrow`)},
	{"loan", regexp.MustCompile(`(?i)loan\s+(estimate|application)|mortgage`)},
	{"addendum", regexp.MustCompile(`(?i)addendum|amendment`)},
	{"title", regexp.MustCompile(`(?i)title\s+commitment`)},
	{"listing", regexp.MustCompile(`(?i)listing\s+agreement|mls\s+sheet`)},
}

const heuristicDocTypeConfidence = 0.5

// InferDocType guesses a document type from its filename and leading text
func InferDocType(filename, text string) (string, float64) {
	head := filename + "\n" + topLines(text, titleScanLines)
	for _, dt := range docTypePatterns {
		if dt.pattern.MatchString(head) {
			return dt.docType, heuristicDocTypeConfidence
		}
	}
	return "", 0
}
