package match

import (
	"regexp"
	"strings"
)

// Street-type and directional abbreviations folded to one canonical short
// form so "123 Main Street" and "123 Main St." normalize identically.
var abbreviations = map[string]string{
	"street": "st", "str": "st",
	"avenue": "ave", "av": "ave",
	"boulevard": "blvd",
	"drive":     "dr",
	"lane":      "ln",
	"road":      "rd",
	"court":     "ct",
	"circle":    "cir",
	"place":     "pl",
	"terrace":   "ter",
	"trail":     "trl",
	"parkway":   "pkwy",
	"highway":   "hwy",
	"suite":     "ste",
	"apartment": "apt",
	"north":     "n", "south": "s", "east": "e", "west": "w",
	"northeast": "ne", "northwest": "nw", "southeast": "se", "southwest": "sw",
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9 ]+`)
var spacesRe = regexp.MustCompile(`\s+`)

// NormalizeAddress folds case, punctuation, whitespace, and common
// abbreviations so exact-address matching tolerates formatting differences.
func NormalizeAddress(addr string) string {
	s := strings.ToLower(addr)
	s = nonAlnumRe.ReplaceAllString(s, " ")
	s = spacesRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	words := strings.Split(s, " ")
	for i, w := range words {
		if canonical, ok := abbreviations[w]; ok {
			words[i] = canonical
		}
	}
	return strings.Join(words, " ")
}

// NormalizeName folds case and whitespace for person-name comparison
func NormalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	return spacesRe.ReplaceAllString(s, " ")
}
