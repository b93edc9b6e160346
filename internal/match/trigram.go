package match

import "strings"

// trigrams returns the padded three-character grams of s, pg_trgm style:
// each word is padded with two leading and one trailing space.
func trigrams(s string) map[string]bool {
	grams := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(s)) {
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			grams[padded[i:i+3]] = true
		}
	}
	return grams
}

// TrigramSimilarity computes the Jaccard similarity of the two strings'
// trigram sets, mirroring the semantics of Postgres pg_trgm similarity().
func TrigramSimilarity(a, b string) float64 {
	ga := trigrams(a)
	gb := trigrams(b)
	if len(ga) == 0 || len(gb) == 0 {
		return 0
	}

	shared := 0
	for g := range ga {
		if gb[g] {
			shared++
		}
	}
	union := len(ga) + len(gb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
