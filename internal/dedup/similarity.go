package dedup

import (
	"strings"
	"unicode"
)

// DiceSimilarity computes Dice's coefficient over character bigrams of the
// two titles, lowercased and punctuation-stripped. Bigrams never span word
// boundaries. Range [0, 1]; identical titles score 1.
func DiceSimilarity(a, b string) float64 {
	bigramsA := titleBigrams(a)
	bigramsB := titleBigrams(b)

	totalA := 0
	for _, n := range bigramsA {
		totalA += n
	}
	totalB := 0
	for _, n := range bigramsB {
		totalB += n
	}
	if totalA == 0 || totalB == 0 {
		return 0
	}

	overlap := 0
	for bg, na := range bigramsA {
		if nb, ok := bigramsB[bg]; ok {
			if na < nb {
				overlap += na
			} else {
				overlap += nb
			}
		}
	}

	return 2 * float64(overlap) / float64(totalA+totalB)
}

// titleBigrams returns the multiset of character bigrams per word of the
// normalized title. A one-rune word contributes itself, so titles differing
// only in such a token do not compare as identical.
func titleBigrams(title string) map[string]int {
	bigrams := make(map[string]int)
	for _, word := range strings.Fields(normalizeTitle(title)) {
		runes := []rune(word)
		if len(runes) == 1 {
			bigrams[word]++
			continue
		}
		for i := 0; i+1 < len(runes); i++ {
			bigrams[string(runes[i:i+2])]++
		}
	}
	return bigrams
}

// normalizeTitle lowercases and strips everything but letters, digits and
// spaces.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return b.String()
}
