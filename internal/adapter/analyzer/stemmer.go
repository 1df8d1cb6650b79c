package analyzer

import "strings"

// LightStemmer folds plural and common verbal suffixes. It is deliberately
// conservative: it only has to map inflections of the same word onto one
// term so the hashing embedder treats them as one feature.
type LightStemmer struct{}

// NewLightStemmer creates a new light stemmer.
func NewLightStemmer() *LightStemmer {
	return &LightStemmer{}
}

// Stem returns the folded form of a lower-case word.
func (s *LightStemmer) Stem(word string) string {
	if len(word) < 4 {
		return word
	}

	switch {
	case strings.HasSuffix(word, "sses"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "ies") && len(word) > 4:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "ss"), strings.HasSuffix(word, "us"), strings.HasSuffix(word, "is"):
		return word
	case strings.HasSuffix(word, "s"):
		return word[:len(word)-1]
	}

	for _, suffix := range []string{"ing", "ed"} {
		if !strings.HasSuffix(word, suffix) {
			continue
		}
		stem := word[:len(word)-len(suffix)]
		if len(stem) < 3 || !hasVowel(stem) {
			return word
		}
		return undouble(stem)
	}

	return word
}

func hasVowel(s string) bool {
	return strings.ContainsAny(s, "aeiouy")
}

// undouble turns "runn" into "run" but keeps "fall", "miss" and "buzz".
func undouble(stem string) string {
	n := len(stem)
	if n < 2 || stem[n-1] != stem[n-2] {
		return stem
	}
	switch stem[n-1] {
	case 'l', 's', 'z', 'a', 'e', 'i', 'o', 'u':
		return stem
	}
	return stem[:n-1]
}
