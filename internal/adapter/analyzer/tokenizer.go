package analyzer

import (
	"strings"
	"unicode"
)

// Tokenizer turns prose into normalized terms: lower-cased, possessives
// dropped, stopwords removed and optionally stemmed.
type Tokenizer struct {
	stemmer   *LightStemmer
	stopwords map[string]struct{}
}

// NewTokenizer creates a new Tokenizer.
func NewTokenizer(useStemming bool) *Tokenizer {
	var stemmer *LightStemmer
	if useStemming {
		stemmer = NewLightStemmer()
	}
	return &Tokenizer{
		stemmer:   stemmer,
		stopwords: proseStopwords,
	}
}

// Tokenize splits text into terms in reading order.
func (t *Tokenizer) Tokenize(text string) []string {
	words := splitWords(text)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		word = normalizeWord(word)
		if len([]rune(word)) < 2 {
			continue
		}
		if _, isStop := t.stopwords[word]; isStop {
			continue
		}
		if t.stemmer != nil {
			word = t.stemmer.Stem(word)
		}
		tokens = append(tokens, word)
	}

	return tokens
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’'
}

// splitWords splits on anything that is not a letter, digit or apostrophe.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !isApostrophe(r)
	})
}

// normalizeWord lower-cases a word, folds typographic apostrophes and drops
// quote marks and the possessive "'s": "Keeper’s" becomes "keeper".
func normalizeWord(word string) string {
	word = strings.ToLower(strings.ReplaceAll(word, "’", "'"))
	word = strings.Trim(word, "'")
	word = strings.TrimSuffix(word, "'s")
	return word
}

var proseStopwords = func() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "him", "if", "or", "so",
		"no", "do", "does", "did", "been", "being", "would",
		"could", "should", "which", "who", "whom", "what", "when",
		"where", "then", "there", "into", "upon", "than", "very",
		"me", "my", "us", "them", "these", "those", "said", "says",
		"one", "all", "any", "some", "such", "only", "own", "just",
		"over", "out", "up", "down", "again", "once", "here", "now",
		"i'm", "it's", "don't", "didn't", "can't", "won't",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}()
