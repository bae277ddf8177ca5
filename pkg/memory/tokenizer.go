package memory

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMinTokenLength is the shortest token kept by the tokenizer.
const DefaultMinTokenLength = 2

// Tokenizer lowercases text, splits it on word boundaries and drops short
// tokens and stop words. Han characters become single-rune tokens and are
// exempt from the minimum length.
type Tokenizer struct {
	minLength int
	stopWords map[string]struct{}
}

// NewTokenizer creates a tokenizer. A nil stopWords slice selects the
// default English stop-word set; an empty non-nil slice disables stop words.
func NewTokenizer(minLength int, stopWords []string) *Tokenizer {
	if minLength <= 0 {
		minLength = DefaultMinTokenLength
	}
	words := stopWords
	if words == nil {
		words = defaultStopWords
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return &Tokenizer{minLength: minLength, stopWords: set}
}

// Tokenize splits text into normalized tokens, preserving their order.
func (t *Tokenizer) Tokenize(text string) []string {
	text = strings.ToLower(text)

	tokens := make([]string, 0, len(text)/4)
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		token := current.String()
		current.Reset()
		if utf8.RuneCountInString(token) < t.minLength {
			return
		}
		if _, isStop := t.stopWords[token]; isStop {
			return
		}
		tokens = append(tokens, token)
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// IsStopWord reports whether the lowercased token is a stop word.
func (t *Tokenizer) IsStopWord(token string) bool {
	_, ok := t.stopWords[strings.ToLower(token)]
	return ok
}

var defaultStopWords = []string{
	"a", "an", "the", "is", "are", "was", "were", "be", "been", "being",
	"have", "has", "had", "do", "does", "did", "will", "would", "could",
	"should", "may", "might", "shall", "can", "need", "ought",
	"used", "to", "of", "in", "for", "on", "with", "at", "by", "from",
	"as", "into", "through", "during", "before", "after", "above", "below",
	"between", "out", "off", "over", "under", "again", "further", "then",
	"once", "and", "but", "or", "nor", "not", "so", "yet", "both",
	"either", "neither", "each", "every", "all", "any", "few", "more",
	"most", "other", "some", "such", "no", "only", "own", "same", "than",
	"too", "very", "just", "because", "if", "when", "where", "how", "what",
	"which", "who", "whom", "this", "that", "these", "those", "i", "me",
	"my", "myself", "we", "our", "ours", "ourselves", "you", "your",
	"yours", "yourself", "yourselves", "he", "him", "his", "himself",
	"she", "her", "hers", "herself", "it", "its", "itself", "they",
	"them", "their", "theirs", "themselves",
}
