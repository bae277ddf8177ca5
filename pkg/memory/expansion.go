package memory

import (
	"strings"
)

// QueryExpander rewrites a query before keyword search. It reports whether
// the query changed.
type QueryExpander interface {
	Expand(query string) (string, bool)
}

// SynonymExpander appends known synonyms of query terms.
type SynonymExpander struct {
	tokenizer *Tokenizer
	synonyms  map[string][]string
}

// DefaultSynonyms covers common abbreviations in coding conversations.
var DefaultSynonyms = map[string][]string{
	"db":       {"database"},
	"database": {"db"},
	"postgres": {"postgresql"},
	"pg":       {"postgresql"},
	"config":   {"configuration"},
	"cfg":      {"configuration"},
	"auth":     {"authentication", "authorization"},
	"repo":     {"repository"},
	"env":      {"environment"},
	"deps":     {"dependencies"},
	"k8s":      {"kubernetes"},
	"js":       {"javascript"},
	"ts":       {"typescript"},
	"ui":       {"interface"},
	"api":      {"endpoint"},
	"cache":    {"caching"},
	"caching":  {"cache"},
	"test":     {"testing"},
	"tests":    {"testing"},
}

// NewSynonymExpander creates an expander. A nil table selects DefaultSynonyms.
func NewSynonymExpander(tokenizer *Tokenizer, synonyms map[string][]string) *SynonymExpander {
	if tokenizer == nil {
		tokenizer = NewTokenizer(DefaultMinTokenLength, nil)
	}
	if synonyms == nil {
		synonyms = DefaultSynonyms
	}
	table := make(map[string][]string, len(synonyms))
	for k, v := range synonyms {
		table[strings.ToLower(k)] = v
	}
	return &SynonymExpander{tokenizer: tokenizer, synonyms: table}
}

// Expand appends synonyms that are not already present in the query.
func (e *SynonymExpander) Expand(query string) (string, bool) {
	tokens := e.tokenizer.Tokenize(query)
	present := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		present[t] = struct{}{}
	}

	var extra []string
	for _, t := range tokens {
		for _, syn := range e.synonyms[t] {
			syn = strings.ToLower(syn)
			if _, ok := present[syn]; ok {
				continue
			}
			present[syn] = struct{}{}
			extra = append(extra, syn)
		}
	}
	if len(extra) == 0 {
		return query, false
	}
	return query + " " + strings.Join(extra, " "), true
}
