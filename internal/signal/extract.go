// Package signal turns fact content into comparable lexical feature sets and
// combines them into a composite similarity score.
//
// Similarity is deliberately lexical (rare tokens, capitalized entities,
// numeric markers, and a local term-frequency vector) so every score can be
// audited by hand and the scoring loop has no external dependency. Signals
// are extracted once per fact and cached for the duration of a batch run,
// keeping extraction cost near O(n) even when pairwise comparison is O(n²).
package signal

import (
	"regexp"
	"strings"
)

// Signals holds the feature sets extracted from one fact's content.
type Signals struct {
	RareTokens  map[string]struct{}
	Entities    map[string]struct{}
	Numerics    map[string]struct{}
	TimeMarkers map[string]struct{} // retained for debugging; not scored
	TermFreq    map[string]int      // rare token -> occurrences in this fact
}

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "because": {},
	"been": {}, "before": {}, "being": {}, "between": {}, "both": {},
	"could": {}, "does": {}, "doing": {}, "down": {}, "during": {},
	"each": {}, "even": {}, "every": {}, "from": {}, "gets": {},
	"have": {}, "having": {}, "here": {}, "into": {}, "just": {},
	"like": {}, "made": {}, "makes": {}, "more": {}, "most": {},
	"much": {}, "never": {}, "only": {}, "other": {}, "over": {},
	"really": {}, "said": {}, "same": {}, "says": {}, "should": {},
	"some": {}, "something": {}, "still": {}, "such": {}, "than": {},
	"that": {}, "their": {}, "them": {}, "then": {}, "there": {},
	"these": {}, "they": {}, "this": {}, "those": {}, "through": {},
	"used": {}, "very": {}, "want": {}, "wants": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "while": {},
	"will": {}, "with": {}, "would": {}, "your": {},
}

var (
	wordRE    = regexp.MustCompile(`[a-zA-Z]+`)
	entityRE  = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)
	numericRE = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	yearRE    = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	dateRE    = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?\b`)
)

// Extract computes all signals for one content string. Pure function.
func Extract(content string) *Signals {
	sig := &Signals{
		RareTokens:  make(map[string]struct{}),
		Entities:    make(map[string]struct{}),
		Numerics:    make(map[string]struct{}),
		TimeMarkers: make(map[string]struct{}),
		TermFreq:    make(map[string]int),
	}

	for _, word := range wordRE.FindAllString(content, -1) {
		token := strings.ToLower(word)
		if len(token) <= 3 {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		sig.RareTokens[token] = struct{}{}
		sig.TermFreq[token]++
	}

	for _, entity := range entityRE.FindAllString(content, -1) {
		sig.Entities[entity] = struct{}{}
	}

	for _, num := range numericRE.FindAllString(content, -1) {
		sig.Numerics[num] = struct{}{}
	}

	for _, year := range yearRE.FindAllString(content, -1) {
		sig.TimeMarkers[year] = struct{}{}
	}
	for _, date := range dateRE.FindAllString(content, -1) {
		sig.TimeMarkers[date] = struct{}{}
	}

	return sig
}

// Cache memoizes extracted signals by fact id for the lifetime of one batch
// run. Not a process-wide singleton: each run builds its own cache so runs
// stay independently testable and reproducible.
type Cache struct {
	byID map[string]*Signals
}

// NewCache creates an empty signal cache.
func NewCache() *Cache {
	return &Cache{byID: make(map[string]*Signals)}
}

// Get returns the cached signals for a fact id, extracting on first use.
func (c *Cache) Get(id, content string) *Signals {
	if sig, ok := c.byID[id]; ok {
		return sig
	}
	sig := Extract(content)
	c.byID[id] = sig
	return sig
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return len(c.byID)
}
