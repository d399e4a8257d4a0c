package aggregator

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// defaultSearchLimit caps search results when the caller does not pass one.
const defaultSearchLimit = 10

// Score thresholds selected by query shape. Short or broad queries keep the
// bar low so exploration works; long and specific queries raise it to cut
// noise.
const (
	thresholdBroad    = 0.2
	thresholdDefault  = 0.35
	thresholdSpecific = 0.5
)

// SearchHit is one scored result from a tool search. Tool carries the
// prefixed catalog name.
type SearchHit struct {
	Server string
	Tool   string
	Score  float64
}

// ToolSearcher scores the published tool catalog against a free-text query.
// The default implementation is lexical; deployments with an embedding
// index plug in their own.
type ToolSearcher interface {
	// Search returns hits sorted by descending score, at most limit of
	// them. Scores are in [0, 1].
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

// searchThreshold picks the minimum score for a query based on its shape.
func searchThreshold(query string) float64 {
	words := len(strings.Fields(query))
	chars := len(query)
	switch {
	case words < 3 || chars < 15:
		return thresholdBroad
	case words > 10 || chars > 80:
		return thresholdSpecific
	default:
		return thresholdDefault
	}
}

// catalogSource enumerates the upstreams whose catalogs are searchable. The
// registry satisfies it.
type catalogSource interface {
	Snapshot() []*Upstream
}

// LexicalSearcher is the default ToolSearcher: a token-overlap scorer over
// tool names and descriptions. It reads the live catalog on every query, so
// it never needs reindexing after registry changes.
type LexicalSearcher struct {
	source catalogSource
}

// NewLexicalSearcher creates a searcher over the given catalog source.
func NewLexicalSearcher(source catalogSource) *LexicalSearcher {
	return &LexicalSearcher{source: source}
}

// Search scores every published tool of every enabled upstream. Hits sort
// by descending score, ties by name.
func (s *LexicalSearcher) Search(_ context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	var hits []SearchHit
	for _, up := range s.source.Snapshot() {
		if !up.IsEnabled() {
			continue
		}
		for _, tool := range up.Tools() {
			score := scoreTool(queryTokens, tool.Name, tool.Description)
			if score <= 0 {
				continue
			}
			hits = append(hits, SearchHit{
				Server: up.Name(),
				Tool:   tool.Name,
				Score:  score,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Tool < hits[j].Tool
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// scoreTool rates one tool against the query tokens. A token matching the
// tool name counts full weight, a token matching only the description
// counts half. The result is the matched weight over the query token count,
// capped at 1.
func scoreTool(queryTokens []string, name, description string) float64 {
	nameTokens := tokenize(name)
	descTokens := tokenize(description)

	var matched float64
	for _, q := range queryTokens {
		switch {
		case tokenMatch(nameTokens, q):
			matched += 1.0
		case tokenMatch(descTokens, q):
			matched += 0.5
		}
	}

	score := matched / float64(len(queryTokens))
	if score > 1 {
		score = 1
	}
	return score
}

// tokenMatch reports whether q matches any token exactly or as a prefix.
// Prefix matching needs at least three characters so short words do not
// match everything.
func tokenMatch(tokens []string, q string) bool {
	for _, t := range tokens {
		if t == q {
			return true
		}
		if len(q) >= 3 && strings.HasPrefix(t, q) {
			return true
		}
	}
	return false
}

// tokenize lowercases and splits on every non-alphanumeric rune.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
