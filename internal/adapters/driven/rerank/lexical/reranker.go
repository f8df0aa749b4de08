// Package lexical provides an offline reranker that orders candidates by
// how completely and how closely they contain the query terms.
package lexical

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Ensure Reranker implements the interface.
var _ driven.Reranker = (*Reranker)(nil)

// Weights of the score components.
const (
	coverageWeight  = 1.0
	proximityWeight = 0.5
	titleWeight     = 0.25
)

// Reranker scores query term coverage, the span of the tightest window
// containing the matched terms, and title matches.
type Reranker struct{}

// New creates a lexical reranker.
func New() *Reranker {
	return &Reranker{}
}

// Rerank returns the candidates ordered by lexical score. Ties keep their
// input order. Score is replaced by the lexical score.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []domain.SearchResult) ([]domain.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := unique(tokens(query))
	if len(terms) == 0 {
		return candidates, nil
	}

	out := make([]domain.SearchResult, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Score = score(terms, out[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func score(terms []string, c domain.SearchResult) float64 {
	words := tokens(c.Content)
	positions := make(map[string][]int, len(terms))
	want := make(map[string]bool, len(terms))
	for _, t := range terms {
		want[t] = true
	}
	for i, w := range words {
		if want[w] {
			positions[w] = append(positions[w], i)
		}
	}

	coverage := float64(len(positions)) / float64(len(terms))

	proximity := 0.0
	if len(positions) > 1 {
		span := minSpan(positions)
		proximity = float64(len(positions)) / float64(span)
	} else if len(positions) == 1 {
		proximity = 1
	}

	title := 0.0
	titleWords := make(map[string]bool)
	for _, w := range tokens(c.Title) {
		titleWords[w] = true
	}
	for _, t := range terms {
		if titleWords[t] {
			title++
		}
	}
	title /= float64(len(terms))

	return coverageWeight*coverage + proximityWeight*proximity + titleWeight*title
}

// minSpan returns the length of the shortest window of words that contains
// one occurrence of every matched term.
func minSpan(positions map[string][]int) int {
	type hit struct {
		pos  int
		term string
	}
	var hits []hit
	for term, ps := range positions {
		for _, p := range ps {
			hits = append(hits, hit{p, term})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	need := len(positions)
	counts := make(map[string]int, need)
	best := hits[len(hits)-1].pos - hits[0].pos + 1
	have, left := 0, 0
	for right := range hits {
		if counts[hits[right].term] == 0 {
			have++
		}
		counts[hits[right].term]++
		for have == need {
			if span := hits[right].pos - hits[left].pos + 1; span < best {
				best = span
			}
			counts[hits[left].term]--
			if counts[hits[left].term] == 0 {
				have--
			}
			left++
		}
	}
	return best
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func unique(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := words[:0]
	for _, w := range words {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
