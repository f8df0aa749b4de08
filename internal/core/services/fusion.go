package services

import (
	"sort"
	"strings"
	"unicode"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// stopwords are ignored when measuring title overlap.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "how": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "with": {},
}

// Tokenize lowercases text and splits it into letter and digit runs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContentTokens returns the distinct non-stopword tokens of text in order.
func ContentTokens(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range Tokenize(text) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// TitleOverlap is the fraction of query tokens that appear in the title.
func TitleOverlap(queryTokens []string, title string) float64 {
	if len(queryTokens) == 0 || title == "" {
		return 0
	}
	titleSet := make(map[string]struct{})
	for _, tok := range Tokenize(title) {
		titleSet[tok] = struct{}{}
	}
	hits := 0
	for _, tok := range queryTokens {
		if _, ok := titleSet[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// boostedHit is a keyword hit after the title boost.
type boostedHit struct {
	driven.KeywordHit
	boost float64
}

// applyTitleBoost multiplies each keyword score by the tier factor of its
// title overlap and re-sorts by the boosted score.
func applyTitleBoost(hits []driven.KeywordHit, queryTokens []string, cfg domain.RetrievalSettings) []boostedHit {
	out := make([]boostedHit, len(hits))
	for i, h := range hits {
		boost := cfg.BoostFor(TitleOverlap(queryTokens, h.Title))
		h.Score *= boost
		out[i] = boostedHit{KeywordHit: h, boost: boost}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// fusedHit accumulates reciprocal rank contributions for one chunk.
type fusedHit struct {
	chunkID      string
	documentID   string
	score        float64
	vectorRank   int
	keywordRank  int
	vectorScore  float64
	keywordScore float64
	boost        float64
}

func (f *fusedHit) bestRank() int {
	switch {
	case f.vectorRank == 0:
		return f.keywordRank
	case f.keywordRank == 0:
		return f.vectorRank
	default:
		return min(f.vectorRank, f.keywordRank)
	}
}

// fuseRRF combines the two ranked lists with reciprocal rank fusion:
// each list adds 1/(k+rank) with 1-based ranks.
func fuseRRF(vector []driven.VectorHit, keyword []boostedHit, k int) []*fusedHit {
	byID := make(map[string]*fusedHit, len(vector)+len(keyword))
	get := func(id string) *fusedHit {
		f, ok := byID[id]
		if !ok {
			f = &fusedHit{chunkID: id, boost: 1}
			byID[id] = f
		}
		return f
	}

	for i, h := range vector {
		f := get(h.ChunkID)
		if f.vectorRank != 0 {
			continue
		}
		f.vectorRank = i + 1
		f.vectorScore = h.Similarity
		f.score += 1 / float64(k+f.vectorRank)
	}
	for i, h := range keyword {
		f := get(h.ChunkID)
		if f.keywordRank != 0 {
			continue
		}
		f.keywordRank = i + 1
		f.keywordScore = h.Score
		f.boost = h.boost
		f.documentID = h.DocumentID
		f.score += 1 / float64(k+f.keywordRank)
	}

	out := make([]*fusedHit, 0, len(byID))
	for _, f := range byID {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if ri, rj := out[i].bestRank(), out[j].bestRank(); ri != rj {
			return ri < rj
		}
		return out[i].chunkID < out[j].chunkID
	})
	return out
}
