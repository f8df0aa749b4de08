package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// Ensure SearchService implements the interface.
var _ driving.QueryService = (*SearchService)(nil)

// SearchService answers hybrid queries: approximate vector search and
// keyword scoring run in parallel and are fused by reciprocal rank.
type SearchService struct {
	storage  *StorageLayer
	embedder driven.EmbeddingService
	reranker driven.Reranker
	cfg      domain.RetrievalSettings
}

// NewSearchService creates a search service. The embedder and reranker
// may be nil; without an embedder queries run keyword only.
func NewSearchService(
	storage *StorageLayer,
	embedder driven.EmbeddingService,
	reranker driven.Reranker,
	cfg domain.RetrievalSettings,
) *SearchService {
	return &SearchService{
		storage:  storage,
		embedder: embedder,
		reranker: reranker,
		cfg:      cfg,
	}
}

// Query runs a hybrid query. When one retrieval path fails the other
// path's results are returned and the response reports the degradation.
func (s *SearchService) Query(ctx context.Context, text string, opts domain.QueryOptions) (*domain.QueryResponse, error) {
	logger.Section("Query")
	text = strings.TrimSpace(text)
	if text == "" {
		return &domain.QueryResponse{Mode: domain.SearchModeHybrid}, nil
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK <= 0 {
		topK = 10
	}
	breadth := opts.Breadth
	if breadth <= 0 {
		breadth = s.cfg.SearchBreadth
	}
	candidates := max(s.cfg.Candidates, topK)
	logger.Debug("query %q: topK=%d candidates=%d breadth=%d", text, topK, candidates, breadth)

	var (
		wg          sync.WaitGroup
		vectorHits  []driven.VectorHit
		keywordHits []driven.KeywordHit
		vectorErr   error
		keywordErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorHits, vectorErr = s.vectorSearch(ctx, text, candidates, breadth)
	}()
	go func() {
		defer wg.Done()
		keywordHits, keywordErr = s.keywordSearch(ctx, text, candidates)
	}()
	wg.Wait()

	resp := &domain.QueryResponse{Mode: domain.SearchModeHybrid}
	switch {
	case vectorErr != nil && keywordErr != nil:
		return nil, fmt.Errorf("%w: %w", domain.ErrSearchUnavailable, errors.Join(vectorErr, keywordErr))
	case vectorErr != nil:
		logger.Warn("vector search failed, returning keyword results: %v", vectorErr)
		resp.Mode = domain.SearchModeKeywordOnly
		resp.Degraded = vectorErr.Error()
	case keywordErr != nil:
		logger.Warn("keyword search failed, returning vector results: %v", keywordErr)
		resp.Mode = domain.SearchModeVectorOnly
		resp.Degraded = keywordErr.Error()
	}
	logger.Debug("vector hits: %d, keyword hits: %d", len(vectorHits), len(keywordHits))

	boosted := applyTitleBoost(keywordHits, ContentTokens(text), s.cfg)
	fused := fuseRRF(vectorHits, boosted, s.cfg.RankConstant)

	if opts.Threshold > 0 {
		kept := fused[:0]
		for _, f := range fused {
			if f.score >= opts.Threshold {
				kept = append(kept, f)
			}
		}
		fused = kept
	}

	want := topK
	rerank := s.reranker != nil && s.cfg.Rerank
	if rerank {
		want = max(topK, s.cfg.RerankCandidates)
	}
	results := s.hydrate(ctx, fused, want)

	if rerank && len(results) > 1 {
		results = s.rerank(ctx, text, results)
	}
	if len(results) > topK {
		results = results[:topK]
	}
	resp.Results = results
	return resp, nil
}

func (s *SearchService) vectorSearch(ctx context.Context, text string, k, breadth int) ([]driven.VectorHit, error) {
	if s.embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.storage.SearchVectors(ctx, vec, k, breadth)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}

func (s *SearchService) keywordSearch(ctx context.Context, text string, limit int) ([]driven.KeywordHit, error) {
	keywords := s.storage.Keywords()
	if keywords == nil {
		return nil, domain.ErrKeywordIndexUnavailable
	}
	hits, err := keywords.Search(ctx, text, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return hits, nil
}

// hydrate loads chunk and document details for up to limit fused hits.
// Hits whose chunk is gone are skipped; the integrity check removes them.
func (s *SearchService) hydrate(ctx context.Context, fused []*fusedHit, limit int) []domain.SearchResult {
	docs := s.storage.Documents()
	cache := make(map[string]*domain.Document)
	results := make([]domain.SearchResult, 0, min(limit, len(fused)))

	for _, f := range fused {
		if len(results) >= limit {
			break
		}
		chunk, err := docs.GetChunk(ctx, f.chunkID)
		if err != nil {
			logger.Debug("skipping hit %s: %v", f.chunkID, err)
			continue
		}
		doc, ok := cache[chunk.DocumentID]
		if !ok {
			doc, err = docs.GetDocument(ctx, chunk.DocumentID)
			if err != nil {
				logger.Debug("skipping hit %s: document %s: %v", f.chunkID, chunk.DocumentID, err)
				continue
			}
			cache[chunk.DocumentID] = doc
		}
		results = append(results, domain.SearchResult{
			ChunkID:      chunk.ID,
			DocumentID:   doc.ID,
			Path:         doc.Path,
			Title:        doc.Title,
			Seq:          chunk.Seq,
			Content:      chunk.Content,
			Metadata:     chunk.Metadata,
			Score:        f.score,
			VectorRank:   f.vectorRank,
			KeywordRank:  f.keywordRank,
			VectorScore:  f.vectorScore,
			KeywordScore: f.keywordScore,
			TitleBoost:   f.boost,
		})
	}
	return results
}

// rerank reorders results. A reranker that changes membership is ignored.
func (s *SearchService) rerank(ctx context.Context, text string, results []domain.SearchResult) []domain.SearchResult {
	reordered, err := s.reranker.Rerank(ctx, text, append([]domain.SearchResult(nil), results...))
	if err != nil {
		logger.Warn("rerank failed, keeping fused order: %v", err)
		return results
	}
	if !samePermutation(results, reordered) {
		logger.Warn("reranker changed the candidate set, keeping fused order")
		return results
	}
	for i := range reordered {
		reordered[i].Reranked = true
	}
	return reordered
}

func samePermutation(a, b []domain.SearchResult) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for i := range a {
		counts[a[i].ChunkID]++
	}
	for i := range b {
		counts[b[i].ChunkID]--
		if counts[b[i].ChunkID] < 0 {
			return false
		}
	}
	return true
}
