package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/vector/ivf"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// --- Mock implementations ---

// failingEmbedder fails every call.
type failingEmbedder struct {
	*recordingEmbedder
	err error
}

func (e failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, e.err
}

// reverseReranker reverses the candidate order.
type reverseReranker struct {
	calls int
}

func (r *reverseReranker) Rerank(_ context.Context, _ string, candidates []domain.SearchResult) ([]domain.SearchResult, error) {
	r.calls++
	out := make([]domain.SearchResult, len(candidates))
	for i := range candidates {
		out[len(candidates)-1-i] = candidates[i]
	}
	return out, nil
}

// droppingReranker returns all but the first candidate.
type droppingReranker struct{}

func (droppingReranker) Rerank(_ context.Context, _ string, candidates []domain.SearchResult) ([]domain.SearchResult, error) {
	return candidates[1:], nil
}

type erroringReranker struct{}

func (erroringReranker) Rerank(context.Context, string, []domain.SearchResult) ([]domain.SearchResult, error) {
	return nil, errors.New("reranker offline")
}

// --- Fusion ---

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"quarterly", "report", "pdf"}, Tokenize("Quarterly Report.pdf"))
	assert.Equal(t, []string{"q3", "2024"}, Tokenize("  Q3-2024 "))
	assert.Empty(t, Tokenize("--"))
}

func TestContentTokens(t *testing.T) {
	assert.Equal(t, []string{"quarterly", "revenue"}, ContentTokens("What is the quarterly revenue, quarterly?"))
	assert.Empty(t, ContentTokens("the of and"))
}

func TestTitleOverlap(t *testing.T) {
	query := ContentTokens("quarterly revenue")

	assert.InDelta(t, 0.5, TitleOverlap(query, "Quarterly Report.pdf"), 1e-9)
	assert.InDelta(t, 1.0, TitleOverlap(query, "revenue-quarterly.txt"), 1e-9)
	assert.Zero(t, TitleOverlap(query, "notes.txt"))
	assert.Zero(t, TitleOverlap(query, ""))
	assert.Zero(t, TitleOverlap(nil, "Quarterly Report.pdf"))
}

func TestApplyTitleBoost(t *testing.T) {
	cfg := domain.DefaultConfig().Retrieval
	hits := []driven.KeywordHit{
		{ChunkID: "notes", Title: "notes.txt", Score: 2.0},
		{ChunkID: "report", Title: "Quarterly Report.pdf", Score: 1.5},
		{ChunkID: "full", Title: "Quarterly Revenue.pdf", Score: 0.4},
	}

	boosted := applyTitleBoost(hits, ContentTokens("quarterly revenue"), cfg)

	require.Len(t, boosted, 3)
	assert.Equal(t, "report", boosted[0].ChunkID)
	assert.InDelta(t, 2.25, boosted[0].Score, 1e-9)
	assert.InDelta(t, 1.5, boosted[0].boost, 1e-9)
	assert.Equal(t, "notes", boosted[1].ChunkID)
	assert.InDelta(t, 1.0, boosted[1].boost, 1e-9)
	assert.Equal(t, "full", boosted[2].ChunkID)
	assert.InDelta(t, 1.6, boosted[2].Score, 1e-9)
	assert.InDelta(t, 4.0, boosted[2].boost, 1e-9)
}

func TestFuseRRF(t *testing.T) {
	vector := []driven.VectorHit{{ChunkID: "a", Similarity: 0.9}, {ChunkID: "b", Similarity: 0.8}}
	keyword := []boostedHit{
		{KeywordHit: driven.KeywordHit{ChunkID: "b", DocumentID: "doc-b", Score: 3}, boost: 1.5},
		{KeywordHit: driven.KeywordHit{ChunkID: "c", Score: 1}, boost: 1},
	}

	fused := fuseRRF(vector, keyword, 60)

	require.Len(t, fused, 3)
	assert.Equal(t, "b", fused[0].chunkID)
	assert.InDelta(t, 1.0/62+1.0/61, fused[0].score, 1e-12)
	assert.Equal(t, 2, fused[0].vectorRank)
	assert.Equal(t, 1, fused[0].keywordRank)
	assert.Equal(t, "doc-b", fused[0].documentID)
	assert.InDelta(t, 1.5, fused[0].boost, 1e-12)

	assert.Equal(t, "a", fused[1].chunkID)
	assert.InDelta(t, 1.0/61, fused[1].score, 1e-12)
	assert.Zero(t, fused[1].keywordRank)
	assert.InDelta(t, 1.0, fused[1].boost, 1e-12)

	assert.Equal(t, "c", fused[2].chunkID)
	assert.InDelta(t, 1.0/62, fused[2].score, 1e-12)
}

func TestFuseRRF_TiesAndDuplicates(t *testing.T) {
	vector := []driven.VectorHit{{ChunkID: "y"}, {ChunkID: "y"}}
	keyword := []boostedHit{{KeywordHit: driven.KeywordHit{ChunkID: "x"}, boost: 1}}

	fused := fuseRRF(vector, keyword, 60)

	require.Len(t, fused, 2)
	assert.Equal(t, "x", fused[0].chunkID, "equal score and rank fall back to chunk ID")
	assert.Equal(t, "y", fused[1].chunkID)
	assert.InDelta(t, 1.0/61, fused[1].score, 1e-12, "a repeated hit counts once")
}

func TestFuseRRF_Empty(t *testing.T) {
	assert.Empty(t, fuseRRF(nil, nil, 60))
}

// --- SearchService ---

func searchEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	ctx := context.Background()
	docA, chunksA := makeDoc(t, "alpha", 3)
	docB, chunksB := makeDoc(t, "beta", 2)
	require.NoError(t, env.storage.Store(ctx, docA, chunksA))
	require.NoError(t, env.storage.Store(ctx, docB, chunksB))
	return env
}

func resultIDs(results []domain.SearchResult) []string {
	ids := make([]string, len(results))
	for i := range results {
		ids[i] = results[i].ChunkID
	}
	return ids
}

func TestNewSearchService(t *testing.T) {
	env := newTestEnv(t)
	svc := NewSearchService(env.storage, nil, nil, domain.DefaultConfig().Retrieval)
	require.NotNil(t, svc)
}

func TestSearchService_EmptyQuery(t *testing.T) {
	env := searchEnv(t)
	svc := NewSearchService(env.storage, testEmbedder, nil, domain.DefaultConfig().Retrieval)

	for _, q := range []string{"", "   "} {
		resp, err := svc.Query(context.Background(), q, domain.QueryOptions{})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
		assert.Equal(t, domain.SearchModeHybrid, resp.Mode)
	}
}

func TestSearchService_Hybrid(t *testing.T) {
	env := searchEnv(t)
	svc := NewSearchService(env.storage, testEmbedder, nil, domain.DefaultConfig().Retrieval)

	resp, err := svc.Query(context.Background(), "alpha topic", domain.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SearchModeHybrid, resp.Mode)
	assert.Empty(t, resp.Degraded)
	require.Len(t, resp.Results, 5)

	top := resp.Results[0]
	assert.Equal(t, "alpha", top.DocumentID)
	assert.Equal(t, "alpha.txt", top.Title)
	assert.Equal(t, "/docs/alpha.txt", top.Path)
	assert.Positive(t, top.VectorRank)
	assert.Positive(t, top.KeywordRank)
	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Score, resp.Results[i].Score)
	}
}

func TestSearchService_TopK(t *testing.T) {
	env := searchEnv(t)
	cfg := domain.DefaultConfig().Retrieval
	cfg.DefaultTopK = 3
	svc := NewSearchService(env.storage, testEmbedder, nil, cfg)

	resp, err := svc.Query(context.Background(), "topic", domain.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)

	resp, err = svc.Query(context.Background(), "topic", domain.QueryOptions{TopK: 1})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestSearchService_Threshold(t *testing.T) {
	env := searchEnv(t)
	svc := NewSearchService(env.storage, testEmbedder, nil, domain.DefaultConfig().Retrieval)

	// Two first ranks with k=60 give at most 2/61.
	resp, err := svc.Query(context.Background(), "alpha", domain.QueryOptions{Threshold: 0.5})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	resp, err = svc.Query(context.Background(), "alpha", domain.QueryOptions{Threshold: 1e-6})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
}

func TestSearchService_KeywordOnlyWithoutEmbedder(t *testing.T) {
	env := searchEnv(t)
	svc := NewSearchService(env.storage, nil, nil, domain.DefaultConfig().Retrieval)

	resp, err := svc.Query(context.Background(), "beta", domain.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SearchModeKeywordOnly, resp.Mode)
	assert.Contains(t, resp.Degraded, domain.ErrEmbeddingUnavailable.Error())
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, "beta", r.DocumentID)
		assert.Zero(t, r.VectorRank)
	}
}

func TestSearchService_EmbeddingError_Degrades(t *testing.T) {
	env := searchEnv(t)
	embedder := failingEmbedder{recordingEmbedder: newRecordingEmbedder(), err: errors.New("model offline")}
	svc := NewSearchService(env.storage, embedder, nil, domain.DefaultConfig().Retrieval)

	resp, err := svc.Query(context.Background(), "beta", domain.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SearchModeKeywordOnly, resp.Mode)
	assert.Contains(t, resp.Degraded, "model offline")
	assert.NotEmpty(t, resp.Results)
}

func TestSearchService_VectorOnlyWithoutKeywordIndex(t *testing.T) {
	env := newTestEnv(t)
	storage, err := NewStorageLayer(env.docs(), nil, ivf.NewOpener(env.indexPath+".vo", testDim), env.indexPath+".vo")
	require.NoError(t, err)
	defer storage.Close() //nolint:errcheck
	doc, chunks := makeDoc(t, "alpha", 2)
	require.NoError(t, storage.Store(context.Background(), doc, chunks))

	svc := NewSearchService(storage, testEmbedder, nil, domain.DefaultConfig().Retrieval)
	resp, err := svc.Query(context.Background(), "alpha", domain.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SearchModeVectorOnly, resp.Mode)
	assert.Contains(t, resp.Degraded, domain.ErrKeywordIndexUnavailable.Error())
	assert.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.Zero(t, r.KeywordRank)
		assert.Positive(t, r.VectorRank)
	}
}

func TestSearchService_BothPathsFail(t *testing.T) {
	env := newTestEnv(t)
	storage, err := NewStorageLayer(env.docs(), nil, ivf.NewOpener(env.indexPath+".bf", testDim), "")
	require.NoError(t, err)
	defer storage.Close() //nolint:errcheck

	svc := NewSearchService(storage, nil, nil, domain.DefaultConfig().Retrieval)
	resp, err := svc.Query(context.Background(), "anything", domain.QueryOptions{})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, domain.ErrSearchUnavailable)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.ErrorIs(t, err, domain.ErrKeywordIndexUnavailable)
}

func TestSearchService_MissingChunkSkipped(t *testing.T) {
	env := searchEnv(t)
	// Leaves the index entries behind.
	require.NoError(t, env.docs().DeleteChunks(context.Background(), "alpha"))
	svc := NewSearchService(env.storage, testEmbedder, nil, domain.DefaultConfig().Retrieval)

	resp, err := svc.Query(context.Background(), "alpha topic", domain.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.Equal(t, "beta", r.DocumentID)
	}
}

func TestSearchService_Rerank(t *testing.T) {
	env := searchEnv(t)
	cfg := domain.DefaultConfig().Retrieval

	plain, err := NewSearchService(env.storage, testEmbedder, nil, cfg).
		Query(context.Background(), "alpha topic", domain.QueryOptions{})
	require.NoError(t, err)

	cfg.Rerank = true
	reranker := &reverseReranker{}
	reranked, err := NewSearchService(env.storage, testEmbedder, reranker, cfg).
		Query(context.Background(), "alpha topic", domain.QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, reranker.calls)
	want := resultIDs(plain.Results)
	for i, j := 0, len(want)-1; i < j; i, j = i+1, j-1 {
		want[i], want[j] = want[j], want[i]
	}
	assert.Equal(t, want, resultIDs(reranked.Results))
	assert.ElementsMatch(t, resultIDs(plain.Results), resultIDs(reranked.Results))
	for _, r := range reranked.Results {
		assert.True(t, r.Reranked)
	}
}

func TestSearchService_RerankDisabled(t *testing.T) {
	env := searchEnv(t)
	reranker := &reverseReranker{}
	svc := NewSearchService(env.storage, testEmbedder, reranker, domain.DefaultConfig().Retrieval)

	_, err := svc.Query(context.Background(), "alpha", domain.QueryOptions{})
	require.NoError(t, err)
	assert.Zero(t, reranker.calls)
}

func TestSearchService_RerankMayOnlyReorder(t *testing.T) {
	env := searchEnv(t)
	cfg := domain.DefaultConfig().Retrieval

	plain, err := NewSearchService(env.storage, testEmbedder, nil, cfg).
		Query(context.Background(), "alpha topic", domain.QueryOptions{})
	require.NoError(t, err)

	cfg.Rerank = true
	for name, reranker := range map[string]driven.Reranker{
		"drops a candidate": droppingReranker{},
		"fails":             erroringReranker{},
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := NewSearchService(env.storage, testEmbedder, reranker, cfg).
				Query(context.Background(), "alpha topic", domain.QueryOptions{})
			require.NoError(t, err)
			assert.Equal(t, resultIDs(plain.Results), resultIDs(resp.Results))
			for _, r := range resp.Results {
				assert.False(t, r.Reranked)
			}
		})
	}
}

func TestSamePermutation(t *testing.T) {
	a := []domain.SearchResult{{ChunkID: "1"}, {ChunkID: "2"}}
	assert.True(t, samePermutation(a, []domain.SearchResult{{ChunkID: "2"}, {ChunkID: "1"}}))
	assert.False(t, samePermutation(a, []domain.SearchResult{{ChunkID: "1"}}))
	assert.False(t, samePermutation(a, []domain.SearchResult{{ChunkID: "1"}, {ChunkID: "3"}}))
	assert.False(t, samePermutation(a, []domain.SearchResult{{ChunkID: "1"}, {ChunkID: "1"}}))
}
