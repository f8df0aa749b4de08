package domain

// QueryOptions configures a hybrid query.
type QueryOptions struct {
	// TopK is the maximum number of results.
	TopK int

	// Threshold drops results whose fused score is below it. Zero disables.
	Threshold float64

	// Breadth overrides the configured vector search breadth when > 0.
	Breadth int
}

// SearchResult represents a single fused search hit.
// The rank and score fields explain how the hit was ranked.
type SearchResult struct {
	ChunkID    string
	DocumentID string
	Path       string
	Title      string
	Seq        int
	Content    string
	Metadata   map[string]string

	// Score is the fused score, or the reranker score when reranking ran.
	Score float64

	// VectorRank and KeywordRank are 1-based ranks in each list; 0 means absent.
	VectorRank  int
	KeywordRank int

	// VectorScore is the cosine similarity of the vector hit.
	VectorScore float64

	// KeywordScore is the keyword score after the title boost.
	KeywordScore float64

	// TitleBoost is the factor applied to the keyword score (1 when none).
	TitleBoost float64

	// Reranked is true when a reranker reordered this result.
	Reranked bool
}

// SearchMode reports which retrieval paths contributed to a query.
type SearchMode string

// Search modes.
const (
	SearchModeHybrid      SearchMode = "hybrid"
	SearchModeKeywordOnly SearchMode = "keyword_only"
	SearchModeVectorOnly  SearchMode = "vector_only"
)

// QueryResponse wraps results with the mode actually used.
type QueryResponse struct {
	Results []SearchResult
	Mode    SearchMode

	// Degraded holds the error of the path that failed, if any.
	Degraded string
}
