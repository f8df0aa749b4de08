package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

const unknownDescription = "Unknown"

// EmbeddingProvider identifies the service that computes embeddings.
type EmbeddingProvider string

// Available embedding providers.
const (
	// EmbeddingProviderOllama is a local Ollama instance.
	EmbeddingProviderOllama EmbeddingProvider = "ollama"

	// EmbeddingProviderOpenAI is the OpenAI cloud API.
	EmbeddingProviderOpenAI EmbeddingProvider = "openai"

	// EmbeddingProviderHashing is the built-in offline feature-hashing embedder.
	EmbeddingProviderHashing EmbeddingProvider = "hashing"
)

// IsValid returns true if the provider is recognised.
func (p EmbeddingProvider) IsValid() bool {
	switch p {
	case EmbeddingProviderOllama, EmbeddingProviderOpenAI, EmbeddingProviderHashing:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p EmbeddingProvider) RequiresAPIKey() bool {
	return p == EmbeddingProviderOpenAI
}

// Description returns a human-readable description of the provider.
func (p EmbeddingProvider) Description() string {
	switch p {
	case EmbeddingProviderOllama:
		return "Ollama (local)"
	case EmbeddingProviderOpenAI:
		return "OpenAI (cloud)"
	case EmbeddingProviderHashing:
		return "Feature hashing (offline)"
	default:
		return unknownDescription
	}
}

// DefaultEmbeddingModels returns default models for each provider.
func DefaultEmbeddingModels() map[EmbeddingProvider]string {
	return map[EmbeddingProvider]string{
		EmbeddingProviderOllama:  "nomic-embed-text",
		EmbeddingProviderOpenAI:  "text-embedding-3-small",
		EmbeddingProviderHashing: "hashing-v1",
	}
}

// EmbeddingDimensions returns the vector dimensions for known models.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		"nomic-embed-text":       768,
		"mxbai-embed-large":      1024,
		"all-minilm":             384,
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
		"hashing-v1":             256,
	}
}

// PipelineSettings holds indexing pipeline configuration.
type PipelineSettings struct {
	// ChunkWorkers is the number of concurrent chunking workers.
	ChunkWorkers int

	// EmbedWorkers is the size of the embedding worker pool.
	EmbedWorkers int

	// HandoffBuffer bounds each inter-stage channel.
	HandoffBuffer int

	// BatchSize is the checkpoint interval in chunks.
	BatchSize int

	// MaxRetries bounds attempts for transient embedding failures.
	MaxRetries int

	// RetryBackoff is the base delay between attempts.
	RetryBackoff time.Duration

	// DequeueTimeout is how long an idle chunking worker waits for work.
	DequeueTimeout time.Duration

	// ChunkSize and ChunkOverlap configure text splitting, in characters.
	ChunkSize    int
	ChunkOverlap int
}

// EmbeddingSettings holds embedding provider configuration.
type EmbeddingSettings struct {
	Provider EmbeddingProvider
	Model    string

	// BaseURL is the API endpoint (for Ollama, or an OpenAI-compatible server).
	BaseURL string

	// APIKey is the API key (for OpenAI).
	APIKey string

	// Dimensions overrides the known model dimension when > 0.
	Dimensions int

	// RateLimit is the maximum embedding requests per second. Zero disables.
	RateLimit float64
	Burst     int
}

// IsConfigured returns true if the embedding provider is set up.
func (e EmbeddingSettings) IsConfigured() bool {
	if !e.Provider.IsValid() {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// ResolvedDimensions returns the configured dimension or the model default.
func (e EmbeddingSettings) ResolvedDimensions() int {
	if e.Dimensions > 0 {
		return e.Dimensions
	}
	return EmbeddingDimensions()[e.Model]
}

// RerankerKind selects the reranking backend.
type RerankerKind string

// Available rerankers.
const (
	// RerankerLexical scores query term coverage and proximity offline.
	RerankerLexical RerankerKind = "lexical"

	// RerankerOllama asks a local Ollama model to order the candidates.
	RerankerOllama RerankerKind = "ollama"
)

// IsValid returns true if the reranker is recognised.
func (k RerankerKind) IsValid() bool {
	return k == RerankerLexical || k == RerankerOllama
}

// TitleBoostTier multiplies keyword scores when at least MinOverlap of the
// query tokens appear in the document title.
type TitleBoostTier struct {
	MinOverlap float64
	Factor     float64
}

// RetrievalSettings holds hybrid query configuration.
type RetrievalSettings struct {
	// RankConstant is the reciprocal rank fusion constant.
	RankConstant int

	// SearchBreadth is the number of index partitions probed per query.
	// It must be positive; low values cost recall.
	SearchBreadth int

	// Candidates is how many hits each retrieval path contributes.
	Candidates int

	// TitleBoostTiers are evaluated highest MinOverlap first.
	TitleBoostTiers []TitleBoostTier

	// Rerank enables the reranking pass over the top fused candidates.
	Rerank           bool
	RerankCandidates int
	Reranker         RerankerKind

	// RerankModel and RerankBaseURL configure the Ollama reranker.
	RerankModel   string
	RerankBaseURL string

	// DefaultTopK is used when a query does not set TopK.
	DefaultTopK int
}

// BoostFor returns the factor for an overlap fraction, or 1 when no tier matches.
func (r RetrievalSettings) BoostFor(overlap float64) float64 {
	best := 1.0
	bestOverlap := -1.0
	for _, tier := range r.TitleBoostTiers {
		if overlap >= tier.MinOverlap && tier.MinOverlap > bestOverlap {
			best = tier.Factor
			bestOverlap = tier.MinOverlap
		}
	}
	return best
}

// IndexSettings configures the approximate vector index.
type IndexSettings struct {
	// Partitions is the number of IVF partitions trained; zero picks sqrt(n).
	Partitions int

	// TrainThreshold is the vector count below which searches stay exhaustive.
	TrainThreshold int
}

// IntegritySettings configures the integrity service.
type IntegritySettings struct {
	// OnStartup runs a repairing check when the services start.
	OnStartup bool

	// Interval is the period of the scheduled check. Zero disables it.
	Interval time.Duration
}

// WatchSettings configures the file watcher.
type WatchSettings struct {
	Paths    []string
	Debounce time.Duration
}

// Config holds all indexer settings.
type Config struct {
	Pipeline  PipelineSettings
	Embedding EmbeddingSettings
	Retrieval RetrievalSettings
	Index     IndexSettings
	Integrity IntegritySettings
	Watch     WatchSettings
	Scheduler SchedulerConfig
}

// DefaultConfig returns settings with working defaults.
// The embedding provider defaults to the offline hashing embedder so the
// indexer runs without any external service.
func DefaultConfig() Config {
	return Config{
		Pipeline: PipelineSettings{
			ChunkWorkers:   1,
			EmbedWorkers:   4,
			HandoffBuffer:  16,
			BatchSize:      16,
			MaxRetries:     3,
			RetryBackoff:   500 * time.Millisecond,
			DequeueTimeout: time.Second,
			ChunkSize:      1000,
			ChunkOverlap:   200,
		},
		Embedding: EmbeddingSettings{
			Provider:  EmbeddingProviderHashing,
			Model:     DefaultEmbeddingModels()[EmbeddingProviderHashing],
			BaseURL:   "http://localhost:11434",
			RateLimit: 0,
			Burst:     1,
		},
		Retrieval: RetrievalSettings{
			RankConstant:  60,
			SearchBreadth: 8,
			Candidates:    50,
			TitleBoostTiers: []TitleBoostTier{
				{MinOverlap: 0.5, Factor: 1.5},
				{MinOverlap: 0.75, Factor: 2.5},
				{MinOverlap: 1.0, Factor: 4.0},
			},
			Rerank:           false,
			RerankCandidates: 20,
			Reranker:         RerankerLexical,
			RerankModel:      "llama3.2",
			RerankBaseURL:    "http://localhost:11434",
			DefaultTopK:      10,
		},
		Index: IndexSettings{
			Partitions:     0,
			TrainThreshold: 256,
		},
		Integrity: IntegritySettings{
			OnStartup: true,
			Interval:  6 * time.Hour,
		},
		Watch: WatchSettings{
			Debounce: 500 * time.Millisecond,
		},
		Scheduler: DefaultSchedulerConfig(),
	}
}

// Validate checks the settings for values that would break the pipeline
// or silently degrade retrieval.
func (c *Config) Validate() error {
	var errs []error
	p := c.Pipeline
	if p.ChunkWorkers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.chunk_workers must be >= 1, got %d", p.ChunkWorkers))
	}
	if p.EmbedWorkers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.embed_workers must be >= 1, got %d", p.EmbedWorkers))
	}
	if p.HandoffBuffer < 1 {
		errs = append(errs, fmt.Errorf("pipeline.handoff_buffer must be >= 1, got %d", p.HandoffBuffer))
	}
	if p.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("pipeline.batch_size must be >= 1, got %d", p.BatchSize))
	}
	if p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_retries must be >= 0, got %d", p.MaxRetries))
	}
	if p.ChunkOverlap >= p.ChunkSize {
		errs = append(errs, fmt.Errorf("pipeline.chunk_overlap (%d) must be below chunk_size (%d)", p.ChunkOverlap, p.ChunkSize))
	}
	r := c.Retrieval
	if r.SearchBreadth < 1 {
		errs = append(errs, fmt.Errorf("retrieval.search_breadth must be >= 1, got %d", r.SearchBreadth))
	}
	if r.RankConstant < 1 {
		errs = append(errs, fmt.Errorf("retrieval.rank_constant must be >= 1, got %d", r.RankConstant))
	}
	if r.Candidates < 1 {
		errs = append(errs, fmt.Errorf("retrieval.candidates must be >= 1, got %d", r.Candidates))
	}
	for _, tier := range r.TitleBoostTiers {
		if tier.MinOverlap <= 0 || tier.MinOverlap > 1 || tier.Factor < 1 {
			errs = append(errs, fmt.Errorf("invalid title boost tier %+v", tier))
		}
	}
	if r.Rerank && !r.Reranker.IsValid() {
		errs = append(errs, fmt.Errorf("%w: reranker %q", ErrUnsupportedType, r.Reranker))
	}
	if !c.Embedding.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("%w: embedding provider %q", ErrUnsupportedType, c.Embedding.Provider))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// SortTiers orders title boost tiers by ascending MinOverlap.
func SortTiers(tiers []TitleBoostTier) {
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MinOverlap < tiers[j].MinOverlap
	})
}
