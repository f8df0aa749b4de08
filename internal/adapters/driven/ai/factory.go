// Package ai provides factory functions for creating embedding and reranking adapters.
package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/embedding/hashing"
	ollamaembed "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/embedding/ratelimit"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/rerank/lexical"
	ollamarerank "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/rerank/ollama"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// CreateAndValidateEmbeddingService creates an embedding service and validates connectivity.
func CreateAndValidateEmbeddingService(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	svc, err := CreateEmbeddingService(settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w. Check the [embedding] section of the config",
			domain.ErrEmbeddingUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := svc.Ping(ctx); err != nil {
		svc.Close()
		return nil, fmt.Errorf("%w: service unreachable (%w)", domain.ErrEmbeddingUnavailable, err)
	}

	return svc, nil
}

// CreateEmbeddingService creates the embedding service for the configured
// provider, throttled when a rate limit is set.
func CreateEmbeddingService(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if settings == nil {
		return nil, fmt.Errorf("%w: no embedding settings", domain.ErrInvalidInput)
	}
	if !settings.Provider.IsValid() {
		return nil, fmt.Errorf("%w: embedding provider %q", domain.ErrUnsupportedType, settings.Provider)
	}
	if !settings.IsConfigured() {
		return nil, fmt.Errorf("%w: %s requires an API key", domain.ErrInvalidInput, settings.Provider)
	}

	var svc driven.EmbeddingService
	switch settings.Provider {
	case domain.EmbeddingProviderOllama:
		svc = createOllamaEmbedding(settings)

	case domain.EmbeddingProviderOpenAI:
		openai, err := createOpenAIEmbedding(settings)
		if err != nil {
			return nil, err
		}
		svc = openai

	case domain.EmbeddingProviderHashing:
		svc = hashing.NewEmbeddingService(settings.ResolvedDimensions())
	}

	return ratelimit.Wrap(svc, ratelimit.Config{
		RequestsPerSecond: settings.RateLimit,
		BurstSize:         settings.Burst,
	}), nil
}

// createOllamaEmbedding creates an Ollama embedding service.
func createOllamaEmbedding(settings *domain.EmbeddingSettings) driven.EmbeddingService {
	dimensions := settings.ResolvedDimensions()
	if dimensions == 0 {
		dimensions = ollamaembed.DefaultDimensions
	}

	return ollamaembed.NewEmbeddingService(ollamaembed.Config{
		BaseURL:    settings.BaseURL,
		Model:      settings.Model,
		Dimensions: dimensions,
	})
}

// createOpenAIEmbedding creates an OpenAI embedding service.
func createOpenAIEmbedding(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	baseURL := settings.BaseURL
	if baseURL == ollamaembed.DefaultBaseURL {
		// The shared default points at Ollama.
		baseURL = ""
	}
	return openaiembed.NewEmbeddingService(openaiembed.Config{
		APIKey:     settings.APIKey,
		BaseURL:    baseURL,
		Model:      settings.Model,
		Dimensions: settings.ResolvedDimensions(),
	})
}

// CreateReranker returns the configured reranker, or nil when reranking is off.
func CreateReranker(settings *domain.RetrievalSettings) (driven.Reranker, error) {
	if settings == nil || !settings.Rerank {
		return nil, nil
	}
	switch settings.Reranker {
	case domain.RerankerLexical, "":
		return lexical.New(), nil
	case domain.RerankerOllama:
		return ollamarerank.New(ollamarerank.Config{
			BaseURL: settings.RerankBaseURL,
			Model:   settings.RerankModel,
		}), nil
	default:
		return nil, fmt.Errorf("%w: reranker %q", domain.ErrUnsupportedType, settings.Reranker)
	}
}
