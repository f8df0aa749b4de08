package ai

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/embedding/ratelimit"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/rerank/lexical"
	ollamarerank "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/rerank/ollama"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestCreateEmbeddingService(t *testing.T) {
	tests := []struct {
		name     string
		settings *domain.EmbeddingSettings
		wantErr  error
		wantDims int
		model    string
	}{
		{
			name:     "nil settings",
			settings: nil,
			wantErr:  domain.ErrInvalidInput,
		},
		{
			name:     "unknown provider",
			settings: &domain.EmbeddingSettings{Provider: "anthropic"},
			wantErr:  domain.ErrUnsupportedType,
		},
		{
			name:     "openai without key",
			settings: &domain.EmbeddingSettings{Provider: domain.EmbeddingProviderOpenAI},
			wantErr:  domain.ErrInvalidInput,
		},
		{
			name: "ollama provider creates service",
			settings: &domain.EmbeddingSettings{
				Provider: domain.EmbeddingProviderOllama,
				BaseURL:  "http://localhost:11434",
				Model:    "all-minilm",
			},
			wantDims: 384,
			model:    "all-minilm",
		},
		{
			name: "openai provider creates service",
			settings: &domain.EmbeddingSettings{
				Provider: domain.EmbeddingProviderOpenAI,
				APIKey:   "test-key",
				Model:    "text-embedding-3-small",
			},
			wantDims: 1536,
			model:    "text-embedding-3-small",
		},
		{
			name: "hashing provider honours dimension override",
			settings: &domain.EmbeddingSettings{
				Provider:   domain.EmbeddingProviderHashing,
				Model:      "hashing-v1",
				Dimensions: 64,
			},
			wantDims: 64,
			model:    "hashing-v1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := CreateEmbeddingService(tt.settings)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, svc)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDims, svc.Dimensions())
			assert.Equal(t, tt.model, svc.ModelName())
		})
	}
}

func TestCreateEmbeddingService_RateLimited(t *testing.T) {
	svc, err := CreateEmbeddingService(&domain.EmbeddingSettings{
		Provider:  domain.EmbeddingProviderHashing,
		RateLimit: 5,
		Burst:     2,
	})
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.EmbeddingService{}, svc)
}

func TestCreateAndValidateEmbeddingService(t *testing.T) {
	settings := domain.DefaultConfig().Embedding
	svc, err := CreateAndValidateEmbeddingService(&settings)
	require.NoError(t, err)
	assert.Equal(t, 256, svc.Dimensions())

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer down.Close()

	_, err = CreateAndValidateEmbeddingService(&domain.EmbeddingSettings{
		Provider: domain.EmbeddingProviderOllama,
		BaseURL:  down.URL,
	})
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestCreateReranker(t *testing.T) {
	r, err := CreateReranker(nil)
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = CreateReranker(&domain.RetrievalSettings{Rerank: false, Reranker: domain.RerankerOllama})
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = CreateReranker(&domain.RetrievalSettings{Rerank: true, Reranker: domain.RerankerLexical})
	require.NoError(t, err)
	assert.IsType(t, &lexical.Reranker{}, r)

	r, err = CreateReranker(&domain.RetrievalSettings{Rerank: true, Reranker: domain.RerankerOllama, RerankModel: "qwen"})
	require.NoError(t, err)
	require.IsType(t, &ollamarerank.Reranker{}, r)
	assert.Equal(t, "qwen", r.(*ollamarerank.Reranker).ModelName())

	_, err = CreateReranker(&domain.RetrievalSettings{Rerank: true, Reranker: "cohere"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}
