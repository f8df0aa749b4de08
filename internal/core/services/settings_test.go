package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestNewSettingsService(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore())
	require.NotNil(t, service)
}

func TestSettingsService_Get_ReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(memory.NewConfigStore())
	require.NoError(t, err)

	defaults := domain.DefaultConfig()
	assert.Equal(t, defaults.Pipeline, cfg.Pipeline)
	assert.Equal(t, defaults.Embedding, cfg.Embedding)
	assert.Equal(t, defaults.Retrieval.SearchBreadth, cfg.Retrieval.SearchBreadth)
	assert.Equal(t, defaults.Retrieval.TitleBoostTiers, cfg.Retrieval.TitleBoostTiers)
	assert.Equal(t, 6*time.Hour, cfg.Scheduler.GetTaskConfig(domain.TaskIDIntegrityCheck).Interval)
}

func TestSettingsService_Get_ReturnsStoredValues(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{
		"pipeline.embed_workers":   int64(8),
		"pipeline.retry_backoff":   "250ms",
		"embedding.rate_limit":     2.5,
		"retrieval.search_breadth": "3",
		"retrieval.rerank":         true,
		"watch.paths":              []any{"/notes", "/papers"},
		"watch.debounce":           int64(2),
		"index.train_threshold":    64,
	})

	cfg, err := LoadConfig(store)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Pipeline.EmbedWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.RetryBackoff)
	assert.InDelta(t, 2.5, cfg.Embedding.RateLimit, 1e-9)
	assert.Equal(t, 3, cfg.Retrieval.SearchBreadth)
	assert.True(t, cfg.Retrieval.Rerank)
	assert.Equal(t, []string{"/notes", "/papers"}, cfg.Watch.Paths)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
	assert.Equal(t, 64, cfg.Index.TrainThreshold)
}

func TestSettingsService_Get_RejectsMalformedValue(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{"retrieval.search_breadth": "wide"})

	_, err := LoadConfig(store)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "retrieval.search_breadth")
}

func TestSettingsService_Get_RejectsInvalidConfig(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{"retrieval.search_breadth": 0})

	_, err := LoadConfig(store)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSettingsService_Get_TitleBoostTiers(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{"tables", []any{
			map[string]any{"min_overlap": 0.75, "factor": int64(3)},
			map[string]any{"min_overlap": 0.5, "factor": 1.25},
		}},
		{"text", "0.75:3, 0.5:1.25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewConfigStore(map[string]any{KeyTitleBoostTiers: tt.raw})

			cfg, err := LoadConfig(store)
			require.NoError(t, err)
			assert.Equal(t, []domain.TitleBoostTier{
				{MinOverlap: 0.5, Factor: 1.25},
				{MinOverlap: 0.75, Factor: 3},
			}, cfg.Retrieval.TitleBoostTiers)
		})
	}
}

func TestSettingsService_Get_MalformedTiers(t *testing.T) {
	for _, raw := range []any{"0.5", "x:2", []any{"nope"}, []any{map[string]any{"factor": 2.0}}, 42} {
		store := memory.NewConfigStore(map[string]any{KeyTitleBoostTiers: raw})
		_, err := LoadConfig(store)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "%v", raw)
	}
}

func TestSettingsService_Get_IntegrityIntervalDrivesScheduler(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{KeyIntegrityInterval: "30m"})
	cfg, err := LoadConfig(store)
	require.NoError(t, err)
	task := cfg.Scheduler.GetTaskConfig(domain.TaskIDIntegrityCheck)
	assert.True(t, task.Enabled)
	assert.Equal(t, 30*time.Minute, task.Interval)

	store = memory.NewConfigStore(map[string]any{KeyIntegrityInterval: "0s"})
	cfg, err = LoadConfig(store)
	require.NoError(t, err)
	assert.False(t, cfg.Scheduler.GetTaskConfig(domain.TaskIDIntegrityCheck).Enabled)
}

func TestSettingsService_Get_ResumeInterval(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{KeyResumeScanInterval: "1m"})
	cfg, err := LoadConfig(store)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Scheduler.GetTaskConfig(domain.TaskIDResumeScan).Interval)
}

func TestSettingsService_Set(t *testing.T) {
	store := memory.NewConfigStore()
	service := NewSettingsService(store)

	require.NoError(t, service.Set("retrieval.search_breadth", "4"))
	require.NoError(t, service.Set("watch.debounce", "2s"))
	require.NoError(t, service.Set("watch.paths", "/a, /b"))
	require.NoError(t, service.Set(KeyTitleBoostTiers, "0.5:2"))

	cfg, err := service.Get()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Retrieval.SearchBreadth)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Watch.Paths)
	assert.Equal(t, []domain.TitleBoostTier{{MinOverlap: 0.5, Factor: 2}}, cfg.Retrieval.TitleBoostTiers)

	// Durations are stored as text.
	assert.Equal(t, "2s", store.GetString("watch.debounce"))
}

func TestSettingsService_Set_UnknownKey(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore())
	err := service.Set("retrieval.magic", "1")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSettingsService_Set_WrongType(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore())
	err := service.Set("retrieval.rerank", "sometimes")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "boolean")
}

func TestSettingsService_Set_FailsValidation(t *testing.T) {
	store := memory.NewConfigStore()
	service := NewSettingsService(store)

	err := service.Set("retrieval.search_breadth", "0")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, ok := store.Get("retrieval.search_breadth")
	assert.False(t, ok, "rejected values are not persisted")
}

func TestSettingsService_Set_ProviderResetsModel(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore())

	require.NoError(t, service.Set(KeyEmbeddingProvider, "ollama"))
	cfg, err := service.Get()
	require.NoError(t, err)
	assert.Equal(t, domain.EmbeddingProviderOllama, cfg.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)

	err = service.Set(KeyEmbeddingProvider, "carrier-pigeon")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSettingsService_Entries(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore(map[string]any{
		KeyEmbeddingAPIKey: "sk-secret",
	}))

	entries, err := service.Entries()
	require.NoError(t, err)
	require.Len(t, entries, len(ConfigKeys()))

	values := make(map[string]string, len(entries))
	for _, e := range entries {
		values[e[0]] = e[1]
	}
	assert.Equal(t, "********", values[KeyEmbeddingAPIKey])
	assert.Equal(t, "8", values["retrieval.search_breadth"])
	assert.Equal(t, "0.5:1.5,0.75:2.5,1:4", values[KeyTitleBoostTiers])
	assert.Equal(t, "6h0m0s", values[KeyIntegrityInterval])
}

func TestConfigKeys_Sorted(t *testing.T) {
	keys := ConfigKeys()
	assert.IsNonDecreasing(t, keys)
	assert.Contains(t, keys, "pipeline.embed_workers")
}
