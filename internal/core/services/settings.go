package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

type valueKind int

const (
	kindInt valueKind = iota
	kindFloat
	kindBool
	kindString
	kindDuration
	kindList
	kindTiers
)

func (k valueKind) String() string {
	switch k {
	case kindInt:
		return "integer"
	case kindFloat:
		return "number"
	case kindBool:
		return "boolean"
	case kindDuration:
		return "duration"
	case kindList:
		return "list"
	case kindTiers:
		return "tiers"
	default:
		return "string"
	}
}

// configField binds a config key to a field of domain.Config.
type configField struct {
	key   string
	kind  valueKind
	apply func(c *domain.Config, v any)
	get   func(c *domain.Config) any
}

func field[T any](key string, kind valueKind, ptr func(*domain.Config) *T) configField {
	return configField{
		key:   key,
		kind:  kind,
		apply: func(c *domain.Config, v any) { *ptr(c) = v.(T) },
		get:   func(c *domain.Config) any { return *ptr(c) },
	}
}

// Config keys.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	KeyEmbeddingProvider   = "embedding.provider"
	KeyEmbeddingAPIKey     = "embedding.api_key"
	KeyTitleBoostTiers     = "retrieval.title_boost_tiers"
	KeyIntegrityInterval   = "integrity.interval"
	KeySchedulerEnabled    = "scheduler.enabled"
	KeyResumeScanInterval  = "scheduler.resume_interval"
	maskedValuePlaceholder = "********"
)

var configFields = []configField{
	field("pipeline.chunk_workers", kindInt, func(c *domain.Config) *int { return &c.Pipeline.ChunkWorkers }),
	field("pipeline.embed_workers", kindInt, func(c *domain.Config) *int { return &c.Pipeline.EmbedWorkers }),
	field("pipeline.handoff_buffer", kindInt, func(c *domain.Config) *int { return &c.Pipeline.HandoffBuffer }),
	field("pipeline.batch_size", kindInt, func(c *domain.Config) *int { return &c.Pipeline.BatchSize }),
	field("pipeline.max_retries", kindInt, func(c *domain.Config) *int { return &c.Pipeline.MaxRetries }),
	field("pipeline.retry_backoff", kindDuration, func(c *domain.Config) *time.Duration { return &c.Pipeline.RetryBackoff }),
	field("pipeline.dequeue_timeout", kindDuration, func(c *domain.Config) *time.Duration { return &c.Pipeline.DequeueTimeout }),
	field("pipeline.chunk_size", kindInt, func(c *domain.Config) *int { return &c.Pipeline.ChunkSize }),
	field("pipeline.chunk_overlap", kindInt, func(c *domain.Config) *int { return &c.Pipeline.ChunkOverlap }),

	{
		key:  KeyEmbeddingProvider,
		kind: kindString,
		apply: func(c *domain.Config, v any) {
			provider := domain.EmbeddingProvider(v.(string))
			if provider != c.Embedding.Provider {
				c.Embedding.Model = domain.DefaultEmbeddingModels()[provider]
			}
			c.Embedding.Provider = provider
		},
		get: func(c *domain.Config) any { return string(c.Embedding.Provider) },
	},
	field("embedding.model", kindString, func(c *domain.Config) *string { return &c.Embedding.Model }),
	field("embedding.base_url", kindString, func(c *domain.Config) *string { return &c.Embedding.BaseURL }),
	field(KeyEmbeddingAPIKey, kindString, func(c *domain.Config) *string { return &c.Embedding.APIKey }),
	field("embedding.dimensions", kindInt, func(c *domain.Config) *int { return &c.Embedding.Dimensions }),
	field("embedding.rate_limit", kindFloat, func(c *domain.Config) *float64 { return &c.Embedding.RateLimit }),
	field("embedding.burst", kindInt, func(c *domain.Config) *int { return &c.Embedding.Burst }),

	field("retrieval.rank_constant", kindInt, func(c *domain.Config) *int { return &c.Retrieval.RankConstant }),
	field("retrieval.search_breadth", kindInt, func(c *domain.Config) *int { return &c.Retrieval.SearchBreadth }),
	field("retrieval.candidates", kindInt, func(c *domain.Config) *int { return &c.Retrieval.Candidates }),
	field("retrieval.rerank", kindBool, func(c *domain.Config) *bool { return &c.Retrieval.Rerank }),
	field("retrieval.rerank_candidates", kindInt, func(c *domain.Config) *int { return &c.Retrieval.RerankCandidates }),
	{
		key:   "retrieval.reranker",
		kind:  kindString,
		apply: func(c *domain.Config, v any) { c.Retrieval.Reranker = domain.RerankerKind(v.(string)) },
		get:   func(c *domain.Config) any { return string(c.Retrieval.Reranker) },
	},
	field("retrieval.rerank_model", kindString, func(c *domain.Config) *string { return &c.Retrieval.RerankModel }),
	field("retrieval.rerank_base_url", kindString, func(c *domain.Config) *string { return &c.Retrieval.RerankBaseURL }),
	field("retrieval.default_top_k", kindInt, func(c *domain.Config) *int { return &c.Retrieval.DefaultTopK }),
	field(KeyTitleBoostTiers, kindTiers, func(c *domain.Config) *[]domain.TitleBoostTier { return &c.Retrieval.TitleBoostTiers }),

	field("index.partitions", kindInt, func(c *domain.Config) *int { return &c.Index.Partitions }),
	field("index.train_threshold", kindInt, func(c *domain.Config) *int { return &c.Index.TrainThreshold }),

	field("integrity.on_startup", kindBool, func(c *domain.Config) *bool { return &c.Integrity.OnStartup }),
	field(KeyIntegrityInterval, kindDuration, func(c *domain.Config) *time.Duration { return &c.Integrity.Interval }),

	field("watch.paths", kindList, func(c *domain.Config) *[]string { return &c.Watch.Paths }),
	field("watch.debounce", kindDuration, func(c *domain.Config) *time.Duration { return &c.Watch.Debounce }),

	field(KeySchedulerEnabled, kindBool, func(c *domain.Config) *bool { return &c.Scheduler.Enabled }),
	{
		key:  KeyResumeScanInterval,
		kind: kindDuration,
		apply: func(c *domain.Config, v any) {
			setTaskInterval(c, domain.TaskIDResumeScan, v.(time.Duration))
		},
		get: func(c *domain.Config) any {
			return c.Scheduler.GetTaskConfig(domain.TaskIDResumeScan).Interval
		},
	},
}

func lookupField(key string) (configField, bool) {
	for _, f := range configFields {
		if f.key == key {
			return f, true
		}
	}
	return configField{}, false
}

// ConfigKeys returns every recognised key, sorted.
func ConfigKeys() []string {
	keys := make([]string, len(configFields))
	for i, f := range configFields {
		keys[i] = f.key
	}
	sort.Strings(keys)
	return keys
}

// SettingsService reads and writes the typed configuration.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// LoadConfig reads a validated configuration from store, starting from
// domain.DefaultConfig.
func LoadConfig(store driven.ConfigStore) (*domain.Config, error) {
	return NewSettingsService(store).Get()
}

// Get returns the configuration: defaults overlaid with stored values.
// Values of the wrong type are reported rather than silently defaulted.
func (s *SettingsService) Get() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	for _, f := range configFields {
		raw, ok := s.configStore.Get(f.key)
		if !ok {
			continue
		}
		v, err := s.read(f, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrInvalidInput, f.key, err)
		}
		f.apply(&cfg, v)
	}
	setTaskInterval(&cfg, domain.TaskIDIntegrityCheck, cfg.Integrity.Interval)
	domain.SortTiers(cfg.Retrieval.TitleBoostTiers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Set parses value for key, validates the resulting configuration and
// persists it.
func (s *SettingsService) Set(key, value string) error {
	f, ok := lookupField(key)
	if !ok {
		return fmt.Errorf("%w: unknown config key %q", domain.ErrInvalidInput, key)
	}
	v, err := parseValue(f.kind, value)
	if err != nil {
		return fmt.Errorf("%w: %s expects a %s: %w", domain.ErrInvalidInput, key, f.kind, err)
	}

	cfg, err := s.Get()
	if err != nil {
		return err
	}
	f.apply(cfg, v)
	setTaskInterval(cfg, domain.TaskIDIntegrityCheck, cfg.Integrity.Interval)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := s.configStore.Set(key, storable(v)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Entries returns every key with its effective value as text. Secrets are
// masked.
func (s *SettingsService) Entries() ([][2]string, error) {
	cfg, err := s.Get()
	if err != nil {
		return nil, err
	}
	out := make([][2]string, 0, len(configFields))
	for _, key := range ConfigKeys() {
		f, _ := lookupField(key)
		text := formatValue(f.get(cfg))
		if key == KeyEmbeddingAPIKey && text != "" {
			text = maskedValuePlaceholder
		}
		out = append(out, [2]string{key, text})
	}
	return out, nil
}

// read converts a stored value using the store's typed getters.
func (s *SettingsService) read(f configField, raw any) (any, error) {
	switch f.kind {
	case kindInt:
		if str, ok := raw.(string); ok {
			return strconv.Atoi(strings.TrimSpace(str))
		}
		return s.configStore.GetInt(f.key), nil
	case kindFloat:
		if str, ok := raw.(string); ok {
			return strconv.ParseFloat(strings.TrimSpace(str), 64)
		}
		return s.configStore.GetFloat(f.key), nil
	case kindBool:
		if str, ok := raw.(string); ok {
			return strconv.ParseBool(strings.TrimSpace(str))
		}
		return s.configStore.GetBool(f.key), nil
	case kindDuration:
		if str, ok := raw.(string); ok {
			return time.ParseDuration(strings.TrimSpace(str))
		}
		return s.configStore.GetDuration(f.key), nil
	case kindList:
		return s.configStore.GetStringSlice(f.key), nil
	case kindTiers:
		return parseTiers(raw)
	default:
		return s.configStore.GetString(f.key), nil
	}
}

func parseValue(kind valueKind, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch kind {
	case kindInt:
		return strconv.Atoi(value)
	case kindFloat:
		return strconv.ParseFloat(value, 64)
	case kindBool:
		return strconv.ParseBool(value)
	case kindDuration:
		return time.ParseDuration(value)
	case kindList:
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	case kindTiers:
		return parseTiers(value)
	default:
		return value, nil
	}
}

// parseTiers accepts a TOML array of tables with min_overlap and factor,
// or the text form "0.5:1.5,0.75:2.5".
func parseTiers(raw any) ([]domain.TitleBoostTier, error) {
	switch v := raw.(type) {
	case []domain.TitleBoostTier:
		return v, nil
	case string:
		var tiers []domain.TitleBoostTier
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			overlap, factor, ok := strings.Cut(part, ":")
			if !ok {
				return nil, fmt.Errorf("tier %q is not overlap:factor", part)
			}
			o, err := strconv.ParseFloat(strings.TrimSpace(overlap), 64)
			if err != nil {
				return nil, fmt.Errorf("tier %q: %w", part, err)
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(factor), 64)
			if err != nil {
				return nil, fmt.Errorf("tier %q: %w", part, err)
			}
			tiers = append(tiers, domain.TitleBoostTier{MinOverlap: o, Factor: f})
		}
		return tiers, nil
	case []any:
		tiers := make([]domain.TitleBoostTier, 0, len(v))
		for i, item := range v {
			table, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("tier %d is not a table", i)
			}
			o, okO := number(table["min_overlap"])
			f, okF := number(table["factor"])
			if !okO || !okF {
				return nil, fmt.Errorf("tier %d needs numeric min_overlap and factor", i)
			}
			tiers = append(tiers, domain.TitleBoostTier{MinOverlap: o, Factor: f})
		}
		return tiers, nil
	case []map[string]any:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return parseTiers(items)
	default:
		return nil, fmt.Errorf("unsupported tiers value %T", raw)
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// storable converts a parsed value into a form the TOML store round-trips.
func storable(v any) any {
	switch val := v.(type) {
	case time.Duration:
		return val.String()
	case []domain.TitleBoostTier:
		out := make([]map[string]any, len(val))
		for i, t := range val {
			out[i] = map[string]any{"min_overlap": t.MinOverlap, "factor": t.Factor}
		}
		return out
	default:
		return v
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ",")
	case []domain.TitleBoostTier:
		parts := make([]string, len(val))
		for i, t := range val {
			parts[i] = strconv.FormatFloat(t.MinOverlap, 'g', -1, 64) + ":" + strconv.FormatFloat(t.Factor, 'g', -1, 64)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}

// setTaskInterval configures a scheduled task. A zero interval disables it.
func setTaskInterval(c *domain.Config, taskID string, interval time.Duration) {
	if c.Scheduler.TaskConfigs == nil {
		c.Scheduler.TaskConfigs = make(map[string]domain.TaskConfig)
	}
	c.Scheduler.TaskConfigs[taskID] = domain.TaskConfig{Enabled: interval > 0, Interval: interval}
}
