// Package ollama provides a reranker that asks a local Ollama model to order
// search candidates by relevance.
package ollama

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/embedding/remote"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Ensure Reranker implements the interface.
var _ driven.Reranker = (*Reranker)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
	DefaultTimeout = 60 * time.Second

	// maxPassageChars bounds each candidate quoted in the prompt.
	maxPassageChars = 600
)

// Config holds configuration for the Ollama reranker.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the generation model (default: llama3.2).
	Model string

	// Timeout is the request timeout (default: 60s).
	Timeout time.Duration
}

// Reranker orders candidates with a single /api/generate call.
type Reranker struct {
	api   *remote.Client
	model string
}

// generateRequest is the Ollama /api/generate request format.
type generateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	Options *options `json:"options,omitempty"`
}

// options holds generation parameters.
type options struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

// generateResponse is the Ollama /api/generate response format.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// New creates an Ollama reranker.
func New(cfg Config) *Reranker {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Reranker{
		api:   remote.NewClient("ollama", cfg.BaseURL, cfg.Timeout),
		model: cfg.Model,
	}
}

const rerankPrompt = `You rank search results. Query: %q

Passages:
%s
Return the passage numbers ordered from most to least relevant to the query,
as a comma separated list such as "3, 1, 2". Return ONLY the list.`

// Rerank returns the candidates in the order the model chose. Passages the
// model omits keep their relative order after the ranked ones, so the
// result is always a permutation of the input.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []domain.SearchResult) ([]domain.SearchResult, error) {
	if len(candidates) < 2 {
		return candidates, nil
	}

	var passages strings.Builder
	for i, c := range candidates {
		text := strings.Join(strings.Fields(c.Content), " ")
		if len(text) > maxPassageChars {
			text = text[:maxPassageChars]
		}
		fmt.Fprintf(&passages, "[%d] %s: %s\n", i+1, c.Title, text)
	}

	answer, err := r.generate(ctx, fmt.Sprintf(rerankPrompt, query, passages.String()))
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	return Reorder(candidates, ParseOrder(answer, len(candidates))), nil
}

var numberPattern = regexp.MustCompile(`\d+`)

// ParseOrder extracts 0-based candidate indexes from a model answer.
// Out of range and repeated numbers are skipped.
func ParseOrder(answer string, n int) []int {
	seen := make(map[int]bool, n)
	var order []int
	for _, m := range numberPattern.FindAllString(answer, -1) {
		v, err := strconv.Atoi(m)
		if err != nil || v < 1 || v > n || seen[v-1] {
			continue
		}
		seen[v-1] = true
		order = append(order, v-1)
	}
	return order
}

// Reorder places the candidates at order first, then the rest in input
// order. Score becomes a descending rank score in (0, 1].
func Reorder(candidates []domain.SearchResult, order []int) []domain.SearchResult {
	placed := make([]bool, len(candidates))
	out := make([]domain.SearchResult, 0, len(candidates))
	for _, i := range order {
		if i >= 0 && i < len(candidates) && !placed[i] {
			placed[i] = true
			out = append(out, candidates[i])
		}
	}
	for i, c := range candidates {
		if !placed[i] {
			out = append(out, c)
		}
	}
	for i := range out {
		out[i].Score = float64(len(out)-i) / float64(len(out))
	}
	return out
}

func (r *Reranker) generate(ctx context.Context, prompt string) (string, error) {
	var resp generateResponse
	err := r.api.PostJSON(ctx, "/api/generate", generateRequest{
		Model:   r.model,
		Prompt:  prompt,
		Options: &options{NumPredict: 200, Temperature: 0},
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// ModelName returns the generation model.
func (r *Reranker) ModelName() string {
	return r.model
}

// Ping lists local models without running inference.
func (r *Reranker) Ping(ctx context.Context) error {
	return r.api.Get(ctx, "/api/tags")
}
