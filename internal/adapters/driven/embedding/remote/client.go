package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// Client exchanges JSON with one provider's API. Failures come back
// classified: rate limits, server errors, timeouts and truncated bodies are
// domain.Transient; everything else is permanent.
type Client struct {
	provider string
	baseURL  string
	http     *http.Client
	header   http.Header
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(provider, baseURL string, timeout time.Duration) *Client {
	return &Client{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		header:   make(http.Header),
	}
}

// SetHeader sets a header sent with every request.
func (c *Client) SetHeader(key, value string) {
	c.header.Set(key, value)
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PostJSON posts in and decodes a 200 response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", c.provider, err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body), out)
}

// Get requests path and discards the body of a 200 response.
func (c *Client) Get(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", c.provider, err)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return RequestError(ctx, c.provider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Transient(fmt.Errorf("%s: read response: %w", c.provider, err))
	}
	if resp.StatusCode != http.StatusOK {
		return StatusError(c.provider, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return domain.Transient(fmt.Errorf("%s: decode response: %w", c.provider, err))
	}
	return nil
}

// Vectors converts decoded vectors, requiring one of size dims per input.
// A nil entry means the provider skipped that input.
func Vectors(provider string, vecs [][]float64, inputs, dims int) ([][]float32, error) {
	if len(vecs) != inputs {
		return nil, fmt.Errorf("%s: got %d embeddings for %d inputs", provider, len(vecs), inputs)
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("%s: no embedding returned for input %d", provider, i)
		}
		if len(v) != dims {
			return nil, fmt.Errorf("%w: %s returned %d, expected %d",
				domain.ErrDimensionMismatch, provider, len(v), dims)
		}
		out[i] = ToFloat32(v)
	}
	return out, nil
}
