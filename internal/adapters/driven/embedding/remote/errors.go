// Package remote is the JSON-over-HTTP plumbing shared by the embedding and
// rerank providers: one client per provider and failure classification.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// maxBodyInError bounds how much of a response body is quoted in an error.
const maxBodyInError = 256

// StatusError builds the error for a non-200 response.
// Rate limiting and server-side failures are transient.
func StatusError(provider string, status int, body []byte) error {
	if len(body) > maxBodyInError {
		body = body[:maxBodyInError]
	}
	err := fmt.Errorf("%s error (status %d): %s", provider, status, string(body))
	if IsRetryableStatus(status) {
		return domain.Transient(err)
	}
	return err
}

// RequestError wraps a transport failure. Connection errors and timeouts are
// transient; a cancelled caller context is not.
func RequestError(ctx context.Context, provider string, err error) error {
	wrapped := fmt.Errorf("%s: send request: %w", provider, err)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return wrapped
	}
	return domain.Transient(wrapped)
}

// IsRetryableStatus reports whether an HTTP status is worth retrying.
func IsRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= http.StatusInternalServerError
}

// ToFloat32 converts a decoded JSON vector.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
