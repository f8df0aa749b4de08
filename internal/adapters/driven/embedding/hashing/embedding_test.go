package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestEmbed_DeterministicAndNormalised(t *testing.T) {
	svc := NewEmbeddingService(64)
	ctx := context.Background()

	a, err := svc.Embed(ctx, "Quarterly revenue grew")
	require.NoError(t, err)
	b, err := svc.Embed(ctx, "quarterly REVENUE grew!")
	require.NoError(t, err)

	assert.Equal(t, a, b, "case and punctuation do not matter")
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, math.Sqrt(cosine(a, a)), 1e-5)
}

func TestEmbed_SimilarTextsAreCloser(t *testing.T) {
	svc := NewEmbeddingService(0)
	ctx := context.Background()

	q, _ := svc.Embed(ctx, "quarterly revenue report")
	near, _ := svc.Embed(ctx, "the quarterly revenue report for finance")
	far, _ := svc.Embed(ctx, "holiday schedule for staff")

	assert.Greater(t, cosine(q, near), cosine(q, far))
}

func TestEmbed_EmptyText(t *testing.T) {
	svc := NewEmbeddingService(8)
	vec, err := svc.Embed(context.Background(), "  ... ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vec)
}

func TestEmbed_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEmbeddingService(8).EmbedBatch(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_Metadata(t *testing.T) {
	svc := NewEmbeddingService(0)
	assert.Equal(t, DefaultDimensions, svc.Dimensions())
	assert.Equal(t, DefaultModel, svc.ModelName())
	assert.NoError(t, svc.Ping(context.Background()))
	assert.NoError(t, svc.Close())
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"x", "pdf", "v2", "café"}, Tokenize("X.pdf: v2 Café"))
	assert.Empty(t, Tokenize("--"))
}
