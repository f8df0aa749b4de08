package extractors

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/chunker"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestGeneric_Text(t *testing.T) {
	g := NewGeneric(chunker.New(chunker.WithChunkSize(50), chunker.WithOverlap(0)))
	text := strings.Repeat("quarterly revenue grew ", 10)

	res, err := g.Extract(context.Background(), "/tmp/notes.txt", []byte(text))
	require.NoError(t, err)
	assert.Equal(t, domain.ContentKindGeneric, res.Kind)
	assert.Equal(t, MethodGenericText, res.Method)
	assert.Equal(t, "notes.txt", res.Title)
	assert.Greater(t, len(res.Chunks), 1)
	for _, c := range res.Chunks {
		assert.NotEmpty(t, c.Content)
		assert.LessOrEqual(t, chunker.RuneCount(c.Content), 50)
	}
}

func TestGeneric_Binary(t *testing.T) {
	g := NewGeneric(chunker.New())
	res, err := g.Extract(context.Background(), "blob.txt", []byte("abc\x00def"))
	require.NoError(t, err)
	assert.Equal(t, MethodGenericBinary, res.Method)
	assert.Empty(t, res.Chunks)
}

func TestGeneric_Empty(t *testing.T) {
	g := NewGeneric(chunker.New())
	res, err := g.Extract(context.Background(), "empty.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, MethodGenericText, res.Method)
	assert.Empty(t, res.Chunks)
}

func TestIsBinary(t *testing.T) {
	assert.False(t, IsBinary([]byte("hello, world")))
	assert.False(t, IsBinary([]byte("naïve café")))
	assert.True(t, IsBinary([]byte{0xff, 0xfe, 0x41}))
	assert.True(t, IsBinary([]byte("a\x00b")))

	// The sniff window ends inside a two-byte rune.
	long := "a" + strings.Repeat("é", 5000)
	assert.False(t, IsBinary([]byte(long)))
}
