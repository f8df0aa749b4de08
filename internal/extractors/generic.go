package extractors

import (
	"bytes"
	"context"
	"unicode/utf8"

	"github.com/custodia-labs/sercha-indexer/internal/chunker"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Extraction methods of the generic extractor.
const (
	MethodGenericText   = "generic:text"
	MethodGenericBinary = "generic:binary"
)

// sniffLen is how much of a file is inspected for binary content.
const sniffLen = 8000

// Generic handles plain text and rejects binary content.
type Generic struct {
	splitter *chunker.Splitter
}

// NewGeneric creates the fallback extractor.
func NewGeneric(splitter *chunker.Splitter) *Generic {
	return &Generic{splitter: splitter}
}

// Kind returns domain.ContentKindGeneric.
func (g *Generic) Kind() domain.ContentKind { return domain.ContentKindGeneric }

// Extensions returns the extensions routed here explicitly.
func (g *Generic) Extensions() []string {
	return []string{".txt", ".text", ".log", ".csv", ".rst", ".org"}
}

// Extract splits text content. Binary content yields no chunks.
func (g *Generic) Extract(_ context.Context, path string, content []byte) (*driven.Extraction, error) {
	if IsBinary(content) {
		return &driven.Extraction{Kind: g.Kind(), Method: MethodGenericBinary}, nil
	}
	return &driven.Extraction{
		Kind:   g.Kind(),
		Title:  domain.TitleFromPath(path),
		Method: MethodGenericText,
		Chunks: drafts(g.splitter.Split(string(content)), nil),
	}, nil
}

// IsBinary reports whether content looks binary: a NUL byte or invalid
// UTF-8 in the first few kilobytes.
func IsBinary(content []byte) bool {
	head := content
	if len(head) > sniffLen {
		head = head[:sniffLen]
		// Do not judge a rune cut by the window.
		for i := 0; i < utf8.UTFMax && len(head) > 0 && !utf8.Valid(head); i++ {
			head = head[:len(head)-1]
		}
	}
	return bytes.IndexByte(head, 0) >= 0 || !utf8.Valid(head)
}
