package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// ContentKind identifies the extractor family that handles a file.
type ContentKind string

// Supported content kinds.
const (
	ContentKindPDF      ContentKind = "pdf"
	ContentKindNotebook ContentKind = "notebook"
	ContentKindWiki     ContentKind = "wiki"
	ContentKindCode     ContentKind = "code"
	ContentKindGeneric  ContentKind = "generic"
)

// ContentKinds returns every known kind in registry order.
func ContentKinds() []ContentKind {
	return []ContentKind{
		ContentKindPDF,
		ContentKindNotebook,
		ContentKindWiki,
		ContentKindCode,
		ContentKindGeneric,
	}
}

// IsValid returns true if the kind is recognised.
func (k ContentKind) IsValid() bool {
	switch k {
	case ContentKindPDF, ContentKindNotebook, ContentKindWiki, ContentKindCode, ContentKindGeneric:
		return true
	default:
		return false
	}
}

// Document represents one ingested source file.
// Identity is the content hash, not the path, so a moved file keeps
// its chunks and embeddings.
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	// Path is the current location of the source file.
	Path string

	// ContentHash is the hex sha256 of the file bytes.
	// Unique among active documents.
	ContentHash string

	// Title is the human-readable title, usually the file name.
	Title string

	// Kind is the content kind the document was extracted as.
	Kind ContentKind

	// TotalChunks is the number of chunks the document was split into.
	TotalChunks int

	// Status mirrors the processing status of the document.
	Status ProgressStatus

	// CreatedAt is when the document was first indexed.
	CreatedAt time.Time

	// UpdatedAt is when the document was last updated.
	UpdatedAt time.Time
}

// Chunk represents a searchable unit within a document.
type Chunk struct {
	// ID is the unique identifier for the chunk.
	ID string

	// DocumentID links to the parent Document.
	DocumentID string

	// Seq is the document-local position. Contiguous from 0.
	Seq int

	// Content is the text content of this chunk.
	Content string

	// TokenCount is an estimate of the number of tokens in Content.
	TokenCount int

	// Metadata carries structural context such as the heading path.
	Metadata map[string]string

	// Embedding is the vector representation for semantic search.
	Embedding []float32
}

// TitleFromPath derives a document title from a file path.
func TitleFromPath(path string) string {
	return filepath.Base(path)
}

// EstimateTokens approximates the token count of text at four bytes per token.
func EstimateTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
