package driven

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// Extractor turns the bytes of one content kind into ordered chunk drafts.
type Extractor interface {
	// Kind returns the content kind this extractor handles.
	Kind() domain.ContentKind

	// Extensions returns the lower-case file extensions routed here, with dots.
	Extensions() []string

	// Extract splits content into chunks. An error means the content is
	// unreadable for this kind; it is never fatal to the pipeline.
	Extract(ctx context.Context, path string, content []byte) (*Extraction, error)
}

// ExtractorRegistry routes files to extractors.
type ExtractorRegistry interface {
	// Register adds an extractor, replacing any previous one of the same kind.
	Register(e Extractor)

	// KindFor returns the content kind for a path.
	KindFor(path string) domain.ContentKind

	// Extract runs the extractor for the path. Extractor failures yield an
	// empty Extraction whose Method records the failure.
	Extract(ctx context.Context, path string, content []byte) *Extraction
}

// Extraction is the result of extracting one file.
// Method names how the chunks were produced; it is returned per call and
// never kept as extractor state.
type Extraction struct {
	Kind   domain.ContentKind
	Title  string
	Method string
	Chunks []ChunkDraft

	// Err is the extractor failure, when there was one.
	Err error
}

// ChunkDraft is extracted text before it is assigned an ID and embedding.
type ChunkDraft struct {
	Content  string
	Metadata map[string]string
}
