package extractors

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-indexer/internal/chunker"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Ensure Registry implements the interface.
var _ driven.ExtractorRegistry = (*Registry)(nil)

// Registry maps content kinds to extractors and extensions to kinds.
type Registry struct {
	mu         sync.RWMutex
	extractors map[domain.ContentKind]driven.Extractor
	extensions map[string]domain.ContentKind
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[domain.ContentKind]driven.Extractor),
		extensions: make(map[string]domain.ContentKind),
	}
}

// NewDefaultRegistry registers every built-in extractor sharing one splitter.
func NewDefaultRegistry(splitter *chunker.Splitter, runner CommandRunner) *Registry {
	r := NewRegistry()
	r.Register(NewGeneric(splitter))
	r.Register(NewWiki(splitter))
	r.Register(NewCode(splitter))
	r.Register(NewNotebook(splitter))
	r.Register(NewPDF(splitter, runner))
	return r
}

// Register adds an extractor, replacing any previous one of the same kind.
func (r *Registry) Register(e driven.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := e.Kind()
	for ext, k := range r.extensions {
		if k == kind {
			delete(r.extensions, ext)
		}
	}
	r.extractors[kind] = e
	for _, ext := range e.Extensions() {
		r.extensions[strings.ToLower(ext)] = kind
	}
}

// KindFor returns the content kind for a path. Unknown extensions are generic.
func (r *Registry) KindFor(path string) domain.ContentKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if kind, ok := r.extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return kind
	}
	return domain.ContentKindGeneric
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []domain.ContentKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ContentKind
	for _, k := range domain.ContentKinds() {
		if _, ok := r.extractors[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Extract runs the extractor for path. It never returns nil: a failure is
// reported through an empty Extraction whose Err is set.
func (r *Registry) Extract(ctx context.Context, path string, content []byte) *driven.Extraction {
	kind := r.KindFor(path)

	r.mu.RLock()
	e, ok := r.extractors[kind]
	if !ok {
		e, ok = r.extractors[domain.ContentKindGeneric]
		kind = domain.ContentKindGeneric
	}
	r.mu.RUnlock()

	if !ok {
		return &driven.Extraction{
			Kind:   kind,
			Title:  domain.TitleFromPath(path),
			Method: "none",
			Err:    fmt.Errorf("%w: no extractor for %s", domain.ErrUnsupportedType, path),
		}
	}

	res, err := e.Extract(ctx, path, content)
	if res == nil {
		res = &driven.Extraction{Method: string(kind) + ":failed"}
	}
	if err != nil {
		res.Err = err
		res.Chunks = nil
	}
	if res.Kind == "" {
		res.Kind = kind
	}
	if res.Title == "" {
		res.Title = domain.TitleFromPath(path)
	}
	return res
}

// drafts turns split text into chunk drafts sharing metadata.
func drafts(pieces []string, meta map[string]string) []driven.ChunkDraft {
	out := make([]driven.ChunkDraft, 0, len(pieces))
	for _, p := range pieces {
		m := make(map[string]string, len(meta))
		for k, v := range meta {
			m[k] = v
		}
		out = append(out, driven.ChunkDraft{Content: p, Metadata: m})
	}
	return out
}
