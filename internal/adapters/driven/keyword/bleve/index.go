// Package bleve provides keyword scoring over chunks backed by Bleve.
//
// Queries are match queries with the OR operator, so a chunk sharing any
// analysed term with the query is scored. Bleve persists each batch on
// its own; there is no flush step.
package bleve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	blevesearch "github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bolt "go.etcd.io/bbolt"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// Ensure Index implements the interface.
var _ driven.KeywordIndex = (*Index)(nil)

// Field names in the index mapping.
const (
	fieldDocumentID = "document_id"
	fieldTitle      = "title"
	fieldContent    = "content"
	fieldSeq        = "seq"
)

// Index is a Bleve-backed keyword index.
type Index struct {
	mu    sync.RWMutex
	index blevesearch.Index

	// path is empty for in-memory indexes.
	path string
}

// OpenTimeout bounds how long Open waits for another process to release
// the index.
const OpenTimeout = time.Second

// Open opens the index at path, creating it when missing. An index with
// missing or corrupt metadata is deleted and recreated; the integrity check
// repopulates it. An index held by another process fails with
// domain.ErrIndexLocked after OpenTimeout.
func Open(path string) (*Index, error) {
	index, err := blevesearch.OpenUsing(path, map[string]any{
		"bolt_timeout": OpenTimeout.String(),
	})
	switch {
	case err == nil:
		return &Index{index: index, path: path}, nil
	case errors.Is(err, blevesearch.ErrorIndexPathDoesNotExist):
		index, err = blevesearch.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create keyword index: %w", err)
		}
		return &Index{index: index, path: path}, nil
	case errors.Is(err, bolt.ErrTimeout):
		return nil, fmt.Errorf("%w: %s", domain.ErrIndexLocked, path)
	case !isCorrupt(err):
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	logger.Warn("keyword index at %s is corrupt (%v), recreating", path, err)
	if rmErr := os.RemoveAll(path); rmErr != nil {
		return nil, fmt.Errorf("remove corrupt keyword index: %w", rmErr)
	}
	index, err = blevesearch.New(path, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("recreate keyword index: %w", err)
	}
	return &Index{index: index, path: path}, nil
}

// isCorrupt reports whether an open error means the files on disk cannot
// be decoded, as opposed to being unreachable.
func isCorrupt(err error) bool {
	for _, target := range []error{
		blevesearch.ErrorIndexMetaMissing,
		blevesearch.ErrorIndexMetaCorrupt,
		blevesearch.ErrorUnknownIndexType,
		bolt.ErrInvalid,
		bolt.ErrChecksum,
		bolt.ErrVersionMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// NewMemory creates an index that lives only in memory.
func NewMemory() (*Index, error) {
	index, err := blevesearch.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("create memory keyword index: %w", err)
	}
	return &Index{index: index}, nil
}

func buildMapping() mapping.IndexMapping {
	indexMapping := blevesearch.NewIndexMapping()
	chunkMapping := blevesearch.NewDocumentMapping()

	stored := func(analyzer string) *mapping.FieldMapping {
		f := blevesearch.NewTextFieldMapping()
		f.Analyzer = analyzer
		f.Store = true
		f.Index = true
		f.IncludeInAll = false
		return f
	}

	chunkMapping.AddFieldMappingsAt(fieldDocumentID, stored(keyword.Name))
	chunkMapping.AddFieldMappingsAt(fieldSeq, stored(keyword.Name))

	title := stored(standard.Name)
	title.IncludeTermVectors = false
	chunkMapping.AddFieldMappingsAt(fieldTitle, title)

	content := blevesearch.NewTextFieldMapping()
	content.Analyzer = standard.Name
	content.Store = false
	content.Index = true
	chunkMapping.AddFieldMappingsAt(fieldContent, content)

	indexMapping.DefaultMapping = chunkMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Index adds or updates chunks in one batch.
func (i *Index) Index(ctx context.Context, title string, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.index == nil {
		return domain.ErrKeywordIndexUnavailable
	}

	batch := i.index.NewBatch()
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := map[string]any{
			fieldDocumentID: c.DocumentID,
			fieldTitle:      title,
			fieldContent:    c.Content,
			fieldSeq:        strconv.Itoa(c.Seq),
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("batch chunk %s: %w", c.ID, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	return nil
}

// Delete removes chunks in one batch.
func (i *Index) Delete(_ context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.index == nil {
		return domain.ErrKeywordIndexUnavailable
	}

	batch := i.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// Search runs an OR match query over chunk content and title.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]driven.KeywordHit, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.index == nil {
		return nil, domain.ErrKeywordIndexUnavailable
	}
	if limit <= 0 {
		return nil, nil
	}

	content := blevesearch.NewMatchQuery(query)
	content.SetField(fieldContent)
	title := blevesearch.NewMatchQuery(query)
	title.SetField(fieldTitle)
	q := blevesearch.NewDisjunctionQuery(content, title)

	req := blevesearch.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{fieldDocumentID, fieldTitle}

	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	hits := make([]driven.KeywordHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := driven.KeywordHit{ChunkID: h.ID, Score: h.Score}
		if v, ok := h.Fields[fieldDocumentID].(string); ok {
			hit.DocumentID = v
		}
		if v, ok := h.Fields[fieldTitle].(string); ok {
			hit.Title = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of indexed chunks.
func (i *Index) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.index == nil {
		return 0, domain.ErrKeywordIndexUnavailable
	}
	return i.index.DocCount()
}

// Reset deletes and recreates the index.
func (i *Index) Reset(_ context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.index != nil {
		if err := i.index.Close(); err != nil {
			logger.Warn("keyword index: close before reset: %v", err)
		}
		i.index = nil
	}

	var err error
	if i.path == "" {
		i.index, err = blevesearch.NewMemOnly(buildMapping())
	} else {
		if err = os.RemoveAll(i.path); err != nil {
			return fmt.Errorf("remove keyword index: %w", err)
		}
		i.index, err = blevesearch.New(i.path, buildMapping())
	}
	if err != nil {
		return fmt.Errorf("recreate keyword index: %w", err)
	}
	return nil
}

// Close releases resources.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.index == nil {
		return nil
	}
	err := i.index.Close()
	i.index = nil
	return err
}
