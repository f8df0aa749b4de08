package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// keywordRebuildBatch bounds how many chunks are sent to the keyword index at once.
const keywordRebuildBatch = 256

// StorageLayer persists documents, chunks and embeddings and owns the
// connections to the vector index.
//
// Exactly one writer connection exists. It only becomes durable when it is
// closed, so Flush closes and reopens it. Queries go through a separate
// reader connection. When the writer has flushed since the reader was
// opened, the reader is replaced and the old one is discarded: closing it
// would write its stale snapshot over the flushed file.
type StorageLayer struct {
	docs     driven.DocumentStore
	keywords driven.KeywordIndex
	open     driven.VectorIndexOpener

	// indexPath is checked for outside modification; empty disables the check.
	indexPath string

	writeMu sync.Mutex
	writer  driven.VectorIndex
	gen     atomic.Uint64

	readMu    sync.RWMutex
	reader    driven.VectorIndex
	readerGen uint64
	readerMod time.Time
}

// NewStorageLayer opens the writer connection. The keyword index may be nil.
func NewStorageLayer(
	docs driven.DocumentStore,
	keywords driven.KeywordIndex,
	open driven.VectorIndexOpener,
	indexPath string,
) (*StorageLayer, error) {
	if docs == nil || open == nil {
		return nil, fmt.Errorf("%w: document store and vector index opener are required", domain.ErrInvalidInput)
	}
	writer, err := open()
	if err != nil {
		return nil, fmt.Errorf("open vector index writer: %w", err)
	}
	s := &StorageLayer{
		docs:      docs,
		keywords:  keywords,
		open:      open,
		indexPath: indexPath,
		writer:    writer,
	}
	s.gen.Store(1)
	return s, nil
}

// Documents returns the record of truth.
func (s *StorageLayer) Documents() driven.DocumentStore {
	return s.docs
}

// Keywords returns the keyword index, or nil.
func (s *StorageLayer) Keywords() driven.KeywordIndex {
	return s.keywords
}

// Generation returns the number of completed writer flushes plus one.
func (s *StorageLayer) Generation() uint64 {
	return s.gen.Load()
}

// StoreBatch commits one batch in a single transaction and then inserts its
// embeddings into the writer. Nothing reaches the vector file until Flush.
func (s *StorageLayer) StoreBatch(ctx context.Context, batch driven.ChunkBatch) error {
	if err := s.docs.SaveChunkBatch(ctx, batch); err != nil {
		return fmt.Errorf("save chunk batch: %w", err)
	}
	if len(batch.Chunks) == 0 {
		return nil
	}

	s.writeMu.Lock()
	err := s.addLocked(ctx, batch.Chunks)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}

	s.indexKeywords(ctx, batch.Document, batch.Chunks)
	return nil
}

// Store commits a document with all of its chunks and flushes the writer.
func (s *StorageLayer) Store(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	if err := s.StoreBatch(ctx, driven.ChunkBatch{Document: doc, Chunks: chunks}); err != nil {
		return err
	}
	return s.Flush()
}

func (s *StorageLayer) addLocked(ctx context.Context, chunks []domain.Chunk) error {
	if s.writer == nil {
		return domain.ErrVectorIndexUnavailable
	}
	for i := range chunks {
		if chunks[i].Embedding == nil {
			continue
		}
		if err := s.writer.Add(ctx, chunks[i].ID, chunks[i].Embedding); err != nil {
			return fmt.Errorf("add vector %s: %w", chunks[i].ID, err)
		}
	}
	return nil
}

// indexKeywords feeds the keyword index. Failures only log: the integrity
// check repairs keyword drift.
func (s *StorageLayer) indexKeywords(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) {
	if s.keywords == nil {
		return
	}
	title := ""
	if doc != nil {
		title = doc.Title
	} else if stored, err := s.docs.GetDocument(ctx, chunks[0].DocumentID); err == nil {
		title = stored.Title
	}
	if err := s.keywords.Index(ctx, title, chunks); err != nil {
		logger.Warn("keyword index update failed for %d chunks: %v", len(chunks), err)
	}
}

// Flush makes the writer durable by closing it and opening a new one.
func (s *StorageLayer) Flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.flushLocked()
}

func (s *StorageLayer) flushLocked() error {
	if s.writer == nil {
		return s.reopenLocked()
	}
	start := time.Now()
	err := s.writer.Close()
	s.writer = nil
	if err != nil {
		// The in-memory state is gone; the integrity check rebuilds from the store.
		logger.Warn("vector index flush failed: %v", err)
		if reopenErr := s.reopenLocked(); reopenErr != nil {
			return errors.Join(fmt.Errorf("flush vector index: %w", err), reopenErr)
		}
		return fmt.Errorf("flush vector index: %w", err)
	}
	if err := s.reopenLocked(); err != nil {
		return err
	}
	logger.Debug("vector index flushed in %s (generation %d)", time.Since(start), s.gen.Load())
	return nil
}

func (s *StorageLayer) reopenLocked() error {
	writer, err := s.open()
	if err != nil {
		return fmt.Errorf("%w: reopen writer: %w", domain.ErrVectorIndexUnavailable, err)
	}
	s.writer = writer
	s.gen.Add(1)
	return nil
}

// ReloadDocument re-inserts the stored embeddings of a document into the
// writer, used before resuming a partially stored document.
func (s *StorageLayer) ReloadDocument(ctx context.Context, documentID string) (int, error) {
	chunks, err := s.docs.GetChunks(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("load chunks of %s: %w", documentID, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.addLocked(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// DeleteChunks removes every chunk of a document from the store and both
// indexes. The writer is not flushed.
func (s *StorageLayer) DeleteChunks(ctx context.Context, documentID string) error {
	ids, err := s.chunkIDs(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.docs.DeleteChunks(ctx, documentID); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", documentID, err)
	}
	return s.dropDerived(ctx, ids)
}

// DeleteDocument removes a document, cascading to its chunks and
// embeddings, then flushes the writer.
func (s *StorageLayer) DeleteDocument(ctx context.Context, documentID string) error {
	ids, err := s.chunkIDs(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.docs.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	if err := s.dropDerived(ctx, ids); err != nil {
		return err
	}
	return s.Flush()
}

func (s *StorageLayer) chunkIDs(ctx context.Context, documentID string) ([]string, error) {
	chunks, err := s.docs.GetChunks(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load chunks of %s: %w", documentID, err)
	}
	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = chunks[i].ID
	}
	return ids, nil
}

func (s *StorageLayer) dropDerived(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.writeMu.Lock()
	if s.writer != nil {
		for _, id := range ids {
			if err := s.writer.Delete(ctx, id); err != nil {
				s.writeMu.Unlock()
				return fmt.Errorf("delete vector %s: %w", id, err)
			}
		}
	}
	s.writeMu.Unlock()

	if s.keywords != nil {
		if err := s.keywords.Delete(ctx, ids); err != nil {
			logger.Warn("keyword index delete failed for %d chunks: %v", len(ids), err)
		}
	}
	return nil
}

// SearchVectors runs an approximate search on the reader connection,
// refreshing it first when the writer has flushed since it was opened.
func (s *StorageLayer) SearchVectors(ctx context.Context, query []float32, k, breadth int) ([]driven.VectorHit, error) {
	if breadth <= 0 {
		return nil, fmt.Errorf("%w: search breadth must be positive, got %d", domain.ErrInvalidInput, breadth)
	}
	if err := s.refreshReader(); err != nil {
		return nil, err
	}

	s.readMu.RLock()
	defer s.readMu.RUnlock()
	if s.reader == nil {
		return nil, domain.ErrVectorIndexUnavailable
	}
	return s.reader.Search(ctx, query, k, breadth)
}

func (s *StorageLayer) refreshReader() error {
	gen := s.gen.Load()
	mod := s.indexModTime()

	s.readMu.RLock()
	fresh := s.reader != nil && s.readerGen == gen && s.readerMod.Equal(mod)
	s.readMu.RUnlock()
	if fresh {
		return nil
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()
	if s.reader != nil && s.readerGen == gen && s.readerMod.Equal(mod) {
		return nil
	}

	reader, err := s.open()
	if err != nil {
		return fmt.Errorf("%w: open reader: %w", domain.ErrVectorIndexUnavailable, err)
	}
	old := s.reader
	s.reader = reader
	s.readerGen = gen
	s.readerMod = mod
	if old != nil {
		// Never Close: that would persist the stale snapshot.
		if err := old.Discard(); err != nil {
			logger.Warn("discard stale vector reader: %v", err)
		}
	}
	logger.Debug("vector reader refreshed at generation %d", gen)
	return nil
}

func (s *StorageLayer) indexModTime() time.Time {
	if s.indexPath == "" {
		return time.Time{}
	}
	info, err := os.Stat(s.indexPath)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// RebuildIndex replaces the vector index with the stored embeddings in one
// pass and flushes. It returns the writer size before and after.
func (s *StorageLayer) RebuildIndex(ctx context.Context) (before, after int, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writer == nil {
		if err := s.reopenLocked(); err != nil {
			return 0, 0, err
		}
	}
	before = s.writer.Len()
	if err := s.writer.Reset(); err != nil {
		return before, 0, fmt.Errorf("reset vector index: %w", err)
	}
	err = s.docs.EachEmbedding(ctx, func(chunkID string, vector []float32) error {
		return s.writer.Add(ctx, chunkID, vector)
	})
	if err != nil {
		return before, s.writer.Len(), fmt.Errorf("reload embeddings: %w", err)
	}
	after = s.writer.Len()
	if err := s.flushLocked(); err != nil {
		return before, after, err
	}
	logger.Info("vector index rebuilt: %d -> %d vectors", before, after)
	return before, after, nil
}

// RebuildKeywords repopulates the keyword index from stored chunks.
func (s *StorageLayer) RebuildKeywords(ctx context.Context) (before, after int, err error) {
	if s.keywords == nil {
		return 0, 0, domain.ErrKeywordIndexUnavailable
	}
	count, err := s.keywords.Count()
	if err != nil {
		return 0, 0, fmt.Errorf("count keyword index: %w", err)
	}
	before = int(count)
	if err := s.keywords.Reset(ctx); err != nil {
		return before, 0, fmt.Errorf("reset keyword index: %w", err)
	}

	var (
		pending []domain.Chunk
		title   string
	)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := s.keywords.Index(ctx, title, pending)
		after += len(pending)
		pending = pending[:0]
		return err
	}
	err = s.docs.EachChunk(ctx, func(chunkTitle string, chunk domain.Chunk) error {
		if len(pending) > 0 && (pending[0].DocumentID != chunk.DocumentID || len(pending) >= keywordRebuildBatch) {
			if err := flush(); err != nil {
				return err
			}
		}
		title = chunkTitle
		chunk.Embedding = nil
		pending = append(pending, chunk)
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return before, after, fmt.Errorf("rebuild keyword index: %w", err)
	}
	logger.Info("keyword index rebuilt: %d -> %d chunks", before, after)
	return before, after, nil
}

// IndexLen returns the number of vectors held by the writer.
func (s *StorageLayer) IndexLen() int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writer == nil {
		return 0
	}
	return s.writer.Len()
}

// KeywordCount returns the number of chunks in the keyword index.
func (s *StorageLayer) KeywordCount() (int, error) {
	if s.keywords == nil {
		return 0, domain.ErrKeywordIndexUnavailable
	}
	n, err := s.keywords.Count()
	return int(n), err
}

// Close persists the writer, discards the reader and closes the keyword index.
func (s *StorageLayer) Close() error {
	var errs []error

	s.writeMu.Lock()
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close vector writer: %w", err))
		}
		s.writer = nil
	}
	s.writeMu.Unlock()

	s.readMu.Lock()
	if s.reader != nil {
		if err := s.reader.Discard(); err != nil {
			errs = append(errs, fmt.Errorf("discard vector reader: %w", err))
		}
		s.reader = nil
	}
	s.readMu.Unlock()

	if s.keywords != nil {
		if err := s.keywords.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close keyword index: %w", err))
		}
	}
	return errors.Join(errs...)
}
