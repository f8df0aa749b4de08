package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/embedding/hashing"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/keyword/bleve"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/vector/ivf"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/extractors"
)

const testDim = 64

// testEnv wires the real stores under one temp directory.
type testEnv struct {
	dir       string
	indexPath string
	store     *sqlite.Store
	keywords  *bleve.Index
	storage   *StorageLayer
	progress  driven.ProgressStore
	closed    bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return openTestEnv(t, t.TempDir())
}

// openTestEnv opens the stores in dir, as a process start would.
func openTestEnv(t *testing.T, dir string) *testEnv {
	t.Helper()
	store, err := sqlite.NewStore(dir)
	require.NoError(t, err)
	keywords, err := bleve.Open(filepath.Join(dir, "keywords.bleve"))
	require.NoError(t, err)

	indexPath := filepath.Join(dir, "vectors.ivf")
	storage, err := NewStorageLayer(store.DocumentStore(), keywords, ivf.NewOpener(indexPath, testDim), indexPath)
	require.NoError(t, err)

	env := &testEnv{
		dir:       dir,
		indexPath: indexPath,
		store:     store,
		keywords:  keywords,
		storage:   storage,
		progress:  store.ProgressStore(),
	}
	t.Cleanup(env.close)
	return env
}

func (e *testEnv) close() {
	if e.closed {
		return
	}
	e.closed = true
	_ = e.storage.Close()
	_ = e.store.Close()
}

// crash releases the database and keyword index without closing the
// vector writer, so anything not flushed is lost.
func (e *testEnv) crash() {
	e.closed = true
	_ = e.keywords.Close()
	_ = e.store.Close()
}

func (e *testEnv) docs() driven.DocumentStore {
	return e.storage.Documents()
}

// lineExtractor emits one chunk per non-blank line.
type lineExtractor struct {
	kind domain.ContentKind
	exts []string
}

func (x lineExtractor) Kind() domain.ContentKind { return x.kind }

func (x lineExtractor) Extensions() []string { return x.exts }

func (x lineExtractor) Extract(_ context.Context, _ string, content []byte) (*driven.Extraction, error) {
	ext := &driven.Extraction{Kind: x.kind, Method: "test:lines"}
	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) != "" {
			ext.Chunks = append(ext.Chunks, driven.ChunkDraft{Content: line})
		}
	}
	return ext, nil
}

func newLineRegistry() *extractors.Registry {
	r := extractors.NewRegistry()
	r.Register(lineExtractor{kind: domain.ContentKindGeneric, exts: []string{".txt"}})
	r.Register(lineExtractor{kind: domain.ContentKindPDF, exts: []string{".pdf"}})
	return r
}

// recordingEmbedder records every embedded text and can inject failures.
type recordingEmbedder struct {
	*hashing.EmbeddingService

	mu        sync.Mutex
	texts     []string
	calls     int
	transient int
	permanent error
}

func newRecordingEmbedder() *recordingEmbedder {
	return &recordingEmbedder{EmbeddingService: hashing.NewEmbeddingService(testDim)}
}

func (e *recordingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	if e.permanent != nil {
		e.mu.Unlock()
		return nil, e.permanent
	}
	if e.transient > 0 {
		e.transient--
		e.mu.Unlock()
		return nil, domain.Transient(errors.New("model busy"))
	}
	e.texts = append(e.texts, texts...)
	e.mu.Unlock()
	return e.EmbeddingService.EmbedBatch(ctx, texts)
}

func (e *recordingEmbedder) embedded() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

func (e *recordingEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func testPipelineSettings() domain.PipelineSettings {
	cfg := domain.DefaultConfig().Pipeline
	cfg.EmbedWorkers = 2
	cfg.BatchSize = 2
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond
	cfg.DequeueTimeout = 10 * time.Millisecond
	return cfg
}

func (e *testEnv) newPipeline(registry driven.ExtractorRegistry, embedder driven.EmbeddingService) *Pipeline {
	return NewPipeline(testPipelineSettings(), NewIndexingQueue(), e.storage, e.progress, registry, embedder)
}

// drain starts the pipeline, waits until the queue is empty and stops it.
func drain(t *testing.T, p *Pipeline) {
	t.Helper()
	require.NoError(t, p.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, p.WaitIdle(ctx))
	require.NoError(t, p.Stop())
}

// indexPaths enqueues paths at NORMAL priority and drains the pipeline.
func indexPaths(t *testing.T, p *Pipeline, paths ...string) {
	t.Helper()
	for _, path := range paths {
		_, err := p.EnqueueForIndexing(context.Background(), path, domain.PriorityNormal)
		require.NoError(t, err)
	}
	drain(t, p)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func numberedLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = "line " + string(rune('a'+i)) + " of the notes"
	}
	return strings.Join(lines, "\n")
}
