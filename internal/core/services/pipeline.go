package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// Ensure Pipeline implements the interface.
var _ driving.IndexingService = (*Pipeline)(nil)

// chunkNamespace scopes deterministic chunk IDs.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("sercha-indexer/chunk"))

// ChunkID returns the ID of the chunk at seq in a document. It is stable
// across runs so a resumed document writes the same IDs.
func ChunkID(documentID string, seq int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(documentID+"/"+strconv.Itoa(seq))).String()
}

// HashContent returns the hex sha256 of content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// errFileMissing is recorded on the progress of a path that no longer exists.
var errFileMissing = errors.New("source file not found")

// docJob is one document moving through the pipeline.
// Fields after batches are only touched by the store worker.
type docJob struct {
	path     string
	doc      *domain.Document
	progress domain.ProcessingProgress

	// chunks are the chunks still to embed, starting at progress.ChunksProcessed.
	chunks  []domain.Chunk
	batches int

	next     int
	received int
	failed   bool
	pending  map[int]*workBatch
}

// workBatch is a run of consecutive chunks of one document.
type workBatch struct {
	job      *docJob
	index    int
	chunks   []domain.Chunk
	err      error
	attempts int
}

// Pipeline moves queued paths through chunking, embedding and storage.
//
// Chunk workers read the queue and emit batches in order. A pool of embed
// workers computes vectors. A single store worker restores document order,
// commits each batch in one transaction and flushes the vector index after
// every document.
type Pipeline struct {
	cfg        domain.PipelineSettings
	queue      *IndexingQueue
	storage    *StorageLayer
	progress   driven.ProgressStore
	extractors driven.ExtractorRegistry
	embedder   driven.EmbeddingService

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	embedCh   chan *workBatch
	storeCh   chan *workBatch
	chunkWG   sync.WaitGroup
	embedWG   sync.WaitGroup
	storeWG   sync.WaitGroup
	active    map[string]domain.ActiveItem
	parked    map[string]domain.Priority
	workers   map[string]*domain.WorkerStatus
	completed int
	failed    int

	now func() time.Time
}

// NewPipeline creates a stopped pipeline.
func NewPipeline(
	cfg domain.PipelineSettings,
	queue *IndexingQueue,
	storage *StorageLayer,
	progress driven.ProgressStore,
	extractors driven.ExtractorRegistry,
	embedder driven.EmbeddingService,
) *Pipeline {
	defaults := domain.DefaultConfig().Pipeline
	if cfg.ChunkWorkers < 1 {
		cfg.ChunkWorkers = defaults.ChunkWorkers
	}
	if cfg.EmbedWorkers < 1 {
		cfg.EmbedWorkers = defaults.EmbedWorkers
	}
	if cfg.HandoffBuffer < 1 {
		cfg.HandoffBuffer = defaults.HandoffBuffer
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = defaults.DequeueTimeout
	}
	return &Pipeline{
		cfg:        cfg,
		queue:      queue,
		storage:    storage,
		progress:   progress,
		extractors: extractors,
		embedder:   embedder,
		active:     make(map[string]domain.ActiveItem),
		parked:     make(map[string]domain.Priority),
		workers:    make(map[string]*domain.WorkerStatus),
		now:        time.Now,
	}
}

// Queue returns the queue the pipeline consumes.
func (p *Pipeline) Queue() *IndexingQueue {
	return p.queue
}

// Start launches the workers. Paths left pending or in progress by an
// earlier run are queued at HIGH priority first.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.embedCh = make(chan *workBatch, p.cfg.HandoffBuffer)
	p.storeCh = make(chan *workBatch, p.cfg.HandoffBuffer)
	p.mu.Unlock()

	if n, err := p.RequeueUnfinished(ctx); err != nil {
		logger.Warn("requeue unfinished paths: %v", err)
	} else if n > 0 {
		logger.Info("requeued %d unfinished paths", n)
	}

	// Work already started is finished even after Stop.
	workCtx := context.WithoutCancel(ctx)

	for i := 0; i < p.cfg.ChunkWorkers; i++ {
		name := fmt.Sprintf("chunk-%d", i)
		p.register(name)
		p.chunkWG.Add(1)
		go p.chunkWorker(runCtx, workCtx, name)
	}
	for i := 0; i < p.cfg.EmbedWorkers; i++ {
		name := fmt.Sprintf("embed-%d", i)
		p.register(name)
		p.embedWG.Add(1)
		go p.embedWorker(workCtx, name)
	}
	p.register("store")
	p.storeWG.Add(1)
	go p.storeWorker(workCtx, "store")

	logger.Debug("pipeline started: %d chunk, %d embed workers, batch %d",
		p.cfg.ChunkWorkers, p.cfg.EmbedWorkers, p.cfg.BatchSize)
	return nil
}

// Stop stops dequeuing and waits for in-flight documents to finish.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.chunkWG.Wait()
	close(p.embedCh)
	p.embedWG.Wait()
	close(p.storeCh)
	p.storeWG.Wait()

	logger.Debug("pipeline stopped")
	return nil
}

// WaitIdle blocks until every queued path has been handled. It fails with
// ErrPipelineStopped when work remains but no workers are running.
func (p *Pipeline) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for p.queue.Outstanding() > 0 {
		if !p.isRunning() {
			return fmt.Errorf("%w: %d paths outstanding", domain.ErrPipelineStopped, p.queue.Outstanding())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (p *Pipeline) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// RequeueUnfinished queues every pending or in-progress path at HIGH priority.
func (p *Pipeline) RequeueUnfinished(ctx context.Context) (int, error) {
	rows, err := p.progress.ListProgress(ctx, domain.StatusInProgress, domain.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("list unfinished progress: %w", err)
	}
	n := 0
	for i := range rows {
		if p.queue.Enqueue(rows[i].Path, domain.PriorityHigh) {
			n++
		}
	}
	return n, nil
}

// EnqueueForIndexing queues a path, creating its progress row on first sight.
func (p *Pipeline) EnqueueForIndexing(ctx context.Context, path string, priority domain.Priority) (bool, error) {
	if path == "" {
		return false, fmt.Errorf("%w: empty path", domain.ErrInvalidInput)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", path, err)
	}
	if p.queue.Contains(abs) {
		return false, nil
	}

	_, err = p.progress.GetProgress(ctx, abs)
	if errors.Is(err, domain.ErrNotFound) {
		err = p.progress.SaveProgress(ctx, &domain.ProcessingProgress{
			Path:   abs,
			Status: domain.StatusPending,
		})
	}
	if err != nil {
		return false, fmt.Errorf("record progress for %s: %w", abs, err)
	}
	return p.queue.Enqueue(abs, priority), nil
}

// EnqueueRemoval queues a path whose file is gone so the pipeline deletes
// its document. Paths never seen before are ignored, as are paths that were
// queued but never produced a document; their progress row is dropped.
func (p *Pipeline) EnqueueRemoval(ctx context.Context, path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", path, err)
	}
	if p.queue.Contains(abs) {
		return false, nil
	}

	prog, err := p.progress.GetProgress(ctx, abs)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load progress for %s: %w", abs, err)
	}
	if prog.DocumentID == "" && prog.Status != domain.StatusCompleted && !p.inFlight(abs) {
		if err := p.progress.DeleteProgress(ctx, abs); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return false, fmt.Errorf("drop progress for %s: %w", abs, err)
		}
		logger.Debug("%s removed before it was indexed", abs)
		return false, nil
	}
	return p.queue.Enqueue(abs, domain.PriorityNormal), nil
}

func (p *Pipeline) inFlight(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[path]
	return ok
}

// Pause stops new dequeues. In-flight documents finish.
func (p *Pipeline) Pause() { p.queue.Pause() }

// Resume allows dequeues again.
func (p *Pipeline) Resume() { p.queue.Resume() }

// Clear discards pending items, including paths parked behind a running
// job of the same path.
func (p *Pipeline) Clear() int {
	n := p.queue.Clear()
	p.mu.Lock()
	parked := len(p.parked)
	p.parked = make(map[string]domain.Priority)
	p.mu.Unlock()
	for range parked {
		p.queue.Done()
	}
	return n + parked
}

// QueueStatus returns a snapshot of the queue and workers.
func (p *Pipeline) QueueStatus(ctx context.Context) (domain.QueueStatus, error) {
	high, normal := p.queue.Pending()
	status := domain.QueueStatus{
		HighPending:   high,
		NormalPending: normal,
		Paused:        p.queue.Paused(),
	}

	p.mu.Lock()
	for _, prio := range p.parked {
		if prio == domain.PriorityHigh {
			status.HighPending++
		} else {
			status.NormalPending++
		}
	}
	status.Running = p.running
	status.Completed = p.completed
	status.FailedCount = p.failed
	for _, a := range p.active {
		status.Active = append(status.Active, a)
	}
	for _, w := range p.workers {
		status.Workers = append(status.Workers, *w)
	}
	p.mu.Unlock()

	sort.Slice(status.Active, func(i, j int) bool {
		return status.Active[i].StartedAt.Before(status.Active[j].StartedAt)
	})
	sort.Slice(status.Workers, func(i, j int) bool {
		return status.Workers[i].Name < status.Workers[j].Name
	})

	failed, err := p.progress.ListProgress(ctx, domain.StatusFailed)
	if err != nil {
		return status, fmt.Errorf("list failed progress: %w", err)
	}
	status.Failed = failed
	return status, nil
}

func (p *Pipeline) register(name string) {
	p.mu.Lock()
	p.workers[name] = &domain.WorkerStatus{Name: name, Alive: true, LastSeen: p.now()}
	p.mu.Unlock()
}

func (p *Pipeline) heartbeat(name string) {
	p.mu.Lock()
	if w, ok := p.workers[name]; ok {
		w.LastSeen = p.now()
	}
	p.mu.Unlock()
}

func (p *Pipeline) retire(name string) {
	p.mu.Lock()
	if w, ok := p.workers[name]; ok {
		w.Alive = false
		w.LastSeen = p.now()
	}
	p.mu.Unlock()
}

func (p *Pipeline) setStage(path string, stage domain.PipelineStage) {
	p.mu.Lock()
	item, ok := p.active[path]
	if !ok {
		item = domain.ActiveItem{Path: path, StartedAt: p.now()}
	}
	item.Stage = stage
	p.active[path] = item
	p.mu.Unlock()
}

// claim marks a dequeued path in flight. A path that is already in flight
// is parked instead and requeued when its running job finishes, so one
// document never has two jobs at once.
func (p *Pipeline) claim(item domain.QueueItem) bool {
	p.mu.Lock()
	_, busy := p.active[item.Path]
	if !busy {
		p.active[item.Path] = domain.ActiveItem{Path: item.Path, Stage: domain.StageChunking, StartedAt: p.now()}
		p.mu.Unlock()
		return true
	}
	prio, parked := p.parked[item.Path]
	if !parked || item.Priority > prio {
		p.parked[item.Path] = item.Priority
	}
	p.mu.Unlock()

	if parked {
		// The earlier parked claim already stands for this path.
		p.queue.Done()
	}
	logger.Debug("%s is still being indexed, requeued after it finishes", item.Path)
	return false
}

// finish releases a dequeued path. Outcome is nil when nothing was counted.
func (p *Pipeline) finish(path string, outcome *bool) {
	p.mu.Lock()
	delete(p.active, path)
	prio, parked := p.parked[path]
	delete(p.parked, path)
	if outcome != nil {
		if *outcome {
			p.completed++
		} else {
			p.failed++
		}
	}
	p.mu.Unlock()

	if parked {
		p.queue.Enqueue(path, prio)
		p.queue.Done()
	}
	p.queue.Done()
}

func (p *Pipeline) chunkWorker(runCtx, workCtx context.Context, name string) {
	defer p.chunkWG.Done()
	defer p.retire(name)

	for runCtx.Err() == nil {
		item, ok := p.queue.Dequeue(runCtx, p.cfg.DequeueTimeout)
		p.heartbeat(name)
		if !ok || !p.claim(item) {
			continue
		}
		p.chunkPath(workCtx, item.Path)
	}
}

// chunkPath handles one dequeued path. Every exit either hands batches to
// the embed workers or releases the path itself.
func (p *Pipeline) chunkPath(ctx context.Context, path string) {
	job, err := p.prepare(ctx, path)
	switch {
	case err != nil:
		logger.Warn("indexing %s failed: %v", path, err)
		p.recordFailure(ctx, path, "", err, 0)
		ok := false
		p.finish(path, &ok)
		return
	case job == nil:
		p.finish(path, nil)
		return
	}

	p.setStage(path, domain.StageEmbedding)
	for index := 0; index < job.batches; index++ {
		lo := index * p.cfg.BatchSize
		hi := min(lo+p.cfg.BatchSize, len(job.chunks))
		p.embedCh <- &workBatch{job: job, index: index, chunks: job.chunks[lo:hi]}
	}
}

// prepare resolves identity and extraction for a path. It returns a nil job
// when there is nothing to embed.
func (p *Pipeline) prepare(ctx context.Context, path string) (*docJob, error) {
	docs := p.storage.Documents()

	prog, err := p.progress.GetProgress(ctx, path)
	if errors.Is(err, domain.ErrNotFound) {
		prog = &domain.ProcessingProgress{Path: path, Status: domain.StatusPending}
	} else if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, p.handleMissing(ctx, path, prog)
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	hash := HashContent(content)

	doc, err := docs.GetDocumentByPath(ctx, path)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("look up document: %w", err)
	}

	if doc != nil && doc.Path != path {
		// The path is an alias of another document.
		if doc.ContentHash == hash {
			return nil, p.markLinked(ctx, prog, doc, hash)
		}
		if err := docs.RemoveAlias(ctx, path); err != nil {
			return nil, fmt.Errorf("remove stale alias: %w", err)
		}
		doc = nil
	}

	if doc != nil && doc.ContentHash != hash {
		// Content changed in place. It may now duplicate another document.
		if other, err := docs.GetDocumentByHash(ctx, hash); err == nil && other.ID != doc.ID && fileExists(other.Path) {
			if err := p.storage.DeleteDocument(ctx, doc.ID); err != nil {
				return nil, fmt.Errorf("drop replaced document: %w", err)
			}
			if err := docs.AddAlias(ctx, path, other.ID); err != nil {
				return nil, fmt.Errorf("link alias: %w", err)
			}
			return nil, p.markLinked(ctx, prog, other, hash)
		}
	}

	if doc == nil {
		other, err := docs.GetDocumentByHash(ctx, hash)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("look up content hash: %w", err)
		case fileExists(other.Path):
			if err := docs.AddAlias(ctx, path, other.ID); err != nil {
				return nil, fmt.Errorf("link alias: %w", err)
			}
			logger.Debug("%s duplicates %s, linked as alias", path, other.Path)
			return nil, p.markLinked(ctx, prog, other, hash)
		default:
			// Same content, old location gone: the file moved.
			oldPath := other.Path
			if err := docs.MoveDocument(ctx, other.ID, path); err != nil {
				return nil, fmt.Errorf("move document: %w", err)
			}
			if err := p.progress.MovePath(ctx, oldPath, path); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("move progress: %w", err)
			}
			logger.Info("document moved: %s -> %s", oldPath, path)
			other.Path = path
			doc = other
			if moved, err := p.progress.GetProgress(ctx, path); err == nil {
				prog = moved
			}
		}
	}

	if doc != nil && doc.ContentHash == hash && doc.Status == domain.StatusCompleted {
		return nil, p.markLinked(ctx, prog, doc, hash)
	}

	return p.extract(ctx, path, content, hash, doc, prog)
}

func (p *Pipeline) extract(
	ctx context.Context,
	path string,
	content []byte,
	hash string,
	doc *domain.Document,
	prog *domain.ProcessingProgress,
) (*docJob, error) {
	ext := p.extractors.Extract(ctx, path, content)
	if ext.Err != nil {
		logger.Warn("extract %s (%s): %v", path, ext.Method, ext.Err)
	}

	if len(ext.Chunks) == 0 {
		if doc != nil {
			if err := p.storage.DeleteDocument(ctx, doc.ID); err != nil {
				return nil, fmt.Errorf("drop document without chunks: %w", err)
			}
		}
		prog.Status = domain.StatusPending
		prog.DocumentID = ""
		prog.ContentHash = hash
		prog.ChunksProcessed = 0
		prog.TotalChunks = 0
		prog.LastError = fmt.Sprintf("%v (%s)", domain.ErrNoChunks, ext.Method)
		prog.UpdatedAt = p.now()
		if err := p.progress.SaveProgress(ctx, prog); err != nil {
			return nil, fmt.Errorf("save progress: %w", err)
		}
		logger.Debug("%s: %s", path, prog.LastError)
		return nil, nil
	}

	now := p.now()
	resume := doc != nil && prog.CanResume(hash) &&
		prog.DocumentID == doc.ID && prog.TotalChunks == len(ext.Chunks)

	if doc == nil {
		doc = &domain.Document{ID: uuid.NewString(), Path: path, CreatedAt: now}
	} else if !resume {
		if err := p.storage.DeleteChunks(ctx, doc.ID); err != nil {
			return nil, fmt.Errorf("drop old chunks: %w", err)
		}
	}
	doc.ContentHash = hash
	doc.Title = ext.Title
	doc.Kind = ext.Kind
	doc.TotalChunks = len(ext.Chunks)
	doc.Status = domain.StatusInProgress
	doc.UpdatedAt = now

	start := 0
	if resume {
		start = prog.ChunksProcessed
		n, err := p.storage.ReloadDocument(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("reload stored embeddings: %w", err)
		}
		logger.Info("resuming %s at chunk %d of %d (%d stored)", path, start, doc.TotalChunks, n)
	}

	chunks := make([]domain.Chunk, 0, len(ext.Chunks)-start)
	for seq := start; seq < len(ext.Chunks); seq++ {
		draft := ext.Chunks[seq]
		chunks = append(chunks, domain.Chunk{
			ID:         ChunkID(doc.ID, seq),
			DocumentID: doc.ID,
			Seq:        seq,
			Content:    draft.Content,
			TokenCount: domain.EstimateTokens(draft.Content),
			Metadata:   draft.Metadata,
		})
	}

	prog.DocumentID = doc.ID
	prog.ContentHash = hash
	prog.Status = domain.StatusInProgress
	prog.TotalChunks = doc.TotalChunks
	prog.ChunksProcessed = start
	prog.LastError = ""
	prog.UpdatedAt = now

	if err := p.storage.Documents().SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	if err := p.progress.SaveProgress(ctx, prog); err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}

	// A document whose chunks are all stored still sends one empty batch,
	// so the store worker flushes and completes it.
	remaining := doc.TotalChunks - start
	job := &docJob{
		path:     path,
		doc:      doc,
		progress: *prog,
		chunks:   chunks,
		batches:  max((remaining+p.cfg.BatchSize-1)/p.cfg.BatchSize, 1),
		pending:  make(map[int]*workBatch),
	}
	logger.Debug("%s: %d chunks via %s, %d batches", path, doc.TotalChunks, ext.Method, job.batches)
	return job, nil
}

// handleMissing deletes the document of a path that no longer exists.
func (p *Pipeline) handleMissing(ctx context.Context, path string, prog *domain.ProcessingProgress) error {
	docs := p.storage.Documents()
	doc, err := docs.GetDocumentByPath(ctx, path)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return fmt.Errorf("look up document: %w", err)
	case doc.Path != path:
		if err := docs.RemoveAlias(ctx, path); err != nil {
			return fmt.Errorf("remove alias: %w", err)
		}
	default:
		if err := p.storage.DeleteDocument(ctx, doc.ID); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		logger.Info("removed document for missing file %s", path)
	}

	prog.Status = domain.StatusFailed
	prog.DocumentID = ""
	prog.ChunksProcessed = 0
	prog.SetError(errFileMissing)
	prog.UpdatedAt = p.now()
	if err := p.progress.SaveProgress(ctx, prog); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// markLinked records that path is served by an existing document.
func (p *Pipeline) markLinked(ctx context.Context, prog *domain.ProcessingProgress, doc *domain.Document, hash string) error {
	prog.DocumentID = doc.ID
	prog.ContentHash = hash
	prog.Status = domain.StatusCompleted
	prog.TotalChunks = doc.TotalChunks
	prog.ChunksProcessed = doc.TotalChunks
	prog.LastError = ""
	prog.UpdatedAt = p.now()
	if err := p.progress.SaveProgress(ctx, prog); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

func (p *Pipeline) recordFailure(ctx context.Context, path, documentID string, cause error, attempts int) {
	prog, err := p.progress.GetProgress(ctx, path)
	if err != nil {
		prog = &domain.ProcessingProgress{Path: path}
	}
	prog.Status = domain.StatusFailed
	if documentID != "" {
		prog.DocumentID = documentID
	}
	prog.RetryCount += max(attempts, 1)
	prog.SetError(cause)
	prog.UpdatedAt = p.now()
	if err := p.progress.SaveProgress(ctx, prog); err != nil {
		logger.Warn("save failed progress for %s: %v", path, err)
	}
}

func (p *Pipeline) embedWorker(ctx context.Context, name string) {
	defer p.embedWG.Done()
	defer p.retire(name)

	for batch := range p.embedCh {
		p.heartbeat(name)
		if len(batch.chunks) == 0 {
			p.storeCh <- batch
			continue
		}
		texts := make([]string, len(batch.chunks))
		for i := range batch.chunks {
			texts[i] = batch.chunks[i].Content
		}
		vectors, attempts, err := p.embedWithRetry(ctx, texts)
		batch.attempts = attempts
		switch {
		case err != nil:
			batch.err = err
		case len(vectors) != len(texts):
			batch.err = fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
		default:
			for i := range batch.chunks {
				batch.chunks[i].Embedding = vectors[i]
			}
		}
		p.storeCh <- batch
	}
}

// embedWithRetry retries transient failures with linear backoff.
func (p *Pipeline) embedWithRetry(ctx context.Context, texts []string) ([][]float32, int, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			return vectors, attempt + 1, nil
		}
		lastErr = err
		if !domain.IsTransient(err) || attempt == p.cfg.MaxRetries {
			return nil, attempt + 1, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
		}
		logger.Debug("embedding attempt %d failed, retrying: %v", attempt+1, err)
		if err := sleepCtx(ctx, p.cfg.RetryBackoff*time.Duration(attempt+1)); err != nil {
			return nil, attempt + 1, err
		}
	}
	return nil, p.cfg.MaxRetries + 1, lastErr
}

func (p *Pipeline) storeWorker(ctx context.Context, name string) {
	defer p.storeWG.Done()
	defer p.retire(name)

	for batch := range p.storeCh {
		p.heartbeat(name)
		job := batch.job
		job.received++
		if !job.failed {
			job.pending[batch.index] = batch
			for {
				next, ok := job.pending[job.next]
				if !ok {
					break
				}
				delete(job.pending, job.next)
				job.next++
				p.commit(ctx, next)
				if job.failed {
					break
				}
			}
		}
		if job.failed && job.received == job.batches {
			job.pending = nil
		}
	}
}

// commit stores one in-order batch and completes the document after its last.
func (p *Pipeline) commit(ctx context.Context, batch *workBatch) {
	job := batch.job
	if batch.err != nil {
		p.failJob(ctx, job, batch.err, batch.attempts)
		return
	}
	p.setStage(job.path, domain.StageStoring)

	prog := job.progress
	if len(batch.chunks) > 0 {
		prog.ChunksProcessed = batch.chunks[len(batch.chunks)-1].Seq + 1
		prog.UpdatedAt = p.now()
		err := p.withRetry(ctx, func() error {
			return p.storage.StoreBatch(ctx, driven.ChunkBatch{
				Document: job.doc,
				Chunks:   batch.chunks,
				Progress: &prog,
			})
		})
		if err != nil {
			p.failJob(ctx, job, err, 1)
			return
		}
		job.progress = prog
	}

	if job.next < job.batches {
		return
	}

	if err := p.storage.Flush(); err != nil {
		p.failJob(ctx, job, err, 1)
		return
	}
	job.doc.Status = domain.StatusCompleted
	job.doc.UpdatedAt = p.now()
	prog.Status = domain.StatusCompleted
	prog.UpdatedAt = job.doc.UpdatedAt
	err := p.withRetry(ctx, func() error {
		return p.storage.StoreBatch(ctx, driven.ChunkBatch{Document: job.doc, Progress: &prog})
	})
	if err != nil {
		p.failJob(ctx, job, err, 1)
		return
	}
	logger.Debug("indexed %s: %d chunks", job.path, job.doc.TotalChunks)
	ok := true
	p.finish(job.path, &ok)
}

// withRetry retries transient storage failures.
func (p *Pipeline) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if err = fn(); err == nil || !domain.IsTransient(err) {
			return err
		}
		if sleepErr := sleepCtx(ctx, p.cfg.RetryBackoff*time.Duration(attempt+1)); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func (p *Pipeline) failJob(ctx context.Context, job *docJob, cause error, attempts int) {
	job.failed = true
	job.pending = make(map[int]*workBatch)
	logger.Warn("indexing %s failed: %v", job.path, cause)
	p.recordFailure(ctx, job.path, job.doc.ID, cause, attempts)

	job.doc.Status = domain.StatusFailed
	if err := p.storage.Documents().SaveDocument(ctx, job.doc); err != nil {
		logger.Warn("save failed document %s: %v", job.doc.ID, err)
	}
	// Keep what was stored durable for a later resume.
	if err := p.storage.Flush(); err != nil {
		logger.Warn("flush after failure: %v", err)
	}
	ok := false
	p.finish(job.path, &ok)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
