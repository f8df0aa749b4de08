package ivf

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

// Default configuration values.
const (
	DefaultTrainThreshold = 256
	kmeansIterations      = 8
)

var (
	// ErrClosed is returned by operations on a closed or discarded index.
	ErrClosed = errors.New("ivf: index is closed")

	// ErrCorrupt indicates the index file could not be decoded.
	ErrCorrupt = errors.New("ivf: corrupt index file")
)

// Index is an inverted-file vector index bound to one file path.
type Index struct {
	mu        sync.RWMutex
	path      string
	dimension int
	precision Precision
	closed    bool

	partitions     int
	trainThreshold int

	vectors   map[string][]float32
	centroids [][]float32
	lists     []map[string]struct{}
	assigned  map[string]int

	// pending holds vectors added since the last training pass.
	pending map[string]struct{}
}

// Option configures an Index.
type Option func(*Index)

// WithPrecision sets the on-disk storage precision.
func WithPrecision(p Precision) Option {
	return func(idx *Index) {
		idx.precision = p
	}
}

// WithPartitions fixes the number of partitions. Zero uses sqrt(n).
func WithPartitions(n int) Option {
	return func(idx *Index) {
		if n >= 0 {
			idx.partitions = n
		}
	}
}

// WithTrainThreshold sets the vector count below which the index stays exhaustive.
func WithTrainThreshold(n int) Option {
	return func(idx *Index) {
		if n > 0 {
			idx.trainThreshold = n
		}
	}
}

// Open loads the index at path, or starts an empty one if the file does not exist.
func Open(path string, dimension int, opts ...Option) (*Index, error) {
	if path == "" {
		return nil, errors.New("ivf: path cannot be empty")
	}
	if dimension <= 0 {
		return nil, errors.New("ivf: dimension must be positive")
	}

	idx := &Index{
		path:           path,
		dimension:      dimension,
		precision:      PrecisionFloat32,
		trainThreshold: DefaultTrainThreshold,
		vectors:        make(map[string][]float32),
		assigned:       make(map[string]int),
		pending:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(idx)
	}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return idx, nil
	case err != nil:
		return nil, fmt.Errorf("ivf: open %s: %w", path, err)
	}
	defer f.Close()

	snap, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	if snap.dimension != dimension {
		return nil, fmt.Errorf("%w: index %s has dimension %d, want %d",
			domain.ErrDimensionMismatch, path, snap.dimension, dimension)
	}
	for id, vec := range snap.vectors {
		idx.vectors[id] = vec
	}
	idx.train()
	return idx, nil
}

// Add inserts or replaces the vector for chunkID.
func (idx *Index) Add(_ context.Context, chunkID string, embedding []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return ErrClosed
	}
	if len(embedding) != idx.dimension {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(embedding), idx.dimension)
	}

	idx.removeLocked(chunkID)
	idx.vectors[chunkID] = normalise(embedding)
	idx.pending[chunkID] = struct{}{}

	if idx.needsTraining() {
		idx.train()
	}
	return nil
}

// Delete removes a vector. Unknown IDs are ignored.
func (idx *Index) Delete(_ context.Context, chunkID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return ErrClosed
	}
	idx.removeLocked(chunkID)
	return nil
}

func (idx *Index) removeLocked(id string) {
	if _, ok := idx.vectors[id]; !ok {
		return
	}
	delete(idx.vectors, id)
	delete(idx.pending, id)
	if p, ok := idx.assigned[id]; ok {
		delete(idx.lists[p], id)
		delete(idx.assigned, id)
	}
}

// Search returns up to k vectors most similar to query.
// Breadth is the number of partitions probed and must be positive.
func (idx *Index) Search(ctx context.Context, query []float32, k, breadth int) ([]driven.VectorHit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, ErrClosed
	}
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", domain.ErrDimensionMismatch, len(query), idx.dimension)
	}
	if breadth <= 0 {
		return nil, fmt.Errorf("%w: search breadth must be positive", domain.ErrInvalidInput)
	}
	if k <= 0 || len(idx.vectors) == 0 {
		return nil, nil
	}

	q := normalise(query)
	hits := make([]driven.VectorHit, 0, k*2)
	score := func(id string) {
		hits = append(hits, driven.VectorHit{ChunkID: id, Similarity: float64(dot(q, idx.vectors[id]))})
	}

	for id := range idx.pending {
		score(id)
	}
	for _, p := range idx.probeOrder(q, breadth) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for id := range idx.lists[p] {
			score(id)
		}
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// probeOrder returns the breadth partitions whose centroids are closest to q.
func (idx *Index) probeOrder(q []float32, breadth int) []int {
	if len(idx.centroids) == 0 {
		return nil
	}
	type ranked struct {
		p   int
		sim float32
	}
	order := make([]ranked, len(idx.centroids))
	for p, c := range idx.centroids {
		order[p] = ranked{p: p, sim: dot(q, c)}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].sim != order[j].sim {
			return order[i].sim > order[j].sim
		}
		return order[i].p < order[j].p
	})
	if breadth > len(order) {
		breadth = len(order)
	}
	out := make([]int, breadth)
	for i := range out {
		out[i] = order[i].p
	}
	return out
}

// Len returns the number of vectors in memory.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// Dimension returns the vector size.
func (idx *Index) Dimension() int {
	return idx.dimension
}

// Partitions returns the number of trained partitions.
func (idx *Index) Partitions() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.centroids)
}

// Path returns the file the index persists to.
func (idx *Index) Path() string {
	return idx.path
}

// Reset drops every vector from memory. The file is untouched until Close.
func (idx *Index) Reset() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return ErrClosed
	}
	idx.vectors = make(map[string][]float32)
	idx.assigned = make(map[string]int)
	idx.pending = make(map[string]struct{})
	idx.centroids = nil
	idx.lists = nil
	return nil
}

// Close writes the whole in-memory state to disk and releases the index.
// The file is replaced atomically.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return nil
	}
	idx.closed = true
	err := writeFile(idx.path, snapshot{
		dimension: idx.dimension,
		precision: idx.precision,
		vectors:   idx.vectors,
	})
	idx.release()
	return err
}

// Discard releases the index without writing anything to disk.
func (idx *Index) Discard() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.closed = true
	idx.release()
	return nil
}

func (idx *Index) release() {
	idx.vectors = nil
	idx.assigned = nil
	idx.pending = nil
	idx.centroids = nil
	idx.lists = nil
}

func (idx *Index) needsTraining() bool {
	n := len(idx.vectors)
	if n < idx.trainThreshold {
		return false
	}
	// Retrain once the untrained tail is as large as half the trained set.
	return len(idx.centroids) == 0 || len(idx.pending)*2 >= n-len(idx.pending)
}

func normalise(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// sortHits orders by similarity, breaking ties by ID so results are stable.
func sortHits(hits []driven.VectorHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}
