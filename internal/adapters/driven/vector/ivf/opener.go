package ivf

import (
	"errors"
	"fmt"
	"os"

	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// CorruptSuffix is appended to an index file that failed to decode.
const CorruptSuffix = ".corrupt"

// NewOpener returns an opener for the index file at path. Every call opens
// a new connection with its own in-memory state.
//
// A corrupt file is moved aside and an empty index is opened in its place;
// the integrity check then finds the drift and rebuilds from stored embeddings.
// A dimension mismatch is returned as is.
func NewOpener(path string, dimension int, opts ...Option) driven.VectorIndexOpener {
	return func() (driven.VectorIndex, error) {
		idx, err := Open(path, dimension, opts...)
		if errors.Is(err, ErrCorrupt) {
			logger.Warn("vector index %s is corrupt (%v), starting empty", path, err)
			if rnErr := os.Rename(path, path+CorruptSuffix); rnErr != nil {
				return nil, fmt.Errorf("move corrupt vector index aside: %w", rnErr)
			}
			idx, err = Open(path, dimension, opts...)
		}
		if err != nil {
			return nil, err
		}
		return idx, nil
	}
}
