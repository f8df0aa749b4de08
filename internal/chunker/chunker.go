// Package chunker splits text into overlapping, size-bounded pieces.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// Splitter splits text into chunks of at most chunkSize runes.
// Breaks prefer paragraph, then line, then word boundaries in the last
// quarter of a window, and never fall inside a UTF-8 sequence.
type Splitter struct {
	chunkSize int
	overlap   int
}

// Option configures the splitter.
type Option func(*Splitter)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

// New creates a splitter with the given options.
func New(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(s)
	}
	// Overlap must leave room to advance.
	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}
	return s
}

// ChunkSize returns the configured chunk size.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap returns the configured overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the trimmed, non-empty chunks of text in order.
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	n := len(runes)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + s.chunkSize
		if end >= n {
			end = n
		} else {
			end = s.breakPoint(runes, start, end)
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == n {
			break
		}

		next := end - s.overlap
		if next <= start {
			next = end
		}
		// Start the overlap on a word boundary when one is near.
		for i := next; i < end && i < next+s.overlap/2; i++ {
			if unicode.IsSpace(runes[i]) {
				next = i + 1
				break
			}
		}
		start = next
	}
	return chunks
}

// breakPoint looks back from end for the strongest boundary in the last
// quarter of the window. It returns end when none is found.
func (s *Splitter) breakPoint(runes []rune, start, end int) int {
	floor := end - s.chunkSize/4
	if floor <= start {
		floor = start + 1
	}
	best, bestRank := end, 0
	for i := end; i > floor; i-- {
		rank := boundaryRank(runes, i)
		if rank > bestRank {
			best, bestRank = i, rank
			if rank == 3 {
				break
			}
		}
	}
	return best
}

// boundaryRank scores the position before runes[i]: 3 paragraph, 2 line,
// 1 word, 0 none.
func boundaryRank(runes []rune, i int) int {
	prev := runes[i-1]
	switch {
	case prev == '\n' && i >= 2 && runes[i-2] == '\n':
		return 3
	case prev == '\n':
		return 2
	case unicode.IsSpace(prev):
		return 1
	default:
		return 0
	}
}

// RuneCount reports the length of text in characters.
func RuneCount(text string) int {
	return utf8.RuneCountInString(text)
}
