package domain

import (
	"time"
	"unicode/utf8"
)

// ProgressStatus is the pipeline state of a path.
type ProgressStatus string

// Processing states.
const (
	StatusPending    ProgressStatus = "pending"
	StatusInProgress ProgressStatus = "in_progress"
	StatusCompleted  ProgressStatus = "completed"
	StatusFailed     ProgressStatus = "failed"
)

// IsValid returns true if the status is recognised.
func (s ProgressStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// MaxErrorLength bounds the stored LastError text.
const MaxErrorLength = 500

// ProcessingProgress tracks per-path pipeline state.
// It is created when a path is first queued and is removed by an explicit
// maintenance action, or when its file disappears before it was indexed.
type ProcessingProgress struct {
	// Path is the file path the progress belongs to.
	Path string

	// DocumentID is set once chunking has created the document.
	DocumentID string

	// ContentHash is the hash the checkpoint was taken against.
	ContentHash string

	// Status is the current processing state.
	Status ProgressStatus

	// ChunksProcessed counts chunks durably stored so far.
	ChunksProcessed int

	// TotalChunks is the number of chunks extraction produced.
	TotalChunks int

	// LastError is the most recent failure, truncated to MaxErrorLength.
	LastError string

	// RetryCount is the number of attempts that failed.
	RetryCount int

	// UpdatedAt is when the progress row last changed.
	UpdatedAt time.Time
}

// SetError records err on the progress, truncating long messages on a
// rune boundary.
func (p *ProcessingProgress) SetError(err error) {
	if err == nil {
		p.LastError = ""
		return
	}
	msg := err.Error()
	if len(msg) > MaxErrorLength {
		cut := MaxErrorLength
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	p.LastError = msg
}

// CanResume reports whether a checkpoint against hash can be continued.
// A checkpoint covering every chunk is resumable too: only the flush and
// the completion write are left.
func (p *ProcessingProgress) CanResume(hash string) bool {
	return p.Status == StatusInProgress &&
		p.ContentHash == hash &&
		p.DocumentID != "" &&
		p.ChunksProcessed > 0 &&
		p.ChunksProcessed <= p.TotalChunks
}
