package domain

import "time"

// Priority is the queue tier of an item.
type Priority int

// Priority tiers. HIGH drains before NORMAL.
const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// String returns the tier name.
func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// ParsePriority converts a tier name into a Priority.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "high", "HIGH":
		return PriorityHigh, true
	case "normal", "NORMAL", "":
		return PriorityNormal, true
	default:
		return PriorityNormal, false
	}
}

// QueueItem is a pending unit of indexing work.
type QueueItem struct {
	Path       string
	Priority   Priority
	EnqueuedAt time.Time
}

// PipelineStage names where an active item currently is.
type PipelineStage string

// Pipeline stages.
const (
	StageChunking  PipelineStage = "chunking"
	StageEmbedding PipelineStage = "embedding"
	StageStoring   PipelineStage = "storing"
)

// ActiveItem is a document currently flowing through the pipeline.
type ActiveItem struct {
	Path      string
	Stage     PipelineStage
	StartedAt time.Time
}

// WorkerStatus reports liveness of one pipeline worker.
type WorkerStatus struct {
	Name     string
	Alive    bool
	LastSeen time.Time
}

// QueueStatus is a snapshot of the queue and pipeline.
type QueueStatus struct {
	// HighPending and NormalPending count queued items per tier.
	HighPending   int
	NormalPending int

	// Paused is true when dequeues are suspended.
	Paused bool

	// Running is true while the pipeline workers are started.
	Running bool

	Active  []ActiveItem
	Workers []WorkerStatus

	// Failed lists paths whose processing failed, with their last error.
	Failed []ProcessingProgress

	// Completed and FailedCount are totals since the pipeline started.
	Completed   int
	FailedCount int
}

// Size is the total number of pending items.
func (s QueueStatus) Size() int {
	return s.HighPending + s.NormalPending
}
