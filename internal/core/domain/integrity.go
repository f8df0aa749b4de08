package domain

import "time"

// CheckKind identifies one integrity check.
type CheckKind string

// Integrity checks.
const (
	CheckReferential CheckKind = "referential"
	CheckCounts      CheckKind = "counts"
	CheckOrphans     CheckKind = "orphans"
	CheckIndex       CheckKind = "index"
)

// AllChecks returns every check in execution order.
func AllChecks() []CheckKind {
	return []CheckKind{CheckReferential, CheckCounts, CheckOrphans, CheckIndex}
}

// IssueKind classifies an integrity finding.
type IssueKind string

// Issue kinds.
const (
	IssueDanglingChunk     IssueKind = "dangling_chunk"
	IssueDanglingEmbedding IssueKind = "dangling_embedding"
	IssueCountMismatch     IssueKind = "count_mismatch"
	IssueEmptyDocument     IssueKind = "empty_document"
	IssueMissingDocument   IssueKind = "missing_document"
	IssueVectorIndexDrift  IssueKind = "vector_index_drift"
	IssueKeywordIndexDrift IssueKind = "keyword_index_drift"
)

// IntegrityIssue is one inconsistency between the store and derived indexes.
type IntegrityIssue struct {
	Check  CheckKind
	Kind   IssueKind
	Target string
	Detail string
}

// RepairAction records a repair, planned or applied.
type RepairAction struct {
	Kind   IssueKind
	Target string

	// Description says what the action does.
	Description string

	// Before and After are the counts the action changes.
	Before int
	After  int

	// Applied is false for dry runs.
	Applied bool
}

// IntegrityReport is the result of an integrity run.
type IntegrityReport struct {
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Issues     []IntegrityIssue
	Actions    []RepairAction
}

// Healthy reports whether no issues were found.
func (r *IntegrityReport) Healthy() bool {
	return len(r.Issues) == 0
}

// CountByCheck groups issues by check.
func (r *IntegrityReport) CountByCheck() map[CheckKind]int {
	counts := make(map[CheckKind]int)
	for _, issue := range r.Issues {
		counts[issue.Check]++
	}
	return counts
}
