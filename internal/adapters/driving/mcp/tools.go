package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/watcher"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// Tool names.
const (
	ToolQuery       = "query"
	ToolQueueStatus = "queue_status"
	ToolEnqueue     = "enqueue"
	ToolIntegrity   = "integrity_check"
	ToolPause       = "pause"
	ToolResume      = "resume"
	ToolClear       = "clear"
)

// defaultTopK is used when a query does not set top_k.
const defaultTopK = 10

// QueryInput is the input schema for the query tool.
type QueryInput struct {
	Query     string  `json:"query" jsonschema:"the text to search for"`
	TopK      int     `json:"top_k,omitempty" jsonschema:"maximum number of results to return (default 10)"`
	Threshold float64 `json:"threshold,omitempty" jsonschema:"drop results scoring below this value"`
	Breadth   int     `json:"breadth,omitempty" jsonschema:"vector search breadth override"`
}

// QueryOutput is the output schema for the query tool.
type QueryOutput struct {
	Results  []QueryResultOutput `json:"results"`
	Count    int                 `json:"count"`
	Mode     string              `json:"mode"`
	Degraded string              `json:"degraded,omitempty"`
}

// QueryResultOutput represents a single query hit.
type QueryResultOutput struct {
	DocumentID  string  `json:"document_id"`
	ChunkID     string  `json:"chunk_id"`
	Path        string  `json:"path"`
	Title       string  `json:"title"`
	Seq         int     `json:"seq"`
	Score       float64 `json:"score"`
	VectorRank  int     `json:"vector_rank,omitempty"`
	KeywordRank int     `json:"keyword_rank,omitempty"`
	Reranked    bool    `json:"reranked,omitempty"`
	Content     string  `json:"content,omitempty"`
}

// StatusInput is the input schema for the queue_status tool.
type StatusInput struct{}

// StatusOutput is a JSON form of domain.QueueStatus.
type StatusOutput struct {
	HighPending   int            `json:"high_pending"`
	NormalPending int            `json:"normal_pending"`
	Paused        bool           `json:"paused"`
	Running       bool           `json:"running"`
	Completed     int            `json:"completed"`
	FailedCount   int            `json:"failed_count"`
	Active        []ActiveOutput `json:"active,omitempty"`
	Workers       []WorkerOutput `json:"workers,omitempty"`
	Failed        []FailedOutput `json:"failed,omitempty"`
}

// ActiveOutput is an item in flight.
type ActiveOutput struct {
	Path      string `json:"path"`
	Stage     string `json:"stage"`
	StartedAt string `json:"started_at"`
}

// WorkerOutput is the liveness of one worker.
type WorkerOutput struct {
	Name     string `json:"name"`
	Alive    bool   `json:"alive"`
	LastSeen string `json:"last_seen,omitempty"`
}

// FailedOutput is a failed path with its last error.
type FailedOutput struct {
	Path       string `json:"path"`
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
}

// EnqueueInput is the input schema for the enqueue tool.
type EnqueueInput struct {
	Paths    []string `json:"paths" jsonschema:"files or directories to index"`
	Priority string   `json:"priority,omitempty" jsonschema:"high or normal (default normal)"`
}

// EnqueueOutput reports how many files were queued.
type EnqueueOutput struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// IntegrityInput is the input schema for the integrity_check tool.
type IntegrityInput struct {
	DryRun bool `json:"dry_run,omitempty" jsonschema:"report repairs without applying them"`
}

// IntegrityOutput summarises an integrity run.
type IntegrityOutput struct {
	Healthy bool           `json:"healthy"`
	DryRun  bool           `json:"dry_run"`
	Issues  []IssueOutput  `json:"issues,omitempty"`
	Actions []ActionOutput `json:"actions,omitempty"`
}

// IssueOutput is one integrity finding.
type IssueOutput struct {
	Check  string `json:"check"`
	Kind   string `json:"kind"`
	Target string `json:"target"`
	Detail string `json:"detail,omitempty"`
}

// ActionOutput is one repair action.
type ActionOutput struct {
	Kind        string `json:"kind"`
	Target      string `json:"target"`
	Description string `json:"description"`
	Before      int    `json:"before"`
	After       int    `json:"after"`
	Applied     bool   `json:"applied"`
}

// ControlInput is the input schema for pause, resume and clear.
type ControlInput struct{}

// ControlOutput reports the queue after a control tool ran.
type ControlOutput struct {
	Paused  bool `json:"paused"`
	Pending int  `json:"pending"`
	Dropped int  `json:"dropped,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolQuery,
		Description: "Hybrid keyword and semantic search over indexed files",
	}, s.handleQuery)

	if s.ports.Indexing != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        ToolQueueStatus,
			Description: "Report pending, active and failed indexing work",
		}, s.handleQueueStatus)
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        ToolEnqueue,
			Description: "Queue files or directories for indexing",
		}, s.handleEnqueue)
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        ToolPause,
			Description: "Pause the indexing queue; in-flight files finish",
		}, s.handlePause)
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        ToolResume,
			Description: "Resume a paused indexing queue",
		}, s.handleResume)
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        ToolClear,
			Description: "Drop every pending item from the indexing queue",
		}, s.handleClear)
	}

	if s.ports.Integrity != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        ToolIntegrity,
			Description: "Check the store and indexes for drift and repair it",
		}, s.handleIntegrity)
	}
}

// handleQuery handles the query tool invocation.
func (s *Server) handleQuery(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input QueryInput,
) (*mcp.CallToolResult, QueryOutput, error) {
	topK := input.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	resp, err := s.ports.Query.Query(ctx, input.Query, domain.QueryOptions{
		TopK:      topK,
		Threshold: input.Threshold,
		Breadth:   input.Breadth,
	})
	if err != nil {
		return nil, QueryOutput{}, err
	}

	return nil, NewQueryOutput(resp), nil
}

// NewQueryOutput converts a query response to its tool output.
func NewQueryOutput(resp *domain.QueryResponse) QueryOutput {
	output := QueryOutput{
		Results:  make([]QueryResultOutput, len(resp.Results)),
		Count:    len(resp.Results),
		Mode:     string(resp.Mode),
		Degraded: resp.Degraded,
	}
	for i := range resp.Results {
		r := &resp.Results[i]
		output.Results[i] = QueryResultOutput{
			DocumentID:  r.DocumentID,
			ChunkID:     r.ChunkID,
			Path:        r.Path,
			Title:       r.Title,
			Seq:         r.Seq,
			Score:       r.Score,
			VectorRank:  r.VectorRank,
			KeywordRank: r.KeywordRank,
			Reranked:    r.Reranked,
			Content:     r.Content,
		}
	}
	return output
}

// Response converts the tool output back to a query response.
func (o QueryOutput) Response() *domain.QueryResponse {
	resp := &domain.QueryResponse{
		Results:  make([]domain.SearchResult, len(o.Results)),
		Mode:     domain.SearchMode(o.Mode),
		Degraded: o.Degraded,
	}
	for i, r := range o.Results {
		resp.Results[i] = domain.SearchResult{
			DocumentID:  r.DocumentID,
			ChunkID:     r.ChunkID,
			Path:        r.Path,
			Title:       r.Title,
			Seq:         r.Seq,
			Score:       r.Score,
			VectorRank:  r.VectorRank,
			KeywordRank: r.KeywordRank,
			Reranked:    r.Reranked,
			Content:     r.Content,
		}
	}
	return resp
}

// handleQueueStatus handles the queue_status tool invocation.
func (s *Server) handleQueueStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	st, err := s.ports.Indexing.QueueStatus(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, NewStatusOutput(st), nil
}

// handleEnqueue handles the enqueue tool invocation. Directories are
// walked with the same ignore rules as the watcher.
func (s *Server) handleEnqueue(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input EnqueueInput,
) (*mcp.CallToolResult, EnqueueOutput, error) {
	if len(input.Paths) == 0 {
		return nil, EnqueueOutput{}, fmt.Errorf("%w: no paths", domain.ErrInvalidInput)
	}
	priority, ok := domain.ParsePriority(input.Priority)
	if !ok {
		return nil, EnqueueOutput{}, fmt.Errorf("%w: priority %q", domain.ErrInvalidInput, input.Priority)
	}

	var out EnqueueOutput
	for _, root := range input.Paths {
		err := watcher.Walk(ctx, root, func(path string) error {
			added, err := s.ports.Indexing.EnqueueForIndexing(ctx, path, priority)
			if err != nil {
				return err
			}
			if added {
				out.Queued++
			} else {
				out.Skipped++
			}
			return nil
		})
		if err != nil {
			return nil, out, fmt.Errorf("enqueue %s: %w", root, err)
		}
	}
	return nil, out, nil
}

func (s *Server) handlePause(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ ControlInput,
) (*mcp.CallToolResult, ControlOutput, error) {
	s.ports.Indexing.Pause()
	out, err := s.controlOutput(ctx)
	return nil, out, err
}

func (s *Server) handleResume(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ ControlInput,
) (*mcp.CallToolResult, ControlOutput, error) {
	s.ports.Indexing.Resume()
	out, err := s.controlOutput(ctx)
	return nil, out, err
}

func (s *Server) handleClear(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ ControlInput,
) (*mcp.CallToolResult, ControlOutput, error) {
	dropped := s.ports.Indexing.Clear()
	out, err := s.controlOutput(ctx)
	out.Dropped = dropped
	return nil, out, err
}

func (s *Server) controlOutput(ctx context.Context) (ControlOutput, error) {
	st, err := s.ports.Indexing.QueueStatus(ctx)
	if err != nil {
		return ControlOutput{}, err
	}
	return ControlOutput{Paused: st.Paused, Pending: st.Size()}, nil
}

// handleIntegrity handles the integrity_check tool invocation.
func (s *Server) handleIntegrity(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IntegrityInput,
) (*mcp.CallToolResult, IntegrityOutput, error) {
	report, err := s.ports.Integrity.RunIntegrityCheck(ctx, input.DryRun)
	if err != nil {
		return nil, IntegrityOutput{}, err
	}

	out := IntegrityOutput{Healthy: report.Healthy(), DryRun: report.DryRun}
	for _, issue := range report.Issues {
		out.Issues = append(out.Issues, IssueOutput{
			Check:  string(issue.Check),
			Kind:   string(issue.Kind),
			Target: issue.Target,
			Detail: issue.Detail,
		})
	}
	for _, a := range report.Actions {
		out.Actions = append(out.Actions, ActionOutput{
			Kind:        string(a.Kind),
			Target:      a.Target,
			Description: a.Description,
			Before:      a.Before,
			After:       a.After,
			Applied:     a.Applied,
		})
	}
	return nil, out, nil
}

// Report converts the tool output back to an integrity report.
func (o IntegrityOutput) Report() *domain.IntegrityReport {
	report := &domain.IntegrityReport{DryRun: o.DryRun}
	for _, issue := range o.Issues {
		report.Issues = append(report.Issues, domain.IntegrityIssue{
			Check:  domain.CheckKind(issue.Check),
			Kind:   domain.IssueKind(issue.Kind),
			Target: issue.Target,
			Detail: issue.Detail,
		})
	}
	for _, a := range o.Actions {
		report.Actions = append(report.Actions, domain.RepairAction{
			Kind:        domain.IssueKind(a.Kind),
			Target:      a.Target,
			Description: a.Description,
			Before:      a.Before,
			After:       a.After,
			Applied:     a.Applied,
		})
	}
	return report
}

// NewStatusOutput converts a queue status to its wire form.
func NewStatusOutput(st domain.QueueStatus) StatusOutput {
	out := StatusOutput{
		HighPending:   st.HighPending,
		NormalPending: st.NormalPending,
		Paused:        st.Paused,
		Running:       st.Running,
		Completed:     st.Completed,
		FailedCount:   st.FailedCount,
	}
	for _, a := range st.Active {
		out.Active = append(out.Active, ActiveOutput{
			Path:      a.Path,
			Stage:     string(a.Stage),
			StartedAt: formatTime(a.StartedAt),
		})
	}
	for _, w := range st.Workers {
		out.Workers = append(out.Workers, WorkerOutput{
			Name:     w.Name,
			Alive:    w.Alive,
			LastSeen: formatTime(w.LastSeen),
		})
	}
	for _, f := range st.Failed {
		out.Failed = append(out.Failed, FailedOutput{
			Path:       f.Path,
			Error:      f.LastError,
			RetryCount: f.RetryCount,
		})
	}
	return out
}

// QueueStatus converts the wire form back to a domain status.
func (o StatusOutput) QueueStatus() domain.QueueStatus {
	st := domain.QueueStatus{
		HighPending:   o.HighPending,
		NormalPending: o.NormalPending,
		Paused:        o.Paused,
		Running:       o.Running,
		Completed:     o.Completed,
		FailedCount:   o.FailedCount,
	}
	for _, a := range o.Active {
		st.Active = append(st.Active, domain.ActiveItem{
			Path:      a.Path,
			Stage:     domain.PipelineStage(a.Stage),
			StartedAt: parseTime(a.StartedAt),
		})
	}
	for _, w := range o.Workers {
		st.Workers = append(st.Workers, domain.WorkerStatus{
			Name:     w.Name,
			Alive:    w.Alive,
			LastSeen: parseTime(w.LastSeen),
		})
	}
	for _, f := range o.Failed {
		st.Failed = append(st.Failed, domain.ProcessingProgress{
			Path:       f.Path,
			Status:     domain.StatusFailed,
			LastError:  f.Error,
			RetryCount: f.RetryCount,
		})
	}
	return st
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
