package mcp

import (
	"context"
	"sync"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
)

// mockQueryService is a mock implementation of driving.QueryService.
type mockQueryService struct {
	resp     *domain.QueryResponse
	err      error
	lastText string
	lastOpts domain.QueryOptions
}

func (m *mockQueryService) Query(_ context.Context, text string, opts domain.QueryOptions) (*domain.QueryResponse, error) {
	m.lastText = text
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	if m.resp == nil {
		return &domain.QueryResponse{Mode: domain.SearchModeHybrid}, nil
	}
	return m.resp, nil
}

// mockIndexingService is a mock implementation of driving.IndexingService.
type mockIndexingService struct {
	mu       sync.Mutex
	queued   map[string]domain.Priority
	status   domain.QueueStatus
	paused   bool
	err      error
	statusFn func() (domain.QueueStatus, error)
}

func newMockIndexing() *mockIndexingService {
	return &mockIndexingService{queued: make(map[string]domain.Priority)}
}

func (m *mockIndexingService) EnqueueForIndexing(_ context.Context, path string, priority domain.Priority) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.queued[path]; ok {
		return false, nil
	}
	m.queued[path] = priority
	return true, nil
}

func (m *mockIndexingService) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

func (m *mockIndexingService) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
}

func (m *mockIndexingService) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.queued)
	m.queued = make(map[string]domain.Priority)
	return n
}

func (m *mockIndexingService) QueueStatus(_ context.Context) (domain.QueueStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.QueueStatus{}, m.err
	}
	st := m.status
	st.Paused = m.paused
	for _, p := range m.queued {
		if p == domain.PriorityHigh {
			st.HighPending++
		} else {
			st.NormalPending++
		}
	}
	return st, nil
}

// mockIntegrityService is a mock implementation of driving.IntegrityService.
type mockIntegrityService struct {
	report     *domain.IntegrityReport
	err        error
	lastDryRun bool
}

func (m *mockIntegrityService) RunIntegrityCheck(_ context.Context, dryRun bool) (*domain.IntegrityReport, error) {
	m.lastDryRun = dryRun
	if m.err != nil {
		return nil, m.err
	}
	report := *m.report
	report.DryRun = dryRun
	return &report, nil
}

func (m *mockIntegrityService) Repair(ctx context.Context, dryRun bool) ([]domain.RepairAction, error) {
	report, err := m.RunIntegrityCheck(ctx, dryRun)
	if err != nil {
		return nil, err
	}
	return report.Actions, nil
}

func (m *mockIntegrityService) RebuildIndex(_ context.Context, dryRun bool) (*domain.RepairAction, error) {
	return &domain.RepairAction{Kind: domain.IssueVectorIndexDrift, Applied: !dryRun}, m.err
}

// mockDocumentService is a mock implementation of driving.DocumentService.
type mockDocumentService struct {
	documents []domain.Document
	content   map[string]string
	err       error
}

func (m *mockDocumentService) List(_ context.Context) ([]domain.Document, error) {
	return m.documents, m.err
}

func (m *mockDocumentService) Get(_ context.Context, id string) (*domain.Document, error) {
	for i := range m.documents {
		if m.documents[i].ID == id || m.documents[i].Path == id {
			return &m.documents[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentService) GetContent(_ context.Context, id string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	content, ok := m.content[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	return content, nil
}

func (m *mockDocumentService) GetDetails(ctx context.Context, id string) (*driving.DocumentDetails, error) {
	doc, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &driving.DocumentDetails{Document: *doc, ChunkCount: doc.TotalChunks}, nil
}

func (m *mockDocumentService) ListProgress(_ context.Context, _ ...domain.ProgressStatus) ([]domain.ProcessingProgress, error) {
	return nil, m.err
}

func (m *mockDocumentService) ProgressSummary(_ context.Context) (map[domain.ProgressStatus]int, error) {
	return map[domain.ProgressStatus]int{}, m.err
}

func (m *mockDocumentService) ClearProgress(_ context.Context, paths ...string) (int, error) {
	return len(paths), m.err
}

func (m *mockDocumentService) Open(_ context.Context, _ string) error {
	return m.err
}
