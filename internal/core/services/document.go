package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// Ensure DocumentService implements the interface.
var _ driving.DocumentService = (*DocumentService)(nil)

// DocumentService reads documents and manages progress rows.
type DocumentService struct {
	docStore driven.DocumentStore
	progress driven.ProgressStore

	// opener launches the system viewer. Replaced in tests.
	opener func(path string) error
}

// NewDocumentService creates a new document service.
func NewDocumentService(docStore driven.DocumentStore, progress driven.ProgressStore) *DocumentService {
	return &DocumentService{
		docStore: docStore,
		progress: progress,
		opener:   openPath,
	}
}

// List returns every document ordered by path.
func (s *DocumentService) List(ctx context.Context) ([]domain.Document, error) {
	return s.docStore.ListDocuments(ctx)
}

// Get retrieves a document by ID, falling back to a path lookup.
func (s *DocumentService) Get(ctx context.Context, idOrPath string) (*domain.Document, error) {
	doc, err := s.docStore.GetDocument(ctx, idOrPath)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return doc, err
	}
	path, absErr := filepath.Abs(idOrPath)
	if absErr != nil {
		return nil, err
	}
	return s.docStore.GetDocumentByPath(ctx, path)
}

// GetContent returns the concatenated content of all chunks.
func (s *DocumentService) GetContent(ctx context.Context, documentID string) (string, error) {
	// Verify document exists
	if _, err := s.docStore.GetDocument(ctx, documentID); err != nil {
		return "", err
	}

	chunks, err := s.docStore.GetChunks(ctx, documentID)
	if err != nil {
		return "", err
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].Seq < chunks[j].Seq
	})

	var builder strings.Builder
	for i, chunk := range chunks {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(chunk.Content)
	}
	return builder.String(), nil
}

// GetDetails returns a document with its chunk count and progress row.
func (s *DocumentService) GetDetails(ctx context.Context, documentID string) (*driving.DocumentDetails, error) {
	doc, err := s.docStore.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	chunks, err := s.docStore.GetChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}

	details := &driving.DocumentDetails{Document: *doc, ChunkCount: len(chunks)}
	prog, err := s.progress.GetProgress(ctx, doc.Path)
	switch {
	case err == nil:
		details.Progress = prog
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}
	return details, nil
}

// ListProgress returns progress rows in the given statuses, or all rows.
func (s *DocumentService) ListProgress(ctx context.Context, statuses ...domain.ProgressStatus) ([]domain.ProcessingProgress, error) {
	for _, st := range statuses {
		if !st.IsValid() {
			return nil, fmt.Errorf("%w: status %q", domain.ErrInvalidInput, st)
		}
	}
	return s.progress.ListProgress(ctx, statuses...)
}

// ProgressSummary counts progress rows per status.
func (s *DocumentService) ProgressSummary(ctx context.Context) (map[domain.ProgressStatus]int, error) {
	rows, err := s.progress.ListProgress(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[domain.ProgressStatus]int{
		domain.StatusPending:    0,
		domain.StatusInProgress: 0,
		domain.StatusCompleted:  0,
		domain.StatusFailed:     0,
	}
	for _, row := range rows {
		counts[row.Status]++
	}
	return counts, nil
}

// ClearProgress deletes progress rows so the paths are treated as new the
// next time they are queued. With no paths it clears every failed row.
func (s *DocumentService) ClearProgress(ctx context.Context, paths ...string) (int, error) {
	if len(paths) == 0 {
		failed, err := s.progress.ListProgress(ctx, domain.StatusFailed)
		if err != nil {
			return 0, err
		}
		for _, row := range failed {
			paths = append(paths, row.Path)
		}
	}

	cleared := 0
	for _, path := range paths {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		err := s.progress.DeleteProgress(ctx, path)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return cleared, fmt.Errorf("clear progress %s: %w", path, err)
		}
		cleared++
	}
	logger.Info("cleared %d progress rows", cleared)
	return cleared, nil
}

// Open opens the document's file in the default application.
func (s *DocumentService) Open(ctx context.Context, documentID string) error {
	doc, err := s.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(doc.Path); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, doc.Path)
	}
	return s.opener(doc.Path)
}

// openPath opens a path using the system default handler.
func openPath(path string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "linux":
		cmd = exec.Command("xdg-open", path)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
