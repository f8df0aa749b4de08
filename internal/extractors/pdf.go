package extractors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/custodia-labs/sercha-indexer/internal/chunker"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Extraction methods of the PDF extractor.
const (
	MethodPDFText        = "pdf:pdftotext"
	MethodPDFUnavailable = "pdf:unavailable"
)

const pdfTool = "pdftotext"

// ErrPDFToolNotFound is reported when pdftotext is not installed.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH")

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PDF extracts text through poppler's pdftotext. Pages are separated by
// form feeds in its output and recorded as chunk metadata.
type PDF struct {
	splitter *chunker.Splitter
	runner   CommandRunner
	lookPath func(string) (string, error)
}

// NewPDF creates a PDF extractor. A nil runner uses ExecRunner.
func NewPDF(splitter *chunker.Splitter, runner CommandRunner) *PDF {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &PDF{splitter: splitter, runner: runner, lookPath: exec.LookPath}
}

// Kind returns domain.ContentKindPDF.
func (p *PDF) Kind() domain.ContentKind { return domain.ContentKindPDF }

// Extensions returns ".pdf".
func (p *PDF) Extensions() []string { return []string{".pdf"} }

// InstallInstructions describes how to install the external tool.
func InstallInstructions() string {
	return "PDF support needs pdftotext from poppler:\n" +
		"  macOS:         brew install poppler\n" +
		"  Debian/Ubuntu: apt install poppler-utils\n" +
		"  Fedora:        dnf install poppler-utils"
}

// Extract runs pdftotext on the file. Without the tool the result has no
// chunks and the unavailable method, so the document stays pending.
func (p *PDF) Extract(ctx context.Context, path string, content []byte) (*driven.Extraction, error) {
	if _, err := p.lookPath(pdfTool); err != nil {
		return &driven.Extraction{Kind: p.Kind(), Method: MethodPDFUnavailable}, ErrPDFToolNotFound
	}

	// The file may have changed since it was read; extract the bytes we hold.
	tmp, err := os.CreateTemp("", "sercha-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	out, err := p.runner.Run(ctx, pdfTool, "-layout", "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext failed: %w", err)
	}

	var chunks []driven.ChunkDraft
	for i, page := range strings.Split(string(out), "\f") {
		meta := map[string]string{"page": strconv.Itoa(i + 1)}
		chunks = append(chunks, drafts(p.splitter.Split(page), meta)...)
	}

	return &driven.Extraction{
		Kind:   p.Kind(),
		Title:  pdfTitle(string(out), path),
		Method: MethodPDFText,
		Chunks: chunks,
	}, nil
}

// pdfTitle uses the first non-empty line, falling back to the file name.
func pdfTitle(text, path string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.Trim(line, "\f"))
		if line != "" {
			if r := []rune(line); len(r) > 120 {
				line = string(r[:120])
			}
			return line
		}
	}
	return domain.TitleFromPath(path)
}
