package extractors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/chunker"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// mockRunner is a test double for CommandRunner.
type mockRunner struct {
	output []byte
	err    error
	args   []string
}

func (m *mockRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	m.args = args
	return m.output, m.err
}

func newTestPDF(runner CommandRunner, installed bool) *PDF {
	p := NewPDF(chunker.New(), runner)
	p.lookPath = func(string) (string, error) {
		if installed {
			return "/usr/bin/pdftotext", nil
		}
		return "", errors.New("not found")
	}
	return p
}

func TestPDF_Pages(t *testing.T) {
	runner := &mockRunner{output: []byte("Quarterly Report\nrevenue up 12%\fpage two text\f")}
	p := newTestPDF(runner, true)

	res, err := p.Extract(context.Background(), "reports/X.pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)

	assert.Equal(t, MethodPDFText, res.Method)
	assert.Equal(t, "Quarterly Report", res.Title)
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "1", res.Chunks[0].Metadata["page"])
	assert.Equal(t, "2", res.Chunks[1].Metadata["page"])
	assert.Equal(t, "page two text", res.Chunks[1].Content)

	require.Len(t, runner.args, 5)
	assert.Equal(t, "-", runner.args[4])
}

func TestPDF_NoText(t *testing.T) {
	p := newTestPDF(&mockRunner{output: []byte("\f\f")}, true)
	res, err := p.Extract(context.Background(), "scan.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, MethodPDFText, res.Method)
	assert.Equal(t, "scan.pdf", res.Title)
	assert.Empty(t, res.Chunks)
}

func TestPDF_RunnerError(t *testing.T) {
	p := newTestPDF(&mockRunner{err: errors.New("pdftotext crashed")}, true)
	_, err := p.Extract(context.Background(), "broken.pdf", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestPDF_ToolMissing(t *testing.T) {
	p := newTestPDF(&mockRunner{}, false)

	res, err := p.Extract(context.Background(), "X.pdf", nil)
	assert.ErrorIs(t, err, ErrPDFToolNotFound)
	assert.Equal(t, MethodPDFUnavailable, res.Method)

	r := NewRegistry()
	r.Register(p)
	ex := r.Extract(context.Background(), "X.pdf", nil)
	assert.Equal(t, MethodPDFUnavailable, ex.Method)
	assert.Equal(t, domain.ContentKindPDF, ex.Kind)
	assert.ErrorIs(t, ex.Err, ErrPDFToolNotFound)
	assert.Empty(t, ex.Chunks)
}

func TestInstallInstructions(t *testing.T) {
	assert.Contains(t, InstallInstructions(), "pdftotext")
	assert.Contains(t, ErrPDFToolNotFound.Error(), "pdftotext")
}
