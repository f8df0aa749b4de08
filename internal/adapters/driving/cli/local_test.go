package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/mcp"
)

// indexFixture indexes two documents into a fresh config directory.
func indexFixture(t *testing.T) (configDir, revenue, notes string) {
	t.Helper()
	configDir = t.TempDir()
	docs := t.TempDir()
	revenue = writeDoc(t, docs, "revenue.md", "# Quarterly revenue\n\nRevenue grew in the third quarter.")
	notes = writeDoc(t, docs, "notes.txt", "Gardening notes about tomatoes and basil.")

	out, err := executeLocal(t, configDir, "index", "--high", docs)
	require.NoError(t, err)
	assert.Contains(t, out, "Queued 2 files (0 already queued)")
	assert.Contains(t, out, "Indexed 2 files, 0 failed")
	return configDir, revenue, notes
}

func TestIndexAndQuery(t *testing.T) {
	configDir, revenue, _ := indexFixture(t)

	out, err := executeLocal(t, configDir, "query", "quarterly", "revenue")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] Quarterly revenue")
	assert.Contains(t, out, revenue)

	out, err = executeLocal(t, configDir, "query", "--json", "-n", "1", "quarterly revenue")
	require.NoError(t, err)
	var decoded mcp.QueryOutput
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Equal(t, 1, decoded.Count)
	assert.Equal(t, revenue, decoded.Results[0].Path)
	assert.Equal(t, "hybrid", decoded.Mode)
}

func TestIndex_Reindex(t *testing.T) {
	configDir, revenue, _ := indexFixture(t)

	out, err := executeLocal(t, configDir, "index", revenue)
	require.NoError(t, err)
	assert.Contains(t, out, "Queued 1 files")
	assert.Contains(t, out, "0 failed")
}

func TestIndex_MissingPath(t *testing.T) {
	_, err := executeLocal(t, t.TempDir(), "index", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestStatus_Local(t *testing.T) {
	configDir, _, _ := indexFixture(t)

	out, err := executeLocal(t, configDir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No indexer running")
	assert.Contains(t, out, "completed    2")
	assert.Contains(t, out, "failed       0")
}

func TestDocs(t *testing.T) {
	configDir, revenue, notes := indexFixture(t)

	out, err := executeLocal(t, configDir, "docs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, revenue)
	assert.Contains(t, out, notes)
	assert.Contains(t, out, "Total: 2 documents")

	out, err = executeLocal(t, configDir, "docs", "show", revenue)
	require.NoError(t, err)
	assert.Contains(t, out, "Title:    Quarterly revenue")
	assert.Contains(t, out, "Kind:     wiki")
	assert.Contains(t, out, "completed")

	out, err = executeLocal(t, configDir, "docs", "content", notes)
	require.NoError(t, err)
	assert.Contains(t, out, "tomatoes and basil")

	out, err = executeLocal(t, configDir, "docs", "progress", "--status", "completed")
	require.NoError(t, err)
	assert.Contains(t, out, notes)

	_, err = executeLocal(t, configDir, "docs", "progress", "--status", "sideways")
	assert.Error(t, err)

	out, err = executeLocal(t, configDir, "docs", "clear-progress")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 0 progress rows")

	_, err = executeLocal(t, configDir, "docs", "show", "no-such-doc")
	assert.Error(t, err)
}

func TestDocs_Empty(t *testing.T) {
	out, err := executeLocal(t, t.TempDir(), "docs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No documents indexed.")
}

func TestIntegrity_Local(t *testing.T) {
	configDir, _, _ := indexFixture(t)

	out, err := executeLocal(t, configDir, "integrity", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "No problems found.")

	out, err = executeLocal(t, configDir, "integrity", "repair", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "No problems found.")

	out, err = executeLocal(t, configDir, "integrity", "rebuild", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "planned")
}

func TestConfig(t *testing.T) {
	configDir := t.TempDir()

	out, err := executeLocal(t, configDir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "pipeline.embed_workers")
	assert.Contains(t, out, "embedding.provider")

	out, err = executeLocal(t, configDir, "config", "set", "pipeline.embed_workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Set pipeline.embed_workers = 2")
	assert.FileExists(t, filepath.Join(configDir, "config.toml"))

	data, err := os.ReadFile(filepath.Join(configDir, "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "embed_workers")

	_, err = executeLocal(t, configDir, "config", "set", "no.such.key", "1")
	assert.Error(t, err)

	_, err = executeLocal(t, configDir, "config", "set", "pipeline.embed_workers", "0")
	assert.Error(t, err)
}

func TestTasks(t *testing.T) {
	configDir, _, _ := indexFixture(t)

	out, err := executeLocal(t, configDir, "tasks")
	require.NoError(t, err)
	assert.Contains(t, out, "integrity-check")
	assert.Contains(t, out, "resume-scan")
	assert.Contains(t, out, "last run:  never")

	out, err = executeLocal(t, configDir, "tasks", "history", "integrity-check")
	require.NoError(t, err)
	assert.Contains(t, out, "integrity-check has not run yet.")

	out, err = executeLocal(t, configDir, "tasks", "run", "integrity-check")
	require.NoError(t, err)
	assert.Contains(t, out, "Ran integrity-check (0 items)")

	out, err = executeLocal(t, configDir, "tasks", "history", "-n", "5", "integrity-check")
	require.NoError(t, err)
	assert.Contains(t, out, "0 items  ok")

	_, err = executeLocal(t, configDir, "tasks", "run", "defrag")
	assert.Error(t, err)
}
