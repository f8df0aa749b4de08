package logger

import (
	"bytes"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetVerbose(false)
		SetOutput(os.Stderr)
	})
	return &buf
}

func TestSetVerbose(t *testing.T) {
	reset(t)

	SetVerbose(false)
	assert.False(t, IsVerbose())

	SetVerbose(true)
	assert.True(t, IsVerbose())

	SetVerbose(false)
	assert.False(t, IsVerbose())
}

func TestDebug_WhenVerbose(t *testing.T) {
	buf := reset(t)
	SetVerbose(true)

	Debug("test message %s", "arg")

	assert.Equal(t, "[DEBUG] test message arg\n", buf.String())
}

func TestDefaultLevel_OnlyErrors(t *testing.T) {
	buf := reset(t)
	SetVerbose(false)

	Debug("debug")
	Info("info")
	Warn("warn")
	assert.Empty(t, buf.String())

	Error("broken %d", 1)
	assert.Equal(t, "[ERROR] broken 1\n", buf.String())
}

func TestSetLevel_Info(t *testing.T) {
	buf := reset(t)
	SetLevel(LevelInfo)

	Debug("hidden")
	Info("repaired %d", 3)
	Warn("careful")

	assert.Equal(t, "[INFO] repaired 3\n[WARN] careful\n", buf.String())
}

func TestSection(t *testing.T) {
	buf := reset(t)

	Section("Hidden")
	assert.Empty(t, buf.String())

	SetVerbose(true)
	Section("Fusion")
	assert.Equal(t, "\n=== Fusion ===\n", buf.String())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestConcurrentAccess(t *testing.T) {
	reset(t)
	SetOutput(io.Discard)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			SetVerbose(i%2 == 0)
			Debug("msg %d", i)
			_ = IsVerbose()
		}(i)
	}
	wg.Wait()
}
