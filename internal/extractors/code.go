package extractors

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/sercha-indexer/internal/chunker"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// MethodCodeLines is reported for source split into line windows.
const MethodCodeLines = "code:lines"

var languages = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".kt":    "kotlin",
	".scala": "scala",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".proto": "protobuf",
}

// Code handles source files. Chunks never split a line unless the line
// alone is longer than the chunk size.
type Code struct {
	splitter *chunker.Splitter
}

// NewCode creates a source code extractor.
func NewCode(splitter *chunker.Splitter) *Code {
	return &Code{splitter: splitter}
}

// Kind returns domain.ContentKindCode.
func (c *Code) Kind() domain.ContentKind { return domain.ContentKindCode }

// Extensions returns the source extensions with a known language.
func (c *Code) Extensions() []string {
	out := make([]string, 0, len(languages))
	for ext := range languages {
		out = append(out, ext)
	}
	return out
}

// Language returns the language name for a path, or "".
func Language(path string) string {
	return languages[strings.ToLower(filepath.Ext(path))]
}

// Extract packs whole lines into windows of at most the chunk size,
// overlapping by whole lines.
func (c *Code) Extract(_ context.Context, path string, content []byte) (*driven.Extraction, error) {
	if IsBinary(content) {
		return &driven.Extraction{Kind: c.Kind(), Method: MethodGenericBinary}, nil
	}

	lang := Language(path)
	lines := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")
	size := c.splitter.ChunkSize()
	overlap := c.splitter.Overlap()

	var chunks []driven.ChunkDraft
	emit := func(text string, first, last int) {
		if strings.TrimSpace(text) == "" {
			return
		}
		chunks = append(chunks, driven.ChunkDraft{
			Content: text,
			Metadata: map[string]string{
				"language": lang,
				"lines":    fmt.Sprintf("%d-%d", first+1, last+1),
			},
		})
	}

	start := 0
	for start < len(lines) {
		// An oversized line is split on its own.
		if utf8.RuneCountInString(lines[start]) > size {
			for _, piece := range c.splitter.Split(lines[start]) {
				emit(piece, start, start)
			}
			start++
			continue
		}

		end := start
		runes := 0
		for end < len(lines) {
			n := utf8.RuneCountInString(lines[end]) + 1
			if end > start && runes+n > size {
				break
			}
			runes += n
			end++
		}
		emit(strings.TrimRight(strings.Join(lines[start:end], "\n"), "\n "), start, end-1)
		if end >= len(lines) {
			break
		}

		// Step back whole lines while they fit in the overlap.
		next := end
		back := 0
		for next-1 > start {
			n := utf8.RuneCountInString(lines[next-1]) + 1
			if back+n > overlap {
				break
			}
			back += n
			next--
		}
		start = next
	}

	return &driven.Extraction{
		Kind:   c.Kind(),
		Title:  domain.TitleFromPath(path),
		Method: MethodCodeLines,
		Chunks: chunks,
	}, nil
}
