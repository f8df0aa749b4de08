// Package watcher discovers files under directory roots and keeps the
// indexing queue in step with filesystem changes.
package watcher

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFiles are read from a root to extend the ignore rules.
var IgnoreFiles = []string{".gitignore", ".serchaignore"}

// DefaultIgnorePatterns are skipped under every root.
var DefaultIgnorePatterns = []string{
	"node_modules/",
	"vendor/",
	"__pycache__/",
	"*.swp",
	"*~",
	"*.tmp",
}

// Matcher decides which paths under a root are skipped.
type Matcher struct {
	root   string
	parser gitignore.IgnoreParser
}

// NewMatcher compiles the default patterns plus the ignore files found
// directly in root. Missing ignore files are not an error.
func NewMatcher(root string) *Matcher {
	patterns := append([]string(nil), DefaultIgnorePatterns...)
	for _, name := range IgnoreFiles {
		patterns = append(patterns, readIgnoreLines(filepath.Join(root, name))...)
	}
	return &Matcher{
		root:   root,
		parser: gitignore.CompileIgnoreLines(patterns...),
	}
}

// Ignored reports whether path is skipped. Hidden files and directories
// are always skipped, as are paths outside the root. Directory patterns
// such as "build/" only match when isDir is set.
func (m *Matcher) Ignored(path string, isDir bool) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}
	if rel == "." {
		return false
	}
	if isHidden(rel) {
		return true
	}
	rel = filepath.ToSlash(rel)
	if isDir && m.parser.MatchesPath(rel+"/") {
		return true
	}
	return m.parser.MatchesPath(rel)
}

// isHidden reports whether any element of a relative path starts with a dot.
func isHidden(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return true
		}
	}
	return false
}

func readIgnoreLines(path string) []string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
