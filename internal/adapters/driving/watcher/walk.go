package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Walk calls fn for every regular file under root that the root's ignore
// rules keep. A root that is a file is passed to fn as is. Unreadable
// subdirectories are skipped.
func Walk(ctx context.Context, root string, fn func(path string) error) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return fn(root)
	}

	matcher := NewMatcher(root)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.Ignored(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return fn(path)
	})
}
