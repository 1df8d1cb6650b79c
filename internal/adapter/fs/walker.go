package fs

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"island/internal/domain"
)

// DefaultPattern selects a world's canon when no sources are given.
const DefaultPattern = "*.txt"

// Walker resolves world corpora laid out as <root>/<world_id>/...
type Walker struct {
	root     string
	excludes []string
	logger   *slog.Logger
	readFile func(path string) (string, error)
}

// NewWalker creates a corpus walker. Exclude patterns are matched against
// paths relative to the world directory.
func NewWalker(root string, excludes []string, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{
		root:     root,
		excludes: excludes,
		logger:   logger,
		readFile: ReadFile,
	}
}

// Root returns the corpus root directory.
func (w *Walker) Root() string {
	return w.root
}

// WorldDir returns the corpus directory of a world.
func (w *Walker) WorldDir(worldID string) string {
	return filepath.Join(w.root, worldID)
}

// Files returns the absolute paths matching patterns inside the world
// directory, de-duplicated and sorted.
func (w *Walker) Files(worldID string, patterns []string) ([]string, error) {
	if err := domain.ValidateWorldID(worldID); err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		patterns = []string{DefaultPattern}
	}

	dir, err := filepath.Abs(w.WorldDir(worldID))
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if errors.Is(err, iofs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("%w: no corpus directory for world %s", domain.ErrCorpusNotFound, worldID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat corpus dir: %w", err)
	}

	fsys := os.DirFS(dir)
	seen := make(map[string]bool)
	var files []string

	for _, pattern := range patterns {
		pattern = filepath.ToSlash(strings.TrimSpace(pattern))
		if pattern == "" || strings.HasPrefix(pattern, "/") || climbsOut(pattern) || !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("%w: invalid source pattern %q", domain.ErrInvalidRequest, pattern)
		}

		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("failed to match %q: %w", pattern, err)
		}
		for _, rel := range matches {
			if seen[rel] || w.shouldExclude(rel) {
				continue
			}
			seen[rel] = true
			files = append(files, filepath.Join(dir, filepath.FromSlash(rel)))
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files match %v for world %s", domain.ErrCorpusNotFound, patterns, worldID)
	}

	sort.Strings(files)
	return files, nil
}

// Documents reads every matching file. Content is trimmed; empty files are
// returned with empty text so the caller can report them. Unreadable files
// are logged and skipped.
func (w *Walker) Documents(ctx context.Context, worldID string, patterns []string) ([]domain.SourceDocument, error) {
	files, err := w.Files(worldID, patterns)
	if err != nil {
		return nil, err
	}

	docs := make([]domain.SourceDocument, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := w.readFile(path)
		if err != nil {
			w.logger.Warn("skipping unreadable source", "world", worldID, "file", filepath.Base(path), "error", err)
			continue
		}
		docs = append(docs, domain.SourceDocument{
			Name: filepath.Base(path),
			Path: path,
			Text: strings.TrimSpace(text),
		})
	}
	return docs, nil
}

// Worlds lists world directories under the corpus root, sorted.
func (w *Walker) Worlds() ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var worlds []string
	for _, e := range entries {
		if e.IsDir() && domain.ValidateWorldID(e.Name()) == nil {
			worlds = append(worlds, e.Name())
		}
	}
	return worlds, nil
}

// climbsOut reports whether a pattern has a ".." path segment.
func climbsOut(pattern string) bool {
	for _, seg := range strings.Split(pattern, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
