package port

import (
	"context"

	"island/internal/domain"
)

// CorpusSource resolves and reads the canon files of a world.
type CorpusSource interface {
	// Files returns the matching file paths, sorted.
	Files(worldID string, patterns []string) ([]string, error)

	// Documents reads every matching file.
	Documents(ctx context.Context, worldID string, patterns []string) ([]domain.SourceDocument, error)
}
