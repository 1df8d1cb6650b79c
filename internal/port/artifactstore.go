package port

import (
	"context"

	"island/internal/domain"
)

// ArtifactStore persists world artifacts keyed by world id.
//
// Save must publish the metadata record last so that a reader never sees
// metadata referencing data that was not written.
type ArtifactStore interface {
	Exists(ctx context.Context, worldID string) (bool, error)

	// CurrentVersion returns 0 when the world has no artifact.
	CurrentVersion(ctx context.Context, worldID string) (int, error)

	ReadMeta(ctx context.Context, worldID string) (domain.WorldMeta, error)

	Load(ctx context.Context, worldID string) (*domain.Artifact, error)

	Save(ctx context.Context, artifact *domain.Artifact) error

	List(ctx context.Context) ([]string, error)

	Close() error
}
