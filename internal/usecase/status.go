package usecase

import (
	"context"
	"errors"
	"log/slog"

	"island/internal/domain"
	"island/internal/port"
)

// StatusUseCase reports on stored worlds without loading their vectors.
type StatusUseCase struct {
	store  port.ArtifactStore
	logger *slog.Logger
}

// NewStatusUseCase creates a new status use case.
func NewStatusUseCase(store port.ArtifactStore, logger *slog.Logger) *StatusUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusUseCase{store: store, logger: logger}
}

// Status returns the metadata summary of one world. A world with no
// artifact reports Exists=false rather than an error.
func (u *StatusUseCase) Status(ctx context.Context, worldID string) (domain.WorldStatus, error) {
	if err := domain.ValidateWorldID(worldID); err != nil {
		return domain.WorldStatus{}, err
	}
	meta, err := u.store.ReadMeta(ctx, worldID)
	if errors.Is(err, domain.ErrWorldNotFound) {
		return domain.WorldStatus{WorldID: worldID}, nil
	}
	if err != nil {
		return domain.WorldStatus{}, err
	}
	return domain.StatusFromMeta(meta), nil
}

// List returns the status of every stored world. Worlds whose metadata
// cannot be read are listed with the error instead of failing the call.
func (u *StatusUseCase) List(ctx context.Context) ([]domain.WorldStatus, error) {
	ids, err := u.store.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.WorldStatus, 0, len(ids))
	for _, id := range ids {
		meta, err := u.store.ReadMeta(ctx, id)
		if err != nil {
			u.logger.Warn("unreadable world metadata", "world", id, "error", err)
			out = append(out, domain.WorldStatus{WorldID: id, Error: err.Error()})
			continue
		}
		out = append(out, domain.StatusFromMeta(meta))
	}
	return out, nil
}
