package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"island/internal/domain"
)

// MemoryStore keeps artifacts in process memory. Saved artifacts are
// copied so callers cannot mutate stored state.
type MemoryStore struct {
	mu     sync.RWMutex
	worlds map[string]*domain.Artifact
	loads  map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		worlds: make(map[string]*domain.Artifact),
		loads:  make(map[string]int),
	}
}

func (s *MemoryStore) Exists(_ context.Context, worldID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.worlds[worldID]
	return ok, nil
}

func (s *MemoryStore) CurrentVersion(_ context.Context, worldID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.worlds[worldID]
	if !ok {
		return 0, nil
	}
	return a.Meta.ManifoldVersion, nil
}

func (s *MemoryStore) ReadMeta(_ context.Context, worldID string) (domain.WorldMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.worlds[worldID]
	if !ok {
		return domain.WorldMeta{}, fmt.Errorf("%w: %s", domain.ErrWorldNotFound, worldID)
	}
	return cloneMeta(a.Meta), nil
}

func (s *MemoryStore) Load(_ context.Context, worldID string) (*domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.worlds[worldID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorldNotFound, worldID)
	}
	s.loads[worldID]++
	return clone(a), nil
}

func (s *MemoryStore) Save(_ context.Context, a *domain.Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.worlds[a.Meta.WorldID]; ok && prev.Meta.ManifoldVersion >= a.Meta.ManifoldVersion {
		return fmt.Errorf("%w: world %s already at version %d, refusing to save version %d",
			domain.ErrInvariant, a.Meta.WorldID, prev.Meta.ManifoldVersion, a.Meta.ManifoldVersion)
	}
	s.worlds[a.Meta.WorldID] = clone(a)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	worlds := make([]string, 0, len(s.worlds))
	for id := range s.worlds {
		worlds = append(worlds, id)
	}
	sort.Strings(worlds)
	return worlds, nil
}

// Loads reports how many times Load served worldID.
func (s *MemoryStore) Loads(worldID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loads[worldID]
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneMeta(m domain.WorldMeta) domain.WorldMeta {
	m.SourceFiles = append([]string(nil), m.SourceFiles...)
	return m
}

func clone(a *domain.Artifact) *domain.Artifact {
	out := &domain.Artifact{
		Meta:    cloneMeta(a.Meta),
		Spans:   append([]domain.Span(nil), a.Spans...),
		Vectors: make([][]float32, len(a.Vectors)),
		Index:   append([]byte(nil), a.Index...),
	}
	for i, v := range a.Vectors {
		out.Vectors[i] = append([]float32(nil), v...)
	}
	if len(out.Index) == 0 {
		out.Index = nil
	}
	return out
}
