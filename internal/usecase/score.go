package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"island/internal/adapter/cache"
	"island/internal/adapter/embedding"
	"island/internal/adapter/index"
	"island/internal/domain"
	"island/internal/metrics"
	"island/internal/port"
)

// IWScore maps a mean distance onto [0, 1]; 1 means the text sits on the
// canon.
func IWScore(d float64) float64 {
	return math.Max(0, (domain.MaxDistance-d)/domain.MaxDistance)
}

// Classify applies the calibrated thresholds. Both boundaries are
// inclusive.
func Classify(d float64, t domain.Thresholds) domain.Decision {
	switch {
	case d <= t.TAccept:
		return domain.DecisionAccept
	case d <= t.TReview:
		return domain.DecisionReview
	default:
		return domain.DecisionReject
	}
}

// ScoreRequest is a text to judge against a world.
type ScoreRequest struct {
	WorldID string `json:"world_id"`
	Text    string `json:"text"`
}

// ScoreOptions tune the scoring path.
type ScoreOptions struct {
	MaxWorlds int
	// EFSearch overrides the query width of HNSW worlds when positive.
	EFSearch int
	// QueryCacheTTL memoizes query embeddings when positive.
	QueryCacheTTL time.Duration
	Embedding     embedding.OrchestratorConfig
}

// ScoreUseCase scores text against built worlds through a bounded cache
// of loaded artifacts.
type ScoreUseCase struct {
	store     port.ArtifactStore
	embedders port.EmbedderFactory
	opts      ScoreOptions
	logger    *slog.Logger

	worlds *cache.WorldCache
	memo   *cache.EmbeddingMemo

	mu            sync.Mutex
	orchestrators map[string]*embedding.Orchestrator
}

// NewScoreUseCase creates a new score use case.
func NewScoreUseCase(store port.ArtifactStore, embedders port.EmbedderFactory, opts ScoreOptions, logger *slog.Logger) *ScoreUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Embedding.Logger == nil {
		opts.Embedding.Logger = logger
	}
	u := &ScoreUseCase{
		store:         store,
		embedders:     embedders,
		opts:          opts,
		logger:        logger,
		memo:          cache.NewEmbeddingMemo(opts.QueryCacheTTL),
		orchestrators: make(map[string]*embedding.Orchestrator),
	}
	u.worlds = cache.NewWorldCache(opts.MaxWorlds, u.loadWorld)
	return u
}

func (u *ScoreUseCase) loadWorld(ctx context.Context, worldID string) (*cache.World, error) {
	start := time.Now()
	a, err := u.store.Load(ctx, worldID)
	if err != nil {
		return nil, err
	}

	idx, err := index.Open(a.Meta.IndexKind, a.Index, a.Vectors, u.opts.EFSearch)
	if err != nil {
		if a.Meta.IndexKind != domain.IndexKindHNSW {
			return nil, err
		}
		u.logger.Warn("stored HNSW graph unusable, scoring with brute force",
			"world", worldID, "version", a.Meta.ManifoldVersion, "error", err)
		if idx, err = index.NewBruteForce(a.Vectors); err != nil {
			return nil, err
		}
	}

	u.logger.Debug("world loaded",
		"world", worldID,
		"version", a.Meta.ManifoldVersion,
		"chunks", a.Meta.NumChunks,
		"index", idx.Kind(),
		"duration", time.Since(start),
	)
	return &cache.World{Meta: a.Meta, Spans: a.Spans, Index: idx}, nil
}

func (u *ScoreUseCase) orchestrator(modelID string) (*embedding.Orchestrator, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if o, ok := u.orchestrators[modelID]; ok {
		return o, nil
	}
	e, err := u.embedders.ForModel(modelID)
	if err != nil {
		return nil, err
	}
	o := embedding.NewOrchestrator(e, u.opts.Embedding)
	u.orchestrators[modelID] = o
	return o, nil
}

func (u *ScoreUseCase) embedQuery(ctx context.Context, modelID, text string) ([]float32, error) {
	if v, ok := u.memo.Get(modelID, text); ok {
		return v, nil
	}
	o, err := u.orchestrator(modelID)
	if err != nil {
		return nil, err
	}
	v, err := o.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	u.memo.Set(modelID, text, v)
	return v, nil
}

// Score embeds text with the world's model and classifies its mean
// distance to the k nearest canon spans.
func (u *ScoreUseCase) Score(ctx context.Context, req ScoreRequest) (*domain.ScoreResult, error) {
	start := time.Now()
	result, err := u.score(ctx, req)
	metrics.ScoreDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ScoreTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ScoreTotal.WithLabelValues(string(result.Decision)).Inc()
	return result, nil
}

func (u *ScoreUseCase) score(ctx context.Context, req ScoreRequest) (*domain.ScoreResult, error) {
	if err := domain.ValidateWorldID(req.WorldID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: text must not be empty", domain.ErrInvalidRequest)
	}

	w, err := u.worlds.Get(ctx, req.WorldID)
	if err != nil {
		return nil, err
	}

	query, err := u.embedQuery(ctx, w.Meta.ModelID, req.Text)
	if err != nil {
		return nil, err
	}
	if len(query) != w.Meta.Dim {
		return nil, fmt.Errorf("%w: model %s returned dim %d, world %s was built with dim %d",
			domain.ErrInvariant, w.Meta.ModelID, len(query), req.WorldID, w.Meta.Dim)
	}

	k := min(w.Meta.K, w.Index.Len())
	dists, ids, err := w.Index.Search(query, k)
	if err != nil {
		return nil, err
	}
	if len(dists) == 0 {
		return nil, fmt.Errorf("%w: index of world %s returned no neighbours", domain.ErrInvariant, req.WorldID)
	}

	var sum float64
	neighbors := make([]domain.Neighbor, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(w.Spans) {
			return nil, fmt.Errorf("%w: neighbour id %d out of range", domain.ErrInvariant, id)
		}
		span := w.Spans[id]
		neighbors[i] = domain.Neighbor{
			SpanID:   span.SpanID,
			Source:   span.Source,
			Text:     domain.TruncateText(span.Text, domain.NeighborTextLimit),
			Distance: dists[i],
		}
		sum += dists[i]
	}
	d := sum / float64(len(dists))

	thresholds := domain.Thresholds{TAccept: w.Meta.TAccept, TReview: w.Meta.TReview}
	return &domain.ScoreResult{
		WorldID:         req.WorldID,
		Text:            req.Text,
		Distance:        d,
		IWScore:         IWScore(d),
		Decision:        Classify(d, thresholds),
		Neighbors:       neighbors,
		Thresholds:      thresholds,
		ManifoldVersion: w.Meta.ManifoldVersion,
		ModelID:         w.Meta.ModelID,
	}, nil
}

// Evict drops one world from the cache. It satisfies CacheInvalidator.
func (u *ScoreUseCase) Evict(worldID string) bool {
	return u.worlds.Evict(worldID)
}

// ClearWorld drops one world and reports whether it was resident.
func (u *ScoreUseCase) ClearWorld(worldID string) (bool, error) {
	if err := domain.ValidateWorldID(worldID); err != nil {
		return false, err
	}
	return u.worlds.Evict(worldID), nil
}

// ClearAll empties the world cache and the query memo.
func (u *ScoreUseCase) ClearAll() int {
	u.memo.Flush()
	return u.worlds.Clear()
}

// Resident lists the worlds currently held in memory.
func (u *ScoreUseCase) Resident() []string {
	return u.worlds.Worlds()
}

// Warm loads a world into the cache ahead of the first score.
func (u *ScoreUseCase) Warm(ctx context.Context, worldID string) error {
	if err := domain.ValidateWorldID(worldID); err != nil {
		return err
	}
	_, err := u.worlds.Get(ctx, worldID)
	if err != nil && !errors.Is(err, domain.ErrWorldNotFound) {
		u.logger.Warn("world warmup failed", "world", worldID, "error", err)
	}
	return err
}
