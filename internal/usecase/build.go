package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"island/internal/adapter/chunker"
	"island/internal/adapter/embedding"
	"island/internal/adapter/index"
	"island/internal/domain"
	"island/internal/metrics"
	"island/internal/port"
)

// BuildDefaults fill fields a BuildRequest leaves unset.
type BuildDefaults struct {
	ModelID      string
	Sources      []string
	TargetWords  int
	OverlapWords int
	K            int
	AcceptQ      float64
	ReviewQ      float64
}

// DefaultBuildDefaults returns target 100, overlap 20, k 8, quantiles 0.95/0.99.
func DefaultBuildDefaults() BuildDefaults {
	return BuildDefaults{
		TargetWords:  100,
		OverlapWords: 20,
		K:            8,
		AcceptQ:      0.95,
		ReviewQ:      0.99,
	}
}

// ProgressFunc reports embedded spans out of total.
type ProgressFunc func(done, total int)

// BuildRequest asks for a world to be (re)built. Nil fields take the
// configured defaults.
type BuildRequest struct {
	WorldID      string   `json:"world_id"`
	Sources      []string `json:"sources,omitempty"`
	ModelID      string   `json:"model_id,omitempty"`
	TargetWords  *int     `json:"target_words,omitempty"`
	OverlapWords *int     `json:"overlap_words,omitempty"`
	K            *int     `json:"k,omitempty"`
	AcceptQ      *float64 `json:"accept_q,omitempty"`
	ReviewQ      *float64 `json:"review_q,omitempty"`

	Progress ProgressFunc `json:"-"`
}

// BuildResult summarizes a successful build.
type BuildResult struct {
	Meta        domain.WorldMeta
	EmptySource []string
	Duration    time.Duration
}

// CacheInvalidator is told about every successful rebuild.
type CacheInvalidator interface {
	Evict(worldID string) bool
}

// BuildUseCase turns a world's corpus into a versioned artifact.
type BuildUseCase struct {
	corpus    port.CorpusSource
	embedders port.EmbedderFactory
	store     port.ArtifactStore
	defaults  BuildDefaults
	indexOpts index.Options
	embedCfg  embedding.OrchestratorConfig
	logger    *slog.Logger

	invalidators []CacheInvalidator
	now          func() time.Time

	// worldLocks serializes builds of the same world so versions never race.
	worldLocks sync.Map
}

// NewBuildUseCase creates a new build use case.
func NewBuildUseCase(
	corpus port.CorpusSource,
	embedders port.EmbedderFactory,
	store port.ArtifactStore,
	defaults BuildDefaults,
	indexOpts index.Options,
	embedCfg embedding.OrchestratorConfig,
	logger *slog.Logger,
) *BuildUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if embedCfg.Logger == nil {
		embedCfg.Logger = logger
	}
	return &BuildUseCase{
		corpus:    corpus,
		embedders: embedders,
		store:     store,
		defaults:  defaults,
		indexOpts: indexOpts,
		embedCfg:  embedCfg,
		logger:    logger,
		now:       time.Now,
	}
}

// OnRebuild registers a cache to evict after every successful build.
func (u *BuildUseCase) OnRebuild(inv CacheInvalidator) {
	u.invalidators = append(u.invalidators, inv)
}

type buildParams struct {
	worldID      string
	sources      []string
	modelID      string
	targetWords  int
	overlapWords int
	k            int
	acceptQ      float64
	reviewQ      float64
}

func (u *BuildUseCase) resolve(req BuildRequest) (buildParams, error) {
	p := buildParams{
		worldID:      req.WorldID,
		sources:      req.Sources,
		modelID:      req.ModelID,
		targetWords:  u.defaults.TargetWords,
		overlapWords: u.defaults.OverlapWords,
		k:            u.defaults.K,
		acceptQ:      u.defaults.AcceptQ,
		reviewQ:      u.defaults.ReviewQ,
	}
	if len(p.sources) == 0 {
		p.sources = u.defaults.Sources
	}
	if p.modelID == "" {
		p.modelID = u.defaults.ModelID
	}
	if req.TargetWords != nil {
		p.targetWords = *req.TargetWords
	}
	if req.OverlapWords != nil {
		p.overlapWords = *req.OverlapWords
	}
	if req.K != nil {
		p.k = *req.K
	}
	if req.AcceptQ != nil {
		p.acceptQ = *req.AcceptQ
	}
	if req.ReviewQ != nil {
		p.reviewQ = *req.ReviewQ
	}

	if err := domain.ValidateWorldID(p.worldID); err != nil {
		return p, err
	}
	if p.modelID == "" {
		return p, fmt.Errorf("%w: model_id is required", domain.ErrInvalidRequest)
	}
	if p.k < 1 {
		return p, fmt.Errorf("%w: k must be >= 1, got %d", domain.ErrInvalidRequest, p.k)
	}
	for name, q := range map[string]float64{"accept_q": p.acceptQ, "review_q": p.reviewQ} {
		if q < 0 || q > 1 {
			return p, fmt.Errorf("%w: %s must lie in [0, 1], got %g", domain.ErrInvalidRequest, name, q)
		}
	}
	return p, nil
}

// Build runs the full pipeline: chunk, embed, index, calibrate, publish,
// invalidate. Any failure leaves the previous artifact in place.
func (u *BuildUseCase) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	start := time.Now()
	result, err := u.build(ctx, req)

	metrics.BuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BuildTotal.WithLabelValues("error").Inc()
		u.logger.Error("build failed", "world", req.WorldID, "error", err)
		return nil, err
	}
	metrics.BuildTotal.WithLabelValues("ok").Inc()

	result.Duration = time.Since(start)
	return result, nil
}

func (u *BuildUseCase) build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	p, err := u.resolve(req)
	if err != nil {
		return nil, err
	}
	lock, _ := u.worldLocks.LoadOrStore(p.worldID, &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	words, err := chunker.NewWordChunker(p.targetWords, p.overlapWords)
	if err != nil {
		return nil, err
	}
	if p.acceptQ > p.reviewQ {
		u.logger.Warn("accept_q is above review_q; T_accept may exceed T_review",
			"world", p.worldID, "accept_q", p.acceptQ, "review_q", p.reviewQ)
	}

	log := u.logger.With("world", p.worldID)
	log.Info("build started", "model", p.modelID, "sources", p.sources)

	// 1-2. Resolve, read and chunk the corpus.
	docs, err := u.corpus.Documents(ctx, p.worldID, p.sources)
	if err != nil {
		return nil, err
	}

	spans := chunker.NewSpanBuilder(words)
	sourceFiles := make([]string, 0, len(docs))
	var emptySources []string
	for _, doc := range docs {
		sourceFiles = append(sourceFiles, doc.Name)
		if spans.Add(doc.Name, doc.Text) == 0 {
			emptySources = append(emptySources, doc.Name)
			log.Warn("source produced no spans", "source", doc.Name)
		}
	}
	if len(spans.Spans()) == 0 {
		return nil, fmt.Errorf("%w: %d source files for world %s contain no text", domain.ErrEmptyCorpus, len(docs), p.worldID)
	}

	// 3. Embed.
	embedder, err := u.embedders.ForModel(p.modelID)
	if err != nil {
		return nil, err
	}
	orch := embedding.NewOrchestrator(embedder, u.embedCfg)

	texts := spans.Texts()
	var progress func(int)
	if req.Progress != nil {
		var done atomic.Int64
		total := len(texts)
		progress = func(n int) {
			req.Progress(int(done.Add(int64(n))), total)
		}
	}
	vectors, err := orch.Embed(ctx, texts, progress)
	if err != nil {
		return nil, err
	}
	dim := len(vectors[0])

	// 4. Index.
	idx, err := index.Build(vectors, u.indexOpts)
	if err != nil {
		if errors.Is(err, domain.ErrInvariant) {
			return nil, err
		}
		log.Warn("approximate index unavailable, using brute force", "error", err)
		if idx, err = index.NewBruteForce(vectors); err != nil {
			return nil, err
		}
	}

	// 5. Calibrate.
	thresholds, err := Calibrate(idx, vectors, p.k, p.acceptQ, p.reviewQ)
	if err != nil {
		return nil, err
	}

	blob, err := idx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize index: %w", err)
	}

	// 6. Version.
	prev, err := u.store.CurrentVersion(ctx, p.worldID)
	if err != nil {
		return nil, fmt.Errorf("failed to read current version: %w", err)
	}

	meta := domain.WorldMeta{
		SchemaVersion:   domain.MetaSchemaVersion,
		WorldID:         p.worldID,
		ManifoldVersion: prev + 1,
		ModelID:         p.modelID,
		K:               p.k,
		TAccept:         thresholds.TAccept,
		TReview:         thresholds.TReview,
		TargetWords:     p.targetWords,
		OverlapWords:    p.overlapWords,
		AcceptQ:         p.acceptQ,
		ReviewQ:         p.reviewQ,
		NumChunks:       len(vectors),
		Dim:             dim,
		HasANNIndex:     idx.Kind() == domain.IndexKindHNSW,
		IndexKind:       idx.Kind(),
		CreatedAt:       u.now().UTC(),
		SourceFiles:     sourceFiles,
	}

	// 7. Publish.
	artifact := &domain.Artifact{Meta: meta, Spans: spans.Spans(), Vectors: vectors, Index: blob}
	if err := u.store.Save(ctx, artifact); err != nil {
		return nil, fmt.Errorf("failed to save artifact: %w", err)
	}

	// 8. Invalidate.
	for _, inv := range u.invalidators {
		inv.Evict(p.worldID)
	}

	log.Info("build finished",
		"version", meta.ManifoldVersion,
		"chunks", meta.NumChunks,
		"dim", meta.Dim,
		"index", meta.IndexKind,
		"T_accept", meta.TAccept,
		"T_review", meta.TReview,
	)

	return &BuildResult{Meta: meta, EmptySource: emptySources}, nil
}
