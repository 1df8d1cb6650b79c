package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"island/internal/adapter/embedding"
	"island/internal/adapter/fs"
	"island/internal/adapter/index"
	"island/internal/adapter/memstore"
	"island/internal/domain"
	"island/internal/logging"
)

// themeEmbedder puts mythology on +x and space travel on -x so the
// expected decisions are unambiguous.
type themeEmbedder struct {
	calls atomic.Int64
	fail  atomic.Bool
	// pad widens every vector with trailing zeros.
	pad atomic.Int64
}

func (e *themeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.fail.Load() {
		return nil, errors.New("collaborator down")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, "olympus") || strings.Contains(lower, "zeus"):
			out[i] = []float32{1, 0, 0, 0}
		case strings.Contains(lower, "spaceship") || strings.Contains(lower, "planet"):
			out[i] = []float32{-1, 0, 0, 0}
		default:
			out[i] = []float32{0, 0, 0, 1}
		}
		out[i] = append(out[i], make([]float32, e.pad.Load())...)
	}
	return out, nil
}

func (e *themeEmbedder) Dimension() int    { return 4 + int(e.pad.Load()) }
func (e *themeEmbedder) ModelName() string { return "theme" }

type harness struct {
	corpus   string
	store    *memstore.MemoryStore
	embedder *themeEmbedder
	build    *BuildUseCase
	score    *ScoreUseCase
	status   *StatusUseCase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		corpus:   t.TempDir(),
		store:    memstore.NewMemoryStore(),
		embedder: &themeEmbedder{},
	}
	logger := logging.Nop()
	factory := embedding.StaticFactory{Embedder: h.embedder}

	defaults := DefaultBuildDefaults()
	defaults.ModelID = "theme"
	defaults.K = 1

	h.build = NewBuildUseCase(fs.NewWalker(h.corpus, nil, logger), factory, h.store, defaults,
		index.DefaultOptions(), embedding.OrchestratorConfig{BatchSize: 2, Concurrency: 2}, logger)
	h.score = NewScoreUseCase(h.store, factory, ScoreOptions{MaxWorlds: 4}, logger)
	h.status = NewStatusUseCase(h.store, logger)
	h.build.OnRebuild(h.score)
	return h
}

func (h *harness) write(t *testing.T, world, name, text string) {
	t.Helper()
	dir := filepath.Join(h.corpus, world)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644))
}

func (h *harness) writeOlympus(t *testing.T, world string) {
	h.write(t, world, "a.txt", "Zeus ruled Olympus with thunderbolts.")
	h.write(t, world, "b.txt", "Zeus ruled Olympus with his thunderbolts.")
}

func TestBuildAndScoreOlympus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.writeOlympus(t, "olympus")

	res, err := h.build.Build(ctx, BuildRequest{WorldID: "olympus"})
	require.NoError(t, err)

	meta := res.Meta
	assert.Equal(t, 1, meta.ManifoldVersion)
	assert.Equal(t, 2, meta.NumChunks)
	assert.Equal(t, 4, meta.Dim)
	assert.Equal(t, domain.IndexKindBrute, meta.IndexKind)
	assert.Equal(t, []string{"a.txt", "b.txt"}, meta.SourceFiles)
	assert.InDelta(t, 0, meta.TAccept, 1e-6)
	assert.InDelta(t, 0, meta.TReview, 1e-6)

	accept, err := h.score.Score(ctx, ScoreRequest{WorldID: "olympus", Text: "Zeus hurled a thunderbolt from Olympus"})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAccept, accept.Decision)
	assert.InDelta(t, 0, accept.Distance, 1e-6)
	assert.InDelta(t, 1, accept.IWScore, 1e-6)
	require.Len(t, accept.Neighbors, 1)
	assert.Equal(t, 1, accept.ManifoldVersion)
	assert.Equal(t, "theme", accept.ModelID)

	reject, err := h.score.Score(ctx, ScoreRequest{WorldID: "olympus", Text: "The spaceship landed on the alien planet"})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionReject, reject.Decision)
	assert.InDelta(t, 2, reject.Distance, 1e-6)
	assert.InDelta(t, 0, reject.IWScore, 1e-6)
}

func TestBuildSingleSpanUsesDefaultCalibration(t *testing.T) {
	h := newHarness(t)
	h.write(t, "tiny", "only.txt", "Zeus alone.")

	res, err := h.build.Build(context.Background(), BuildRequest{WorldID: "tiny"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Meta.NumChunks)
	assert.Equal(t, DefaultCalibrationDistance, res.Meta.TAccept)
	assert.Equal(t, DefaultCalibrationDistance, res.Meta.TReview)
}

func TestBuildVersionsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.writeOlympus(t, "olympus")

	for want := 1; want <= 3; want++ {
		res, err := h.build.Build(ctx, BuildRequest{WorldID: "olympus"})
		require.NoError(t, err)
		assert.Equal(t, want, res.Meta.ManifoldVersion)
	}
}

func TestRebuildReflectsOnlyLatestCorpus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.writeOlympus(t, "olympus")

	_, err := h.build.Build(ctx, BuildRequest{WorldID: "olympus"})
	require.NoError(t, err)
	_, err = h.score.Score(ctx, ScoreRequest{WorldID: "olympus", Text: "Zeus"})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(h.corpus, "olympus", "b.txt")))
	h.write(t, "olympus", "c.txt", "A spaceship circled the planet.")
	h.write(t, "olympus", "d.txt", "The spaceship left the planet behind.")
	h.embedder.pad.Store(2)

	res, err := h.build.Build(ctx, BuildRequest{WorldID: "olympus", ModelID: "theme-wide"})
	require.NoError(t, err)
	meta := res.Meta
	assert.Equal(t, 2, meta.ManifoldVersion)
	assert.Equal(t, 3, meta.NumChunks)
	assert.Equal(t, 6, meta.Dim)
	assert.Equal(t, "theme-wide", meta.ModelID)
	assert.Equal(t, []string{"a.txt", "c.txt", "d.txt"}, meta.SourceFiles)

	a, err := h.store.Load(ctx, "olympus")
	require.NoError(t, err)
	require.Len(t, a.Spans, 3)
	require.Len(t, a.Vectors, 3)
	for i, span := range a.Spans {
		assert.Equal(t, i, span.SpanID)
		assert.NotEqual(t, "b.txt", span.Source)
		assert.Len(t, a.Vectors[i], 6)
	}

	got, err := h.score.Score(ctx, ScoreRequest{WorldID: "olympus", Text: "Zeus ruled Olympus"})
	require.NoError(t, err)
	assert.Equal(t, 2, got.ManifoldVersion)
	assert.Equal(t, "theme-wide", got.ModelID)
	require.NotEmpty(t, got.Neighbors)
	for _, n := range got.Neighbors {
		assert.NotEqual(t, "b.txt", n.Source)
	}
	assert.Equal(t, "a.txt", got.Neighbors[0].Source)
}

func TestFailedBuildKeepsPreviousArtifact(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.writeOlympus(t, "olympus")

	_, err := h.build.Build(ctx, BuildRequest{WorldID: "olympus"})
	require.NoError(t, err)

	h.embedder.fail.Store(true)
	_, err = h.build.Build(ctx, BuildRequest{WorldID: "olympus"})
	require.ErrorIs(t, err, domain.ErrEmbedding)

	st, err := h.status.Status(ctx, "olympus")
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, 1, st.ManifoldVersion)
}

func TestBuildErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.write(t, "blank", "empty.txt", "   \n\t ")

	_, err := h.build.Build(ctx, BuildRequest{WorldID: "missing"})
	assert.ErrorIs(t, err, domain.ErrCorpusNotFound)

	_, err = h.build.Build(ctx, BuildRequest{WorldID: "blank"})
	assert.ErrorIs(t, err, domain.ErrEmptyCorpus)

	_, err = h.build.Build(ctx, BuildRequest{WorldID: "../etc"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	zero := 0
	_, err = h.build.Build(ctx, BuildRequest{WorldID: "blank", K: &zero})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	bad := 1.5
	_, err = h.build.Build(ctx, BuildRequest{WorldID: "blank", AcceptQ: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	overlap := 100
	_, err = h.build.Build(ctx, BuildRequest{WorldID: "blank", OverlapWords: &overlap})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestBuildReportsProgress(t *testing.T) {
	h := newHarness(t)
	h.writeOlympus(t, "olympus")

	var (
		mu          sync.Mutex
		most, total int
	)
	_, err := h.build.Build(context.Background(), BuildRequest{
		WorldID: "olympus",
		Progress: func(done, n int) {
			mu.Lock()
			defer mu.Unlock()
			most, total = max(most, done), n
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, most)
}

func TestScoreUnknownWorld(t *testing.T) {
	h := newHarness(t)
	_, err := h.score.Score(context.Background(), ScoreRequest{WorldID: "nowhere", Text: "Zeus"})
	assert.ErrorIs(t, err, domain.ErrWorldNotFound)
}

func TestScoreRejectsBlankText(t *testing.T) {
	h := newHarness(t)
	_, err := h.score.Score(context.Background(), ScoreRequest{WorldID: "olympus", Text: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestScoreIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.writeOlympus(t, "olympus")
	_, err := h.build.Build(ctx, BuildRequest{WorldID: "olympus"})
	require.NoError(t, err)

	req := ScoreRequest{WorldID: "olympus", Text: "Zeus on Olympus"}
	first, err := h.score.Score(ctx, req)
	require.NoError(t, err)
	second, err := h.score.Score(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestScoreCachesWorldUntilRebuild(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.writeOlympus(t, "olympus")
	_, err := h.build.Build(ctx, BuildRequest{WorldID: "olympus"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := h.score.Score(ctx, ScoreRequest{WorldID: "olympus", Text: "Zeus"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.store.Loads("olympus"))
	assert.Equal(t, []string{"olympus"}, h.score.Resident())

	_, err = h.build.Build(ctx, BuildRequest{WorldID: "olympus"})
	require.NoError(t, err)
	assert.Empty(t, h.score.Resident())

	res, err := h.score.Score(ctx, ScoreRequest{WorldID: "olympus", Text: "Zeus"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ManifoldVersion)
	assert.Equal(t, 2, h.store.Loads("olympus"))

	evicted, err := h.score.ClearWorld("olympus")
	require.NoError(t, err)
	assert.True(t, evicted)
	assert.Equal(t, 0, h.score.ClearAll())
}

func TestScoreWithHNSWWorld(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.writeOlympus(t, "olympus")
	h.write(t, "olympus", "c.txt", "The spaceship left the planet.")

	opts := index.DefaultOptions()
	opts.Strategy = index.StrategyHNSW
	h.build.indexOpts = opts

	res, err := h.build.Build(ctx, BuildRequest{WorldID: "olympus"})
	require.NoError(t, err)
	assert.Equal(t, domain.IndexKindHNSW, res.Meta.IndexKind)
	assert.True(t, res.Meta.HasANNIndex)

	out, err := h.score.Score(ctx, ScoreRequest{WorldID: "olympus", Text: "Zeus"})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAccept, out.Decision)
}

func TestClassifyBoundariesAreInclusive(t *testing.T) {
	th := domain.Thresholds{TAccept: 0.4, TReview: 0.7}

	tests := []struct {
		d    float64
		want domain.Decision
	}{
		{0.0, domain.DecisionAccept},
		{0.4, domain.DecisionAccept},
		{0.41, domain.DecisionReview},
		{0.7, domain.DecisionReview},
		{0.71, domain.DecisionReject},
		{2.0, domain.DecisionReject},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.d, th), "d=%v", tt.d)
	}
}

func TestIWScore(t *testing.T) {
	assert.Equal(t, 1.0, IWScore(0))
	assert.Equal(t, 0.5, IWScore(1))
	assert.Equal(t, 0.0, IWScore(2))
	assert.Equal(t, 0.0, IWScore(2.5))
}

func TestStatusAndList(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.writeOlympus(t, "olympus")
	_, err := h.build.Build(ctx, BuildRequest{WorldID: "olympus"})
	require.NoError(t, err)

	st, err := h.status.Status(ctx, "atlantis")
	require.NoError(t, err)
	assert.False(t, st.Exists)

	st, err = h.status.Status(ctx, "olympus")
	require.NoError(t, err)
	assert.True(t, st.Exists)
	require.NotNil(t, st.TAccept)
	assert.Equal(t, 2, st.NumChunks)

	all, err := h.status.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "olympus", all[0].WorldID)
}
