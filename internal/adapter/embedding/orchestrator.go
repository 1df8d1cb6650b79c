package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"island/internal/domain"
	"island/internal/metrics"
	"island/internal/port"
)

// DefaultBatchSize is the number of texts sent per collaborator call.
const DefaultBatchSize = 64

// OrchestratorConfig tunes throughput. None of it changes results.
type OrchestratorConfig struct {
	BatchSize   int
	Concurrency int

	// RequestsPerSecond limits collaborator calls. Zero disables limiting.
	RequestsPerSecond float64

	Logger *slog.Logger
}

// Orchestrator batches texts to an embedder and returns unit-norm rows of
// a single fixed dimension in input order.
type Orchestrator struct {
	embedder    port.Embedder
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
	logger      *slog.Logger

	mu  sync.Mutex
	dim int
}

// NewOrchestrator wraps an embedder.
func NewOrchestrator(embedder port.Embedder, cfg OrchestratorConfig) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Orchestrator{
		embedder:    embedder,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		limiter:     limiter,
		logger:      cfg.Logger,
		dim:         embedder.Dimension(),
	}
}

// ModelName returns the collaborator's model id.
func (o *Orchestrator) ModelName() string {
	return o.embedder.ModelName()
}

// Dimension returns the output dimension. When the collaborator does not
// advertise one, a single probe text is embedded and the result remembered.
func (o *Orchestrator) Dimension(ctx context.Context) (int, error) {
	o.mu.Lock()
	dim := o.dim
	o.mu.Unlock()
	if dim > 0 {
		return dim, nil
	}

	rows, err := o.call(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 || len(rows[0]) == 0 {
		return 0, fmt.Errorf("%w: dimension probe returned no vector", domain.ErrEmbedding)
	}

	o.mu.Lock()
	if o.dim == 0 {
		o.dim = len(rows[0])
	}
	dim = o.dim
	o.mu.Unlock()
	return dim, nil
}

// Embed returns one normalized row per text. Empty input returns a
// zero-row matrix without calling the collaborator. progress, when non-nil,
// receives the size of each completed batch.
func (o *Orchestrator) Embed(ctx context.Context, texts []string, progress func(n int)) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, len(texts))

	var progressMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for start := 0; start < len(texts); start += o.batchSize {
		start := start
		end := min(start+o.batchSize, len(texts))

		g.Go(func() error {
			rows, err := o.call(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(rows) != end-start {
				return fmt.Errorf("%w: collaborator returned %d rows for %d texts", domain.ErrEmbedding, len(rows), end-start)
			}
			// Collaborator rows stay untouched; normalization works on copies.
			for i, row := range rows {
				out[start+i] = append([]float32(nil), row...)
			}

			if progress != nil {
				progressMu.Lock()
				progress(end - start)
				progressMu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim, err := o.expectDim(len(out[0]))
	if err != nil {
		return nil, err
	}

	for i, row := range out {
		if len(row) != dim {
			return nil, fmt.Errorf("%w: row %d has dimension %d, want %d", domain.ErrEmbedding, i, len(row), dim)
		}
		if err := normalizeL2(row); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", domain.ErrEmbedding, i, err)
		}
	}

	o.logger.Debug("embedded texts", "count", len(texts), "dim", dim, "model", o.ModelName())
	return out, nil
}

// EmbedOne embeds a single text.
func (o *Orchestrator) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	rows, err := o.Embed(ctx, []string{text}, nil)
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (o *Orchestrator) call(ctx context.Context, batch []string) ([][]float32, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", domain.ErrEmbedding, err)
		}
	}

	metrics.EmbedBatches.Inc()
	rows, err := o.embedder.Embed(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbedding, err)
	}
	return rows, nil
}

// expectDim pins the dimension on first use.
func (o *Orchestrator) expectDim(observed int) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.dim == 0 {
		if observed == 0 {
			return 0, fmt.Errorf("%w: collaborator returned empty vectors", domain.ErrEmbedding)
		}
		o.dim = observed
	}
	return o.dim, nil
}

// normalizeL2 scales v to unit length in place.
func normalizeL2(v []float32) error {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return fmt.Errorf("vector has zero or non-finite norm")
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return nil
}
