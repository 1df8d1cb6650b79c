package embedding

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"island/internal/domain"
	"island/internal/logging"
)

// recordingEmbedder returns a deterministic unnormalized vector per text.
type recordingEmbedder struct {
	dim   int
	mu    sync.Mutex
	calls [][]string
	err   error
	// mutate lets a test corrupt the returned rows.
	mutate func(rows [][]float32)
}

func (e *recordingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string(nil), texts...))
	e.mu.Unlock()

	if e.err != nil {
		return nil, e.err
	}
	rows := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, e.dim)
		for j := range v {
			v[j] = float32(len(t) + j + 1)
		}
		rows[i] = v
	}
	if e.mutate != nil {
		e.mutate(rows)
	}
	return rows, nil
}

func (e *recordingEmbedder) Dimension() int    { return e.dim }
func (e *recordingEmbedder) ModelName() string { return "recording" }

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestEmbedEmptyInputSkipsCollaborator(t *testing.T) {
	e := &recordingEmbedder{dim: 3}
	o := NewOrchestrator(e, OrchestratorConfig{Logger: logging.Nop()})

	rows, err := o.Embed(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 0)
	assert.Empty(t, e.calls)

	dim, err := o.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, dim)
}

func TestEmbedNormalizesInInputOrder(t *testing.T) {
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}

	e := &recordingEmbedder{dim: 4}
	o := NewOrchestrator(e, OrchestratorConfig{BatchSize: 2, Concurrency: 3, Logger: logging.Nop()})

	rows, err := o.Embed(context.Background(), texts, nil)
	require.NoError(t, err)
	require.Len(t, rows, len(texts))
	assert.Len(t, e.calls, 3)

	for i, row := range rows {
		assert.Len(t, row, 4)
		assert.InDelta(t, 1.0, norm(row), 1e-5)
		// first component encodes len(text)+1 before normalization
		want := float64(len(texts[i])+1) / norm([]float32{
			float32(len(texts[i]) + 1), float32(len(texts[i]) + 2),
			float32(len(texts[i]) + 3), float32(len(texts[i]) + 4),
		})
		assert.InDelta(t, want, row[0], 1e-5)
	}
}

func TestEmbedLeavesCollaboratorRowsUntouched(t *testing.T) {
	var returned [][]float32
	e := &recordingEmbedder{dim: 3, mutate: func(rows [][]float32) { returned = rows }}
	o := NewOrchestrator(e, OrchestratorConfig{Logger: logging.Nop()})

	rows, err := o.Embed(context.Background(), []string{"zeus"}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, norm(rows[0]), 1e-5)
	assert.Equal(t, []float32{5, 6, 7}, returned[0])
}

func TestEmbedBatchSizeDoesNotChangeResult(t *testing.T) {
	texts := []string{"olympus", "zeus", "hera", "athena", "apollo", "ares", "hermes"}

	var results [][][]float32
	for _, bs := range []int{1, 2, 3, 64} {
		o := NewOrchestrator(NewHashEmbedder("hash", 32), OrchestratorConfig{BatchSize: bs, Concurrency: 4, Logger: logging.Nop()})
		rows, err := o.Embed(context.Background(), texts, nil)
		require.NoError(t, err)
		results = append(results, rows)
	}
	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
}

func TestEmbedProgressCountsEveryText(t *testing.T) {
	texts := make([]string, 10)
	for i := range texts {
		texts[i] = "span"
	}
	o := NewOrchestrator(&recordingEmbedder{dim: 2}, OrchestratorConfig{BatchSize: 3, Concurrency: 2, Logger: logging.Nop()})

	total := 0
	_, err := o.Embed(context.Background(), texts, func(n int) { total += n })
	require.NoError(t, err)
	assert.Equal(t, 10, total)
}

func TestEmbedCollaboratorErrorIsWrapped(t *testing.T) {
	o := NewOrchestrator(&recordingEmbedder{dim: 2, err: errors.New("connection refused")}, OrchestratorConfig{Logger: logging.Nop()})

	_, err := o.Embed(context.Background(), []string{"x"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbedding)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestEmbedRejectsBadRows(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(rows [][]float32)
	}{
		{"wrong dimension", func(rows [][]float32) { rows[0] = rows[0][:1] }},
		{"zero norm", func(rows [][]float32) {
			for i := range rows[0] {
				rows[0][i] = 0
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrchestrator(&recordingEmbedder{dim: 3, mutate: tt.mutate}, OrchestratorConfig{Logger: logging.Nop()})
			_, err := o.Embed(context.Background(), []string{"a", "b"}, nil)
			assert.ErrorIs(t, err, domain.ErrEmbedding)
		})
	}
}

func TestEmbedRejectsMissingRows(t *testing.T) {
	o := NewOrchestrator(&shortEmbedder{&recordingEmbedder{dim: 3}}, OrchestratorConfig{Logger: logging.Nop()})
	_, err := o.Embed(context.Background(), []string{"a", "b"}, nil)
	assert.ErrorIs(t, err, domain.ErrEmbedding)
}

// shortEmbedder drops the last row of every response.
type shortEmbedder struct{ *recordingEmbedder }

func (s *shortEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	rows, err := s.recordingEmbedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	return rows[:len(rows)-1], nil
}

func TestDimensionProbeWhenUnadvertised(t *testing.T) {
	e := &recordingEmbedder{dim: 5}
	o := NewOrchestrator(&unadvertised{e}, OrchestratorConfig{Logger: logging.Nop()})

	dim, err := o.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, dim)
	assert.Len(t, e.calls, 1)

	dim, err = o.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, dim)
	assert.Len(t, e.calls, 1, "dimension is remembered after probing")
}

type unadvertised struct{ *recordingEmbedder }

func (u *unadvertised) Dimension() int { return 0 }

func TestRateLimitedEmbedStillSucceeds(t *testing.T) {
	o := NewOrchestrator(&recordingEmbedder{dim: 2}, OrchestratorConfig{BatchSize: 1, RequestsPerSecond: 1000, Logger: logging.Nop()})
	rows, err := o.Embed(context.Background(), []string{"a", "b", "c"}, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}
