package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"island/internal/adapter/index"
)

func TestQuantileInterpolatesLinearly(t *testing.T) {
	values := []float64{4, 1, 3, 2}

	assert.Equal(t, 1.0, Quantile(values, 0))
	assert.Equal(t, 4.0, Quantile(values, 1))
	assert.InDelta(t, 2.5, Quantile(values, 0.5), 1e-12)
	assert.InDelta(t, 3.85, Quantile(values, 0.95), 1e-12)
	assert.Equal(t, []float64{4, 1, 3, 2}, values, "input must not be reordered")
}

func TestQuantileSingleValue(t *testing.T) {
	assert.Equal(t, 0.5, Quantile([]float64{0.5}, 0.99))
}

func TestMeanNeighborDistancesExcludesSelfByID(t *testing.T) {
	vectors := [][]float32{
		{1, 0},
		{1, 0}, // exact duplicate of row 0
		{0, 1},
	}
	idx, err := index.NewBruteForce(vectors)
	require.NoError(t, err)

	dists, err := MeanNeighborDistances(idx, vectors, 1)
	require.NoError(t, err)
	require.Len(t, dists, 3)

	assert.InDelta(t, 0, dists[0], 1e-9)
	assert.InDelta(t, 0, dists[1], 1e-9)
	assert.InDelta(t, 1.41421356, dists[2], 1e-6)
}

func TestMeanNeighborDistancesClampsK(t *testing.T) {
	vectors := [][]float32{{1, 0}, {0, 1}}
	idx, err := index.NewBruteForce(vectors)
	require.NoError(t, err)

	dists, err := MeanNeighborDistances(idx, vectors, 8)
	require.NoError(t, err)
	for _, d := range dists {
		assert.InDelta(t, 1.41421356, d, 1e-6)
	}
}

func TestMeanNeighborDistancesSingleSpan(t *testing.T) {
	vectors := [][]float32{{1, 0}}
	idx, err := index.NewBruteForce(vectors)
	require.NoError(t, err)

	dists, err := MeanNeighborDistances(idx, vectors, 8)
	require.NoError(t, err)
	assert.Equal(t, []float64{DefaultCalibrationDistance}, dists)
}

// shortIndex drops the last result of every search, like an approximate
// index that missed a neighbour.
type shortIndex struct{ *index.BruteForceIndex }

func (s shortIndex) Search(q []float32, k int) ([]float64, []int, error) {
	d, ids, err := s.BruteForceIndex.Search(q, k)
	if err != nil || len(d) == 0 {
		return d, ids, err
	}
	return d[:len(d)-1], ids[:len(ids)-1], nil
}

func TestMeanNeighborDistancesFallsBackWhenIndexComesBackShort(t *testing.T) {
	vectors := [][]float32{{1, 0}, {0.8, 0.6}, {0, 1}, {-1, 0}}
	exact, err := index.NewBruteForce(vectors)
	require.NoError(t, err)

	want, err := MeanNeighborDistances(exact, vectors, 2)
	require.NoError(t, err)

	got, err := MeanNeighborDistances(shortIndex{exact}, vectors, 2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-12)
}

func TestCalibrateOrdersThresholds(t *testing.T) {
	vectors := [][]float32{{1, 0}, {0.6, 0.8}, {0, 1}, {-0.6, 0.8}, {-1, 0}, {0, -1}}
	idx, err := index.NewBruteForce(vectors)
	require.NoError(t, err)

	th, err := Calibrate(idx, vectors, 2, 0.95, 0.99)
	require.NoError(t, err)
	assert.LessOrEqual(t, th.TAccept, th.TReview)
	assert.GreaterOrEqual(t, th.TAccept, 0.0)
	assert.LessOrEqual(t, th.TReview, 2.0)
}
