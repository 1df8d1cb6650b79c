package usecase

import (
	"fmt"
	"math"
	"sort"

	"island/internal/adapter/index"
	"island/internal/domain"
	"island/internal/port"
)

// DefaultCalibrationDistance is the single calibration sample of a world
// with at most one span.
const DefaultCalibrationDistance = 0.5

// MeanNeighborDistances returns, for every row, the mean Euclidean
// distance to its k nearest other rows. Rows are excluded by id, so exact
// duplicates of a row still count as neighbours. k is clamped to n-1.
func MeanNeighborDistances(idx port.NearestNeighborIndex, vectors [][]float32, k int) ([]float64, error) {
	n := len(vectors)
	if n <= 1 {
		return []float64{DefaultCalibrationDistance}, nil
	}
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be >= 1, got %d", domain.ErrInvalidRequest, k)
	}
	k = min(k, n-1)

	var exact *index.BruteForceIndex
	out := make([]float64, n)

	for i, v := range vectors {
		dists, ids, err := idx.Search(v, k+1)
		if err != nil {
			return nil, fmt.Errorf("calibration search for span %d: %w", i, err)
		}

		mean, ok := meanExcluding(dists, ids, i, k)
		if !ok {
			// An approximate index can come back short; redo the row exactly.
			if exact == nil {
				if exact, err = index.NewBruteForce(vectors); err != nil {
					return nil, err
				}
			}
			dists, ids, err = exact.Search(v, k+1)
			if err != nil {
				return nil, err
			}
			mean, _ = meanExcluding(dists, ids, i, k)
		}
		out[i] = mean
	}
	return out, nil
}

func meanExcluding(dists []float64, ids []int, self, k int) (float64, bool) {
	var sum float64
	count := 0
	for j, id := range ids {
		if id == self {
			continue
		}
		if count == k {
			break
		}
		sum += dists[j]
		count++
	}
	if count < k {
		return 0, false
	}
	return sum / float64(count), true
}

// Quantile returns the q-quantile of values using linear interpolation
// between the closest ranks (position q*(n-1) in sorted order).
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	q = math.Max(0, math.Min(1, q))
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Calibrate derives decision thresholds from the corpus's own k-NN
// distance distribution.
func Calibrate(idx port.NearestNeighborIndex, vectors [][]float32, k int, acceptQ, reviewQ float64) (domain.Thresholds, error) {
	dists, err := MeanNeighborDistances(idx, vectors, k)
	if err != nil {
		return domain.Thresholds{}, err
	}
	return domain.Thresholds{
		TAccept: Quantile(dists, acceptQ),
		TReview: Quantile(dists, reviewQ),
	}, nil
}
