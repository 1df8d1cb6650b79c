package index

import (
	"fmt"
	"sort"

	"island/internal/domain"
)

// BruteForceIndex performs exact nearest-neighbour search by scanning every
// row of the matrix.
type BruteForceIndex struct {
	vectors [][]float32
	dim     int
}

// NewBruteForce indexes vectors, which must all share one dimension.
func NewBruteForce(vectors [][]float32) (*BruteForceIndex, error) {
	dim, err := matrixDim(vectors)
	if err != nil {
		return nil, err
	}
	return &BruteForceIndex{vectors: vectors, dim: dim}, nil
}

func (b *BruteForceIndex) Search(query []float32, k int) ([]float64, []int, error) {
	if len(b.vectors) == 0 || k <= 0 {
		return nil, nil, nil
	}
	if len(query) != b.dim {
		return nil, nil, fmt.Errorf("%w: query dimension %d, index dimension %d", domain.ErrInvariant, len(query), b.dim)
	}

	type hit struct {
		id   int
		dist float64
	}
	hits := make([]hit, len(b.vectors))
	for i, v := range b.vectors {
		hits[i] = hit{id: i, dist: EuclideanDistance(query, v)}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist == hits[j].dist {
			return hits[i].id < hits[j].id
		}
		return hits[i].dist < hits[j].dist
	})

	k = min(k, len(hits))
	dists := make([]float64, k)
	ids := make([]int, k)
	for i := 0; i < k; i++ {
		dists[i] = hits[i].dist
		ids[i] = hits[i].id
	}
	return dists, ids, nil
}

func (b *BruteForceIndex) Len() int { return len(b.vectors) }

func (b *BruteForceIndex) Kind() string { return domain.IndexKindBrute }

// MarshalBinary returns nil: the matrix itself is the index.
func (b *BruteForceIndex) MarshalBinary() ([]byte, error) { return nil, nil }

func matrixDim(vectors [][]float32) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("%w: row %d has dimension %d, want %d", domain.ErrInvariant, i, len(v), dim)
		}
	}
	return dim, nil
}
