// Package index provides the exact and approximate nearest-neighbour
// indexes behind world scoring and calibration.
package index

import (
	"fmt"

	"island/internal/domain"
	"island/internal/port"
)

// Build strategies.
const (
	StrategyAuto  = "auto"
	StrategyHNSW  = "hnsw"
	StrategyBrute = "brute"
)

// DefaultHNSWMinSpans is the corpus size at which "auto" switches to HNSW.
const DefaultHNSWMinSpans = 1024

// Options selects and tunes the index built for a world.
type Options struct {
	Strategy     string
	HNSWMinSpans int
	HNSW         HNSWConfig
}

// DefaultOptions returns the auto strategy with default HNSW parameters.
func DefaultOptions() Options {
	return Options{
		Strategy:     StrategyAuto,
		HNSWMinSpans: DefaultHNSWMinSpans,
		HNSW:         DefaultHNSWConfig(),
	}
}

// Resolve returns the concrete index kind for n vectors.
func (o Options) Resolve(n int) (string, error) {
	switch o.Strategy {
	case StrategyHNSW:
		return domain.IndexKindHNSW, nil
	case StrategyBrute:
		return domain.IndexKindBrute, nil
	case StrategyAuto, "":
		minSpans := o.HNSWMinSpans
		if minSpans <= 0 {
			minSpans = DefaultHNSWMinSpans
		}
		if n >= minSpans {
			return domain.IndexKindHNSW, nil
		}
		return domain.IndexKindBrute, nil
	default:
		return "", fmt.Errorf("%w: unknown index strategy %q", domain.ErrInvalidRequest, o.Strategy)
	}
}

// Build constructs the index chosen by the strategy.
func Build(vectors [][]float32, opts Options) (port.NearestNeighborIndex, error) {
	kind, err := opts.Resolve(len(vectors))
	if err != nil {
		return nil, err
	}
	if kind == domain.IndexKindHNSW {
		return BuildHNSW(vectors, opts.HNSW)
	}
	return NewBruteForce(vectors)
}

// Open restores the index recorded in an artifact. efSearch > 0 overrides
// the query width stored with an HNSW graph.
func Open(kind string, blob []byte, vectors [][]float32, efSearch int) (port.NearestNeighborIndex, error) {
	switch kind {
	case domain.IndexKindBrute:
		return NewBruteForce(vectors)
	case domain.IndexKindHNSW:
		h, err := DecodeHNSW(blob, vectors)
		if err != nil {
			return nil, err
		}
		h.SetEFSearch(efSearch)
		return h, nil
	default:
		return nil, fmt.Errorf("%w: unknown index kind %q", domain.ErrInvariant, kind)
	}
}
