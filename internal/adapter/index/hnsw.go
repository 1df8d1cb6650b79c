package index

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/bits-and-blooms/bitset"

	"island/internal/domain"
)

// HNSWConfig holds the graph construction and query parameters.
type HNSWConfig struct {
	// M is the out-degree on upper layers; layer 0 allows 2*M.
	M int

	// EFConstruction is the candidate list width while inserting.
	EFConstruction int

	// EFSearch is the candidate list width while querying. Queries for
	// more than EFSearch neighbours widen it to k.
	EFSearch int

	// Seed makes level assignment, and therefore the graph, reproducible.
	Seed int64
}

// DefaultHNSWConfig returns M=32, efConstruction=200, efSearch=64.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{
		M:              32,
		EFConstruction: 200,
		EFSearch:       64,
		Seed:           42,
	}
}

func (c HNSWConfig) validate() error {
	if c.M < 2 {
		return fmt.Errorf("%w: hnsw m must be >= 2, got %d", domain.ErrInvalidRequest, c.M)
	}
	if c.EFConstruction < 1 {
		return fmt.Errorf("%w: hnsw ef_construction must be >= 1, got %d", domain.ErrInvalidRequest, c.EFConstruction)
	}
	if c.EFSearch < 1 {
		return fmt.Errorf("%w: hnsw ef_search must be >= 1, got %d", domain.ErrInvalidRequest, c.EFSearch)
	}
	return nil
}

// maxLevelCap bounds the random level so a pathological draw cannot
// allocate hundreds of empty layers.
const maxLevelCap = 16

// HNSWIndex is a hierarchical navigable small world graph over a fixed
// matrix. The graph holds row ids only; vectors live in the artifact
// matrix and are supplied on decode. Searches are safe for concurrent use.
type HNSWIndex struct {
	cfg     HNSWConfig
	dim     int
	vectors [][]float32

	levels   []int
	links    [][][]uint32 // links[node][level] -> neighbour rows
	ep       uint32
	maxLevel int

	ml  float64
	rng *rand.Rand
}

// BuildHNSW inserts every row of vectors in order.
func BuildHNSW(vectors [][]float32, cfg HNSWConfig) (*HNSWIndex, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	dim, err := matrixDim(vectors)
	if err != nil {
		return nil, err
	}

	h := &HNSWIndex{
		cfg:     cfg,
		dim:     dim,
		vectors: vectors,
		levels:  make([]int, len(vectors)),
		links:   make([][][]uint32, len(vectors)),
		ml:      1 / math.Log(float64(cfg.M)),
		rng:     rand.New(rand.NewSource(cfg.Seed)), // nolint gosec
	}

	for id := range vectors {
		h.insert(uint32(id))
	}
	h.rng = nil

	return h, nil
}

func (h *HNSWIndex) randomLevel() int {
	u := h.rng.Float64()
	for u == 0 {
		u = h.rng.Float64()
	}
	return min(int(math.Floor(-math.Log(u)*h.ml)), maxLevelCap)
}

func (h *HNSWIndex) insert(id uint32) {
	level := h.randomLevel()
	h.levels[id] = level
	h.links[id] = make([][]uint32, level+1)

	if id == 0 {
		h.ep = 0
		h.maxLevel = level
		return
	}

	q := h.vectors[id]
	cur := candidate{id: h.ep, dist: squaredL2(q, h.vectors[h.ep])}

	// Descend greedily through the layers above the new node.
	for l := h.maxLevel; l > level; l-- {
		cur = h.greedy(q, cur, l)
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		found := h.searchLayer(q, cur, h.cfg.EFConstruction, l)
		neighbours := h.selectNeighbours(found, h.cfg.M)

		h.links[id][l] = make([]uint32, len(neighbours))
		for i, n := range neighbours {
			h.links[id][l][i] = n.id
		}
		for _, n := range neighbours {
			h.connect(n.id, id, l)
		}
		cur = found[0]
	}

	if level > h.maxLevel {
		h.ep = id
		h.maxLevel = level
	}
}

// connect adds a back link from node to peer and prunes node's list when
// it exceeds the layer's degree bound.
func (h *HNSWIndex) connect(node, peer uint32, level int) {
	maxConn := h.cfg.M
	if level == 0 {
		maxConn = 2 * h.cfg.M
	}

	conns := append(h.links[node][level], peer)
	if len(conns) <= maxConn {
		h.links[node][level] = conns
		return
	}

	base := h.vectors[node]
	cands := make([]candidate, len(conns))
	for i, c := range conns {
		cands[i] = candidate{id: c, dist: squaredL2(base, h.vectors[c])}
	}
	sortCandidates(cands)

	kept := h.selectNeighbours(cands, maxConn)
	pruned := make([]uint32, len(kept))
	for i, c := range kept {
		pruned[i] = c.id
	}
	h.links[node][level] = pruned
}

// selectNeighbours applies the diversity heuristic to candidates sorted by
// ascending distance, topping up with the closest discarded candidates.
func (h *HNSWIndex) selectNeighbours(cands []candidate, m int) []candidate {
	if len(cands) <= m {
		return cands
	}

	selected := make([]candidate, 0, m)
	var discarded []candidate

	for _, c := range cands {
		if len(selected) >= m {
			break
		}
		keep := true
		for _, s := range selected {
			if squaredL2(h.vectors[c.id], h.vectors[s.id]) < c.dist {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		} else {
			discarded = append(discarded, c)
		}
	}

	for i := 0; len(selected) < m && i < len(discarded); i++ {
		selected = append(selected, discarded[i])
	}
	return selected
}

func (h *HNSWIndex) greedy(q []float32, cur candidate, level int) candidate {
	changed := true
	for changed {
		changed = false
		for _, n := range h.links[cur.id][level] {
			if d := squaredL2(q, h.vectors[n]); d < cur.dist {
				cur = candidate{id: n, dist: d}
				changed = true
			}
		}
	}
	return cur
}

// searchLayer returns up to ef candidates on one layer, nearest first.
func (h *HNSWIndex) searchLayer(q []float32, entry candidate, ef int, level int) []candidate {
	visited := bitset.New(uint(len(h.vectors)))
	visited.Set(uint(entry.id))

	cands := &candidateQueue{}
	top := &candidateQueue{farthestFirst: true}
	cands.push(entry)
	top.push(entry)

	for cands.Len() > 0 {
		c := cands.pop()
		if c.dist > top.top().dist {
			break
		}

		for _, n := range h.links[c.id][level] {
			if visited.Test(uint(n)) {
				continue
			}
			visited.Set(uint(n))

			d := squaredL2(q, h.vectors[n])
			if top.Len() < ef || d < top.top().dist {
				item := candidate{id: n, dist: d}
				cands.push(item)
				top.push(item)
				if top.Len() > ef {
					top.pop()
				}
			}
		}
	}

	out := make([]candidate, top.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = top.pop()
	}
	return out
}

// Search returns the approximate k nearest rows by Euclidean distance.
func (h *HNSWIndex) Search(query []float32, k int) ([]float64, []int, error) {
	if len(h.vectors) == 0 || k <= 0 {
		return nil, nil, nil
	}
	if len(query) != h.dim {
		return nil, nil, fmt.Errorf("%w: query dimension %d, index dimension %d", domain.ErrInvariant, len(query), h.dim)
	}
	k = min(k, len(h.vectors))

	cur := candidate{id: h.ep, dist: squaredL2(query, h.vectors[h.ep])}
	for l := h.maxLevel; l > 0; l-- {
		cur = h.greedy(query, cur, l)
	}
	found := h.searchLayer(query, cur, max(h.cfg.EFSearch, k), 0)

	type hit struct {
		id   int
		dist float64
	}
	hits := make([]hit, len(found))
	for i, c := range found {
		hits[i] = hit{id: int(c.id), dist: EuclideanDistance(query, h.vectors[c.id])}
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

func (h *HNSWIndex) Len() int { return len(h.vectors) }

func (h *HNSWIndex) Kind() string { return domain.IndexKindHNSW }

// SetEFSearch overrides the query width of a decoded index.
func (h *HNSWIndex) SetEFSearch(ef int) {
	if ef > 0 {
		h.cfg.EFSearch = ef
	}
}

// hnswGraph is the gob wire form of the graph.
type hnswGraph struct {
	M              int
	EFConstruction int
	EFSearch       int
	Seed           int64
	Dim            int
	EP             uint32
	MaxLevel       int
	Levels         []int
	Links          [][][]uint32
}

// MarshalBinary serializes the graph structure without the vectors.
func (h *HNSWIndex) MarshalBinary() ([]byte, error) {
	g := hnswGraph{
		M:              h.cfg.M,
		EFConstruction: h.cfg.EFConstruction,
		EFSearch:       h.cfg.EFSearch,
		Seed:           h.cfg.Seed,
		Dim:            h.dim,
		EP:             h.ep,
		MaxLevel:       h.maxLevel,
		Levels:         h.levels,
		Links:          h.links,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, fmt.Errorf("failed to encode hnsw graph: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeHNSW restores a graph produced by MarshalBinary over the matrix it
// was built from.
func DecodeHNSW(data []byte, vectors [][]float32) (*HNSWIndex, error) {
	var g hnswGraph
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return nil, fmt.Errorf("%w: failed to decode hnsw graph: %v", domain.ErrInvariant, err)
	}

	dim, err := matrixDim(vectors)
	if err != nil {
		return nil, err
	}

	n := len(vectors)
	switch {
	case len(g.Levels) != n || len(g.Links) != n:
		return nil, fmt.Errorf("%w: hnsw graph has %d nodes, matrix has %d rows", domain.ErrInvariant, len(g.Levels), n)
	case n > 0 && g.Dim != dim:
		return nil, fmt.Errorf("%w: hnsw graph dimension %d, matrix dimension %d", domain.ErrInvariant, g.Dim, dim)
	case n > 0 && int(g.EP) >= n:
		return nil, fmt.Errorf("%w: hnsw entry point %d out of range", domain.ErrInvariant, g.EP)
	}
	for id, layers := range g.Links {
		if len(layers) != g.Levels[id]+1 {
			return nil, fmt.Errorf("%w: hnsw node %d has %d layers, level %d", domain.ErrInvariant, id, len(layers), g.Levels[id])
		}
		for _, conns := range layers {
			for _, c := range conns {
				if int(c) >= n {
					return nil, fmt.Errorf("%w: hnsw node %d links to missing row %d", domain.ErrInvariant, id, c)
				}
			}
		}
	}

	cfg := HNSWConfig{M: g.M, EFConstruction: g.EFConstruction, EFSearch: g.EFSearch, Seed: g.Seed}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvariant, err)
	}

	return &HNSWIndex{
		cfg:      cfg,
		dim:      dim,
		vectors:  vectors,
		levels:   g.Levels,
		links:    g.Links,
		ep:       g.EP,
		maxLevel: g.MaxLevel,
		ml:       1 / math.Log(float64(g.M)),
	}, nil
}

func sortCandidates(c []candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].dist == c[j].dist {
			return c[i].id < c[j].id
		}
		return c[i].dist < c[j].dist
	})
}
