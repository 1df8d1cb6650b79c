package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"island/internal/adapter/analyzer"
	"island/internal/port"
)

// HashModelPrefix selects the offline feature-hashing embedder, e.g. "hash-256".
const HashModelPrefix = "hash"

// DefaultHashDimension is used for a bare "hash" model id.
const DefaultHashDimension = 256

// HashEmbedder maps text to a signed bag-of-terms vector using feature
// hashing. It needs no network and is deterministic, which makes it useful
// for tests and air-gapped builds. Similar vocabulary yields nearby vectors.
type HashEmbedder struct {
	tokenizer port.Tokenizer
	dimension int
	model     string
}

// NewHashEmbedder creates a hashing embedder with the given dimension.
func NewHashEmbedder(model string, dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = DefaultHashDimension
	}
	return &HashEmbedder{
		tokenizer: analyzer.NewTokenizer(true),
		dimension: dimension,
		model:     model,
	}
}

func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dimension)

	terms := e.tokenizer.Tokenize(text)
	if len(terms) == 0 {
		// Stopword-only or punctuation-only text still gets a direction.
		terms = strings.Fields(strings.ToLower(text))
	}
	if len(terms) == 0 {
		terms = []string{""}
	}

	for i, term := range terms {
		e.add(v, term, 1)
		if i > 0 {
			e.add(v, terms[i-1]+" "+term, 0.5)
		}
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		v[0] = 1
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

func (e *HashEmbedder) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := int(sum % uint64(e.dimension))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[bucket] += weight
}

func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashEmbedder) ModelName() string {
	return e.model
}
