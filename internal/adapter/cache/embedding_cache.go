package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// EmbeddingMemo remembers query embeddings for a short time so repeated
// scoring of the same text skips the collaborator.
type EmbeddingMemo struct {
	c *gocache.Cache
}

// NewEmbeddingMemo returns nil when ttl is not positive; a nil memo is a
// valid no-op.
func NewEmbeddingMemo(ttl time.Duration) *EmbeddingMemo {
	if ttl <= 0 {
		return nil
	}
	return &EmbeddingMemo{c: gocache.New(ttl, 2*ttl)}
}

func memoKey(model, text string) string {
	data := append([]byte(model), 0)
	data = append(data, text...)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

func (m *EmbeddingMemo) Get(model, text string) ([]float32, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.c.Get(memoKey(model, text))
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	return vec, ok
}

func (m *EmbeddingMemo) Set(model, text string, vec []float32) {
	if m == nil {
		return
	}
	m.c.SetDefault(memoKey(model, text), vec)
}

// Flush drops every memoized vector.
func (m *EmbeddingMemo) Flush() {
	if m == nil {
		return
	}
	m.c.Flush()
}

func (m *EmbeddingMemo) Len() int {
	if m == nil {
		return 0
	}
	return m.c.ItemCount()
}
