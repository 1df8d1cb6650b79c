package embedding

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"island/internal/domain"
	"island/internal/port"
)

// Providers understood by the factory.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderHash   = "hash"
)

// FactoryConfig describes how to reach the embedding collaborator.
type FactoryConfig struct {
	Provider  string
	APIKeyEnv string
	BaseURL   string
	Dimension int
}

// Factory resolves embedders by model id and reuses them across calls.
type Factory struct {
	cfg FactoryConfig

	mu        sync.Mutex
	embedders map[string]port.Embedder
}

// NewFactory creates a factory for the configured provider.
func NewFactory(cfg FactoryConfig) *Factory {
	return &Factory{
		cfg:       cfg,
		embedders: make(map[string]port.Embedder),
	}
}

// ForModel returns the embedder for modelID. Model ids of the form
// "hash" or "hash-<dim>" always select the offline hashing embedder.
func (f *Factory) ForModel(modelID string) (port.Embedder, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, fmt.Errorf("%w: model_id is required", domain.ErrInvalidRequest)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.embedders[modelID]; ok {
		return e, nil
	}

	e, err := f.create(modelID)
	if err != nil {
		return nil, err
	}
	f.embedders[modelID] = e
	return e, nil
}

func (f *Factory) create(modelID string) (port.Embedder, error) {
	if dim, ok := parseHashModel(modelID); ok {
		return NewHashEmbedder(modelID, dim), nil
	}

	switch f.cfg.Provider {
	case ProviderOpenAI, "":
		e, err := NewOpenAICompatibleEmbedder(f.cfg.APIKeyEnv, modelID, f.cfg.BaseURL, f.cfg.Dimension)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbedding, err)
		}
		return e, nil
	case ProviderOllama:
		return NewOllamaEmbedder(modelID, f.cfg.BaseURL, f.cfg.Dimension)
	case ProviderHash:
		return NewHashEmbedder(modelID, f.cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", domain.ErrInvalidRequest, f.cfg.Provider)
	}
}

// parseHashModel recognizes "hash" and "hash-<dim>".
func parseHashModel(modelID string) (int, bool) {
	if modelID == HashModelPrefix {
		return DefaultHashDimension, true
	}
	rest, ok := strings.CutPrefix(modelID, HashModelPrefix+"-")
	if !ok {
		return 0, false
	}
	dim, err := strconv.Atoi(rest)
	if err != nil || dim <= 0 {
		return 0, false
	}
	return dim, true
}

// StaticFactory serves one embedder for every model id. Tests and
// embedding programs use it to inject a collaborator directly.
type StaticFactory struct {
	Embedder port.Embedder
}

func (f StaticFactory) ForModel(string) (port.Embedder, error) {
	return f.Embedder, nil
}
