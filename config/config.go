package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the project-level config file.
const FileName = "island.yaml"

// EnvPrefix prefixes every environment override, e.g. ISLAND_BUILD_K.
const EnvPrefix = "ISLAND"

// Config holds all configuration for the coherence engine.
type Config struct {
	Corpus    CorpusConfig    `yaml:"corpus"`
	Build     BuildConfig     `yaml:"build"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CorpusConfig locates world corpora: <dir>/<world_id>/<patterns>.
type CorpusConfig struct {
	Dir      string   `yaml:"dir"`
	Patterns []string `yaml:"patterns"`
	Excludes []string `yaml:"excludes"`
}

// BuildConfig holds the defaults of a world build.
type BuildConfig struct {
	TargetWords   int        `yaml:"target_words"`
	OverlapWords  int        `yaml:"overlap_words"`
	K             int        `yaml:"k"`
	AcceptQ       float64    `yaml:"accept_q"`
	ReviewQ       float64    `yaml:"review_q"`
	IndexStrategy string     `yaml:"index_strategy"` // "auto", "hnsw", "brute"
	HNSWMinSpans  int        `yaml:"hnsw_min_spans"`
	HNSW          HNSWConfig `yaml:"hnsw"`
}

// HNSWConfig holds approximate index parameters.
type HNSWConfig struct {
	M              int   `yaml:"m"`
	EFConstruction int   `yaml:"ef_construction"`
	EFSearch       int   `yaml:"ef_search"`
	Seed           int64 `yaml:"seed"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // "openai", "ollama", "hash"
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"` // Environment variable for API key
	BaseURL           string        `yaml:"base_url"`
	Dimension         int           `yaml:"dimension"` // 0 = known model size or probe
	BatchSize         int           `yaml:"batch_size"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 = unlimited
	QueryCacheTTL     time.Duration `yaml:"query_cache_ttl"`     // 0 = disabled
}

// StorageConfig selects the artifact store.
type StorageConfig struct {
	Backend     string      `yaml:"backend"` // "bolt", "fs", "minio", "memory"
	Dir         string      `yaml:"dir"`
	Compression string      `yaml:"compression"` // "zstd", "lz4", "none"
	Minio       MinioConfig `yaml:"minio"`
}

// MinioConfig holds S3-compatible object storage settings. Credentials are
// read from the named environment variables.
type MinioConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// CacheConfig bounds the scorer's world cache.
type CacheConfig struct {
	MaxWorlds int `yaml:"max_worlds"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Dir:      "corpus",
			Patterns: []string{"*.txt"},
		},
		Build: BuildConfig{
			TargetWords:   100,
			OverlapWords:  20,
			K:             8,
			AcceptQ:       0.95,
			ReviewQ:       0.99,
			IndexStrategy: "auto",
			HNSWMinSpans:  1024,
			HNSW: HNSWConfig{
				M:              32,
				EFConstruction: 200,
				EFSearch:       64,
				Seed:           42,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:    "hash",
			Model:       "hash-384",
			APIKeyEnv:   "OPENAI_API_KEY",
			BatchSize:   64,
			Concurrency: 4,
		},
		Storage: StorageConfig{
			Backend:     "bolt",
			Dir:         "artifacts",
			Compression: "zstd",
			Minio: MinioConfig{
				Bucket:       "island",
				AccessKeyEnv: "MINIO_ACCESS_KEY",
				SecretKeyEnv: "MINIO_SECRET_KEY",
			},
		},
		Cache: CacheConfig{
			MaxWorlds: 16,
		},
		Server: ServerConfig{
			Addr:         ":8001",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFromDir loads configuration from a directory (looks for island.yaml,
// then .island/config.yaml).
func LoadFromDir(dir string) (*Config, error) {
	for _, path := range []string{
		filepath.Join(dir, FileName),
		filepath.Join(dir, ".island", "config.yaml"),
	} {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Load(filepath.Join(dir, FileName))
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// envBinding maps a dotted config key to its field. Aliases are extra
// variable names accepted for the same key.
type envBinding struct {
	key     string
	aliases []string
	target  any
}

func (c *Config) envBindings() []envBinding {
	return []envBinding{
		{"corpus.dir", []string{"ISLAND_CORPUS_DIR", "CORPUS_DIR"}, &c.Corpus.Dir},
		{"corpus.patterns", nil, &c.Corpus.Patterns},
		{"build.target_words", nil, &c.Build.TargetWords},
		{"build.overlap_words", nil, &c.Build.OverlapWords},
		{"build.k", nil, &c.Build.K},
		{"build.accept_q", nil, &c.Build.AcceptQ},
		{"build.review_q", nil, &c.Build.ReviewQ},
		{"build.index_strategy", nil, &c.Build.IndexStrategy},
		{"build.hnsw_min_spans", nil, &c.Build.HNSWMinSpans},
		{"build.hnsw.ef_search", nil, &c.Build.HNSW.EFSearch},
		{"embedding.provider", nil, &c.Embedding.Provider},
		{"embedding.model", nil, &c.Embedding.Model},
		{"embedding.api_key_env", nil, &c.Embedding.APIKeyEnv},
		{"embedding.base_url", nil, &c.Embedding.BaseURL},
		{"embedding.dimension", nil, &c.Embedding.Dimension},
		{"embedding.batch_size", nil, &c.Embedding.BatchSize},
		{"embedding.concurrency", nil, &c.Embedding.Concurrency},
		{"embedding.requests_per_second", nil, &c.Embedding.RequestsPerSecond},
		{"embedding.query_cache_ttl", nil, &c.Embedding.QueryCacheTTL},
		{"storage.backend", nil, &c.Storage.Backend},
		{"storage.dir", []string{"ISLAND_ARTIFACTS_DIR", "ARTIFACTS_DIR"}, &c.Storage.Dir},
		{"storage.compression", nil, &c.Storage.Compression},
		{"storage.minio.endpoint", nil, &c.Storage.Minio.Endpoint},
		{"storage.minio.bucket", nil, &c.Storage.Minio.Bucket},
		{"storage.minio.prefix", nil, &c.Storage.Minio.Prefix},
		{"storage.minio.use_ssl", nil, &c.Storage.Minio.UseSSL},
		{"cache.max_worlds", nil, &c.Cache.MaxWorlds},
		{"server.addr", nil, &c.Server.Addr},
		{"server.read_timeout", nil, &c.Server.ReadTimeout},
		{"server.write_timeout", nil, &c.Server.WriteTimeout},
		{"logging.level", []string{"ISLAND_LOG_LEVEL"}, &c.Logging.Level},
		{"logging.format", []string{"ISLAND_LOG_FORMAT"}, &c.Logging.Format},
	}
}

// ApplyEnv overrides fields from ISLAND_* environment variables. The
// variable for a key is the key upper-cased with dots as underscores,
// e.g. ISLAND_EMBEDDING_MODEL.
func (c *Config) ApplyEnv() error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindings := c.envBindings()
	for _, b := range bindings {
		names := append([]string{envName(b.key)}, b.aliases...)
		if err := v.BindEnv(append([]string{b.key}, names...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", b.key, err)
		}
	}

	for _, b := range bindings {
		if !v.IsSet(b.key) {
			continue
		}
		switch target := b.target.(type) {
		case *string:
			*target = v.GetString(b.key)
		case *int:
			*target = v.GetInt(b.key)
		case *float64:
			*target = v.GetFloat64(b.key)
		case *bool:
			*target = v.GetBool(b.key)
		case *time.Duration:
			*target = v.GetDuration(b.key)
		case *[]string:
			*target = splitList(v.GetString(b.key))
		}
	}
	return nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks values that would otherwise fail deep inside a build.
func (c *Config) Validate() error {
	b := c.Build
	switch {
	case b.TargetWords <= 0:
		return fmt.Errorf("build.target_words must be > 0, got %d", b.TargetWords)
	case b.OverlapWords < 0 || b.OverlapWords >= b.TargetWords:
		return fmt.Errorf("build.overlap_words must be in [0, %d), got %d", b.TargetWords, b.OverlapWords)
	case b.K < 1:
		return fmt.Errorf("build.k must be >= 1, got %d", b.K)
	case b.AcceptQ < 0 || b.AcceptQ > 1 || b.ReviewQ < 0 || b.ReviewQ > 1:
		return fmt.Errorf("build.accept_q and build.review_q must lie in [0, 1]")
	}

	switch c.Storage.Backend {
	case "bolt", "fs", "minio", "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Embedding.Provider {
	case "openai", "ollama", "hash":
	default:
		return fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider)
	}
	return nil
}

// BoltPath returns the bolt artifact database path.
func (c *Config) BoltPath() string {
	return filepath.Join(c.Storage.Dir, "artifacts.db")
}
