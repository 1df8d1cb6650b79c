package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"island/config"
	"island/internal/adapter/embedding"
	"island/internal/adapter/fs"
	"island/internal/adapter/index"
	"island/internal/adapter/memstore"
	"island/internal/adapter/store"
	"island/internal/port"
	"island/internal/usecase"
)

// app holds the wired use cases for one command invocation.
type app struct {
	store  port.ArtifactStore
	corpus *fs.Walker
	build  *usecase.BuildUseCase
	score  *usecase.ScoreUseCase
	status *usecase.StatusUseCase
}

func openApp(ctx context.Context) (*app, error) {
	cfg := GetConfig()

	st, err := OpenStore(ctx, cfg, rootDir, logger)
	if err != nil {
		return nil, err
	}

	factory := embedding.NewFactory(embedding.FactoryConfig{
		Provider:  cfg.Embedding.Provider,
		APIKeyEnv: cfg.Embedding.APIKeyEnv,
		BaseURL:   cfg.Embedding.BaseURL,
		Dimension: cfg.Embedding.Dimension,
	})
	embedCfg := embedding.OrchestratorConfig{
		BatchSize:         cfg.Embedding.BatchSize,
		Concurrency:       cfg.Embedding.Concurrency,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Logger:            logger,
	}

	corpusDir := cfg.Corpus.Dir
	if !filepath.IsAbs(corpusDir) {
		corpusDir = filepath.Join(rootDir, corpusDir)
	}

	defaults := usecase.BuildDefaults{
		ModelID:      cfg.Embedding.Model,
		Sources:      cfg.Corpus.Patterns,
		TargetWords:  cfg.Build.TargetWords,
		OverlapWords: cfg.Build.OverlapWords,
		K:            cfg.Build.K,
		AcceptQ:      cfg.Build.AcceptQ,
		ReviewQ:      cfg.Build.ReviewQ,
	}
	indexOpts := index.Options{
		Strategy:     cfg.Build.IndexStrategy,
		HNSWMinSpans: cfg.Build.HNSWMinSpans,
		HNSW: index.HNSWConfig{
			M:              cfg.Build.HNSW.M,
			EFConstruction: cfg.Build.HNSW.EFConstruction,
			EFSearch:       cfg.Build.HNSW.EFSearch,
			Seed:           cfg.Build.HNSW.Seed,
		},
	}

	a := &app{store: st, corpus: fs.NewWalker(corpusDir, cfg.Corpus.Excludes, logger)}
	a.build = usecase.NewBuildUseCase(a.corpus,
		factory, st, defaults, indexOpts, embedCfg, logger)
	a.score = usecase.NewScoreUseCase(st, factory, usecase.ScoreOptions{
		MaxWorlds:     cfg.Cache.MaxWorlds,
		EFSearch:      cfg.Build.HNSW.EFSearch,
		QueryCacheTTL: cfg.Embedding.QueryCacheTTL,
		Embedding:     embedCfg,
	}, logger)
	a.status = usecase.NewStatusUseCase(st, logger)
	a.build.OnRebuild(a.score)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// OpenStore creates the artifact store selected by storage.backend.
// Relative storage dirs resolve against projectDir.
func OpenStore(ctx context.Context, cfg *config.Config, projectDir string, logger *slog.Logger) (port.ArtifactStore, error) {
	compression, err := store.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}

	dir := cfg.Storage.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(projectDir, dir)
	}

	switch cfg.Storage.Backend {
	case "bolt":
		st, err := store.NewBoltArtifactStore(filepath.Join(dir, filepath.Base(cfg.BoltPath())), compression)
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact store: %w", err)
		}
		return st, nil
	case "fs":
		blobs, err := store.NewFSBlobs(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact dir: %w", err)
		}
		return store.NewBlobArtifactStore(blobs, compression, logger), nil
	case "minio":
		m := cfg.Storage.Minio
		blobs, err := store.NewMinioBlobs(ctx, store.MinioConfig{
			Endpoint:  m.Endpoint,
			Bucket:    m.Bucket,
			Prefix:    m.Prefix,
			AccessKey: os.Getenv(m.AccessKeyEnv),
			SecretKey: os.Getenv(m.SecretKeyEnv),
			UseSSL:    m.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return store.NewBlobArtifactStore(blobs, compression, logger), nil
	case "memory":
		return memstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
