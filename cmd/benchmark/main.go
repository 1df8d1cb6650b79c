package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"island/config"
	"island/internal/adapter/embedding"
	"island/internal/adapter/index"
	"island/internal/cli"
	"island/internal/domain"
	"island/internal/logging"
	"island/internal/port"
	"island/internal/usecase"
)

func main() {
	projectDir := flag.String("dir", ".", "Project directory holding island.yaml")
	worldID := flag.String("world", "", "World to benchmark")
	query := flag.String("q", "", "Optional query to score against the world")
	topK := flag.Int("k", 0, "Neighbours per search (default: the world's k)")
	samples := flag.Int("samples", 200, "Spans used as benchmark queries")
	efSearch := flag.Int("ef", 0, "HNSW query width (default from config)")
	flag.Parse()

	if *worldID == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -dir . -world olympus [-q \"text\"]")
		fmt.Println("\nTests:")
		fmt.Println("  1. HNSW recall against exact search")
		fmt.Println("  2. Search latency of both indexes")
		fmt.Println("  3. Optional: neighbours and decision for a query")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*projectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	ctx := context.Background()

	st, err := cli.OpenStore(ctx, cfg, *projectDir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening artifacts: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	a, err := st.Load(ctx, *worldID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading world: %v\n", err)
		os.Exit(1)
	}

	ef := cfg.Build.HNSW.EFSearch
	if *efSearch > 0 {
		ef = *efSearch
	}
	exact, approx, err := openIndexes(a, cfg, ef)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing indexes: %v\n", err)
		os.Exit(1)
	}

	k := a.Meta.K
	if *topK > 0 {
		k = *topK
	}
	k = min(k, len(a.Vectors))

	fmt.Println("INDEX BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("World: %s v%d\n", a.Meta.WorldID, a.Meta.ManifoldVersion)
	fmt.Printf("Spans: %d  Dimension: %d  Stored index: %s\n", a.Meta.NumChunks, a.Meta.Dim, a.Meta.IndexKind)
	fmt.Printf("Model: %s  k=%d  efSearch=%d\n", a.Meta.ModelID, k, ef)
	fmt.Println()

	recall, exactLat, approxLat := compare(exact, approx, a.Vectors, k, *samples)

	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Recall@%d:           %.3f\n", k, recall)
	fmt.Printf("  Exact p50 latency:  %s\n", exactLat)
	fmt.Printf("  HNSW p50 latency:   %s\n", approxLat)

	if recall >= 0.95 {
		fmt.Println("  Status: GOOD - HNSW matches exact search")
	} else if recall >= 0.8 {
		fmt.Println("  Status: OK - consider a larger efSearch")
	} else {
		fmt.Println("  Status: POOR - raise ef_search or ef_construction")
	}

	if *query != "" {
		fmt.Println()
		scoreQuery(ctx, cfg, a, exact, *query, k)
	}
}

func openIndexes(a *domain.Artifact, cfg *config.Config, ef int) (port.NearestNeighborIndex, port.NearestNeighborIndex, error) {
	exact, err := index.NewBruteForce(a.Vectors)
	if err != nil {
		return nil, nil, err
	}
	if a.Meta.IndexKind == domain.IndexKindHNSW {
		approx, err := index.Open(domain.IndexKindHNSW, a.Index, a.Vectors, ef)
		return exact, approx, err
	}

	// Brute-force worlds get a throwaway graph so the comparison still runs.
	h, err := index.BuildHNSW(a.Vectors, index.HNSWConfig{
		M:              cfg.Build.HNSW.M,
		EFConstruction: cfg.Build.HNSW.EFConstruction,
		EFSearch:       ef,
		Seed:           cfg.Build.HNSW.Seed,
	})
	return exact, h, err
}

func compare(exact, approx port.NearestNeighborIndex, vectors [][]float32, k, samples int) (float64, time.Duration, time.Duration) {
	samples = max(1, min(samples, len(vectors)))
	stride := max(1, len(vectors)/samples)

	var hits, total int
	var exactTimes, approxTimes []time.Duration

	for i := 0; i < len(vectors) && len(exactTimes) < samples; i += stride {
		q := vectors[i]

		start := time.Now()
		_, want, _ := exact.Search(q, k)
		exactTimes = append(exactTimes, time.Since(start))

		start = time.Now()
		_, got, _ := approx.Search(q, k)
		approxTimes = append(approxTimes, time.Since(start))

		truth := make(map[int]bool, len(want))
		for _, id := range want {
			truth[id] = true
		}
		for _, id := range got {
			if truth[id] {
				hits++
			}
		}
		total += len(want)
	}

	return float64(hits) / float64(max(total, 1)), median(exactTimes), median(approxTimes)
}

func median(d []time.Duration) time.Duration {
	if len(d) == 0 {
		return 0
	}
	sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
	return d[len(d)/2]
}

func scoreQuery(ctx context.Context, cfg *config.Config, a *domain.Artifact, idx port.NearestNeighborIndex, query string, k int) {
	factory := embedding.NewFactory(embedding.FactoryConfig{
		Provider:  cfg.Embedding.Provider,
		APIKeyEnv: cfg.Embedding.APIKeyEnv,
		BaseURL:   cfg.Embedding.BaseURL,
		Dimension: cfg.Embedding.Dimension,
	})
	e, err := factory.ForModel(a.Meta.ModelID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embedder unavailable: %v\n", err)
		return
	}
	vec, err := embedding.NewOrchestrator(e, embedding.OrchestratorConfig{}).EmbedOne(ctx, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embedding error: %v\n", err)
		return
	}

	dists, ids, err := idx.Search(vec, k)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
		return
	}

	fmt.Printf("Query: %q\n", query)
	fmt.Println(strings.Repeat("-", 70))
	var sum float64
	for i, id := range ids {
		span := a.Spans[id]
		preview := strings.ReplaceAll(domain.TruncateText(span.Text, 150), "\n", " ")
		fmt.Printf("%d. [d=%.3f] %s #%d\n   %s\n\n", i+1, dists[i], span.Source, span.SpanID, preview)
		sum += dists[i]
	}
	d := sum / float64(max(len(dists), 1))
	th := domain.Thresholds{TAccept: a.Meta.TAccept, TReview: a.Meta.TReview}
	fmt.Printf("Mean distance %.4f  iw_score %.4f  decision %s\n", d, usecase.IWScore(d), usecase.Classify(d, th))
}
