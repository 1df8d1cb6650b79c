package cli

import (
	"fmt"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"island/internal/usecase"
)

var (
	buildSources      []string
	buildModel        string
	buildTargetWords  int
	buildOverlapWords int
	buildK            int
	buildAcceptQ      float64
	buildReviewQ      float64
	buildQuiet        bool
)

var buildCmd = &cobra.Command{
	Use:   "build <world_id>",
	Short: "Build or rebuild a world's manifold",
	Long: `Chunk, embed and index the canon of a world, calibrate its thresholds
and publish a new manifold version. Unset flags take values from the config.

Examples:
  island build olympus
  island build olympus --source "canon/**/*.txt" -k 4
  island build olympus --model text-embedding-3-small`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	f := buildCmd.Flags()
	f.StringArrayVarP(&buildSources, "source", "s", nil, "source glob inside the world directory (repeatable)")
	f.StringVar(&buildModel, "model", "", "embedding model id (default from config)")
	f.IntVar(&buildTargetWords, "target-words", 0, "words per span")
	f.IntVar(&buildOverlapWords, "overlap-words", 0, "words shared by consecutive spans")
	f.IntVarP(&buildK, "k", "k", 0, "neighbours per calibration and score")
	f.Float64Var(&buildAcceptQ, "accept-q", 0, "quantile for T_accept")
	f.Float64Var(&buildReviewQ, "review-q", 0, "quantile for T_review")
	f.BoolVarP(&buildQuiet, "quiet", "q", false, "hide the progress bar")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	req := usecase.BuildRequest{
		WorldID: args[0],
		Sources: buildSources,
		ModelID: buildModel,
	}
	flags := cmd.Flags()
	if flags.Changed("target-words") {
		req.TargetWords = &buildTargetWords
	}
	if flags.Changed("overlap-words") {
		req.OverlapWords = &buildOverlapWords
	}
	if flags.Changed("k") {
		req.K = &buildK
	}
	if flags.Changed("accept-q") {
		req.AcceptQ = &buildAcceptQ
	}
	if flags.Changed("review-q") {
		req.ReviewQ = &buildReviewQ
	}

	if !buildQuiet {
		var (
			bar *progressbar.ProgressBar
			mu  sync.Mutex
		)
		req.Progress = func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionEnableColorCodes(true),
					progressbar.OptionSetWidth(40),
					progressbar.OptionShowCount(),
					progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
					progressbar.OptionSetTheme(progressbar.Theme{
						Saucer:        "[green]=[reset]",
						SaucerHead:    "[green]>[reset]",
						SaucerPadding: " ",
						BarStart:      "[",
						BarEnd:        "]",
					}),
					progressbar.OptionOnCompletion(func() {
						fmt.Println()
					}),
				)
			}
			_ = bar.Set(done)
		}
	}

	res, err := a.build.Build(ctx, req)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	m := res.Meta
	fmt.Printf("\nIsland built successfully with %d chunks:\n", m.NumChunks)
	fmt.Printf("  World:            %s\n", m.WorldID)
	fmt.Printf("  Manifold version: %d\n", m.ManifoldVersion)
	fmt.Printf("  Model:            %s (dim %d)\n", m.ModelID, m.Dim)
	fmt.Printf("  Index:            %s\n", m.IndexKind)
	fmt.Printf("  T_accept:         %.4f (q=%.2f)\n", m.TAccept, m.AcceptQ)
	fmt.Printf("  T_review:         %.4f (q=%.2f)\n", m.TReview, m.ReviewQ)
	fmt.Printf("  Sources:          %d files\n", len(m.SourceFiles))
	fmt.Printf("  Took:             %s\n", res.Duration.Round(time.Millisecond))

	if len(res.EmptySource) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, s := range res.EmptySource {
			fmt.Printf("  - %s produced no spans\n", s)
		}
	}
	return nil
}
