package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"island/internal/domain"
)

var (
	statusJSON   bool
	worldsCorpus bool
)

var statusCmd = &cobra.Command{
	Use:   "status <world_id>",
	Short: "Show a world's current manifold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.status.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if statusJSON {
			output, _ := json.MarshalIndent(st, "", "  ")
			fmt.Println(string(output))
			return nil
		}
		printStatus(st)
		return nil
	},
}

var worldsCmd = &cobra.Command{
	Use:   "worlds",
	Short: "List built worlds",
	Long: `List built worlds.

With --corpus, list the world directories found under the corpus root
instead, marking which of them have been built.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		worlds, err := a.status.List(cmd.Context())
		if err != nil {
			return err
		}
		if worldsCorpus {
			return printCorpusWorlds(a, worlds)
		}
		if statusJSON {
			output, _ := json.MarshalIndent(map[string]any{"worlds": worlds}, "", "  ")
			fmt.Println(string(output))
			return nil
		}
		if len(worlds) == 0 {
			fmt.Println("No worlds built yet. Run 'island build <world_id>' first.")
			return nil
		}
		for _, w := range worlds {
			if w.Error != "" {
				fmt.Printf("%-24s error: %s\n", w.WorldID, w.Error)
				continue
			}
			fmt.Printf("%-24s v%-4d %6d chunks  %s\n", w.WorldID, w.ManifoldVersion, w.NumChunks, w.ModelID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, worldsCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	worldsCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	worldsCmd.Flags().BoolVar(&worldsCorpus, "corpus", false, "list corpus directories instead of built worlds")
}

// corpusWorld is one world directory under the corpus root.
type corpusWorld struct {
	WorldID         string `json:"world_id"`
	Built           bool   `json:"built"`
	ManifoldVersion int    `json:"manifold_version,omitempty"`
}

func printCorpusWorlds(a *app, built []domain.WorldStatus) error {
	dirs, err := a.corpus.Worlds()
	if err != nil {
		return fmt.Errorf("failed to list corpus: %w", err)
	}
	versions := make(map[string]int, len(built))
	for _, w := range built {
		if w.Error == "" {
			versions[w.WorldID] = w.ManifoldVersion
		}
	}

	entries := make([]corpusWorld, 0, len(dirs))
	for _, id := range dirs {
		v, ok := versions[id]
		entries = append(entries, corpusWorld{WorldID: id, Built: ok, ManifoldVersion: v})
	}

	if statusJSON {
		output, _ := json.MarshalIndent(map[string]any{"corpus": entries}, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	if len(entries) == 0 {
		fmt.Printf("No world directories under %s.\n", a.corpus.Root())
		return nil
	}
	for _, e := range entries {
		if e.Built {
			fmt.Printf("%-24s built v%d\n", e.WorldID, e.ManifoldVersion)
		} else {
			fmt.Printf("%-24s not built\n", e.WorldID)
		}
	}
	return nil
}

func printStatus(st domain.WorldStatus) {
	if !st.Exists {
		fmt.Printf("World %s has not been built.\n", st.WorldID)
		return
	}
	fmt.Printf("World:            %s\n", st.WorldID)
	fmt.Printf("Manifold version: %d\n", st.ManifoldVersion)
	fmt.Printf("Chunks:           %d\n", st.NumChunks)
	fmt.Printf("Model:            %s (dim %d)\n", st.ModelID, st.Dim)
	fmt.Printf("Index:            %s\n", st.IndexKind)
	if st.TAccept != nil && st.TReview != nil {
		fmt.Printf("T_accept:         %.4f\n", *st.TAccept)
		fmt.Printf("T_review:         %.4f\n", *st.TReview)
	}
	if st.CreatedAt != nil {
		fmt.Printf("Created:          %s\n", st.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
}
