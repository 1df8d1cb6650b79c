package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"island/internal/domain"
	"island/internal/usecase"
)

var (
	scoreText string
	scoreFile string
	scoreJSON bool
)

var (
	decisionStyles = map[domain.Decision]lipgloss.Style{
		domain.DecisionAccept: lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		domain.DecisionReview: lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		domain.DecisionReject: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	neighbourStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var scoreCmd = &cobra.Command{
	Use:   "score <world_id>",
	Short: "Score text against a world",
	Long: `Embed a passage and compare it with its nearest canon spans.

Examples:
  island score olympus -t "Zeus hurled a thunderbolt from Olympus"
  island score olympus -f draft.txt --json
  echo "The spaceship landed" | island score olympus -f -`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().StringVarP(&scoreText, "text", "t", "", "text to score")
	scoreCmd.Flags().StringVarP(&scoreFile, "file", "f", "", "read text from a file (- for stdin)")
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "output as JSON")
	scoreCmd.MarkFlagsMutuallyExclusive("text", "file")
	scoreCmd.MarkFlagsOneRequired("text", "file")
}

func readScoreText() (string, error) {
	if scoreFile == "" {
		return scoreText, nil
	}
	var data []byte
	var err error
	if scoreFile == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(scoreFile)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read text: %w", err)
	}
	return string(data), nil
}

func runScore(cmd *cobra.Command, args []string) error {
	text, err := readScoreText()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.score.Score(ctx, usecase.ScoreRequest{WorldID: args[0], Text: text})
	if err != nil {
		return fmt.Errorf("score failed: %w", err)
	}

	if scoreJSON {
		output, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("%s  distance %.4f  iw_score %.4f\n",
		decisionStyles[res.Decision].Render(string(res.Decision)), res.Distance, res.IWScore)
	fmt.Println(dimStyle.Render(fmt.Sprintf("world %s v%d  model %s  T_accept %.4f  T_review %.4f",
		res.WorldID, res.ManifoldVersion, res.ModelID, res.Thresholds.TAccept, res.Thresholds.TReview)))
	fmt.Println()

	for i, n := range res.Neighbors {
		header := fmt.Sprintf("[%d] %s #%d  d=%.4f", i+1, n.Source, n.SpanID, n.Distance)
		fmt.Println(neighbourStyle.Render(header + "\n" + strings.TrimSpace(n.Text)))
	}
	return nil
}
