package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Yates-Labs/fable/internal/config"
	"github.com/Yates-Labs/fable/internal/engine"
	"github.com/Yates-Labs/fable/internal/orchestrator"
	"github.com/Yates-Labs/fable/internal/story"
)

var (
	persona      string
	threshold    float64
	maxStories   int
	extraContext string
	batchMode    bool
	outputFile   string
)

var generateCmd = &cobra.Command{
	Use:   "generate [project] [requirements-file]",
	Short: "Generate user stories from a requirements file",
	Long: `Generate INVEST-scored user stories from a requirements text file.

This command:
1. Retrieves related passages indexed for the project
2. Expands mentioned entities from the knowledge graph
3. Drafts candidate stories with the configured model provider
4. Scores each draft and refines it until it clears the quality threshold

Pass "-" as the requirements file to read from stdin. With --batch the file
must contain a JSON array of generation requests, which run concurrently
through the worker pool.

Required environment variables (openai provider):
  OPENAI_API_KEY     - OpenAI API key for chat and embeddings

Examples:
  fable generate checkout requirements.txt
  fable generate checkout requirements.txt --persona "Registered User" --threshold 8
  cat reqs.txt | fable generate checkout -
  fable generate checkout requests.json --batch --output results.json`,
	Args: cobra.ExactArgs(2),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVar(&persona, "persona", "", "Fix the story persona instead of letting the model choose")
	generateCmd.Flags().Float64Var(&threshold, "threshold", story.DefaultQualityThreshold, "Minimum overall score for acceptance")
	generateCmd.Flags().IntVar(&maxStories, "max-stories", story.DefaultMaxStories, "Maximum stories drafted per call (capped at 10)")
	generateCmd.Flags().StringVar(&extraContext, "context", "", "Additional background passed to the drafting prompt")
	generateCmd.Flags().BoolVar(&batchMode, "batch", false, "Treat the input as a JSON array of generation requests")
	generateCmd.Flags().StringVar(&outputFile, "output", "", "Write the full result JSON to a file: --output <filename>")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	projectID := args[0]
	inputPath := args[1]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	input, err := readInput(inputPath)
	if err != nil {
		return err
	}

	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Close(context.Background())

	if batchMode {
		return runGenerateBatch(ctx, eng, projectID, input)
	}

	req := story.GenerationRequest{
		ProjectID:         projectID,
		RequirementsText:  strings.TrimSpace(string(input)),
		Persona:           persona,
		AdditionalContext: extraContext,
		MaxStories:        maxStories,
		QualityThreshold:  threshold,
	}

	result, err := eng.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	if outputFile != "" {
		if err := writeJSON(outputFile, result); err != nil {
			return err
		}
		fmt.Printf("✓ Wrote result %s to %s\n", result.RequestID, outputFile)
		return nil
	}

	printResult(result)
	return nil
}

func runGenerateBatch(ctx context.Context, eng *engine.Engine, projectID string, input []byte) error {
	var reqs []story.GenerationRequest
	if err := json.Unmarshal(input, &reqs); err != nil {
		return fmt.Errorf("failed to parse batch request file: %w", err)
	}

	if len(reqs) == 0 {
		fmt.Println("No requests in batch file")
		return nil
	}

	// Requests without an explicit project inherit the positional one
	for i := range reqs {
		if reqs[i].ProjectID == "" {
			reqs[i].ProjectID = projectID
		}
	}

	outcomes := eng.RunAll(ctx, reqs)

	if outputFile != "" {
		export := make([]batchOutcome, len(outcomes))
		for i, outcome := range outcomes {
			export[i].Result = outcome.Result
			if outcome.Err != nil {
				export[i].Error = outcome.Err.Error()
			}
		}
		if err := writeJSON(outputFile, export); err != nil {
			return err
		}
		fmt.Printf("✓ Wrote %d outcomes to %s\n", len(export), outputFile)
		return nil
	}

	printOutcomes(outcomes)
	return nil
}

// batchOutcome is the exported shape of one batch run; errors flatten to text.
type batchOutcome struct {
	Result story.GenerationResult `json:"result"`
	Error  string                 `json:"error,omitempty"`
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read requirements file: %w", err)
	}
	return data, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func printResult(result story.GenerationResult) {
	// LipGloss signature purple/pink palette
	var (
		headerColor  = lipgloss.Color("#F780FF") // Bright pink/magenta
		titleColor   = lipgloss.Color("#BD93F9") // Purple
		storyColor   = lipgloss.Color("#E9E9F4") // Light purple/white
		detailColor  = lipgloss.Color("#6272A4") // Muted purple
		scoreColor   = lipgloss.Color("#8BE9FD") // Cyan accent
		successColor = lipgloss.Color("#50FA7B") // Green
		warnColor    = lipgloss.Color("#FF5555") // Red
	)

	headerStyle := lipgloss.NewStyle().Foreground(headerColor).Bold(true)
	titleStyle := lipgloss.NewStyle().Foreground(titleColor).Bold(true)
	storyStyle := lipgloss.NewStyle().Foreground(storyColor)
	detailStyle := lipgloss.NewStyle().Foreground(detailColor).Italic(true)
	scoreStyle := lipgloss.NewStyle().Foreground(scoreColor)
	successStyle := lipgloss.NewStyle().Foreground(successColor)
	warnStyle := lipgloss.NewStyle().Foreground(warnColor).Bold(true)

	fmt.Println()

	if len(result.Accepted) == 0 {
		msg := fmt.Sprintf("No stories accepted (%s, %d attempts rejected)",
			result.Reason, result.RejectedAttempts)
		fmt.Println(warnStyle.Render(msg))
		return
	}

	fmt.Println(headerStyle.Render("Accepted stories:"))
	fmt.Println()

	for i, scored := range result.Accepted {
		cand := scored.Candidate

		fmt.Println(titleStyle.Render(fmt.Sprintf("%d. %s", i+1, cand.Title)))
		fmt.Println(storyStyle.Render("   " + cand.StoryText))

		if len(cand.AcceptanceCriteria) > 0 {
			fmt.Println(detailStyle.Render("   Acceptance criteria:"))
			for _, criterion := range cand.AcceptanceCriteria {
				fmt.Println(detailStyle.Render("   - " + criterion))
			}
		}

		fmt.Println(scoreStyle.Render(fmt.Sprintf("   Score: %.1f  Risk: %s  Iteration: %d",
			scored.Assessment.OverallScore, scored.Assessment.RiskLevel, cand.IterationNumber)))
		fmt.Println()
	}

	summary := fmt.Sprintf("✓ %d accepted, %d attempts rejected (%s)",
		len(result.Accepted), result.RejectedAttempts, result.Reason)
	fmt.Println(successStyle.Render(summary))
}

func printOutcomes(outcomes []orchestrator.RunOutcome) {
	var (
		headerColor  = lipgloss.Color("#F780FF") // Bright pink/magenta
		idColor      = lipgloss.Color("#BD93F9") // Purple
		numberColor  = lipgloss.Color("#FF79C6") // Pink
		reasonColor  = lipgloss.Color("#E9E9F4") // Light purple/white
		borderColor  = lipgloss.Color("#6272A4") // Muted purple
		summaryColor = lipgloss.Color("#8BE9FD") // Cyan accent
		errorColor   = lipgloss.Color("#FF5555") // Red
	)

	// Column widths
	const (
		idWidth     = 38
		acceptWidth = 10
		scoreWidth  = 8
		reasonWidth = 26
	)

	headerStyle := lipgloss.NewStyle().
		Foreground(headerColor).
		Bold(true).
		Padding(0, 1)

	borderStyle := lipgloss.NewStyle().Foreground(borderColor)

	headers := []string{
		headerStyle.Width(idWidth).Render("REQUEST"),
		headerStyle.Width(acceptWidth).Render("ACCEPTED"),
		headerStyle.Width(scoreWidth).Render("SCORE"),
		headerStyle.Width(reasonWidth).Render("REASON"),
	}
	fmt.Println(strings.Join(headers, borderStyle.Render("│")))

	separatorParts := []string{
		strings.Repeat("─", idWidth),
		strings.Repeat("─", acceptWidth),
		strings.Repeat("─", scoreWidth),
		strings.Repeat("─", reasonWidth),
	}
	fmt.Println(borderStyle.Render(strings.Join(separatorParts, "┼")))

	idStyle := lipgloss.NewStyle().
		Foreground(idColor).
		Padding(0, 1).
		Width(idWidth)

	numStyle := lipgloss.NewStyle().
		Foreground(numberColor).
		Padding(0, 1).
		Width(acceptWidth).
		Align(lipgloss.Right)

	scoreStyle := lipgloss.NewStyle().
		Foreground(numberColor).
		Padding(0, 1).
		Width(scoreWidth).
		Align(lipgloss.Right)

	reasonStyle := lipgloss.NewStyle().
		Foreground(reasonColor).
		Padding(0, 1).
		Width(reasonWidth)

	errorStyle := lipgloss.NewStyle().
		Foreground(errorColor).
		Padding(0, 1).
		Width(reasonWidth)

	acceptedTotal := 0
	for _, outcome := range outcomes {
		reasonCell := reasonStyle.Render(string(outcome.Result.Reason))
		if outcome.Err != nil {
			reasonCell = errorStyle.Render(outcome.Err.Error())
		}

		topScore := "-"
		if len(outcome.Result.Accepted) > 0 {
			topScore = fmt.Sprintf("%.1f", outcome.Result.Accepted[0].Assessment.OverallScore)
		}
		acceptedTotal += len(outcome.Result.Accepted)

		cells := []string{
			idStyle.Render(outcome.Result.RequestID),
			numStyle.Render(fmt.Sprintf("%d", len(outcome.Result.Accepted))),
			scoreStyle.Render(topScore),
			reasonCell,
		}
		fmt.Println(strings.Join(cells, borderStyle.Render("│")))
	}

	fmt.Println()

	summaryStyle := lipgloss.NewStyle().
		Foreground(summaryColor).
		Italic(true)

	summary := fmt.Sprintf("Total: %d requests, %d accepted stories",
		len(outcomes), acceptedTotal)
	fmt.Println(summaryStyle.Render(summary))
}
