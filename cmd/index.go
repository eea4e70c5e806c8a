package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/fable/internal/config"
	"github.com/Yates-Labs/fable/internal/engine"
	"github.com/Yates-Labs/fable/internal/rag"
)

var forceReindex bool

var indexCmd = &cobra.Command{
	Use:   "index [project] [files...]",
	Short: "Index requirement documents into the project corpus",
	Long: `Index plain-text requirement documents into the vector store so later
generation runs can retrieve them.

Each file is split into overlapping chunks, embedded with the configured
embedding model, and stored under the project scope. The file path becomes
the source ID; files already indexed under the same source ID are skipped
unless --force is set.

Examples:
  fable index checkout docs/requirements.txt docs/payments.txt
  fable index checkout docs/requirements.txt --force`,
	Args: cobra.MinimumNArgs(2),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&forceReindex, "force", false, "Reindex files that are already present")
}

func runIndex(cmd *cobra.Command, args []string) error {
	projectID := args[0]
	paths := args[1:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	docs := make([]rag.Document, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read document %s: %w", path, err)
		}
		docs = append(docs, rag.Document{SourceID: path, Text: string(data)})
	}

	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Close(context.Background())

	count, err := eng.IndexDocuments(ctx, projectID, docs, forceReindex)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	fmt.Printf("✓ Indexed %d passages from %d documents into project %s\n", count, len(docs), projectID)
	return nil
}
