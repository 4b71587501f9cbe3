package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/copilot"
)

// newKnowledgeCmd creates the `healthclaw knowledge` command group.
func newKnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the health knowledge base",
	}
	cmd.AddCommand(newKnowledgeImportCmd(), newKnowledgeStatsCmd())
	return cmd
}

func newKnowledgeImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [path...]",
		Short: "Index documents for /ask answers",
		Long: `Splits and embeds text, markdown or JSONL documents. Directories are
walked recursively. Without arguments the configured sources are imported.
Unchanged chunks keep their stored embeddings.

Examples:
  healthclaw knowledge import ./docs/sleep.md
  healthclaw knowledge import ./knowledge`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg, os.Stderr)
			if !cfg.Knowledge.Enabled {
				return errors.New("knowledge is disabled in the config")
			}
			resolveEmbeddingSecrets(cfg, logger)

			ctx := context.Background()
			store, kb, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			if kb == nil {
				return errors.New("no embedder available; set the embedding API key")
			}

			paths := args
			if len(paths) == 0 {
				paths = cfg.Knowledge.Sources
			}
			if len(paths) == 0 {
				return errors.New("nothing to import: pass a path or set knowledge.sources")
			}

			total := 0
			for _, p := range paths {
				n, err := kb.ImportPath(ctx, p)
				if err != nil {
					return fmt.Errorf("import %s: %w", p, err)
				}
				fmt.Printf("  %s: %d chunks\n", p, n)
				total += n
			}
			fmt.Printf("Indexed %d chunks (%d in the index).\n", total, kb.Count())
			return nil
		},
	}
}

func newKnowledgeStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the size of the knowledge index and database health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg, os.Stderr)
			resolveEmbeddingSecrets(cfg, logger)

			ctx := context.Background()
			store, kb, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			st := store.Status(ctx)
			fmt.Printf("Database:  %s %s (healthy=%v, latency=%s)\n", st.Backend, st.Version, st.Healthy, st.Latency)
			if kb == nil {
				fmt.Println("Knowledge: disabled")
				return nil
			}
			fmt.Printf("Knowledge: %d chunks\n", kb.Count())
			return nil
		},
	}
}

// resolveEmbeddingSecrets loads keys for the embedder. The chat model key
// is not needed here.
func resolveEmbeddingSecrets(cfg *copilot.Config, logger *slog.Logger) {
	if err := copilot.ResolveSecrets(cfg, logger); err != nil {
		logger.Debug("model key not set", "error", err)
	}
}
