package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/copilot"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/knowledge"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/llm"
)

// resolveConfig loads the config from --config, a discovered file, or
// defaults plus environment. It returns the path used ("" for none).
func resolveConfig(cmd *cobra.Command) (*copilot.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		configPath = copilot.FindConfigFile()
	}
	cfg, err := copilot.LoadConfig(configPath)
	if err != nil {
		if configPath != "" {
			return nil, "", fmt.Errorf("loading config from %s: %w", configPath, err)
		}
		return nil, "", err
	}
	return cfg, configPath, nil
}

// newLogger builds the logger from the logging config and --verbose.
func newLogger(cmd *cobra.Command, cfg *copilot.Config, w io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	if cfg.Logging.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
			level = slog.LevelInfo
		}
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Logging.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// runtime holds what the long-running commands share.
type runtime struct {
	cfg       *copilot.Config
	logger    *slog.Logger
	store     *database.Store
	knowledge *knowledge.Store
	assistant *copilot.Assistant
}

// openStore opens the database and the knowledge index without a model.
func openStore(ctx context.Context, cfg *copilot.Config, logger *slog.Logger) (*database.Store, *knowledge.Store, error) {
	store, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if !cfg.Knowledge.Enabled {
		return store, nil, nil
	}

	embedder, err := knowledge.NewEmbedder(ctx, cfg.EmbeddingEffective())
	if err != nil {
		logger.Warn("embedder unavailable, answering without the knowledge base", "error", err)
		return store, nil, nil
	}
	kb := knowledge.NewStore(store, embedder, cfg.Knowledge.Chunk, logger)
	if err := kb.Load(ctx); err != nil {
		logger.Warn("knowledge cache not loaded", "error", err)
	}
	return store, kb, nil
}

// openRuntime resolves secrets and builds the assistant.
func openRuntime(ctx context.Context, cfg *copilot.Config, logger *slog.Logger) (*runtime, error) {
	if err := copilot.ResolveSecrets(cfg, logger); err != nil {
		return nil, err
	}

	store, kb, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, store: store, knowledge: kb}

	backend, err := llm.New(ctx, cfg.Model, logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("model backend: %w", err)
	}

	deps := copilot.Deps{
		Repo:     store,
		Reasoner: copilot.NewModelReasoner(backend, cfg.Prompts, logger),
	}
	if kb != nil {
		deps.Retriever = kb
	}
	rt.assistant, err = copilot.New(cfg, deps, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	logger.Debug("runtime ready", "backend", backend.Name(), "knowledge_chunks", rt.knowledgeCount())
	return rt, nil
}

func (rt *runtime) knowledgeCount() int {
	if rt.knowledge == nil {
		return 0
	}
	return rt.knowledge.Count()
}

// importSources indexes the configured knowledge sources.
func (rt *runtime) importSources(ctx context.Context) {
	if rt.knowledge == nil {
		return
	}
	for _, src := range rt.cfg.Knowledge.Sources {
		n, err := rt.knowledge.ImportPath(ctx, src)
		if err != nil {
			rt.logger.Warn("knowledge import failed", "source", src, "error", err)
			continue
		}
		rt.logger.Info("knowledge imported", "source", src, "chunks", n)
	}
}

// Close releases the database.
func (rt *runtime) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil && !errors.Is(err, context.Canceled) {
			rt.logger.Warn("closing database", "error", err)
		}
	}
}
