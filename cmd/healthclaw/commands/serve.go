package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/channels/discord"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/scheduler"
)

// newServeCmd creates the `healthclaw serve` command that starts the bot.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant on the configured channels",
		Long: `Start Healthclaw as a long-running service, connect to Discord and
process messages until interrupted.

Examples:
  healthclaw serve
  healthclaw serve --config ./healthclaw.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (discord)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stdout)
	if configPath != "" {
		logger.Info("config loaded", "path", configPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.importSources(ctx)

	assistant := rt.assistant

	channelFilter, _ := cmd.Flags().GetStringSlice("channel")
	if shouldEnable("discord", channelFilter, true) {
		if cfg.Channels.Discord.Token == "" {
			return fmt.Errorf("discord token is not set; run `healthclaw setup` or set DISCORD_TOKEN")
		}
		assistant.AddChannel(discord.New(cfg.Channels.Discord, logger))
		logger.Info("Discord channel registered")
	}

	loc, _ := cfg.Location()
	sched := scheduler.New(loc, logger)
	if err := sched.Add(scheduler.Job{
		ID:       "prune-sessions",
		Schedule: "@every " + cfg.Session.PruneEvery.String(),
		Run: func(context.Context) error {
			assistant.PruneSessions()
			return nil
		},
	}); err != nil {
		return err
	}
	if spec := cfg.Schedule.DailySummary; spec != "" {
		if err := sched.Add(scheduler.Job{
			ID:       "daily-summary",
			Schedule: spec,
			Run: func(ctx context.Context) error {
				_, err := assistant.RunDailySummaries(ctx)
				return err
			},
		}); err != nil {
			return err
		}
	}

	if err := assistant.Start(ctx); err != nil {
		return err
	}
	sched.Start()

	logger.Info("Healthclaw running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"backend", cfg.Model.Effective().Provider,
		"timezone", cfg.Timezone,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	sched.Stop(shutdownCtx)
	if err := assistant.Stop(shutdownCtx); err != nil {
		logger.Warn("shutdown timed out, some messages were not answered", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// shouldEnable checks if a channel should be enabled.
func shouldEnable(name string, filter []string, defaultEnabled bool) bool {
	if len(filter) == 0 {
		return defaultEnabled
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}
