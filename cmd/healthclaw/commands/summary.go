package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/copilot"
)

// newSummaryCmd creates the `healthclaw summary` command.
func newSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <user-id> [date]",
		Short: "Print a user's daily health summary",
		Long: `Builds the daily summary for a user exactly as /summary does in chat and
prints it. The date defaults to today in the configured time zone.

Examples:
  healthclaw summary 123456789
  healthclaw summary 123456789 2025-03-14`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runSummary,
	}
}

func runSummary(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	msg := &copilot.Message{
		Channel:   "cli",
		SenderID:  args[0],
		Command:   copilot.CommandSummary,
		Args:      map[string]string{},
		Scheduled: true,
	}
	if len(args) == 2 {
		msg.Args["date"] = args[1]
	}

	reply, err := rt.assistant.Ask(ctx, msg)
	if err != nil {
		return err
	}
	if reply.Kind == copilot.ReplyInvalid {
		return fmt.Errorf("%s", reply.Text)
	}
	fmt.Println(reply.Text)
	return nil
}
