package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/copilot"
)

// newResetUserCmd creates the `healthclaw reset-user` command.
func newResetUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-user <user-id>",
		Short: "Delete everything stored about a user",
		Long: `Deletes the user's profile, activity, body measurements and summaries in
one transaction. Do not run it while the bot is serving that user.

Examples:
  healthclaw reset-user 123456789
  healthclaw reset-user 123456789 --yes`,
		Args: cobra.ExactArgs(1),
		RunE: runResetUser,
	}
	cmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func runResetUser(cmd *cobra.Command, args []string) error {
	userID := args[0]
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		if !copilot.IsInteractive() {
			return errors.New("refusing to reset without --yes outside a terminal")
		}
		confirmed := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Delete all health data for %s?", userID)).
			Description("This cannot be undone.").
			Affirmative("Delete").
			Negative("Keep").
			Value(&confirmed).
			Run()
		if err != nil && !errors.Is(err, huh.ErrUserAborted) {
			return err
		}
		if !confirmed {
			fmt.Println("Nothing deleted.")
			return nil
		}
	}

	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Knowledge.Enabled = false
	logger := newLogger(cmd, cfg, os.Stderr)

	ctx := context.Background()
	store, _, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("reset %s: %w", userID, err)
	}
	fmt.Printf("All data for %s deleted.\n", userID)
	return nil
}
