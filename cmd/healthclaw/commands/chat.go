package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/channels"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/channels/console"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/copilot"
)

// newChatCmd creates the `healthclaw chat` command for local conversations.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant in the terminal",
		Long: `Chat with the assistant as a local user. With a message argument the
reply is printed and the command exits; without one an interactive session
starts. Commands work as in Discord: /summary, /log steps=8000, /ask ...

Examples:
  healthclaw chat "How much sleep do I need?"
  healthclaw chat --user alice`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().String("user", "console-user", "user id to chat as")
	cmd.Flags().String("name", os.Getenv("USER"), "display name")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); !verbose {
		cfg.Logging.Level = "warn"
	}
	logger := newLogger(cmd, cfg, os.Stderr)

	userID, _ := cmd.Flags().GetString("user")
	name, _ := cmd.Flags().GetString("name")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if len(args) == 1 {
		reply, err := rt.assistant.Ask(ctx, rt.assistant.Decode(&channels.IncomingMessage{
			Channel:  "console",
			ChatID:   console.ChatID,
			IsDM:     true,
			From:     userID,
			FromName: name,
			Type:     channels.MessageText,
			Content:  args[0],
		}))
		if err != nil {
			return err
		}
		fmt.Println(reply.Text)
		return nil
	}

	if !copilot.IsInteractive() {
		return errors.New("interactive chat needs a terminal; pass the message as an argument instead")
	}

	var history string
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, ".healthclaw", "chat_history")
		_ = os.MkdirAll(filepath.Dir(history), 0o700)
	}
	term := console.New(console.Config{
		UserID:      userID,
		UserName:    name,
		HistoryFile: history,
	}, logger)
	rt.assistant.AddChannel(term)

	if err := rt.assistant.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("%s is listening. Type /quit to leave.\n", cfg.Name)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	select {
	case <-term.Done():
	case <-sigChan:
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	return rt.assistant.Stop(stopCtx)
}
