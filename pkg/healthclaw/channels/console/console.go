// Package console implements a local terminal channel for healthclaw using
// readline. It behaves like a direct message with one fixed user, which
// makes it useful for trying the assistant without a Discord bot.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/channels"
)

// ChatID is the single conversation of the console.
const ChatID = "console"

// Config holds console channel configuration.
type Config struct {
	// UserID is the identity messages are sent as.
	UserID string

	// UserName is shown to the assistant as the display name.
	UserName string

	// Prompt is the input prompt (default "you> ").
	Prompt string

	// HistoryFile persists input history. Empty disables it.
	HistoryFile string

	// Stdin and Stdout override the terminal, mainly for tests.
	Stdin  io.ReadCloser
	Stdout io.Writer
}

// Console implements channels.Channel on a terminal.
type Console struct {
	cfg    Config
	logger *slog.Logger
	rl     *readline.Instance

	messages chan *channels.IncomingMessage
	done     chan struct{}
	doneOnce sync.Once

	connected atomic.Bool
	inSeq     atomic.Int64
	outSeq    atomic.Int64
	lastMsg   atomic.Value // time.Time

	writeMu sync.Mutex
}

// New creates a console channel.
func New(cfg Config, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserID == "" {
		cfg.UserID = "console-user"
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "you> "
	}
	return &Console{
		cfg:      cfg,
		logger:   logger.With("component", "console"),
		messages: make(chan *channels.IncomingMessage, 16),
		done:     make(chan struct{}),
	}
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Connect opens the terminal and starts reading lines.
func (c *Console) Connect(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.cfg.Prompt,
		HistoryFile:     c.cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           c.cfg.Stdin,
		Stdout:          c.cfg.Stdout,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", channels.ErrConnectionFailed, err)
	}
	c.rl = rl
	c.connected.Store(true)
	go c.readLoop(ctx)
	return nil
}

func (c *Console) readLoop(ctx context.Context) {
	defer c.finish()
	for {
		line, err := c.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("read failed", "error", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return
		}

		msg := &channels.IncomingMessage{
			ID:        "console-in-" + strconv.FormatInt(c.inSeq.Add(1), 10),
			Channel:   c.Name(),
			From:      c.cfg.UserID,
			FromName:  c.cfg.UserName,
			ChatID:    ChatID,
			IsDM:      true,
			Type:      channels.MessageText,
			Content:   line,
			Timestamp: time.Now(),
		}
		c.lastMsg.Store(msg.Timestamp)
		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Console) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Done is closed when the user leaves (EOF, Ctrl-C on an empty line, /quit).
func (c *Console) Done() <-chan struct{} { return c.done }

// Disconnect closes the terminal.
func (c *Console) Disconnect() error {
	c.connected.Store(false)
	c.finish()
	if c.rl != nil {
		return c.rl.Close()
	}
	return nil
}

// Receive returns the channel of typed lines.
func (c *Console) Receive() <-chan *channels.IncomingMessage { return c.messages }

// IsConnected reports whether the terminal is open.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health returns the channel health status.
func (c *Console) Health() channels.HealthStatus {
	h := channels.HealthStatus{Connected: c.IsConnected()}
	if t, ok := c.lastMsg.Load().(time.Time); ok {
		h.LastMessageAt = t
	}
	return h
}

// Send prints a reply above the prompt.
func (c *Console) Send(_ context.Context, _ string, msg *channels.OutgoingMessage) (string, error) {
	if !c.IsConnected() {
		return "", channels.ErrChannelDisconnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if msg.Silent {
		fmt.Fprintln(c.rl.Stdout(), "(done)")
		return "", nil
	}
	if _, err := io.WriteString(c.rl.Stdout(), Format(msg)+"\n"); err != nil {
		return "", fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
	}
	return "console-out-" + strconv.FormatInt(c.outSeq.Add(1), 10), nil
}

// Format renders an outgoing message as terminal text.
func Format(msg *channels.OutgoingMessage) string {
	var b strings.Builder
	if msg.Content != "" {
		b.WriteString(msg.Content)
	}
	if e := msg.Embed; e != nil {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "== %s ==", e.Title)
		if e.Description != "" {
			b.WriteString("\n" + e.Description)
		}
		for _, f := range e.Fields {
			fmt.Fprintf(&b, "\n  %s: %s", f.Name, f.Value)
		}
		if e.Footer != "" {
			b.WriteString("\n  (" + e.Footer + ")")
		}
	}
	if len(msg.Actions) > 0 {
		hints := make([]string, 0, len(msg.Actions))
		for _, a := range msg.Actions {
			hints = append(hints, "/"+a.ID)
		}
		b.WriteString("\n[reply " + strings.Join(hints, " or ") + "]")
	}
	return b.String()
}
