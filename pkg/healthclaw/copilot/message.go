package copilot

import (
	"strings"
	"time"
)

// Command is the explicit command a message carries, if any.
type Command string

const (
	CommandNone       Command = ""
	CommandHealth     Command = "health"
	CommandSummary    Command = "summary"
	CommandLog        Command = "log"
	CommandUpdateUser Command = "update-user"
	CommandAsk        Command = "ask"
	CommandAskRaw     Command = "askraw"
	CommandReset      Command = "reset-user"

	// CommandConfirm and CommandCancel come from confirmation buttons.
	CommandConfirm Command = "confirm"
	CommandCancel  Command = "cancel"
)

// ParseCommand maps a slash-command name to a Command.
func ParseCommand(name string) (Command, bool) {
	switch c := Command(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))); c {
	case CommandHealth, CommandSummary, CommandLog, CommandUpdateUser,
		CommandAsk, CommandAskRaw, CommandReset, CommandConfirm, CommandCancel:
		return c, true
	}
	return CommandNone, false
}

// Message is one inbound user message after transport decoding.
type Message struct {
	ID       string
	Channel  string
	ChatID   string
	IsDM     bool
	SenderID string
	// SenderName is the platform display name, used for new-user greetings.
	SenderName string
	Text       string

	Command Command
	// Args holds named command arguments (slash-command options or
	// key=value pairs typed after a text command).
	Args map[string]string

	// PendingRef names the pending update a confirm/cancel button targets.
	PendingRef string

	// Scheduled marks messages injected by the scheduler rather than a user.
	Scheduled bool

	ReceivedAt time.Time

	// Meta is transport data echoed back on the reply (interaction tokens).
	Meta map[string]any

	// result receives the reply instead of the channel (see Assistant.Ask).
	result chan<- *Reply
}

// Arg returns a trimmed argument value.
func (m *Message) Arg(key string) string {
	if m.Args == nil {
		return ""
	}
	return strings.TrimSpace(m.Args[key])
}

// ReplyKind distinguishes the outcomes of one pipeline run.
type ReplyKind int

const (
	ReplyAnswer ReplyKind = iota
	ReplyConfirmPrompt
	ReplyCommitted
	ReplyDiscarded
	ReplyNothingPending
	ReplyRePrompt
	ReplySaveFailed
	ReplySummary
	ReplyReset
	ReplyUrgent
	ReplyInvalid
	// ReplySilent acknowledges without any visible message.
	ReplySilent
)

var replyKindNames = map[ReplyKind]string{
	ReplyAnswer:         "answer",
	ReplyConfirmPrompt:  "confirm_prompt",
	ReplyCommitted:      "committed",
	ReplyDiscarded:      "discarded",
	ReplyNothingPending: "nothing_pending",
	ReplyRePrompt:       "re_prompt",
	ReplySaveFailed:     "save_failed",
	ReplySummary:        "summary",
	ReplyReset:          "reset",
	ReplyUrgent:         "urgent",
	ReplyInvalid:        "invalid",
	ReplySilent:         "silent",
}

func (k ReplyKind) String() string {
	if s, ok := replyKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Reply is the pipeline's result for one message.
type Reply struct {
	Kind ReplyKind
	Text string

	// Pending is set on confirm prompts and re-prompts.
	Pending *PendingUpdate
	// Summary is set on summary replies.
	Summary *SummaryReport

	Severity int
	// Degraded is set when a backend failed and a fallback was used.
	Degraded bool
}
