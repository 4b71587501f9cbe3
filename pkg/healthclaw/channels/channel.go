// Package channels defines the transport boundary of healthclaw. Each chat
// platform (Discord, the local console) implements Channel to deliver
// inbound messages and render outbound replies.
package channels

import (
	"context"
	"errors"
	"time"
)

// MessageType identifies the kind of inbound event.
type MessageType string

const (
	// MessageText is a plain chat message.
	MessageText MessageType = "text"
	// MessageCommand is a slash command with named options.
	MessageCommand MessageType = "command"
	// MessageAction is a button press on an earlier message.
	MessageAction MessageType = "action"
)

// Channel is implemented by every transport.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord", "console").
	Name() string

	// Connect establishes the connection to the platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send delivers a message to a chat and returns the platform message id
	// ("" when the platform has none or nothing visible was sent).
	Send(ctx context.Context, chatID string, msg *OutgoingMessage) (string, error)

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// IncomingMessage is a message or interaction received from a channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel.
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the channel or DM identifier replies go to.
	ChatID string

	// IsDM is true for private conversations with the bot.
	IsDM bool

	Type MessageType

	// Content is the text of the message, or the free-text option of a command.
	Content string

	// Command is the slash-command name for MessageCommand.
	Command string

	// Options holds named slash-command options.
	Options map[string]string

	// Action and ActionRef describe a button press (MessageAction).
	Action    string
	ActionRef string

	// ReplyTo is the id of the message the event refers to (the message
	// carrying the pressed button, or a quoted message).
	ReplyTo string

	Timestamp time.Time

	// Metadata contains channel-specific data needed to answer (for example
	// a pending Discord interaction).
	Metadata map[string]any
}

// OutgoingMessage is a reply to render on a channel.
type OutgoingMessage struct {
	// Content is the text body.
	Content string

	// Embed is an optional rich card.
	Embed *Embed

	// Actions are buttons attached to the message.
	Actions []Action

	// Ephemeral asks for a reply only the recipient can see, where supported.
	Ephemeral bool

	// Silent acknowledges an interaction without a visible reply.
	Silent bool

	// ReplyTo is the id of the message this answers.
	ReplyTo string

	// Metadata carries channel-specific data copied from the inbound message.
	Metadata map[string]any
}

// Embed is a titled card with fields.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
}

// EmbedField is one name/value row of an embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// ActionStyle is the visual weight of a button.
type ActionStyle int

const (
	ActionPrimary ActionStyle = iota
	ActionSecondary
	ActionSuccess
	ActionDanger
)

// Action is a button. Pressing it produces a MessageAction with Action=ID
// and ActionRef=Ref.
type Action struct {
	ID    string
	Ref   string
	Label string
	Style ActionStyle

	// AllowedUsers restricts who may press the button (empty = anyone).
	AllowedUsers []string

	// TTL disables the button after this duration (0 = channel default).
	TTL time.Duration
}

// Embed colors.
const (
	ColorInfo    = 0x3498DB
	ColorSuccess = 0x2ECC71
	ColorWarning = 0xF1C40F
	ColorDanger  = 0xE74C3C
)

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	LatencyMs     int64
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrSendFailed          = errors.New("failed to send message")
	ErrConnectionFailed    = errors.New("failed to connect to channel")
)

// SplitMessage breaks text into pieces of at most limit runes, preferring
// line boundaries.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 || len(parts) == 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
