package discord

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/channels"
)

// customIDPrefix marks buttons created by this bot.
const customIDPrefix = "hc"

// ComponentSpec defines the behavior of a registered button.
type ComponentSpec struct {
	// Reusable, when true, keeps the buttons enabled after a click.
	Reusable bool

	// AllowedUsers restricts who can press it. Empty means anyone.
	AllowedUsers []string

	// TTL is how long the button stays registered. Zero means no expiry.
	TTL time.Duration

	// Handler runs for an authorized click. A non-empty result replaces the
	// message text.
	Handler ComponentHandler
}

// ComponentHandler processes a button press.
type ComponentHandler func(ctx context.Context, evt *InteractionEvent) (content string, err error)

// InteractionEvent carries data from a button press.
type InteractionEvent struct {
	CustomID  string
	Action    string
	Ref       string
	UserID    string
	Username  string
	ChannelID string
	GuildID   string
	MessageID string

	Interaction *discordgo.Interaction
}

type registeredComponent struct {
	spec         ComponentSpec
	registeredAt time.Time
}

// ComponentRegistry stores button specs by custom_id and expires them.
type ComponentRegistry struct {
	mu         sync.RWMutex
	components map[string]*registeredComponent
	logger     *slog.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
	now        func() time.Time
}

// NewComponentRegistry creates a registry and starts background TTL cleanup.
func NewComponentRegistry(logger *slog.Logger) *ComponentRegistry {
	r := newComponentRegistry(logger)
	go r.cleanupLoop(30 * time.Second)
	return r
}

func newComponentRegistry(logger *slog.Logger) *ComponentRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ComponentRegistry{
		components: make(map[string]*registeredComponent),
		logger:     logger.With("component", "discord_components"),
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

// Register adds or overwrites a spec. Call it before sending the message.
func (r *ComponentRegistry) Register(customID string, spec ComponentSpec) {
	if customID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[customID] = &registeredComponent{spec: spec, registeredAt: r.now()}
}

// Unregister removes a spec.
func (r *ComponentRegistry) Unregister(customID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.components, customID)
}

// Get returns the spec if it exists and has not expired.
func (r *ComponentRegistry) Get(customID string) (*ComponentSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.components[customID]
	if !ok {
		return nil, false
	}
	if reg.spec.TTL > 0 && r.now().Sub(reg.registeredAt) > reg.spec.TTL {
		return nil, false
	}
	spec := reg.spec
	return &spec, true
}

// Len returns the number of registered specs, expired ones included.
func (r *ComponentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}

// IsAllowed reports whether userID may press the button.
func (s *ComponentSpec) IsAllowed(userID string) bool {
	if len(s.AllowedUsers) == 0 {
		return true
	}
	for _, id := range s.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func (r *ComponentRegistry) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.cleanupExpired()
		}
	}
}

func (r *ComponentRegistry) cleanupExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	n := 0
	for id, reg := range r.components {
		if reg.spec.TTL > 0 && now.Sub(reg.registeredAt) > reg.spec.TTL {
			delete(r.components, id)
			n++
		}
	}
	if n > 0 {
		r.logger.Debug("expired components removed", "count", n)
	}
	return n
}

// Stop halts the cleanup loop.
func (r *ComponentRegistry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// customID encodes an action and its reference as "hc:<action>:<ref>".
func customID(action, ref string) string {
	return customIDPrefix + ":" + action + ":" + ref
}

// parseCustomID splits a custom id built by customID.
func parseCustomID(id string) (action, ref string, ok bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] != customIDPrefix || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func buttonStyle(s channels.ActionStyle) discordgo.ButtonStyle {
	switch s {
	case channels.ActionSecondary:
		return discordgo.SecondaryButton
	case channels.ActionSuccess:
		return discordgo.SuccessButton
	case channels.ActionDanger:
		return discordgo.DangerButton
	default:
		return discordgo.PrimaryButton
	}
}

// buildActionRows lays out up to five buttons per row.
func buildActionRows(actions []channels.Action) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for start := 0; start < len(actions); start += 5 {
		end := min(start+5, len(actions))
		row := discordgo.ActionsRow{}
		for _, a := range actions[start:end] {
			row.Components = append(row.Components, discordgo.Button{
				CustomID: customID(a.ID, a.Ref),
				Label:    a.Label,
				Style:    buttonStyle(a.Style),
			})
		}
		rows = append(rows, row)
	}
	return rows
}
