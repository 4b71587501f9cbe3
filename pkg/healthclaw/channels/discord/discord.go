// Package discord implements the Discord channel for healthclaw using
// discordgo.
//
// Features:
//   - Shared channels: messages addressed with the "!health" prefix
//   - Direct messages without a prefix
//   - Slash commands (/summary, /log, /update-user, /ask, /askraw, /reset-user)
//   - Confirmation buttons restricted to the user they were sent for
//   - Embeds for summaries and warnings, 2000-character splitting
//   - Guild and channel allowlists
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/channels"
)

// maxMessageLen is Discord's per-message character limit.
const maxMessageLen = 2000

// Metadata keys set on inbound interaction messages.
const (
	metaInteraction = "discord_interaction"
	metaKind        = "discord_interaction_kind"

	kindCommand   = "command"
	kindComponent = "component"
)

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// Prefix addresses the bot in shared channels.
	Prefix string `yaml:"prefix"`

	// AllowedGuilds restricts which guild (server) IDs the bot responds in.
	// Empty means respond in all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond in all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// CommandGuild registers slash commands on one guild (instant) instead
	// of globally.
	CommandGuild string `yaml:"command_guild"`

	// RegisterCommands overwrites the bot's slash commands on connect.
	RegisterCommands bool `yaml:"register_commands"`

	// SendTyping sends "typing..." indicators while processing.
	SendTyping bool `yaml:"send_typing"`

	// ButtonTTL is how long confirmation buttons stay active.
	ButtonTTL time.Duration `yaml:"button_ttl"`

	// ResetConfirmTTL is how long the /reset-user buttons stay active.
	ResetConfirmTTL time.Duration `yaml:"reset_confirm_ttl"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:           "!health",
		RegisterCommands: true,
		SendTyping:       true,
		ButtonTTL:        10 * time.Minute,
		ResetConfirmTTL:  30 * time.Second,
	}
}

// Discord implements channels.Channel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	components *ComponentRegistry

	// answered holds interaction ids whose deferred response was edited;
	// later sends become followups.
	answered sync.Map

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "!health"
	}
	l := logger.With("component", "discord")
	return &Discord{
		cfg:        cfg,
		logger:     l,
		messages:   make(chan *channels.IncomingMessage, 256),
		components: NewComponentRegistry(l),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("%w: discord gateway: %v", channels.ErrConnectionFailed, err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)

	if d.cfg.RegisterCommands {
		cmds, err := session.ApplicationCommandBulkOverwrite(user.ID, d.cfg.CommandGuild, slashCommands)
		if err != nil {
			d.logger.Warn("discord: registering slash commands failed", "error", err)
		} else {
			d.logger.Info("discord: slash commands registered", "count", len(cmds), "guild", d.cfg.CommandGuild)
		}
	}
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.components.Stop()
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	h := channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
		Details:       map[string]any{"components": d.components.Len()},
	}
	if d.session != nil {
		h.LatencyMs = d.session.HeartbeatLatency().Milliseconds()
	}
	return h
}

// SendTyping shows the typing indicator in a channel.
func (d *Discord) SendTyping(ctx context.Context, chatID string) error {
	if d.session == nil || !d.cfg.SendTyping {
		return nil
	}
	return d.session.ChannelTyping(chatID)
}

// ---------- Sending ----------

// Send renders msg in chatID. Replies to slash commands and button presses
// go through the interaction so they land where the user expects them.
func (d *Discord) Send(ctx context.Context, chatID string, msg *channels.OutgoingMessage) (string, error) {
	if d.session == nil {
		return "", channels.ErrChannelDisconnected
	}

	for _, a := range msg.Actions {
		d.registerAction(a)
	}

	if it, kind := interactionOf(msg.Metadata); it != nil {
		id, err := d.sendInteraction(it, kind, msg)
		d.noteSendResult(err)
		return id, err
	}

	if msg.Silent {
		return "", nil
	}

	parts := channels.SplitMessage(msg.Content, maxMessageLen)
	var lastID string
	for i, part := range parts {
		send := &discordgo.MessageSend{Content: part}
		if i == 0 && msg.ReplyTo != "" {
			send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: chatID}
		}
		if i == len(parts)-1 {
			send.Embeds = buildEmbeds(msg.Embed)
			send.Components = buildActionRows(msg.Actions)
		}
		if send.Content == "" && len(send.Embeds) == 0 {
			continue
		}
		m, err := d.session.ChannelMessageSendComplex(chatID, send)
		d.noteSendResult(err)
		if err != nil {
			return lastID, fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
		}
		// The last part carries the buttons, so its id is the one to map.
		lastID = m.ID
	}
	return lastID, nil
}

func (d *Discord) noteSendResult(err error) {
	if err != nil {
		d.errorCount.Add(1)
		d.logger.Warn("discord: send failed", "error", err)
		return
	}
	d.errorCount.Store(0)
}

func interactionOf(meta map[string]any) (*discordgo.Interaction, string) {
	if meta == nil {
		return nil, ""
	}
	it, _ := meta[metaInteraction].(*discordgo.Interaction)
	kind, _ := meta[metaKind].(string)
	return it, kind
}

func (d *Discord) sendInteraction(it *discordgo.Interaction, kind string, msg *channels.OutgoingMessage) (string, error) {
	parts := channels.SplitMessage(msg.Content, maxMessageLen)
	embeds := buildEmbeds(msg.Embed)
	components := buildActionRows(msg.Actions)

	_, edited := d.answered.Load(it.ID)
	if kind == kindCommand && !edited {
		d.answered.Store(it.ID, struct{}{})
		if msg.Silent {
			return "", d.session.InteractionResponseDelete(it)
		}
		edit := &discordgo.WebhookEdit{Content: &parts[0]}
		if len(parts) == 1 {
			edit.Embeds = &embeds
			edit.Components = &components
		}
		m, err := d.session.InteractionResponseEdit(it, edit)
		if err != nil {
			return "", fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
		}
		id := m.ID
		for i, part := range parts[1:] {
			params := &discordgo.WebhookParams{Content: part}
			if i == len(parts)-2 {
				params.Embeds, params.Components = embeds, components
			}
			fm, err := d.session.FollowupMessageCreate(it, true, params)
			if err != nil {
				return id, fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
			}
			id = fm.ID
		}
		return id, nil
	}

	if msg.Silent {
		return "", nil
	}
	var id string
	for i, part := range parts {
		params := &discordgo.WebhookParams{Content: part}
		if msg.Ephemeral {
			params.Flags = discordgo.MessageFlagsEphemeral
		}
		if i == len(parts)-1 {
			params.Embeds, params.Components = embeds, components
		}
		if params.Content == "" && len(params.Embeds) == 0 {
			continue
		}
		m, err := d.session.FollowupMessageCreate(it, true, params)
		if err != nil {
			return id, fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
		}
		id = m.ID
	}
	return id, nil
}

// registerAction routes a press of the button back into the inbound stream.
func (d *Discord) registerAction(a channels.Action) {
	ttl := a.TTL
	if ttl <= 0 {
		ttl = d.cfg.ButtonTTL
	}
	d.components.Register(customID(a.ID, a.Ref), ComponentSpec{
		AllowedUsers: a.AllowedUsers,
		TTL:          ttl,
		Handler: func(_ context.Context, evt *InteractionEvent) (string, error) {
			d.push(&channels.IncomingMessage{
				ID:        evt.Interaction.ID,
				Channel:   d.Name(),
				From:      evt.UserID,
				FromName:  evt.Username,
				ChatID:    evt.ChannelID,
				IsDM:      evt.GuildID == "",
				Type:      channels.MessageAction,
				Action:    evt.Action,
				ActionRef: evt.Ref,
				ReplyTo:   evt.MessageID,
				Timestamp: time.Now(),
				Metadata: map[string]any{
					metaInteraction: evt.Interaction,
					metaKind:        kindComponent,
				},
			})
			return "", nil
		},
	})
}

// ---------- Event handlers ----------

func (d *Discord) allowed(guildID, channelID string) bool {
	if len(d.cfg.AllowedGuilds) > 0 && guildID != "" && !contains(d.cfg.AllowedGuilds, guildID) {
		return false
	}
	if len(d.cfg.AllowedChannels) > 0 && guildID != "" && !contains(d.cfg.AllowedChannels, channelID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// onMessageCreate forwards DMs and prefixed guild messages.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == s.State.User.ID {
		return
	}
	if !d.allowed(m.GuildID, m.ChannelID) {
		return
	}

	isDM := m.GuildID == ""
	content, addressed := stripPrefix(m.Content, d.cfg.Prefix)
	if !isDM && !addressed {
		return
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   d.Name(),
		From:      m.Author.ID,
		FromName:  displayName(m.Member, m.Author),
		ChatID:    m.ChannelID,
		IsDM:      isDM,
		Type:      channels.MessageText,
		Content:   content,
		Timestamp: m.Timestamp,
	}
	if addressed {
		incoming.Command = "health"
	}
	if m.ReferencedMessage != nil {
		incoming.ReplyTo = m.ReferencedMessage.ID
	}

	if d.cfg.SendTyping {
		_ = s.ChannelTyping(m.ChannelID)
	}
	d.push(incoming)
}

// stripPrefix removes the command prefix (case-insensitive).
func stripPrefix(content, prefix string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if prefix == "" || len(trimmed) < len(prefix) || !strings.EqualFold(trimmed[:len(prefix)], prefix) {
		return trimmed, false
	}
	rest := trimmed[len(prefix):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\n' {
		return trimmed, false
	}
	return strings.TrimSpace(rest), true
}

func displayName(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user == nil {
		return ""
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func (d *Discord) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		d.onSlashCommand(s, i)
	case discordgo.InteractionMessageComponent:
		d.onComponent(s, i)
	}
}

func (d *Discord) onSlashCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	if user == nil {
		respondEphemeral(s, i, "Could not identify user.")
		return
	}
	if !d.allowed(i.GuildID, i.ChannelID) {
		respondEphemeral(s, i, "I'm not active in this channel.")
		return
	}

	data := i.ApplicationCommandData()
	if data.Name == "reset-user" {
		d.askResetConfirmation(s, i, user)
		return
	}

	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
	if ephemeralCommands[data.Name] {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	if err := s.InteractionRespond(i.Interaction, resp); err != nil {
		d.logger.Warn("discord: failed to defer command", "command", data.Name, "error", err)
		return
	}

	opts := optionValues(data.Options)
	content := opts["question"]
	delete(opts, "question")

	d.push(&channels.IncomingMessage{
		ID:        i.ID,
		Channel:   d.Name(),
		From:      user.ID,
		FromName:  displayName(i.Member, user),
		ChatID:    i.ChannelID,
		IsDM:      i.GuildID == "",
		Type:      channels.MessageCommand,
		Command:   data.Name,
		Options:   opts,
		Content:   content,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			metaInteraction: i.Interaction,
			metaKind:        kindCommand,
		},
	})
}

// askResetConfirmation shows private Delete/Keep buttons only the invoking
// user can press. Deleting forwards /reset-user to the assistant.
func (d *Discord) askResetConfirmation(s *discordgo.Session, i *discordgo.InteractionCreate, user *discordgo.User) {
	confirmID := customID("reset", i.ID)
	cancelID := customID("keep", i.ID)

	d.components.Register(confirmID, ComponentSpec{
		AllowedUsers: []string{user.ID},
		TTL:          d.cfg.ResetConfirmTTL,
		Handler: func(_ context.Context, evt *InteractionEvent) (string, error) {
			d.components.Unregister(cancelID)
			d.push(&channels.IncomingMessage{
				ID:        evt.Interaction.ID,
				Channel:   d.Name(),
				From:      evt.UserID,
				FromName:  evt.Username,
				ChatID:    evt.ChannelID,
				IsDM:      evt.GuildID == "",
				Type:      channels.MessageCommand,
				Command:   "reset-user",
				Timestamp: time.Now(),
				Metadata: map[string]any{
					metaInteraction: evt.Interaction,
					metaKind:        kindComponent,
				},
			})
			return "Deleting your data…", nil
		},
	})
	d.components.Register(cancelID, ComponentSpec{
		AllowedUsers: []string{user.ID},
		TTL:          d.cfg.ResetConfirmTTL,
		Handler: func(context.Context, *InteractionEvent) (string, error) {
			d.components.Unregister(confirmID)
			return "Reset cancelled. Your data is untouched.", nil
		},
	})

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "⚠️ This deletes your profile, activity, body records and summaries. Are you sure?",
			Flags:   discordgo.MessageFlagsEphemeral,
			Components: buildActionRows([]channels.Action{
				{ID: "reset", Ref: i.ID, Label: "Delete everything", Style: channels.ActionDanger},
				{ID: "keep", Ref: i.ID, Label: "Keep my data", Style: channels.ActionSecondary},
			}),
		},
	})
	if err != nil {
		d.logger.Warn("discord: failed to ask reset confirmation", "error", err)
	}
}

func (d *Discord) onComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()
	action, ref, ok := parseCustomID(data.CustomID)
	if !ok {
		return
	}

	spec, ok := d.components.Get(data.CustomID)
	if !ok {
		respondEphemeral(s, i, "This button has expired.")
		return
	}

	user := interactionUser(i)
	if user == nil {
		respondEphemeral(s, i, "Could not identify user.")
		return
	}
	if !spec.IsAllowed(user.ID) {
		respondEphemeral(s, i, "This button isn't for you.")
		return
	}

	evt := &InteractionEvent{
		CustomID:    data.CustomID,
		Action:      action,
		Ref:         ref,
		UserID:      user.ID,
		Username:    displayName(i.Member, user),
		ChannelID:   i.ChannelID,
		GuildID:     i.GuildID,
		Interaction: i.Interaction,
	}
	if i.Message != nil {
		evt.MessageID = i.Message.ID
	}

	// Acknowledge immediately to satisfy Discord's 3s limit.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		d.logger.Warn("discord: failed to ack interaction", "custom_id", data.CustomID, "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
		defer cancel()

		content, err := spec.Handler(ctx, evt)
		if err != nil {
			content = "Error: " + err.Error()
			d.logger.Warn("discord: component handler error", "custom_id", data.CustomID, "error", err)
		}

		edit := &discordgo.WebhookEdit{}
		if content != "" {
			edit.Content = &content
		}
		if spec.Reusable && i.Message != nil {
			edit.Components = &i.Message.Components
		} else {
			empty := []discordgo.MessageComponent{}
			edit.Components = &empty
		}
		if _, err := s.InteractionResponseEdit(i.Interaction, edit); err != nil {
			d.logger.Warn("discord: failed to update buttons", "custom_id", data.CustomID, "error", err)
		}
	}()
}

func (d *Discord) push(msg *channels.IncomingMessage) {
	d.lastMsg.Store(time.Now())
	select {
	case d.messages <- msg:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", msg.ID)
	}
}

// respondEphemeral sends a response only the user can see.
func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func buildEmbeds(e *channels.Embed) []*discordgo.MessageEmbed {
	if e == nil {
		return nil
	}
	me := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if e.Footer != "" {
		me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	return []*discordgo.MessageEmbed{me}
}

var _ channels.Channel = (*Discord)(nil)
