package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/channels"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/knowledge"
)

// Deps are the external collaborators of an Assistant. Retriever may be nil.
type Deps struct {
	Repo      database.Repository
	Reasoner  Reasoner
	Retriever knowledge.Retriever
}

// Assistant connects channels to the router and the pipeline, and renders
// pipeline replies back onto the channel a message came from.
type Assistant struct {
	cfg        *Config
	repo       database.Repository
	sessions   *SessionStore
	pipeline   *Pipeline
	summarizer *Summarizer
	router     *Router
	loc        *time.Location
	logger     *slog.Logger

	mu       sync.RWMutex
	channels map[string]channels.Channel

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// typingSender is implemented by channels that can show a typing indicator.
type typingSender interface {
	SendTyping(ctx context.Context, chatID string) error
}

// New creates an assistant. Call Start to begin receiving messages.
func New(cfg *Config, deps Deps, logger *slog.Logger) (*Assistant, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Repo == nil || deps.Reasoner == nil {
		return nil, errors.New("assistant requires a repository and a reasoner")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	summarizer := NewSummarizer(deps.Repo, deps.Reasoner, cfg.Summary, logger)
	gate := NewGate(deps.Repo, cfg.Session.PendingTTL, logger)
	retriever := deps.Retriever
	if !cfg.Knowledge.Enabled {
		retriever = nil
	}
	pipeline := NewPipeline(PipelineDeps{
		Repo:       deps.Repo,
		Gate:       gate,
		Reasoner:   deps.Reasoner,
		Retriever:  retriever,
		Summarizer: summarizer,
	}, PipelineConfig{
		TopK:            cfg.Knowledge.TopK,
		HistoryWindow:   cfg.Session.HistoryWindow,
		HistoryGap:      cfg.Session.HistoryGap,
		Location:        loc,
		Triage:          cfg.Triage.Enabled,
		UrgentSeverity:  cfg.Triage.UrgentSeverity,
		CautionSeverity: cfg.Triage.CautionSeverity,
	}, cfg.Prompts, logger)

	ctx, cancel := context.WithCancel(context.Background())
	a := &Assistant{
		cfg:        cfg,
		repo:       deps.Repo,
		sessions:   NewSessionStore(cfg.Session.MaxHistory, cfg.Session.TTL, logger),
		pipeline:   pipeline,
		summarizer: summarizer,
		loc:        loc,
		logger:     logger.With("component", "assistant"),
		channels:   make(map[string]channels.Channel),
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
	}
	a.router = NewRouter(ctx, a.sessions, a.handle, logger)
	a.router.SetMaxQueue(cfg.Session.MaxQueue)
	return a, nil
}

// AddChannel registers a channel. It must be called before Start.
func (a *Assistant) AddChannel(ch channels.Channel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.channels[ch.Name()] = ch
}

func (a *Assistant) channel(name string) (channels.Channel, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ch, ok := a.channels[name]
	return ch, ok
}

// Start connects every channel and starts consuming their messages. A
// channel that fails to connect is logged and skipped; Start fails only if
// none connects.
func (a *Assistant) Start(ctx context.Context) error {
	a.mu.RLock()
	list := make([]channels.Channel, 0, len(a.channels))
	for _, ch := range a.channels {
		list = append(list, ch)
	}
	a.mu.RUnlock()

	connected := 0
	for _, ch := range list {
		if err := ch.Connect(ctx); err != nil {
			a.logger.Error("channel failed to connect", "channel", ch.Name(), "error", err)
			continue
		}
		connected++
		a.wg.Add(1)
		go a.consume(ch)
	}
	if len(list) > 0 && connected == 0 {
		return fmt.Errorf("%w: no channel could connect", channels.ErrConnectionFailed)
	}
	a.logger.Info("assistant started", "channels", connected, "backend", a.cfg.Model.Effective().Provider)
	return nil
}

func (a *Assistant) consume(ch channels.Channel) {
	defer a.wg.Done()
	in := ch.Receive()
	for {
		select {
		case <-a.ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if err := a.HandleIncoming(a.ctx, msg); err != nil {
				a.logger.Warn("message dropped", "channel", msg.Channel, "msg_id", msg.ID, "error", err)
			}
		}
	}
}

// Stop drains queued messages (bounded by ctx), then disconnects channels.
func (a *Assistant) Stop(ctx context.Context) error {
	err := a.router.Shutdown(ctx)
	a.cancel()
	a.wg.Wait()

	a.mu.RLock()
	defer a.mu.RUnlock()
	for name, ch := range a.channels {
		if dErr := ch.Disconnect(); dErr != nil {
			a.logger.Warn("channel disconnect failed", "channel", name, "error", dErr)
		}
	}
	return err
}

// Sessions exposes the session store for pruning and status.
func (a *Assistant) Sessions() *SessionStore { return a.sessions }

// Busy reports whether a user's lane has work.
func (a *Assistant) Busy(userID string) bool { return a.router.Busy(userID) }

// PruneSessions evicts idle sessions whose lanes are quiet.
func (a *Assistant) PruneSessions() int { return a.sessions.Prune(a.router.Busy) }

// HandleIncoming decodes a channel message and queues it on the sender's
// lane. It returns before the message is processed.
func (a *Assistant) HandleIncoming(ctx context.Context, in *channels.IncomingMessage) error {
	msg := a.Decode(in)
	logger := a.logger.With("channel", in.Channel, "chat_id", in.ChatID, "user_id", in.From, "msg_id", in.ID)

	if msg.SenderID == "" {
		logger.Warn("message without sender dropped")
		return ErrUnrecognizedSender
	}

	if in.Type == channels.MessageAction {
		if owner := a.ownerOf(ctx, in.ReplyTo); owner != "" && owner != msg.SenderID {
			logger.Warn("button pressed by another user", "owner", owner)
			a.notify(ctx, msg, "That confirmation belongs to someone else.")
			return nil
		}
	} else if in.ID != "" {
		a.record(ctx, in.ID, msg.SenderID, in.ChatID, msg.ReceivedAt)
	}

	if _, err := a.router.Route(ctx, msg); err != nil {
		if errors.Is(err, ErrLaneFull) {
			a.notify(ctx, msg, "I'm still working on your earlier messages, please wait a moment.")
		}
		return err
	}
	logger.Debug("message queued", "command", string(msg.Command))
	return nil
}

// Decode converts a channel message into a pipeline message.
func (a *Assistant) Decode(in *channels.IncomingMessage) *Message {
	msg := &Message{
		ID:         in.ID,
		Channel:    in.Channel,
		ChatID:     in.ChatID,
		IsDM:       in.IsDM,
		SenderID:   in.From,
		SenderName: in.FromName,
		Text:       strings.TrimSpace(in.Content),
		Args:       in.Options,
		ReceivedAt: in.Timestamp,
		Meta:       in.Metadata,
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = a.now()
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	switch in.Type {
	case channels.MessageCommand:
		if cmd, ok := ParseCommand(in.Command); ok {
			msg.Command = cmd
		}
	case channels.MessageAction:
		switch in.Action {
		case actionConfirm:
			msg.Command = CommandConfirm
		case actionCancel:
			msg.Command = CommandCancel
		}
		msg.PendingRef = in.ActionRef
	default:
		if cmd, ok := ParseCommand(in.Command); ok {
			msg.Command = cmd
		}
		// "!health /log steps=5000" carries its own command.
		if (msg.Command == CommandNone || msg.Command == CommandHealth) && strings.HasPrefix(msg.Text, "/") {
			name, rest, _ := strings.Cut(msg.Text[1:], " ")
			if cmd, ok := ParseCommand(name); ok && cmd != CommandHealth {
				msg.Command = cmd
				msg.Text = strings.TrimSpace(rest)
			}
		}
	}

	// Questions arrive as the command's free text.
	if msg.Text == "" && msg.Args != nil {
		if q := msg.Arg("question"); q != "" {
			msg.Text = q
		}
	}
	return msg
}

func (a *Assistant) ownerOf(ctx context.Context, messageID string) string {
	if messageID == "" {
		return ""
	}
	m, err := a.repo.LookupMessage(ctx, messageID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			a.logger.Warn("message lookup failed", "msg_id", messageID, "error", err)
		}
		return ""
	}
	return m.UserID
}

func (a *Assistant) record(ctx context.Context, messageID, userID, chatID string, at time.Time) {
	err := a.repo.AppendMessageMapping(ctx, database.MessageMapping{
		MessageID: messageID,
		UserID:    userID,
		ChannelID: chatID,
		Timestamp: at,
	})
	if err != nil {
		a.logger.Warn("message mapping not recorded", "msg_id", messageID, "error", err)
	}
}

// notify sends a short notice outside the user's lane.
func (a *Assistant) notify(ctx context.Context, msg *Message, text string) {
	ch, ok := a.channel(msg.Channel)
	if !ok {
		return
	}
	out := &channels.OutgoingMessage{Content: text, ReplyTo: msg.ID, Ephemeral: true, Metadata: msg.Meta}
	if _, err := ch.Send(ctx, msg.ChatID, out); err != nil {
		a.logger.Warn("notice not sent", "channel", msg.Channel, "error", err)
	}
}

// handle runs on the sender's lane.
func (a *Assistant) handle(ctx context.Context, sess *Session, msg *Message) {
	if msg.Scheduled {
		a.restoreBinding(ctx, sess, msg)
	} else if ch, ok := a.channel(msg.Channel); ok {
		if ts, ok := ch.(typingSender); ok {
			_ = ts.SendTyping(ctx, msg.ChatID)
		}
	}

	start := a.now()
	reply := a.pipeline.Run(ctx, sess, msg)
	a.logger.Info("message handled",
		"channel", msg.Channel, "user_id", msg.SenderID, "msg_id", msg.ID,
		"reply", reply.Kind.String(), "degraded", reply.Degraded,
		"duration_ms", a.now().Sub(start).Milliseconds())

	if msg.result != nil {
		msg.result <- reply
		return
	}
	if msg.Scheduled && reply.Kind == ReplyInvalid {
		return
	}
	a.dispatch(ctx, sess, msg, reply)
}

// restoreBinding points a scheduled message at the user's last known chat.
func (a *Assistant) restoreBinding(ctx context.Context, sess *Session, msg *Message) {
	if msg.Channel != "" && msg.ChatID != "" {
		return
	}
	if channel, chatID := sess.Binding(); chatID != "" {
		msg.Channel, msg.ChatID = channel, chatID
		return
	}
	m, err := a.repo.LatestMappingForUser(ctx, msg.SenderID)
	if err != nil {
		return
	}
	msg.ChatID = m.ChannelID
	if msg.Channel == "" {
		msg.Channel = a.defaultChannel()
	}
}

func (a *Assistant) defaultChannel() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.channels["discord"]; ok {
		return "discord"
	}
	for name := range a.channels {
		return name
	}
	return ""
}

// dispatch sends a reply on the channel the message came from and maps the
// sent message to the user so button presses can be attributed.
func (a *Assistant) dispatch(ctx context.Context, sess *Session, msg *Message, reply *Reply) {
	ch, ok := a.channel(msg.Channel)
	if !ok {
		a.logger.Warn("no channel for reply", "channel", msg.Channel, "user_id", msg.SenderID)
		return
	}
	if msg.ChatID == "" {
		a.logger.Warn("no chat to reply to", "channel", msg.Channel, "user_id", msg.SenderID)
		return
	}

	out := renderReply(reply, msg)
	if msg.Scheduled {
		out.ReplyTo = ""
	}
	id, err := ch.Send(ctx, msg.ChatID, out)
	if err != nil {
		a.logger.Error("reply not delivered", "channel", msg.Channel, "user_id", msg.SenderID, "error", err)
		return
	}
	if id != "" {
		a.record(ctx, id, sess.UserID, msg.ChatID, a.now())
	}
}

// Ask runs a message through the sender's lane and waits for the reply
// without sending it to a channel.
func (a *Assistant) Ask(ctx context.Context, msg *Message) (*Reply, error) {
	result := make(chan *Reply, 1)
	msg.result = result
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = a.now()
	}
	if _, err := a.router.Route(ctx, msg); err != nil {
		return nil, err
	}
	select {
	case r := <-result:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RunDailySummaries queues a summary for every user active within the
// configured window. Each is delivered to the user's last known chat.
func (a *Assistant) RunDailySummaries(ctx context.Context) (int, error) {
	since := a.now().Add(-a.cfg.Schedule.ActiveWithin)
	users, err := a.repo.ActiveUsersSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("listing active users: %w", err)
	}
	date := a.now().In(a.loc).Format(dateLayout)

	queued := 0
	for _, userID := range users {
		// Mappings outlive a reset; only users that still exist get a summary.
		if _, err := a.repo.GetUser(ctx, userID); err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				a.logger.Warn("scheduled summary skipped", "user_id", userID, "error", err)
			}
			continue
		}
		msg := &Message{
			ID:         "scheduled-summary-" + date + "-" + userID,
			SenderID:   userID,
			Command:    CommandSummary,
			Args:       map[string]string{"date": date},
			Scheduled:  true,
			ReceivedAt: a.now(),
		}
		if sess := a.sessions.Get(userID); sess != nil {
			msg.Channel, msg.ChatID = sess.Binding()
		}
		if _, err := a.router.Route(ctx, msg); err != nil {
			a.logger.Warn("scheduled summary not queued", "user_id", userID, "error", err)
			continue
		}
		queued++
	}
	a.logger.Info("daily summaries queued", "date", date, "users", queued)
	return queued, nil
}
