package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/knowledge"
)

// category is what the pipeline decided a message is.
type category int

const (
	catQuery category = iota
	catProfile
	catProfileAsk
	catLog
	catUpdateUser
	catSummary
	catReset
	catConfirm
	catReject
	catAmbiguous
)

var categoryNames = [...]string{
	"query", "profile", "profile_ask", "log", "update_user",
	"summary", "reset", "confirm", "reject", "ambiguous",
}

func (c category) String() string { return categoryNames[c] }

// PipelineConfig tunes the decision pipeline.
type PipelineConfig struct {
	// TopK is the number of passages retrieved for grounding.
	TopK int
	// HistoryWindow and HistoryGap bound the conversation sent to the model.
	HistoryWindow int
	HistoryGap    time.Duration
	// Location defines "today".
	Location *time.Location
	// Triage enables severity rating of free-text questions.
	Triage          bool
	UrgentSeverity  int
	CautionSeverity int
	// RetryBackoff is the pause before retrying a failed retrieval.
	RetryBackoff time.Duration
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.TopK <= 0 {
		c.TopK = 4
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 25
	}
	if c.HistoryGap <= 0 {
		c.HistoryGap = 600 * time.Second
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.UrgentSeverity <= 0 {
		c.UrgentSeverity = 4
	}
	if c.CautionSeverity <= 0 {
		c.CautionSeverity = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	return c
}

// PipelineDeps are the collaborators of a Pipeline. Retriever may be nil.
type PipelineDeps struct {
	Repo       database.Repository
	Gate       *Gate
	Reasoner   Reasoner
	Retriever  knowledge.Retriever
	Summarizer *Summarizer
}

// Pipeline runs the fixed per-message flow: classify, pending-check,
// retrieve, extract, compose. Each step may end the run early.
type Pipeline struct {
	repo       database.Repository
	gate       *Gate
	reasoner   Reasoner
	retriever  knowledge.Retriever
	summarizer *Summarizer
	prompts    PromptsConfig
	cfg        PipelineConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewPipeline creates a pipeline.
func NewPipeline(deps PipelineDeps, cfg PipelineConfig, prompts PromptsConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		repo:       deps.Repo,
		gate:       deps.Gate,
		reasoner:   deps.Reasoner,
		retriever:  deps.Retriever,
		summarizer: deps.Summarizer,
		prompts:    prompts.withDefaults(),
		cfg:        cfg.withDefaults(),
		logger:     logger.With("component", "pipeline"),
		now:        time.Now,
	}
}

// turn is the state of one pipeline run.
type turn struct {
	sess    *Session
	msg     *Message
	cat     category
	today   string
	newUser bool
	// dropped is set when a command discarded an outstanding update.
	dropped *PendingUpdate
	logger  *slog.Logger
}

// Run processes one message for its sender's session and returns the reply.
// It must only be called from the sender's lane.
func (p *Pipeline) Run(ctx context.Context, sess *Session, msg *Message) *Reply {
	t := &turn{
		sess:   sess,
		msg:    msg,
		today:  p.now().In(p.cfg.Location).Format(dateLayout),
		logger: p.logger.With("user_id", msg.SenderID, "msg_id", msg.ID),
	}
	sess.Bind(msg.Channel, msg.ChatID)

	if msg.Scheduled {
		// Scheduled work never creates users; a reset may have raced the job.
		if _, err := p.repo.GetUser(ctx, msg.SenderID); errors.Is(err, database.ErrNotFound) {
			t.logger.Info("scheduled message for unknown user dropped")
			return &Reply{Kind: ReplyInvalid, Text: fmt.Sprintf("No data is stored for user %q.", msg.SenderID)}
		}
	} else {
		created, err := p.repo.EnsureUser(ctx, msg.SenderID)
		if err != nil {
			t.logger.Warn("ensure user failed", "error", err)
		}
		t.newUser = created
	}

	// 1. classify
	t.cat = p.classify(ctx, t)
	t.logger.Debug("message classified", "category", t.cat)

	// 2. pending-check
	if reply := p.pendingCheck(ctx, t); reply != nil {
		return p.finish(t, reply)
	}

	var reply *Reply
	switch t.cat {
	case catSummary:
		reply = p.summary(ctx, t)
	case catReset:
		reply = p.reset(ctx, t)
	case catUpdateUser:
		reply = p.updateUser(ctx, t)
	case catLog:
		reply = p.logFields(t)
	default:
		reply = p.converse(ctx, t)
	}
	return p.finish(t, reply)
}

func (p *Pipeline) classify(ctx context.Context, t *turn) category {
	switch t.msg.Command {
	case CommandLog:
		return catLog
	case CommandUpdateUser:
		return catUpdateUser
	case CommandAsk, CommandAskRaw:
		return catQuery
	case CommandSummary:
		return catSummary
	case CommandReset:
		return catReset
	case CommandConfirm:
		return catConfirm
	case CommandCancel:
		return catReject
	}

	if t.sess.Pending() != nil {
		switch matchApproval(t.msg.Text) {
		case DecisionConfirm:
			return catConfirm
		case DecisionReject:
			return catReject
		}
		return catAmbiguous
	}
	return p.classifyText(ctx, t)
}

// classifyText asks the reasoner what free text contains. Any failure makes
// the message a plain query.
func (p *Pipeline) classifyText(ctx context.Context, t *turn) category {
	if strings.TrimSpace(t.msg.Text) == "" {
		return catQuery
	}
	topic, err := p.reasoner.ClassifyTopic(ctx, t.msg.Text)
	if err != nil {
		t.logger.Warn("topic classification failed, treating as query", "error", err)
		return catQuery
	}
	switch {
	case topic.HasInfo && topic.IsQuestion:
		return catProfileAsk
	case topic.HasInfo:
		return catProfile
	}
	return catQuery
}

// pendingCheck resolves an outstanding update before anything else runs.
// It returns a reply when the message was fully handled.
func (p *Pipeline) pendingCheck(ctx context.Context, t *turn) *Reply {
	if t.msg.Scheduled {
		return nil
	}

	pending, err := p.gate.Active(t.sess)
	expired := errors.Is(err, ErrPendingExpired)
	if expired {
		pending = nil
	}

	switch t.cat {
	case catConfirm:
		if expired {
			return &Reply{Kind: ReplyNothingPending, Text: p.prompts.nothingPending(true)}
		}
		return p.commit(ctx, t)

	case catReject:
		if expired || pending == nil {
			return &Reply{Kind: ReplyNothingPending, Text: p.prompts.nothingPending(expired)}
		}
		dropped, err := p.gate.Discard(t.sess, t.msg.PendingRef)
		if err != nil {
			return &Reply{Kind: ReplyNothingPending, Text: p.prompts.nothingPending(false)}
		}
		return &Reply{Kind: ReplyDiscarded, Text: "Okay, I won't save that.", Pending: dropped}

	case catAmbiguous:
		if pending == nil {
			// The update expired; the message is ordinary free text.
			t.cat = p.classifyText(ctx, t)
			return nil
		}
		return &Reply{
			Kind:    ReplyRePrompt,
			Text:    "You still have an unsaved update. Please confirm or cancel it first:\n" + pending.Describe(),
			Pending: pending,
		}

	case catLog:
		// Propose replaces whatever is outstanding.
		return nil
	}

	if pending != nil && t.msg.Command != CommandNone && t.msg.Command != CommandHealth {
		if dropped, err := p.gate.Discard(t.sess, ""); err == nil {
			t.dropped = dropped
		}
	}
	return nil
}

func (p *Pipeline) commit(ctx context.Context, t *turn) *Reply {
	committed, ok, err := p.gate.Commit(ctx, t.sess, t.msg.PendingRef)
	switch {
	case err == nil && ok:
		return &Reply{Kind: ReplyCommitted, Text: "Saved ✅\n" + committed.Describe(), Pending: committed}
	case err == nil:
		return &Reply{Kind: ReplyNothingPending, Text: "That update is already saved."}
	case errors.Is(err, ErrNothingPending), errors.Is(err, ErrPendingExpired):
		return &Reply{Kind: ReplyNothingPending, Text: p.prompts.nothingPending(errors.Is(err, ErrPendingExpired))}
	case errors.Is(err, ErrStalePending):
		return &Reply{Kind: ReplyNothingPending, Text: "That request was replaced by a newer one. Please answer the latest prompt."}
	}
	t.logger.Error("saving confirmed update failed", "error", err)
	return &Reply{
		Kind:    ReplySaveFailed,
		Text:    "❌ I couldn't save that right now. Your update is still pending, please confirm again in a moment.",
		Pending: committed,
	}
}

func (p *Pipeline) summary(ctx context.Context, t *turn) *Reply {
	date := t.msg.Arg("date")
	if date == "" {
		date = strings.TrimSpace(t.msg.Text)
	}
	if date == "" {
		date = t.today
	} else if _, err := time.Parse(dateLayout, date); err != nil {
		return &Reply{Kind: ReplyInvalid, Text: fmt.Sprintf("%q is not a date. Use YYYY-MM-DD.", date)}
	}

	report, err := p.summarizer.Summarize(ctx, t.msg.SenderID, date, t.sess.Window(p.cfg.HistoryWindow, 0))
	if report == nil {
		t.logger.Error("summary failed", "date", date, "error", err)
		return &Reply{Kind: ReplyAnswer, Text: p.summarizer.texts.Unavailable, Degraded: true}
	}
	if err != nil {
		t.logger.Warn("summary not stored", "date", date, "error", err)
	}
	return &Reply{Kind: ReplySummary, Text: FormatSummary(report), Summary: report, Degraded: report.Degraded}
}

func (p *Pipeline) reset(ctx context.Context, t *turn) *Reply {
	if err := p.repo.DeleteAllForUser(ctx, t.msg.SenderID); err != nil {
		t.logger.Error("reset failed", "error", err)
		return &Reply{Kind: ReplySaveFailed, Text: "❌ I couldn't delete your data right now. Please try again."}
	}
	t.sess.Reset()
	return &Reply{Kind: ReplyReset, Text: "🗑️ All your data has been deleted."}
}

// updateUser writes key=value fields directly, without confirmation.
func (p *Pipeline) updateUser(ctx context.Context, t *turn) *Reply {
	cs, errs := BuildChangeSet(p.commandArgs(t), t.today)
	if len(errs) > 0 {
		return invalidFields(errs)
	}
	if cs.Empty() {
		return &Reply{Kind: ReplyInvalid, Text: "Nothing to update. Use fields like `name=Ann weight=60`."}
	}
	if err := p.repo.ApplyChanges(ctx, t.msg.SenderID, cs); err != nil {
		t.logger.Error("direct profile update failed", "error", err)
		return &Reply{Kind: ReplySaveFailed, Text: "❌ I couldn't save that right now. Please try again."}
	}
	t.logger.Info("profile updated directly", "fields", DescribeChanges(cs))
	return &Reply{Kind: ReplySilent}
}

// logFields proposes the typed fields for confirmation.
func (p *Pipeline) logFields(t *turn) *Reply {
	cs, errs := BuildChangeSet(p.commandArgs(t), t.today)
	if len(errs) > 0 {
		return invalidFields(errs)
	}
	if cs.Empty() {
		return &Reply{Kind: ReplyInvalid, Text: "Nothing to log. Try `/log steps=8000 sleep_hours=7`."}
	}
	pending := p.gate.Propose(t.sess, cs, SourceLog, t.msg.ID)
	return p.confirmPrompt(pending, "")
}

func (p *Pipeline) commandArgs(t *turn) map[string]string {
	args := make(map[string]string, len(t.msg.Args))
	for k, v := range t.msg.Args {
		args[k] = v
	}
	if t.msg.Text != "" {
		parsed, _ := ParseArgs(t.msg.Text)
		for k, v := range parsed {
			if _, ok := args[k]; !ok {
				args[k] = v
			}
		}
	}
	return args
}

func invalidFields(errs []FieldError) *Reply {
	var b strings.Builder
	b.WriteString("I couldn't read these fields:\n")
	for _, e := range errs {
		fmt.Fprintf(&b, "• %s: %s\n", e.Key, e.Msg)
	}
	return &Reply{Kind: ReplyInvalid, Text: strings.TrimRight(b.String(), "\n")}
}

func (p *Pipeline) confirmPrompt(pending *PendingUpdate, prefix string) *Reply {
	text := "Should I save this?\n" + pending.Describe()
	if prefix != "" {
		text = prefix + "\n\n" + text
	}
	return &Reply{Kind: ReplyConfirmPrompt, Text: text, Pending: pending}
}

// converse handles free text and /ask: triage, retrieve, extract, compose.
func (p *Pipeline) converse(ctx context.Context, t *turn) *Reply {
	raw := t.msg.Command == CommandAskRaw
	question := strings.TrimSpace(t.msg.Text)
	history := t.sess.Window(p.cfg.HistoryWindow, p.cfg.HistoryGap)

	var persona string
	if !raw {
		persona = p.persona(ctx, t)
	}

	severity := 0
	if p.cfg.Triage && question != "" {
		turns := append(history, Turn{Role: "user", Content: question, At: p.now()})
		rate, err := p.reasoner.RateSeverity(ctx, persona, turns)
		if err != nil {
			t.logger.Warn("severity rating failed, assuming 0", "error", err)
		}
		severity = rate
		if severity >= p.cfg.UrgentSeverity {
			t.logger.Warn("urgent message", "severity", severity)
			return &Reply{Kind: ReplyUrgent, Text: p.prompts.Urgent, Severity: severity}
		}
	}

	// 3. retrieve
	var (
		passages []knowledge.Passage
		degraded bool
	)
	if !raw && t.cat != catProfile && p.retriever != nil && question != "" {
		var err error
		passages, err = p.retrieve(ctx, question)
		if err != nil {
			t.logger.Warn("retrieval failed, answering without context", "error", err)
			degraded = true
		}
	}

	// 4. extract
	var pending *PendingUpdate
	if t.cat == catProfile || t.cat == catProfileAsk {
		pending = p.extract(ctx, t, history)
		if pending != nil && t.cat == catProfile {
			return p.confirmPrompt(pending, "")
		}
	}

	// 5. compose
	answer, err := p.reasoner.Compose(ctx, ComposeInput{
		Persona:  persona,
		NewUser:  t.newUser && !raw,
		History:  history,
		Question: question,
		Passages: passages,
	})
	if err != nil {
		t.logger.Error("compose failed", "error", err)
		if pending != nil {
			return p.confirmPrompt(pending, p.prompts.Fallback)
		}
		return &Reply{Kind: ReplyAnswer, Text: p.prompts.Fallback, Severity: severity, Degraded: true}
	}

	if degraded {
		answer += "\n\n_(Answered without my reference notes, they are unavailable right now.)_"
	}
	if severity >= p.cfg.CautionSeverity {
		answer += "\n\n" + p.prompts.Caution
	}
	if pending != nil {
		return p.confirmPrompt(pending, answer)
	}
	return &Reply{
		Kind:     ReplyAnswer,
		Text:     answer + "\n\n" + p.prompts.Disclaimer,
		Severity: severity,
		Degraded: degraded,
	}
}

func (p *Pipeline) persona(ctx context.Context, t *turn) string {
	user, err := p.repo.GetUser(ctx, t.msg.SenderID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			t.logger.Warn("profile lookup failed", "error", err)
		}
		return ""
	}
	body, err := p.repo.LatestBody(ctx, t.msg.SenderID, t.today)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		t.logger.Warn("body record lookup failed", "error", err)
	}
	return formatPersona(user, body, p.now())
}

// retrieve queries the knowledge base, retrying once.
func (p *Pipeline) retrieve(ctx context.Context, query string) ([]knowledge.Passage, error) {
	passages, err := p.retriever.Retrieve(ctx, query, p.cfg.TopK)
	if err == nil || ctx.Err() != nil {
		return passages, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.cfg.RetryBackoff):
	}
	return p.retriever.Retrieve(ctx, query, p.cfg.TopK)
}

// extract proposes the facts found in the message. Nothing found, or a
// failed extraction, yields no pending update.
func (p *Pipeline) extract(ctx context.Context, t *turn, history []Turn) *PendingUpdate {
	turns := make([]Turn, 0, 2)
	if n := len(history); n > 0 && history[n-1].Role == "assistant" {
		turns = append(turns, history[n-1])
	}
	turns = append(turns, Turn{Role: "user", Content: t.msg.Text})

	cs, err := p.reasoner.ExtractChanges(ctx, turns, t.today)
	if err == nil && cs.Empty() {
		err = ErrExtractionAmbiguous
	}
	if err != nil {
		t.logger.Info("no update extracted", "error", err)
		return nil
	}
	return p.gate.Propose(t.sess, cs, SourceConversation, t.msg.ID)
}

// finish records the exchange in the session history.
func (p *Pipeline) finish(t *turn, reply *Reply) *Reply {
	if t.dropped != nil && reply.Kind != ReplySilent && reply.Kind != ReplyReset {
		reply.Text = "(Your unsaved update was discarded.)\n\n" + reply.Text
	}
	if t.msg.Scheduled || reply.Kind == ReplyReset || reply.Kind == ReplySilent {
		return reply
	}

	now := p.now()
	if text := strings.TrimSpace(t.msg.Text); text != "" && t.cat != catUpdateUser && t.cat != catLog {
		t.sess.AddTurn("user", text, now)
	}
	if reply.Text != "" {
		t.sess.AddTurn("assistant", strings.TrimSuffix(reply.Text, "\n\n"+p.prompts.Disclaimer), now)
	}
	return reply
}
