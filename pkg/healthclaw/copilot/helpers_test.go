package copilot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/knowledge"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// genai pulls in opencensus, whose stats worker starts in init and never exits.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

func ptr[T any](v T) *T { return &v }

func openTestRepo(t *testing.T) *database.Store {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "healthclaw.db")

	s, err := database.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeReasoner records calls and returns canned results.
type fakeReasoner struct {
	mu sync.Mutex

	topic    Topic
	topicErr error
	severity int
	changes  database.ChangeSet
	extErr   error
	answer   string
	compErr  error
	draft    SummaryDraft
	sumErr   error

	calls       map[string]int
	lastCompose ComposeInput
}

func newFakeReasoner() *fakeReasoner {
	return &fakeReasoner{
		answer: "Drink water and take short walks.",
		draft:  SummaryDraft{Overview: "A good day.", OfficeRisk: "low", OfficeSummary: "Keep moving."},
		calls:  make(map[string]int),
	}
}

func (f *fakeReasoner) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeReasoner) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeReasoner) RateSeverity(context.Context, string, []Turn) (int, error) {
	f.hit("severity")
	return f.severity, nil
}

func (f *fakeReasoner) ClassifyTopic(context.Context, string) (Topic, error) {
	f.hit("topic")
	return f.topic, f.topicErr
}

func (f *fakeReasoner) ExtractChanges(_ context.Context, _ []Turn, today string) (database.ChangeSet, error) {
	f.hit("extract")
	cs := f.changes
	cs.Date = today
	return cs, f.extErr
}

func (f *fakeReasoner) Compose(_ context.Context, in ComposeInput) (string, error) {
	f.hit("compose")
	f.mu.Lock()
	f.lastCompose = in
	f.mu.Unlock()
	return f.answer, f.compErr
}

func (f *fakeReasoner) Summarize(context.Context, SummaryInput) (SummaryDraft, error) {
	f.hit("summarize")
	return f.draft, f.sumErr
}

// fakeRetriever returns fixed passages.
type fakeRetriever struct {
	mu       sync.Mutex
	passages []knowledge.Passage
	err      error
	calls    int
}

func (r *fakeRetriever) Retrieve(context.Context, string, int) ([]knowledge.Passage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.passages, r.err
}

func (r *fakeRetriever) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// failingRepo fails every ApplyChanges call.
type failingRepo struct {
	database.Repository
}

var errRepoDown = errors.New("database is locked")

func (failingRepo) ApplyChanges(context.Context, string, database.ChangeSet) error {
	return &database.RepositoryError{Op: "apply changes", Err: errRepoDown}
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type pipelineFixture struct {
	pipeline *Pipeline
	gate     *Gate
	repo     *database.Store
	reasoner *fakeReasoner
	sessions *SessionStore
	clock    *clock
}

func newPipelineFixture(t *testing.T, retriever knowledge.Retriever) *pipelineFixture {
	t.Helper()
	repo := openTestRepo(t)
	reasoner := newFakeReasoner()
	clk := newClock()

	gate := NewGate(repo, DefaultPendingTTL, nil)
	gate.now = clk.Now
	summarizer := NewSummarizer(repo, reasoner, SummaryTexts{}, nil)
	summarizer.now = clk.Now

	p := NewPipeline(PipelineDeps{
		Repo:       repo,
		Gate:       gate,
		Reasoner:   reasoner,
		Retriever:  retriever,
		Summarizer: summarizer,
	}, PipelineConfig{Triage: true, RetryBackoff: time.Millisecond}, PromptsConfig{}, nil)
	p.now = clk.Now

	return &pipelineFixture{
		pipeline: p,
		gate:     gate,
		repo:     repo,
		reasoner: reasoner,
		sessions: NewSessionStore(0, 0, nil),
		clock:    clk,
	}
}

func (f *pipelineFixture) run(t *testing.T, msg *Message) *Reply {
	t.Helper()
	if msg.SenderID == "" {
		msg.SenderID = "u1"
	}
	if msg.Channel == "" {
		msg.Channel, msg.ChatID = "console", "console"
	}
	sess, _ := f.sessions.GetOrCreate(msg.SenderID)
	reply := f.pipeline.Run(context.Background(), sess, msg)
	require.NotNil(t, reply)
	return reply
}

func (f *pipelineFixture) session(userID string) *Session {
	s, _ := f.sessions.GetOrCreate(userID)
	return s
}

// today is the fixture clock's date.
const today = "2025-03-14"
