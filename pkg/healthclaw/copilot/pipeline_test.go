package copilot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/knowledge"
)

func logMsg(id, fields string) *Message {
	return &Message{ID: id, Command: CommandLog, Text: fields}
}

func TestPipeline_ConversationExtractThenConfirm(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)
	f.reasoner.topic = Topic{HasInfo: true}
	f.reasoner.changes = database.ChangeSet{
		Profile: database.UserPatch{Name: ptr("Ann")},
		Body:    database.BodyPatch{Weight: ptr(60.0)},
	}

	reply := f.run(t, &Message{ID: "m1", Text: "I'm Ann and I weigh 60 kg"})
	require.Equal(t, ReplyConfirmPrompt, reply.Kind)
	require.NotNil(t, reply.Pending)
	assert.Equal(t, SourceConversation, reply.Pending.Source)
	assert.Contains(t, reply.Text, "Name: Ann")
	assert.Equal(t, 0, f.reasoner.count("compose"), "statements get a prompt, not an answer")

	// Nothing is written before confirmation.
	u, err := f.repo.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, u.Name)

	reply = f.run(t, &Message{ID: "m2", Text: "yes"})
	assert.Equal(t, ReplyCommitted, reply.Kind)

	u, err = f.repo.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Name)
	body, err := f.repo.LatestBody(context.Background(), "u1", today)
	require.NoError(t, err)
	assert.InDelta(t, 60.0, *body.Weight, 0.001)
}

func TestPipeline_QuestionWithInfoAnswersAndProposes(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)
	f.reasoner.topic = Topic{HasInfo: true, IsQuestion: true}
	f.reasoner.changes = database.ChangeSet{Activity: database.ActivityPatch{SleepHours: ptr(5.0)}}

	reply := f.run(t, &Message{ID: "m1", Text: "I slept 5 hours, is that enough?"})
	require.Equal(t, ReplyConfirmPrompt, reply.Kind)
	assert.Contains(t, reply.Text, f.reasoner.answer)
	assert.Contains(t, reply.Text, "Should I save this?")
	assert.Equal(t, 1, f.reasoner.count("compose"))
}

func TestPipeline_NothingExtractedIsPlainAnswer(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)
	f.reasoner.topic = Topic{HasInfo: true, IsQuestion: true}

	reply := f.run(t, &Message{ID: "m1", Text: "my back hurts, what should I do?"})
	assert.Equal(t, ReplyAnswer, reply.Kind)
	assert.Nil(t, f.session("u1").Pending())
}

func TestPipeline_LogButtonConfirmIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)

	reply := f.run(t, logMsg("m1", "steps=8000 sleep_hours=7"))
	require.Equal(t, ReplyConfirmPrompt, reply.Kind)
	pending := reply.Pending
	require.NotNil(t, pending)
	assert.Equal(t, SourceLog, pending.Source)
	assert.Equal(t, "m1", pending.TriggerID)

	reply = f.run(t, &Message{ID: "b1", Command: CommandConfirm, PendingRef: pending.ID})
	assert.Equal(t, ReplyCommitted, reply.Kind)

	reply = f.run(t, &Message{ID: "b2", Command: CommandConfirm, PendingRef: pending.ID})
	assert.Equal(t, ReplyNothingPending, reply.Kind)
	assert.Contains(t, reply.Text, "already saved")

	act, err := f.repo.GetActivity(context.Background(), "u1", today)
	require.NoError(t, err)
	assert.Equal(t, 8000, act.Steps)
	assert.InDelta(t, 7.0, *act.SleepHours, 0.001)
}

func TestPipeline_CancelDiscards(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)

	reply := f.run(t, logMsg("m1", "steps=100"))
	require.NotNil(t, reply.Pending)

	reply = f.run(t, &Message{ID: "m2", Text: "no"})
	assert.Equal(t, ReplyDiscarded, reply.Kind)
	assert.Nil(t, f.session("u1").Pending())

	_, err := f.repo.GetActivity(context.Background(), "u1", today)
	assert.ErrorIs(t, err, database.ErrNotFound)

	reply = f.run(t, &Message{ID: "m3", Command: CommandCancel})
	assert.Equal(t, ReplyNothingPending, reply.Kind)
}

func TestPipeline_AmbiguousReplyRePrompts(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)

	first := f.run(t, logMsg("m1", "steps=100")).Pending
	require.NotNil(t, first)

	reply := f.run(t, &Message{ID: "m2", Text: "what about my sleep yesterday?"})
	assert.Equal(t, ReplyRePrompt, reply.Kind)
	assert.Same(t, first, reply.Pending)
	assert.Same(t, first, f.session("u1").Pending())
	assert.Equal(t, 0, f.reasoner.count("topic"))
	assert.Equal(t, 0, f.reasoner.count("compose"))
}

func TestPipeline_LogReplacesPending(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)

	first := f.run(t, logMsg("m1", "steps=100")).Pending
	second := f.run(t, logMsg("m2", "steps=200")).Pending
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)

	reply := f.run(t, &Message{ID: "b1", Command: CommandConfirm, PendingRef: first.ID})
	assert.Equal(t, ReplyNothingPending, reply.Kind)
	assert.Contains(t, reply.Text, "replaced")

	reply = f.run(t, &Message{ID: "b2", Command: CommandConfirm, PendingRef: second.ID})
	assert.Equal(t, ReplyCommitted, reply.Kind)

	act, err := f.repo.GetActivity(context.Background(), "u1", today)
	require.NoError(t, err)
	assert.Equal(t, 200, act.Steps)
}

func TestPipeline_OtherCommandDiscardsPending(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)

	require.NotNil(t, f.run(t, logMsg("m1", "steps=100")).Pending)

	reply := f.run(t, &Message{ID: "m2", Command: CommandAsk, Text: "how much water should I drink?"})
	assert.Equal(t, ReplyAnswer, reply.Kind)
	assert.Contains(t, reply.Text, "unsaved update was discarded")
	assert.Nil(t, f.session("u1").Pending())
}

func TestPipeline_ExpiredThenConfirm(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)

	require.NotNil(t, f.run(t, logMsg("m1", "steps=100")).Pending)
	f.clock.Advance(DefaultPendingTTL + 1)

	reply := f.run(t, &Message{ID: "m2", Text: "yes"})
	assert.Equal(t, ReplyNothingPending, reply.Kind)
	assert.Contains(t, reply.Text, "expired")

	_, err := f.repo.GetActivity(context.Background(), "u1", today)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestPipeline_ExpiredThenFreeTextIsConversation(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)

	require.NotNil(t, f.run(t, logMsg("m1", "steps=100")).Pending)
	f.clock.Advance(DefaultPendingTTL + 1)

	reply := f.run(t, &Message{ID: "m2", Text: "how do I stretch my neck?"})
	assert.Equal(t, ReplyAnswer, reply.Kind)
	assert.Equal(t, 1, f.reasoner.count("topic"))
}

func TestPipeline_SaveFailureKeepsPending(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)
	f.gate.repo = failingRepo{Repository: f.repo}

	pending := f.run(t, logMsg("m1", "steps=100")).Pending
	require.NotNil(t, pending)

	reply := f.run(t, &Message{ID: "b1", Command: CommandConfirm, PendingRef: pending.ID})
	assert.Equal(t, ReplySaveFailed, reply.Kind)
	assert.Same(t, pending, f.session("u1").Pending())
}

func TestPipeline_UpdateUserIsSilent(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)

	reply := f.run(t, &Message{
		ID:      "m1",
		Command: CommandUpdateUser,
		Args:    map[string]string{"name": "Ann", "weight": "60", "height": "165"},
	})
	assert.Equal(t, ReplySilent, reply.Kind)
	assert.Empty(t, reply.Text)
	assert.Nil(t, f.session("u1").Pending())
	assert.Empty(t, f.session("u1").History())

	u, err := f.repo.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Name)
	body, err := f.repo.LatestBody(context.Background(), "u1", today)
	require.NoError(t, err)
	assert.InDelta(t, 165.0, *body.Height, 0.001)
}

func TestPipeline_UpdateUserRejectsBadFields(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)

	reply := f.run(t, &Message{ID: "m1", Command: CommandUpdateUser, Text: "weight=heavy favourite_color=blue"})
	assert.Equal(t, ReplyInvalid, reply.Kind)
	assert.Contains(t, reply.Text, "weight")
	assert.Contains(t, reply.Text, "unknown field")

	reply = f.run(t, &Message{ID: "m2", Command: CommandUpdateUser})
	assert.Equal(t, ReplyInvalid, reply.Kind)
}

func TestPipeline_AskSkipsExtraction(t *testing.T) {
	t.Parallel()
	retriever := &fakeRetriever{passages: []knowledge.Passage{{Source: "sleep.md", Text: "Adults need 7-9 hours."}}}
	f := newPipelineFixture(t, retriever)
	f.reasoner.topic = Topic{HasInfo: true}

	reply := f.run(t, &Message{ID: "m1", Command: CommandAsk, Text: "I sleep 5 hours, is that bad?"})
	assert.Equal(t, ReplyAnswer, reply.Kind)
	assert.Equal(t, 0, f.reasoner.count("extract"))
	assert.Equal(t, 0, f.reasoner.count("topic"))
	assert.Equal(t, 1, retriever.count())
	assert.Len(t, f.reasoner.lastCompose.Passages, 1)
	assert.Nil(t, f.session("u1").Pending())
}

func TestPipeline_AskRawSkipsRetrievalAndProfile(t *testing.T) {
	t.Parallel()
	retriever := &fakeRetriever{passages: []knowledge.Passage{{Source: "a", Text: "b"}}}
	f := newPipelineFixture(t, retriever)
	require.NoError(t, f.repo.UpsertUser(context.Background(), "u1", database.UserPatch{Name: ptr("Ann")}))

	reply := f.run(t, &Message{ID: "m1", Command: CommandAskRaw, Text: "is coffee bad?"})
	assert.Equal(t, ReplyAnswer, reply.Kind)
	assert.Equal(t, 0, retriever.count())
	assert.Empty(t, f.reasoner.lastCompose.Persona)
	assert.Empty(t, f.reasoner.lastCompose.Passages)
	assert.False(t, f.reasoner.lastCompose.NewUser)
}

func TestPipeline_RetrievalFailureDegrades(t *testing.T) {
	t.Parallel()
	retriever := &fakeRetriever{err: errors.New("embedding service down")}
	f := newPipelineFixture(t, retriever)

	reply := f.run(t, &Message{ID: "m1", Command: CommandAsk, Text: "how long should I nap?"})
	assert.Equal(t, ReplyAnswer, reply.Kind)
	assert.True(t, reply.Degraded)
	assert.Equal(t, 2, retriever.count(), "retrieval is retried once")
	assert.Contains(t, reply.Text, f.reasoner.answer)
}

func TestPipeline_ComposeFailureFallsBack(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)
	f.reasoner.compErr = errors.New("model timeout")

	reply := f.run(t, &Message{ID: "m1", Command: CommandAsk, Text: "hello"})
	assert.Equal(t, ReplyAnswer, reply.Kind)
	assert.True(t, reply.Degraded)
	assert.Equal(t, f.pipeline.prompts.Fallback, reply.Text)
}

func TestPipeline_TopicFailureIsQuery(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)
	f.reasoner.topicErr = errors.New("bad json")

	reply := f.run(t, &Message{ID: "m1", Text: "I walked 5000 steps"})
	assert.Equal(t, ReplyAnswer, reply.Kind)
	assert.Equal(t, 0, f.reasoner.count("extract"))
}

func TestPipeline_UrgentSkipsCompose(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)
	f.reasoner.severity = 5

	reply := f.run(t, &Message{ID: "m1", Text: "crushing chest pain"})
	assert.Equal(t, ReplyUrgent, reply.Kind)
	assert.Equal(t, 5, reply.Severity)
	assert.Equal(t, 0, f.reasoner.count("compose"))
}

func TestPipeline_CautionAppended(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)
	f.reasoner.severity = 2

	reply := f.run(t, &Message{ID: "m1", Text: "I have a low fever"})
	assert.Equal(t, ReplyAnswer, reply.Kind)
	assert.Contains(t, reply.Text, f.pipeline.prompts.Caution)
}

func TestPipeline_NewUserGreeting(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)

	f.run(t, &Message{ID: "m1", Text: "hi"})
	assert.True(t, f.reasoner.lastCompose.NewUser)

	f.run(t, &Message{ID: "m2", Text: "hi again"})
	assert.False(t, f.reasoner.lastCompose.NewUser)
	assert.Len(t, f.reasoner.lastCompose.History, 2)
}

func TestPipeline_SummaryWithoutData(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)

	reply := f.run(t, &Message{ID: "m1", Command: CommandSummary})
	require.Equal(t, ReplySummary, reply.Kind)
	require.NotNil(t, reply.Summary)
	assert.True(t, reply.Summary.NoData)
	assert.Equal(t, RiskUnknown, reply.Summary.OfficeRisk)
	assert.Equal(t, today, reply.Summary.Date)
	assert.Contains(t, reply.Text, "No data for this day.")
	assert.Equal(t, 0, f.reasoner.count("summarize"))
}

func TestPipeline_SummaryWithData(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.repo.ApplyChanges(ctx, "u1", database.ChangeSet{
		Date:     "2025-03-10",
		Activity: database.ActivityPatch{Steps: ptr(4000)},
		Body:     database.BodyPatch{Weight: ptr(60.0), Height: ptr(165.0)},
	}))

	reply := f.run(t, &Message{ID: "m1", Command: CommandSummary, Args: map[string]string{"date": "2025-03-10"}})
	require.Equal(t, ReplySummary, reply.Kind)
	assert.False(t, reply.Summary.NoData)
	assert.Equal(t, RiskLow, reply.Summary.OfficeRisk)
	assert.Equal(t, "22.0 (Normal weight)", reply.Summary.BMI)

	stored, err := f.repo.GetSummary(ctx, "u1", "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, "A good day.", stored.Overview)
	assert.Equal(t, RiskLow, stored.OfficeRisk)
}

func TestPipeline_SummaryModelFailureIsNotStored(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.repo.ApplyChanges(ctx, "u1", database.ChangeSet{
		Date:     today,
		Activity: database.ActivityPatch{Steps: ptr(4000)},
	}))
	f.reasoner.sumErr = errors.New("quota exceeded")

	reply := f.run(t, &Message{ID: "m1", Command: CommandSummary})
	require.Equal(t, ReplySummary, reply.Kind)
	assert.True(t, reply.Degraded)

	_, err := f.repo.GetSummary(ctx, "u1", today)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestPipeline_SummaryRejectsBadDate(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)

	reply := f.run(t, &Message{ID: "m1", Command: CommandSummary, Text: "yesterday-ish"})
	assert.Equal(t, ReplyInvalid, reply.Kind)
}

func TestPipeline_ScheduledSummaryKeepsPending(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)

	pending := f.run(t, logMsg("m1", "steps=100")).Pending
	require.NotNil(t, pending)

	reply := f.run(t, &Message{ID: "s1", Command: CommandSummary, Scheduled: true})
	assert.Equal(t, ReplySummary, reply.Kind)
	assert.NotContains(t, reply.Text, "discarded")
	assert.Same(t, pending, f.session("u1").Pending())
}

func TestPipeline_ResetRemovesEverything(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	f.run(t, &Message{ID: "m0", Command: CommandUpdateUser, Text: "name=Ann weight=60 height=165"})
	logged := f.run(t, logMsg("m1", "steps=100")).Pending
	require.NotNil(t, logged)
	require.Equal(t, ReplyCommitted, f.run(t, &Message{ID: "b1", Command: CommandConfirm, PendingRef: logged.ID}).Kind)
	require.Equal(t, ReplySummary, f.run(t, &Message{ID: "m2", Command: CommandSummary}).Kind)
	require.NotNil(t, f.run(t, logMsg("m3", "steps=300")).Pending)

	reply := f.run(t, &Message{ID: "m4", Command: CommandReset})
	assert.Equal(t, ReplyReset, reply.Kind)

	_, err := f.repo.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = f.repo.GetActivity(ctx, "u1", today)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = f.repo.LatestBody(ctx, "u1", today)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = f.repo.GetSummary(ctx, "u1", today)
	assert.ErrorIs(t, err, database.ErrNotFound)

	sess := f.session("u1")
	assert.Nil(t, sess.Pending())
	assert.Empty(t, sess.History())
}

func TestPipeline_ResetLeavesOtherUsers(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	f.run(t, &Message{ID: "a", SenderID: "alice", Command: CommandUpdateUser, Text: "name=Alice"})
	f.run(t, &Message{ID: "b", SenderID: "bob", Command: CommandUpdateUser, Text: "name=Bob"})
	f.run(t, &Message{ID: "c", SenderID: "alice", Command: CommandReset})

	_, err := f.repo.GetUser(ctx, "alice")
	assert.ErrorIs(t, err, database.ErrNotFound)
	bob, err := f.repo.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", bob.Name)
}

func TestPipeline_ScheduledSummaryAfterResetStoresNothing(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	f.run(t, &Message{ID: "m0", Command: CommandUpdateUser, Text: "name=Ann"})
	require.Equal(t, ReplyReset, f.run(t, &Message{ID: "m1", Command: CommandReset}).Kind)

	reply := f.run(t, &Message{ID: "s1", Command: CommandSummary, Scheduled: true})
	assert.Equal(t, ReplyInvalid, reply.Kind)
	assert.Zero(t, f.reasoner.count("summarize"))

	_, err := f.repo.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = f.repo.GetSummary(ctx, "u1", today)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = f.repo.GetActivity(ctx, "u1", today)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestPipeline_LogRecordsSource(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, nil)

	pending := f.run(t, logMsg("m1", "steps=4000 device=watch")).Pending
	require.NotNil(t, pending)
	assert.Contains(t, pending.Describe(), "Source: watch")
	require.Equal(t, ReplyCommitted, f.run(t, &Message{ID: "b1", Command: CommandConfirm, PendingRef: pending.ID}).Kind)

	act, err := f.repo.GetActivity(context.Background(), "u1", today)
	require.NoError(t, err)
	assert.Equal(t, 4000, act.Steps)
	assert.Equal(t, "watch", act.Source)
}
