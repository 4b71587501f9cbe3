package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func noop(context.Context) error { return nil }

func TestAddValidatesJobs(t *testing.T) {
	t.Parallel()
	s := New(nil, nil)
	defer s.Stop(context.Background())

	require.NoError(t, s.Add(Job{ID: "prune", Schedule: "@every 10m", Run: noop}))
	require.NoError(t, s.Add(Job{ID: "summary", Schedule: "0 20 * * *", Run: noop}))

	err := s.Add(Job{ID: "prune", Schedule: "@hourly", Run: noop})
	assert.ErrorIs(t, err, ErrDuplicateJob)

	assert.Error(t, s.Add(Job{ID: "bad", Schedule: "not a cron", Run: noop}))
	assert.Error(t, s.Add(Job{ID: "", Schedule: "@daily", Run: noop}))
	assert.Error(t, s.Add(Job{ID: "norun", Schedule: "@daily"}))

	assert.Len(t, s.List(), 2)
}

func TestRunNowRecordsStatus(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, nil)
	defer s.Stop(context.Background())

	boom := errors.New("boom")
	var calls atomic.Int32
	require.NoError(t, s.Add(Job{ID: "job", Schedule: "@daily", Run: func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			return boom
		}
		return nil
	}}))

	assert.ErrorIs(t, s.RunNow("job"), boom)
	st := s.List()[0]
	assert.Equal(t, 1, st.RunCount)
	assert.Equal(t, "boom", st.LastError)
	assert.False(t, st.LastRunAt.IsZero())

	require.NoError(t, s.RunNow("job"))
	st = s.List()[0]
	assert.Equal(t, 2, st.RunCount)
	assert.Empty(t, st.LastError)

	assert.Error(t, s.RunNow("missing"))
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	t.Parallel()
	s := New(nil, nil)
	defer s.Stop(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	require.NoError(t, s.Add(Job{ID: "slow", Schedule: "@daily", Run: func(ctx context.Context) error {
		calls.Add(1)
		close(started)
		<-release
		return nil
	}}))

	done := make(chan error, 1)
	go func() { done <- s.RunNow("slow") }()
	<-started

	require.NoError(t, s.RunNow("slow"))
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	require.NoError(t, <-done)
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	s := New(nil, nil)
	defer s.Stop(context.Background())

	require.NoError(t, s.Add(Job{ID: "panics", Schedule: "@daily", Run: func(context.Context) error {
		panic("bad job")
	}}))

	err := s.RunNow("panics")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad job")
	assert.False(t, s.List()[0].Running)
}
