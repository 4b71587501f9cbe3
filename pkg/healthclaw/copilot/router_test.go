package copilot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shutdown(t *testing.T, r *Router) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
}

func TestRouter_PreservesOrderPerUser(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen = map[string][]string{}
	)
	r := NewRouter(context.Background(), NewSessionStore(0, 0, nil), func(_ context.Context, sess *Session, msg *Message) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[sess.UserID] = append(seen[sess.UserID], msg.ID)
		mu.Unlock()
	}, nil)

	var want []string
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("m%02d", i)
		want = append(want, id)
		for _, user := range []string{"alice", "bob"} {
			_, err := r.Route(context.Background(), &Message{ID: id, SenderID: user})
			require.NoError(t, err)
		}
	}
	shutdown(t, r)

	assert.Equal(t, want, seen["alice"])
	assert.Equal(t, want, seen["bob"])
}

func TestRouter_UsersDoNotBlockEachOther(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	bobDone := make(chan struct{})
	r := NewRouter(context.Background(), NewSessionStore(0, 0, nil), func(_ context.Context, _ *Session, msg *Message) {
		switch msg.SenderID {
		case "alice":
			<-release
		case "bob":
			close(bobDone)
		}
	}, nil)

	_, err := r.Route(context.Background(), &Message{ID: "1", SenderID: "alice"})
	require.NoError(t, err)
	_, err = r.Route(context.Background(), &Message{ID: "2", SenderID: "bob"})
	require.NoError(t, err)

	select {
	case <-bobDone:
	case <-time.After(2 * time.Second):
		t.Fatal("bob's message waited for alice's lane")
	}
	assert.True(t, r.Busy("alice"))

	close(release)
	shutdown(t, r)
	assert.False(t, r.Busy("alice"))
}

func TestRouter_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	var handled []string
	r := NewRouter(context.Background(), NewSessionStore(0, 0, nil), func(_ context.Context, _ *Session, msg *Message) {
		if msg.ID == "boom" {
			panic("handler exploded")
		}
		handled = append(handled, msg.ID)
	}, nil)

	for _, id := range []string{"boom", "after"} {
		_, err := r.Route(context.Background(), &Message{ID: id, SenderID: "alice"})
		require.NoError(t, err)
	}
	shutdown(t, r)

	assert.Equal(t, []string{"after"}, handled)
}

func TestRouter_LaneFull(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	r := NewRouter(context.Background(), NewSessionStore(0, 0, nil), func(context.Context, *Session, *Message) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}, nil)
	r.SetMaxQueue(1)

	_, err := r.Route(context.Background(), &Message{ID: "1", SenderID: "alice"})
	require.NoError(t, err)
	<-started

	_, err = r.Route(context.Background(), &Message{ID: "2", SenderID: "alice"})
	require.NoError(t, err)
	_, err = r.Route(context.Background(), &Message{ID: "3", SenderID: "alice"})
	assert.ErrorIs(t, err, ErrLaneFull)

	_, err = r.Route(context.Background(), &Message{ID: "4", SenderID: "bob"})
	assert.NoError(t, err, "other users keep their own capacity")

	close(release)
	shutdown(t, r)
}

func TestRouter_RejectsBadInput(t *testing.T) {
	t.Parallel()

	r := NewRouter(context.Background(), NewSessionStore(0, 0, nil), func(context.Context, *Session, *Message) {}, nil)

	_, err := r.Route(context.Background(), &Message{ID: "1"})
	assert.ErrorIs(t, err, ErrUnrecognizedSender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Route(ctx, &Message{ID: "2", SenderID: "alice"})
	assert.ErrorIs(t, err, context.Canceled)

	shutdown(t, r)
	_, err = r.Route(context.Background(), &Message{ID: "3", SenderID: "alice"})
	assert.ErrorIs(t, err, ErrRouterClosed)
}

func TestRouter_SameSessionAcrossMessages(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(0, 0, nil)
	r := NewRouter(context.Background(), store, func(context.Context, *Session, *Message) {}, nil)

	s1, err := r.Route(context.Background(), &Message{ID: "1", SenderID: "alice"})
	require.NoError(t, err)
	s2, err := r.Route(context.Background(), &Message{ID: "2", SenderID: "alice"})
	require.NoError(t, err)
	shutdown(t, r)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, store.Count())
}

func TestRouter_ResolvesSessionWhenMessageRuns(t *testing.T) {
	t.Parallel()
	clk := newClock()
	store := NewSessionStore(0, time.Minute, nil)
	store.now = clk.Now

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var (
		mu  sync.Mutex
		got = map[string]*Session{}
	)
	r := NewRouter(context.Background(), store, func(_ context.Context, sess *Session, msg *Message) {
		if msg.ID == "1" {
			started <- struct{}{}
			<-release
		}
		mu.Lock()
		got[msg.ID] = sess
		mu.Unlock()
	}, nil)

	_, err := r.Route(context.Background(), &Message{ID: "1", SenderID: "alice"})
	require.NoError(t, err)
	<-started
	_, err = r.Route(context.Background(), &Message{ID: "2", SenderID: "alice"})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	assert.Zero(t, store.Prune(r.Busy), "a busy lane keeps its session")

	// Evicted while message 2 waited: it must run on the live session.
	store.Delete("alice")
	close(release)
	shutdown(t, r)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got["2"])
	assert.Same(t, store.Get("alice"), got["2"])
	assert.NotSame(t, got["1"], got["2"])
}
