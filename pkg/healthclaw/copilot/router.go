package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrLaneFull is returned when a user's queue is at capacity.
var ErrLaneFull = errors.New("too many queued messages for user")

// DefaultMaxQueue bounds the messages waiting in one user's lane.
const DefaultMaxQueue = 32

// Handler processes one message for one session.
type Handler func(ctx context.Context, sess *Session, msg *Message)

type laneItem struct {
	msg *Message
}

// lane is one user's FIFO. A drain goroutine exists only while the lane
// has work.
type lane struct {
	queue   []laneItem
	running bool
}

// Router multiplexes inbound messages onto per-user lanes. Messages from the
// same user run strictly in arrival order; different users run concurrently.
type Router struct {
	ctx      context.Context
	sessions *SessionStore
	handler  Handler
	maxQueue int
	logger   *slog.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

// NewRouter creates a router. Handlers run with ctx, not with the context
// passed to Route, since Route returns before the message is processed.
func NewRouter(ctx context.Context, sessions *SessionStore, handler Handler, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		ctx:      ctx,
		sessions: sessions,
		handler:  handler,
		maxQueue: DefaultMaxQueue,
		logger:   logger.With("component", "router"),
		lanes:    make(map[string]*lane),
	}
}

// SetMaxQueue changes the per-user queue bound. Call it before routing.
func (r *Router) SetMaxQueue(n int) {
	if n > 0 {
		r.maxQueue = n
	}
}

// Route queues the message on its sender's lane and returns the sender's
// session. The session a message runs against is resolved inside the lane,
// where the busy lane keeps it from being pruned.
func (r *Router) Route(ctx context.Context, msg *Message) (*Session, error) {
	if msg == nil || msg.SenderID == "" {
		return nil, ErrUnrecognizedSender
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.enqueue(msg); err != nil {
		return nil, err
	}
	sess, _ := r.sessions.GetOrCreate(msg.SenderID)
	return sess, nil
}

func (r *Router) enqueue(msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRouterClosed
	}
	l, ok := r.lanes[msg.SenderID]
	if !ok {
		l = &lane{}
		r.lanes[msg.SenderID] = l
	}
	if len(l.queue) >= r.maxQueue {
		r.logger.Warn("lane full, rejecting message", "user_id", msg.SenderID, "queue_length", len(l.queue))
		return ErrLaneFull
	}
	l.queue = append(l.queue, laneItem{msg: msg})

	if !l.running {
		l.running = true
		r.wg.Add(1)
		go r.drain(msg.SenderID, l)
	}
	return nil
}

func (r *Router) drain(userID string, l *lane) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			delete(r.lanes, userID)
			r.mu.Unlock()
			return
		}
		item := l.queue[0]
		l.queue[0] = laneItem{}
		l.queue = l.queue[1:]
		r.mu.Unlock()

		r.run(item)
	}
}

func (r *Router) run(item laneItem) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while handling message",
				"user_id", item.msg.SenderID,
				"message_id", item.msg.ID,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
		}
	}()
	sess, _ := r.sessions.GetOrCreate(item.msg.SenderID)
	r.handler(r.ctx, sess, item.msg)
}

// Busy reports whether the user's lane has queued or running work.
func (r *Router) Busy(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.lanes[userID]
	return ok
}

// Shutdown stops accepting messages and waits for queued ones to finish.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
