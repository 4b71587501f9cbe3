package copilot

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultMaxHistory is the per-session history limit.
const DefaultMaxHistory = 50

// DefaultSessionTTL is the idle time after which a session may be pruned.
const DefaultSessionTTL = 24 * time.Hour

// Turn is one message in a session's history.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
	At      time.Time
}

// Session is one user's ephemeral conversation state. Everything except the
// session map itself is touched only from the user's lane; the mutex guards
// the few reads that happen elsewhere (pruning, status).
type Session struct {
	// UserID is the platform user id the session belongs to.
	UserID string

	mu           sync.Mutex
	channel      string
	chatID       string
	history      []Turn
	maxHistory   int
	pending      *PendingUpdate
	// lastExpired and lastCommitted remember the most recent pending ids so
	// late confirmations get a precise answer.
	lastExpired   string
	lastCommitted string
	createdAt    time.Time
	lastActiveAt time.Time
}

// Bind records the transport and chat the user last wrote from.
func (s *Session) Bind(channel, chatID string) {
	if chatID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel = channel
	s.chatID = chatID
}

// Binding returns the bound transport and chat id.
func (s *Session) Binding() (channel, chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel, s.chatID
}

// AddTurn appends to the history, evicting the oldest entries over the limit.
func (s *Session) AddTurn(role, content string, at time.Time) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, Turn{Role: role, Content: content, At: at})
	if s.maxHistory > 0 && len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
	s.lastActiveAt = at
}

// History returns a copy of the full history.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Window returns up to max of the most recent turns, stopping at the first
// silence longer than gap (walking backwards from the newest turn).
func (s *Session) Window(max int, gap time.Duration) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := len(s.history)
	for start > 0 && len(s.history)-start < max {
		if start < len(s.history) && gap > 0 && s.history[start].At.Sub(s.history[start-1].At) > gap {
			break
		}
		start--
	}
	out := make([]Turn, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// Pending returns the outstanding update without evaluating expiry.
func (s *Session) Pending() *PendingUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Reset clears history and any pending update.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.pending = nil
	s.lastExpired = ""
	s.lastCommitted = ""
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActiveAt)
}

// SessionStore holds one session per user id.
type SessionStore struct {
	sessions   map[string]*Session
	maxHistory int
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger
	mu         sync.RWMutex
}

// NewSessionStore creates an empty store.
func NewSessionStore(maxHistory int, ttl time.Duration, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		sessions:   make(map[string]*Session),
		maxHistory: maxHistory,
		ttl:        ttl,
		now:        time.Now,
		logger:     logger.With("component", "sessions"),
	}
}

// GetOrCreate returns the user's session, creating it on first contact.
func (ss *SessionStore) GetOrCreate(userID string) (*Session, bool) {
	ss.mu.RLock()
	if s, ok := ss.sessions[userID]; ok {
		ss.mu.RUnlock()
		return s, false
	}
	ss.mu.RUnlock()

	ss.mu.Lock()
	defer ss.mu.Unlock()

	// Double-check after acquiring the write lock.
	if s, ok := ss.sessions[userID]; ok {
		return s, false
	}

	now := ss.now()
	s := &Session{
		UserID:       userID,
		maxHistory:   ss.maxHistory,
		createdAt:    now,
		lastActiveAt: now,
	}
	ss.sessions[userID] = s
	ss.logger.Debug("session created", "user_id", userID)
	return s, true
}

// Get returns a session by user id, or nil.
func (ss *SessionStore) Get(userID string) *Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.sessions[userID]
}

// Count returns the number of live sessions.
func (ss *SessionStore) Count() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// Delete removes a session.
func (ss *SessionStore) Delete(userID string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.sessions, userID)
}

// Prune removes sessions idle longer than the TTL that hold no pending
// update. busy reports users whose lane is running; those are kept.
func (ss *SessionStore) Prune(busy func(userID string) bool) int {
	now := ss.now()

	ss.mu.Lock()
	defer ss.mu.Unlock()

	pruned := 0
	for id, s := range ss.sessions {
		if busy != nil && busy(id) {
			continue
		}
		if s.Pending() != nil || s.idleSince(now) <= ss.ttl {
			continue
		}
		delete(ss.sessions, id)
		pruned++
	}
	if pruned > 0 {
		ss.logger.Info("sessions pruned", "count", pruned, "remaining", len(ss.sessions))
	}
	return pruned
}
