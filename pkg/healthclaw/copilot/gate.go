package copilot

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
)

// DefaultPendingTTL is how long a proposed update waits for confirmation.
const DefaultPendingTTL = 5 * time.Minute

// PendingSource records what produced a pending update.
type PendingSource string

const (
	SourceLog          PendingSource = "log"
	SourceConversation PendingSource = "conversation"
)

// PendingUpdate is a proposed change awaiting the user's confirmation.
type PendingUpdate struct {
	ID        string
	UserID    string
	Changes   database.ChangeSet
	Source    PendingSource
	TriggerID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Describe renders the proposed fields for a confirmation prompt.
func (p *PendingUpdate) Describe() string {
	return DescribeChanges(p.Changes)
}

// Gate owns the pending-update lifecycle. Nothing reaches the repository
// through the gate without a Commit, and a pending update is committed at
// most once. Callers must serialize calls per session (the router's lanes
// do this).
type Gate struct {
	repo   database.Repository
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewGate creates a gate writing through repo.
func NewGate(repo database.Repository, ttl time.Duration, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Gate{
		repo:   repo,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "gate"),
	}
}

// Propose stores a new pending update, discarding any previous one.
func (g *Gate) Propose(sess *Session, changes database.ChangeSet, source PendingSource, triggerID string) *PendingUpdate {
	now := g.now()
	p := &PendingUpdate{
		ID:        uuid.NewString(),
		UserID:    sess.UserID,
		Changes:   changes,
		Source:    source,
		TriggerID: triggerID,
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}

	sess.mu.Lock()
	prev := sess.pending
	sess.pending = p
	sess.mu.Unlock()

	if prev != nil {
		g.logger.Info("pending update replaced", "user_id", sess.UserID, "old", prev.ID, "new", p.ID)
	} else {
		g.logger.Debug("pending update proposed", "user_id", sess.UserID, "id", p.ID, "source", source)
	}
	return p
}

// Active returns the current pending update. An expired update is dropped
// and reported as ErrPendingExpired; no update yields (nil, nil).
func (g *Gate) Active(sess *Session) (*PendingUpdate, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	p := sess.pending
	if p == nil {
		return nil, nil
	}
	if !g.now().Before(p.ExpiresAt) {
		sess.pending = nil
		sess.lastExpired = p.ID
		g.logger.Info("pending update expired", "user_id", sess.UserID, "id", p.ID)
		return p, ErrPendingExpired
	}
	return p, nil
}

// Commit writes the pending update. ref, when set, must name the current
// update. On a repository failure the update stays pending so the user can
// confirm again. Confirming an update that was already committed returns it
// with a nil error and writes nothing.
func (g *Gate) Commit(ctx context.Context, sess *Session, ref string) (*PendingUpdate, bool, error) {
	p, err := g.Active(sess)
	if err != nil {
		return p, false, err
	}
	if p == nil {
		sess.mu.Lock()
		done := ref != "" && ref == sess.lastCommitted
		expired := ref != "" && ref == sess.lastExpired
		sess.mu.Unlock()
		switch {
		case done:
			return nil, false, nil
		case expired:
			return nil, false, ErrPendingExpired
		}
		return nil, false, ErrNothingPending
	}
	if ref != "" && ref != p.ID {
		return nil, false, ErrStalePending
	}

	if err := g.repo.ApplyChanges(ctx, p.UserID, p.Changes); err != nil {
		g.logger.Error("commit failed, keeping pending update", "user_id", p.UserID, "id", p.ID, "error", err)
		return p, false, err
	}

	sess.mu.Lock()
	if sess.pending == p {
		sess.pending = nil
	}
	sess.lastCommitted = p.ID
	sess.mu.Unlock()

	g.logger.Info("pending update committed", "user_id", p.UserID, "id", p.ID, "source", p.Source)
	return p, true, nil
}

// Discard drops the pending update without writing it.
func (g *Gate) Discard(sess *Session, ref string) (*PendingUpdate, error) {
	p, err := g.Active(sess)
	if err != nil {
		return p, err
	}
	if p == nil {
		return nil, ErrNothingPending
	}
	if ref != "" && ref != p.ID {
		return nil, ErrStalePending
	}

	sess.mu.Lock()
	if sess.pending == p {
		sess.pending = nil
	}
	sess.mu.Unlock()

	g.logger.Info("pending update discarded", "user_id", p.UserID, "id", p.ID)
	return p, nil
}
