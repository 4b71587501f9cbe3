// Package database implements the durable side of healthclaw: user
// profiles, per-day activity and body records, generated summaries and the
// message-to-user mapping log. SQLite is the default backend and needs no
// configuration; PostgreSQL is available for shared deployments.
package database

import (
	"context"
	"time"
)

// Repository is the storage contract the assistant core depends on.
// All upserts merge the non-nil fields of a patch into the existing row.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetUser returns the profile or ErrNotFound.
	GetUser(ctx context.Context, userID string) (*User, error)

	// EnsureUser creates an empty profile row if none exists and reports
	// whether it did.
	EnsureUser(ctx context.Context, userID string) (created bool, err error)

	UpsertUser(ctx context.Context, userID string, patch UserPatch) error

	UpsertActivity(ctx context.Context, userID, date string, patch ActivityPatch) error
	GetActivity(ctx context.Context, userID, date string) (*ActivityRecord, error)

	UpsertBody(ctx context.Context, userID, date string, patch BodyPatch) error
	// LatestBody returns the newest body record on or before date.
	LatestBody(ctx context.Context, userID, date string) (*BodyRecord, error)

	GetSummary(ctx context.Context, userID, date string) (*SummaryRecord, error)
	UpsertSummary(ctx context.Context, rec SummaryRecord) error

	// ApplyChanges writes every part of the change set in one transaction.
	ApplyChanges(ctx context.Context, userID string, changes ChangeSet) error

	// DeleteAllForUser removes the profile and every dependent record in a
	// single transaction.
	DeleteAllForUser(ctx context.Context, userID string) error

	AppendMessageMapping(ctx context.Context, m MessageMapping) error
	LookupMessage(ctx context.Context, messageID string) (*MessageMapping, error)
	LatestMappingForUser(ctx context.Context, userID string) (*MessageMapping, error)
	// ActiveUsersSince lists users with a mapped message at or after t.
	ActiveUsersSince(ctx context.Context, t time.Time) ([]string, error)
}
