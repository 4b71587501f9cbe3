package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Store is the SQL implementation of Repository.
type Store struct {
	db      *sql.DB
	backend BackendType
	logger  *slog.Logger
}

var _ Repository = (*Store)(nil)

// Open connects to the configured backend, runs migrations and returns a Store.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Effective()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Backend {
	case BackendPostgreSQL:
		db, err = openPostgreSQL(ctx, cfg.PostgreSQL)
	default:
		db, err = openSQLite(ctx, cfg.SQLite)
	}
	if err != nil {
		return nil, err
	}

	s := NewStore(db, cfg.Backend, logger)
	if err := NewMigrator(db, cfg.Backend).Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.logger.Info("database ready", "backend", cfg.Backend)
	return s, nil
}

// NewStore wraps an already-open connection. The schema must exist.
func NewStore(db *sql.DB, backend BackendType, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:      db,
		backend: backend,
		logger:  logger.With("component", "database"),
	}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Backend returns the engine type.
func (s *Store) Backend() BackendType { return s.backend }

// Rebind adapts a '?'-placeholder query to the backend's syntax.
func (s *Store) Rebind(query string) string {
	if s.backend == BackendPostgreSQL {
		return rebindDollar(query)
	}
	return query
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ---------- Users ----------

func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	u := &User{ID: userID}
	var name, dob, gender, occupation, description, chronic sql.NullString
	err := s.db.QueryRowContext(ctx, s.Rebind(
		`SELECT name, dob, gender, occupation, description, chronic_disease FROM Users WHERE user_id = ?`),
		userID,
	).Scan(&name, &dob, &gender, &occupation, &description, &chronic)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get user", err)
	}
	u.Name = name.String
	u.DOB = dob.String
	u.Gender = gender.String
	u.Occupation = occupation.String
	u.Description = description.String
	u.ChronicDisease = chronic.String
	return u, nil
}

func (s *Store) EnsureUser(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.Rebind(
		`INSERT INTO Users (user_id) VALUES (?) ON CONFLICT(user_id) DO NOTHING`), userID)
	if err != nil {
		return false, wrapErr("ensure user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("ensure user", err)
	}
	return n > 0, nil
}

func (s *Store) UpsertUser(ctx context.Context, userID string, patch UserPatch) error {
	return wrapErr("upsert user", s.upsertUser(ctx, s.db, userID, patch))
}

func (s *Store) upsertUser(ctx context.Context, ex execer, userID string, p UserPatch) error {
	_, err := ex.ExecContext(ctx, s.Rebind(`
		INSERT INTO Users (user_id, name, dob, gender, occupation, description, chronic_disease)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name            = COALESCE(excluded.name, Users.name),
			dob             = COALESCE(excluded.dob, Users.dob),
			gender          = COALESCE(excluded.gender, Users.gender),
			occupation      = COALESCE(excluded.occupation, Users.occupation),
			description     = COALESCE(excluded.description, Users.description),
			chronic_disease = COALESCE(excluded.chronic_disease, Users.chronic_disease)`),
		userID, p.Name, p.DOB, p.Gender, p.Occupation, p.Description, p.ChronicDisease,
	)
	return err
}

// ---------- Activity ----------

func (s *Store) UpsertActivity(ctx context.Context, userID, date string, patch ActivityPatch) error {
	return wrapErr("upsert activity", s.upsertActivity(ctx, s.db, userID, date, patch))
}

func (s *Store) upsertActivity(ctx context.Context, ex execer, userID, date string, p ActivityPatch) error {
	if _, err := ex.ExecContext(ctx, s.Rebind(
		`INSERT INTO Users (user_id) VALUES (?) ON CONFLICT(user_id) DO NOTHING`), userID); err != nil {
		return err
	}
	_, err := ex.ExecContext(ctx, s.Rebind(`
		INSERT INTO UserActivityRecords
			(user_id, date, steps, calories_burned, avg_heart_rate, active_minutes, sleep_hours, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			steps           = COALESCE(excluded.steps, UserActivityRecords.steps),
			calories_burned = COALESCE(excluded.calories_burned, UserActivityRecords.calories_burned),
			avg_heart_rate  = COALESCE(excluded.avg_heart_rate, UserActivityRecords.avg_heart_rate),
			active_minutes  = COALESCE(excluded.active_minutes, UserActivityRecords.active_minutes),
			sleep_hours     = COALESCE(excluded.sleep_hours, UserActivityRecords.sleep_hours),
			source          = COALESCE(excluded.source, UserActivityRecords.source)`),
		userID, date, p.Steps, p.CaloriesBurned, p.AvgHeartRate, p.ActiveMinutes, p.SleepHours, p.Source,
	)
	return err
}

func (s *Store) GetActivity(ctx context.Context, userID, date string) (*ActivityRecord, error) {
	r := &ActivityRecord{UserID: userID, Date: date}
	var source sql.NullString
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		SELECT COALESCE(steps, 0), calories_burned, avg_heart_rate, active_minutes, sleep_hours, source
		FROM UserActivityRecords WHERE user_id = ? AND date = ?`),
		userID, date,
	).Scan(&r.Steps, &r.CaloriesBurned, &r.AvgHeartRate, &r.ActiveMinutes, &r.SleepHours, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get activity", err)
	}
	r.Source = source.String
	return r, nil
}

// ---------- Body ----------

func (s *Store) UpsertBody(ctx context.Context, userID, date string, patch BodyPatch) error {
	return wrapErr("upsert body", s.upsertBody(ctx, s.db, userID, date, patch))
}

func (s *Store) upsertBody(ctx context.Context, ex execer, userID, date string, p BodyPatch) error {
	if _, err := ex.ExecContext(ctx, s.Rebind(
		`INSERT INTO Users (user_id) VALUES (?) ON CONFLICT(user_id) DO NOTHING`), userID); err != nil {
		return err
	}
	_, err := ex.ExecContext(ctx, s.Rebind(`
		INSERT INTO UserBMIRecords (user_id, date, weight, height)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			weight = COALESCE(excluded.weight, UserBMIRecords.weight),
			height = COALESCE(excluded.height, UserBMIRecords.height)`),
		userID, date, p.Weight, p.Height,
	)
	return err
}

func (s *Store) LatestBody(ctx context.Context, userID, date string) (*BodyRecord, error) {
	r := &BodyRecord{UserID: userID}
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		SELECT date, weight, height FROM UserBMIRecords
		WHERE user_id = ? AND date <= ?
		ORDER BY date DESC LIMIT 1`),
		userID, date,
	).Scan(&r.Date, &r.Weight, &r.Height)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("latest body", err)
	}
	return r, nil
}

// ---------- Summaries ----------

func (s *Store) GetSummary(ctx context.Context, userID, date string) (*SummaryRecord, error) {
	r := &SummaryRecord{UserID: userID, Date: date}
	var overview, risk, summary sql.NullString
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		SELECT overview, office_risk, office_summary FROM UserSummaryRecords
		WHERE user_id = ? AND date = ?`),
		userID, date,
	).Scan(&overview, &risk, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get summary", err)
	}
	r.Overview = overview.String
	r.OfficeRisk = risk.String
	r.OfficeSummary = summary.String
	return r, nil
}

// UpsertSummary overwrites the summary for (user, date). The user must
// exist; summaries never create a Users row.
func (s *Store) UpsertSummary(ctx context.Context, rec SummaryRecord) error {
	_, err := s.db.ExecContext(ctx, s.Rebind(`
		INSERT INTO UserSummaryRecords (user_id, date, overview, office_risk, office_summary)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			overview       = excluded.overview,
			office_risk    = excluded.office_risk,
			office_summary = excluded.office_summary`),
		rec.UserID, rec.Date, rec.Overview, rec.OfficeRisk, rec.OfficeSummary,
	)
	return wrapErr("upsert summary", err)
}

// ---------- Transactions ----------

func (s *Store) ApplyChanges(ctx context.Context, userID string, changes ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.upsertUser(ctx, tx, userID, changes.Profile); err != nil {
			return fmt.Errorf("profile: %w", err)
		}
		if !changes.Body.Empty() {
			if err := s.upsertBody(ctx, tx, userID, changes.Date, changes.Body); err != nil {
				return fmt.Errorf("body: %w", err)
			}
		}
		if !changes.Activity.Empty() {
			if err := s.upsertActivity(ctx, tx, userID, changes.Date, changes.Activity); err != nil {
				return fmt.Errorf("activity: %w", err)
			}
		}
		return nil
	})
	return wrapErr("apply changes", err)
}

func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"UserSummaryRecords", "UserActivityRecords", "UserBMIRecords", "Users"} {
			if _, err := tx.ExecContext(ctx, s.Rebind("DELETE FROM "+table+" WHERE user_id = ?"), userID); err != nil {
				return fmt.Errorf("delete from %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return wrapErr("delete user", err)
	}
	s.logger.Info("user data deleted", "user_id", userID)
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ---------- Message mappings ----------

func (s *Store) AppendMessageMapping(ctx context.Context, m MessageMapping) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.Rebind(`
		INSERT INTO MessageMappings (message_id, user_id, channel_id, timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`),
		m.MessageID, m.UserID, m.ChannelID, m.Timestamp.UnixMilli(),
	)
	return wrapErr("append message mapping", err)
}

func (s *Store) LookupMessage(ctx context.Context, messageID string) (*MessageMapping, error) {
	return s.scanMapping(ctx, "lookup message", `
		SELECT message_id, user_id, channel_id, timestamp FROM MessageMappings
		WHERE message_id = ?`, messageID)
}

func (s *Store) LatestMappingForUser(ctx context.Context, userID string) (*MessageMapping, error) {
	return s.scanMapping(ctx, "latest mapping", `
		SELECT message_id, user_id, channel_id, timestamp FROM MessageMappings
		WHERE user_id = ? ORDER BY timestamp DESC LIMIT 1`, userID)
}

func (s *Store) scanMapping(ctx context.Context, op, query string, arg string) (*MessageMapping, error) {
	var (
		m       MessageMapping
		channel sql.NullString
		ms      int64
	)
	err := s.db.QueryRowContext(ctx, s.Rebind(query), arg).Scan(&m.MessageID, &m.UserID, &channel, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr(op, err)
	}
	m.ChannelID = channel.String
	m.Timestamp = time.UnixMilli(ms)
	return &m, nil
}

func (s *Store) ActiveUsersSince(ctx context.Context, t time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.Rebind(`
		SELECT DISTINCT user_id FROM MessageMappings WHERE timestamp >= ? ORDER BY user_id`),
		t.UnixMilli(),
	)
	if err != nil {
		return nil, wrapErr("active users", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("active users", err)
		}
		users = append(users, id)
	}
	return users, wrapErr("active users", rows.Err())
}
