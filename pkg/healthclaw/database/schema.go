package database

// SchemaVersion is the version recorded after the schema is applied.
const SchemaVersion = 1

// sqliteSchema returns the SQLite schema DDL.
func sqliteSchema() string {
	return `
CREATE TABLE IF NOT EXISTS Users (
	user_id         TEXT PRIMARY KEY,
	name            TEXT,
	dob             TEXT,
	gender          TEXT,
	occupation      TEXT,
	description     TEXT,
	chronic_disease TEXT,
	created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS UserActivityRecords (
	record_id       INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id         TEXT NOT NULL REFERENCES Users(user_id) ON DELETE CASCADE,
	date            TEXT NOT NULL,
	steps           INTEGER DEFAULT 0,
	calories_burned REAL,
	avg_heart_rate  INTEGER,
	active_minutes  INTEGER,
	sleep_hours     REAL,
	source          TEXT,
	UNIQUE(user_id, date)
);

CREATE TABLE IF NOT EXISTS UserBMIRecords (
	record_id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id   TEXT NOT NULL REFERENCES Users(user_id) ON DELETE CASCADE,
	date      TEXT NOT NULL,
	weight    REAL,
	height    REAL,
	UNIQUE(user_id, date)
);

CREATE TABLE IF NOT EXISTS UserSummaryRecords (
	record_id      INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id        TEXT NOT NULL REFERENCES Users(user_id) ON DELETE CASCADE,
	date           TEXT NOT NULL,
	overview       TEXT,
	office_risk    TEXT,
	office_summary TEXT,
	UNIQUE(user_id, date)
);

CREATE TABLE IF NOT EXISTS MessageMappings (
	message_id TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	channel_id TEXT,
	timestamp  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_message_mappings_user ON MessageMappings(user_id, timestamp);

CREATE TABLE IF NOT EXISTS knowledge_chunks (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	chunk_idx  INTEGER NOT NULL,
	text       TEXT NOT NULL,
	hash       TEXT NOT NULL,
	embedding  TEXT,
	model      TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(source, chunk_idx)
);
CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_hash ON knowledge_chunks(hash);
`
}

// postgresSchema returns the PostgreSQL schema DDL.
func postgresSchema() string {
	return `
CREATE TABLE IF NOT EXISTS Users (
	user_id         TEXT PRIMARY KEY,
	name            TEXT,
	dob             TEXT,
	gender          TEXT,
	occupation      TEXT,
	description     TEXT,
	chronic_disease TEXT,
	created_at      TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS UserActivityRecords (
	record_id       BIGSERIAL PRIMARY KEY,
	user_id         TEXT NOT NULL REFERENCES Users(user_id) ON DELETE CASCADE,
	date            TEXT NOT NULL,
	steps           INTEGER DEFAULT 0,
	calories_burned DOUBLE PRECISION,
	avg_heart_rate  INTEGER,
	active_minutes  INTEGER,
	sleep_hours     DOUBLE PRECISION,
	source          TEXT,
	UNIQUE(user_id, date)
);

CREATE TABLE IF NOT EXISTS UserBMIRecords (
	record_id BIGSERIAL PRIMARY KEY,
	user_id   TEXT NOT NULL REFERENCES Users(user_id) ON DELETE CASCADE,
	date      TEXT NOT NULL,
	weight    DOUBLE PRECISION,
	height    DOUBLE PRECISION,
	UNIQUE(user_id, date)
);

CREATE TABLE IF NOT EXISTS UserSummaryRecords (
	record_id      BIGSERIAL PRIMARY KEY,
	user_id        TEXT NOT NULL REFERENCES Users(user_id) ON DELETE CASCADE,
	date           TEXT NOT NULL,
	overview       TEXT,
	office_risk    TEXT,
	office_summary TEXT,
	UNIQUE(user_id, date)
);

CREATE TABLE IF NOT EXISTS MessageMappings (
	message_id TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	channel_id TEXT,
	timestamp  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_message_mappings_user ON MessageMappings(user_id, timestamp);

CREATE TABLE IF NOT EXISTS knowledge_chunks (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	chunk_idx  INTEGER NOT NULL,
	text       TEXT NOT NULL,
	hash       TEXT NOT NULL,
	embedding  TEXT,
	model      TEXT,
	created_at TIMESTAMPTZ DEFAULT NOW(),
	UNIQUE(source, chunk_idx)
);
CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_hash ON knowledge_chunks(hash);
`
}
