package sqlstore

var entityTables = []string{"attendance", "messages", "events", "divisions", "users"}

func schema(d Dialect) []string {
	blob := "BLOB"
	if d == DialectPostgres {
		blob = "BYTEA"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id   TEXT PRIMARY KEY,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS divisions (
			id                TEXT PRIMARY KEY,
			membership_status TEXT NOT NULL,
			data              TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS divisions_status_idx ON divisions (membership_status)`,
		`CREATE TABLE IF NOT EXISTS events (
			id       TEXT PRIMARY KEY,
			start_at BIGINT,
			end_at   BIGINT,
			data     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS events_start_idx ON events (start_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			division_id TEXT,
			sent_at     BIGINT,
			data        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_division_idx ON messages (division_id, sent_at)`,
		`CREATE TABLE IF NOT EXISTS attendance (
			event_id TEXT NOT NULL,
			user_id  TEXT NOT NULL,
			response TEXT NOT NULL,
			PRIMARY KEY (event_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			idempotency_key TEXT NOT NULL,
			method          TEXT NOT NULL,
			route           TEXT NOT NULL,
			body_hash       TEXT NOT NULL,
			status_code     INTEGER NOT NULL,
			content_type    TEXT NOT NULL,
			body            ` + blob + ` NOT NULL,
			created_at      BIGINT NOT NULL,
			PRIMARY KEY (idempotency_key, method, route, body_hash)
		)`,
	}
}
