package persistence

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS cases (
	case_id        TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'CREATED',
	request_json   TEXT NOT NULL DEFAULT '{}',
	final_document TEXT,
	run_error      TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_cases_user ON cases(user_id);

CREATE TABLE IF NOT EXISTS messages (
	message_id     TEXT PRIMARY KEY,
	case_id        TEXT NOT NULL REFERENCES cases(case_id) ON DELETE CASCADE,
	user_id        TEXT NOT NULL,
	stage          TEXT NOT NULL,
	kind           TEXT NOT NULL,
	degraded       INTEGER NOT NULL DEFAULT 0,
	output_json    TEXT NOT NULL DEFAULT '{}',
	citations_json TEXT NOT NULL DEFAULT '[]',
	created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_case ON messages(case_id, created_at);

CREATE TABLE IF NOT EXISTS evidence_snippets (
	case_id         TEXT NOT NULL REFERENCES cases(case_id) ON DELETE CASCADE,
	snippet_id      TEXT NOT NULL,
	idx             INTEGER NOT NULL DEFAULT 0,
	text            TEXT NOT NULL,
	source_id       TEXT NOT NULL DEFAULT '',
	source_type     TEXT NOT NULL DEFAULT '',
	source_url      TEXT NOT NULL DEFAULT '',
	source_citation TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (case_id, snippet_id)
);
`

// createSchema creates the full schema on an empty database and stamps the
// version. Idempotent.
func createSchema(db *sql.DB) error {
	// DSN pragma parameters are driver-dependent; set them explicitly too.
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.Exec(
		"INSERT INTO schema_version (version) SELECT ? WHERE NOT EXISTS (SELECT 1 FROM schema_version)",
		CurrentSchemaVersion,
	); err != nil {
		return fmt.Errorf("failed to stamp schema version: %w", err)
	}
	return nil
}
