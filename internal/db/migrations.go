package db

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Timestamps are stored as unix milliseconds so that the same schema and
// scanning code work on Postgres and SQLite.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS payment_requests (
		id          TEXT PRIMARY KEY,
		submitter   BIGINT NOT NULL,
		identifier  TEXT,
		amount      BIGINT,
		channel     TEXT,
		proof_kind  TEXT,
		proof_ref   TEXT,
		proof_mime  TEXT,
		status      TEXT NOT NULL CHECK (status IN
			('collecting', 'pending_review', 'approved', 'rejected_correcting', 'rejected')),
		active_step TEXT NOT NULL DEFAULT '',
		claimant    BIGINT,
		claimed_at  BIGINT,
		corrections INTEGER NOT NULL DEFAULT 0,
		version     BIGINT NOT NULL DEFAULT 1,
		created_at  BIGINT NOT NULL,
		updated_at  BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_requests_one_active
		ON payment_requests (submitter)
		WHERE status IN ('collecting', 'pending_review', 'rejected_correcting')`,
	`CREATE INDEX IF NOT EXISTS idx_payment_requests_queue
		ON payment_requests (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS request_events (
		id         TEXT PRIMARY KEY,
		request_id TEXT NOT NULL REFERENCES payment_requests (id),
		kind       TEXT NOT NULL,
		actor      BIGINT NOT NULL,
		field      TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_request_events_request
		ON request_events (request_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS moderators (
		chat_id    BIGINT PRIMARY KEY,
		created_at BIGINT NOT NULL
	)`,
}

// RunMigrations creates the schema. Every statement is idempotent.
func RunMigrations(conn *sqlx.DB) error {
	for _, stmt := range migrations {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("db.RunMigrations: %s: %w", firstLine(stmt), err)
		}
	}

	return nil
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(stmt), "\n")
	return line
}
