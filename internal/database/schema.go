package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var relaySchema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id   TEXT PRIMARY KEY,
		status       TEXT NOT NULL DEFAULT 'loading',
		phone_number TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id           BIGSERIAL PRIMARY KEY,
		session_id   TEXT NOT NULL,
		direction    TEXT NOT NULL,
		from_address TEXT NOT NULL,
		to_address   TEXT NOT NULL,
		text         TEXT,
		media_type   TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session_created
		ON messages (session_id, created_at DESC, id DESC)`,
}

// credentialSchema is portable between Postgres and sqlite.
var credentialSchema = []string{
	`CREATE TABLE IF NOT EXISTS session_credentials (
		session_id TEXT PRIMARY KEY,
		device_id  TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}

// Migrate creates the relay tables (sessions, messages) on Postgres.
func (db *DB) Migrate(ctx context.Context) error {
	return db.exec(ctx, relaySchema)
}

// MigrateCredentials creates the credential mapping table on either backend.
func (db *DB) MigrateCredentials(ctx context.Context) error {
	return db.exec(ctx, credentialSchema)
}

// exec applies statements in one transaction so a failed bootstrap leaves
// no half-built schema behind.
func (db *DB) exec(ctx context.Context, statements []string) error {
	return db.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		return nil
	})
}
