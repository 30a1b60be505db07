// Package credential maps session ids to the protocol's stored device
// identity. The key material itself lives in the protocol's device store,
// which shares the database picked for this store.
package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openclaw/wa-relay-go/internal/database"
)

type Credentials struct {
	SessionID string    `db:"session_id"`
	DeviceID  string    `db:"device_id"`
	UpdatedAt time.Time `db:"updated_at"`
}

type Store interface {
	// Load returns nil without error when the session has never paired.
	Load(ctx context.Context, sessionID string) (*Credentials, error)
	Save(ctx context.Context, sessionID string, deviceID string) error
	Delete(ctx context.Context, sessionID string) error
}

type sqlStore struct {
	db database.DBTX
}

// NewSQLStore works against Postgres and sqlite alike; queries are written
// with ? placeholders and rebound for the driver.
func NewSQLStore(db database.DBTX) Store {
	return &sqlStore{db: db}
}

func (s *sqlStore) Load(ctx context.Context, sessionID string) (*Credentials, error) {
	var creds Credentials
	err := s.db.GetContext(ctx, &creds, s.db.Rebind(`
		SELECT session_id, device_id, updated_at
		FROM session_credentials WHERE session_id = ?
	`), sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return &creds, nil
}

func (s *sqlStore) Save(ctx context.Context, sessionID string, deviceID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO session_credentials (session_id, device_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			device_id = excluded.device_id,
			updated_at = excluded.updated_at
	`), sessionID, deviceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM session_credentials WHERE session_id = ?
	`), sessionID)
	if err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}
