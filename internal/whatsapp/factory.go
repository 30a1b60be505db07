// Package whatsapp adapts whatsmeow to the supervisor's Client contract.
// Device keys live in whatsmeow's own sqlstore tables inside the database
// picked for credentials; the supervisor only sees device ids.
package whatsapp

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/openclaw/wa-relay-go/internal/credential"
	"github.com/openclaw/wa-relay-go/internal/supervisor"
)

// Factory builds one whatsmeow client per session from a shared device container.
type Factory struct {
	container *sqlstore.Container
}

// NewFactory prepares the device store on db. dialect is "postgres" or "sqlite3".
func NewFactory(ctx context.Context, db *sql.DB, dialect, deviceName string) (*Factory, error) {
	if deviceName != "" {
		store.DeviceProps.Os = proto.String(deviceName)
	}

	container := sqlstore.NewWithDB(db, dialect, waLog.Zerolog(log.Logger.With().Str("component", "device-store").Logger()))
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("upgrade device store: %w", err)
	}

	return &Factory{container: container}, nil
}

// NewClient restores the device behind creds, or a blank device when the
// session has never paired or its device row is gone.
func (f *Factory) NewClient(ctx context.Context, sessionID string, creds *credential.Credentials) (supervisor.Client, error) {
	device, err := f.device(ctx, sessionID, creds)
	if err != nil {
		return nil, err
	}

	logger := log.Logger.With().Str("session_id", sessionID).Str("component", "whatsmeow").Logger()
	wa := whatsmeow.NewClient(device, waLog.Zerolog(logger))
	// The supervisor owns the reconnect policy.
	wa.EnableAutoReconnect = false

	return newClient(sessionID, wa), nil
}

func (f *Factory) device(ctx context.Context, sessionID string, creds *credential.Credentials) (*store.Device, error) {
	if creds == nil || creds.DeviceID == "" {
		return f.container.NewDevice(), nil
	}

	jid, err := types.ParseJID(creds.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("parse device id %q: %w", creds.DeviceID, err)
	}

	device, err := f.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if device == nil {
		log.Warn().Str("session_id", sessionID).Msg("stored device missing, starting a new pairing")
		return f.container.NewDevice(), nil
	}
	return device, nil
}
