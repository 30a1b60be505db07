package repository

import (
	"context"
	"time"

	"github.com/openclaw/wa-relay-go/internal/database"
	"github.com/openclaw/wa-relay-go/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	List(ctx context.Context) ([]model.Session, error)
	ListRestorable(ctx context.Context) ([]model.Session, error)
	// Upsert creates the record or resets its status; idempotent on id.
	Upsert(ctx context.Context, id string, status model.SessionStatus) (*model.Session, error)
	// UpdateStatus keeps the stored phone number when phone is nil.
	UpdateStatus(ctx context.Context, id string, status model.SessionStatus, phone *string) error
	Delete(ctx context.Context, id string) error
}

type sessionRepo struct {
	db database.DBTX
}

func NewSessionRepository(db database.DBTX) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE session_id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) List(ctx context.Context) ([]model.Session, error) {
	sessions := []model.Session{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions ORDER BY created_at ASC
	`)
	return sessions, err
}

func (r *sessionRepo) ListRestorable(ctx context.Context) ([]model.Session, error) {
	sessions := []model.Session{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE status <> 'logged_out'
		ORDER BY created_at ASC
	`)
	return sessions, err
}

func (r *sessionRepo) Upsert(ctx context.Context, id string, status model.SessionStatus) (*model.Session, error) {
	var session model.Session
	now := time.Now()
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (session_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING *
	`, id, status, now)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) UpdateStatus(ctx context.Context, id string, status model.SessionStatus, phone *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = $2,
			phone_number = COALESCE($3, phone_number),
			updated_at = $4
		WHERE session_id = $1
	`, id, status, phone, time.Now())
	return err
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, id)
	return err
}
