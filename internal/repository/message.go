package repository

import (
	"context"
	"slices"
	"time"

	"github.com/openclaw/wa-relay-go/internal/database"
	"github.com/openclaw/wa-relay-go/internal/model"
)

// MessageRepository is append-only; rows are never updated.
type MessageRepository interface {
	Insert(ctx context.Context, params model.CreateMessageParams) (*model.Message, error)
	History(ctx context.Context, params model.HistoryParams) ([]model.Message, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type messageRepo struct {
	db database.DBTX
}

func NewMessageRepository(db database.DBTX) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) Insert(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		INSERT INTO messages
			(session_id, direction, from_address, to_address, text, media_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, params.SessionID, params.Direction, params.From, params.To,
		params.Text, params.MediaType, createdAt)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) History(ctx context.Context, params model.HistoryParams) ([]model.Message, error) {
	msgs := []model.Message{}
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, params.SessionID, params.Limit)
	if err != nil {
		return nil, err
	}

	if params.Reverse {
		slices.Reverse(msgs)
	}
	return msgs, nil
}

func (r *messageRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM messages WHERE created_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
