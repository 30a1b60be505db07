package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/wa-relay-go/internal/database"
	"github.com/openclaw/wa-relay-go/internal/model"
)

func TestSessionRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewSessionRepository(db.DB)
	ctx := context.Background()
	id := uniqueID("session")

	t.Run("upsert creates a loading session", func(t *testing.T) {
		session, err := repo.Upsert(ctx, id, model.SessionStatusLoading)
		require.NoError(t, err)
		assert.Equal(t, id, session.ID)
		assert.Equal(t, model.SessionStatusLoading, session.Status)
		assert.Nil(t, session.PhoneNumber)
	})

	t.Run("upsert is idempotent on session id", func(t *testing.T) {
		_, err := repo.Upsert(ctx, id, model.SessionStatusLoading)
		require.NoError(t, err)

		sessions, err := repo.List(ctx)
		require.NoError(t, err)

		count := 0
		for _, s := range sessions {
			if s.ID == id {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("update status sets phone number", func(t *testing.T) {
		phone := "628123456789"
		require.NoError(t, repo.UpdateStatus(ctx, id, model.SessionStatusConnected, &phone))

		session, err := repo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusConnected, session.Status)
		require.NotNil(t, session.PhoneNumber)
		assert.Equal(t, phone, *session.PhoneNumber)
	})

	t.Run("update status without phone keeps stored phone", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, id, model.SessionStatusDisconnected, nil))

		session, err := repo.FindByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, session.PhoneNumber)
		assert.Equal(t, "628123456789", *session.PhoneNumber)
	})

	t.Run("logged out sessions are not restorable", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, id, model.SessionStatusLoggedOut, nil))

		sessions, err := repo.ListRestorable(ctx)
		require.NoError(t, err)
		for _, s := range sessions {
			assert.NotEqual(t, id, s.ID)
		}
	})

	t.Run("delete removes the record", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, id))

		session, err := repo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, session)
	})
}

func TestMessageRepository_History(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewMessageRepository(db.DB)
	ctx := context.Background()
	sessionID := uniqueID("history")

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		text := fmt.Sprintf("message %d", i)
		_, err := repo.Insert(ctx, model.CreateMessageParams{
			SessionID: sessionID,
			Direction: model.DirectionOut,
			From:      "me",
			To:        "628123456789@s.whatsapp.net",
			Text:      &text,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	t.Run("returns newest first and exactly limit entries", func(t *testing.T) {
		msgs, err := repo.History(ctx, model.HistoryParams{SessionID: sessionID, Limit: 3})
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "message 4", *msgs[0].Text)
		assert.Equal(t, "message 3", *msgs[1].Text)
		assert.Equal(t, "message 2", *msgs[2].Text)
	})

	t.Run("reverse returns the same window oldest first", func(t *testing.T) {
		msgs, err := repo.History(ctx, model.HistoryParams{SessionID: sessionID, Limit: 3, Reverse: true})
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "message 2", *msgs[0].Text)
		assert.Equal(t, "message 4", *msgs[2].Text)
	})

	t.Run("retention deletes old rows", func(t *testing.T) {
		deleted, err := repo.DeleteOlderThan(ctx, base.Add(90*time.Second))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, deleted, int64(2))

		msgs, err := repo.History(ctx, model.HistoryParams{SessionID: sessionID, Limit: 10})
		require.NoError(t, err)
		assert.Len(t, msgs, 3)
	})
}

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.Connect(url)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
