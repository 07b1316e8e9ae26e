package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pingup/internal/database"
	apperrors "pingup/internal/errors"
	"pingup/internal/models"
	"pingup/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "pingup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// steppedClock returns a clock that advances one second per call.
func steppedClock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(time.Second)
		return now
	}
}

func appendText(t *testing.T, db *database.Database, from, to, text string) *models.Message {
	t.Helper()
	msg, err := db.AppendMessage(context.Background(), &models.Message{
		FromUserID:  from,
		ToUserID:    to,
		Text:        text,
		MessageType: models.MessageKindText,
	})
	require.NoError(t, err)
	return msg
}

func TestHistoryService_GetConversation(t *testing.T) {
	db := setupTestDB(t)
	db.SetClock(steppedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	history := NewHistoryService(db, NewDirectoryService(db, 10, quietLogger()), nil, quietLogger())
	ctx := context.Background()

	appendText(t, db, "user_bob", "user_alice", "hey")
	appendText(t, db, "user_alice", "user_bob", "hi bob")
	appendText(t, db, "user_bob", "user_alice", "how are you")
	appendText(t, db, "user_carol", "user_alice", "unrelated")

	messages, err := history.GetConversation(ctx, "user_alice", "user_bob")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, []string{"hey", "hi bob", "how are you"},
		[]string{messages[0].Text, messages[1].Text, messages[2].Text})
	for i := 1; i < len(messages); i++ {
		assert.False(t, messages[i].CreatedAt.Before(messages[i-1].CreatedAt))
	}

	// incoming messages are now seen; alice's own message is untouched
	after, err := db.Transcript(ctx, "user_alice", "user_bob")
	require.NoError(t, err)
	for _, m := range after {
		if m.FromUserID == "user_bob" {
			assert.True(t, m.Seen, "message %q should be seen", m.Text)
		} else {
			assert.False(t, m.Seen, "message %q should not be seen", m.Text)
		}
	}

	// carol's message to alice stays unseen
	carol, err := db.Transcript(ctx, "user_alice", "user_carol")
	require.NoError(t, err)
	require.Len(t, carol, 1)
	assert.False(t, carol[0].Seen)
}

func TestHistoryService_GetConversationEmpty(t *testing.T) {
	db := setupTestDB(t)
	history := NewHistoryService(db, NewDirectoryService(db, 10, quietLogger()), nil, quietLogger())

	messages, err := history.GetConversation(context.Background(), "user_alice", "user_nobody")
	require.NoError(t, err)
	assert.NotNil(t, messages)
	assert.Empty(t, messages)
}

func TestHistoryService_GetConversationValidates(t *testing.T) {
	db := setupTestDB(t)
	history := NewHistoryService(db, NewDirectoryService(db, 10, quietLogger()), nil, quietLogger())

	_, err := history.GetConversation(context.Background(), "user_alice", "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestHistoryService_GetInbox(t *testing.T) {
	db := setupTestDB(t)
	db.SetClock(steppedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	ctx := context.Background()
	require.NoError(t, db.SaveUserProfile(ctx, &models.UserProfile{ID: "user_bob", FullName: "Bob"}))

	history := NewHistoryService(db, NewDirectoryService(db, 10, quietLogger()), nil, quietLogger())

	appendText(t, db, "user_bob", "user_alice", "older from bob")
	appendText(t, db, "user_bob", "user_alice", "newer from bob")
	appendText(t, db, "user_carol", "user_alice", "newest from carol")
	appendText(t, db, "user_alice", "user_bob", "outgoing is not an inbox entry")

	entries, err := history.GetInbox(ctx, "user_alice")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "newest from carol", entries[0].Message.Text)
	assert.Equal(t, "user_carol", entries[0].Counterpart.ID)
	assert.Equal(t, "user_carol", entries[0].Counterpart.GetDisplayName(), "unknown profiles fall back to the id")

	assert.Equal(t, "newer from bob", entries[1].Message.Text)
	assert.Equal(t, "Bob", entries[1].Counterpart.FullName)
}

func TestHistoryService_GetInboxEmpty(t *testing.T) {
	db := setupTestDB(t)
	history := NewHistoryService(db, NewDirectoryService(db, 10, quietLogger()), nil, quietLogger())

	entries, err := history.GetInbox(context.Background(), "user_alice")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestHistoryService_GetInboxMarksOnlineCounterparts(t *testing.T) {
	db := setupTestDB(t)
	db.SetClock(steppedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	live := registry.New(quietLogger())
	live.Register("user_bob", newFakeStream("s1"))
	history := NewHistoryService(db, NewDirectoryService(db, 10, quietLogger()), live, quietLogger())

	appendText(t, db, "user_bob", "user_alice", "from bob")
	appendText(t, db, "user_carol", "user_alice", "from carol")

	entries, err := history.GetInbox(ctx, "user_alice")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "user_carol", entries[0].Counterpart.ID)
	assert.False(t, entries[0].Online)
	assert.Equal(t, "user_bob", entries[1].Counterpart.ID)
	assert.True(t, entries[1].Online)
}

func TestHistoryService_CountUnseen(t *testing.T) {
	db := setupTestDB(t)
	history := NewHistoryService(db, NewDirectoryService(db, 10, quietLogger()), nil, quietLogger())
	ctx := context.Background()

	appendText(t, db, "user_bob", "user_alice", "one")
	appendText(t, db, "user_bob", "user_alice", "two")
	appendText(t, db, "user_carol", "user_alice", "three")
	appendText(t, db, "user_alice", "user_bob", "outgoing")

	count, err := history.CountUnseen(ctx, "user_alice")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = db.MarkSeen(ctx, "user_alice", "user_bob")
	require.NoError(t, err)

	count, err = history.CountUnseen(ctx, "user_alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = history.CountUnseen(ctx, "")
	assert.True(t, apperrors.IsValidation(err))
}
