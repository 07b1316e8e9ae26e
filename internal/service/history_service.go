package service

import (
	"context"

	"pingup/internal/models"
	"pingup/internal/tracing"
	"pingup/internal/validation"

	"github.com/sirupsen/logrus"
)

// HistoryStore is the read side of the message store.
type HistoryStore interface {
	Transcript(ctx context.Context, a, b string) ([]*models.Message, error)
	MarkSeen(ctx context.Context, recipientID, senderID string) (int64, error)
	RecentConversations(ctx context.Context, userID string) ([]*models.Message, error)
	CountUnseen(ctx context.Context, userID string) (int, error)
}

// Presence reports which users have a live stream open.
type Presence interface {
	IsOnline(userID string) bool
}

// HistoryService serves conversation transcripts and the inbox.
type HistoryService struct {
	store     HistoryStore
	directory *DirectoryService
	presence  Presence
	logger    *logrus.Logger
}

// NewHistoryService creates the history service. presence may be nil, in
// which case every counterpart is reported offline.
func NewHistoryService(store HistoryStore, directory *DirectoryService, presence Presence, logger *logrus.Logger) *HistoryService {
	return &HistoryService{
		store:     store,
		directory: directory,
		presence:  presence,
		logger:    logger,
	}
}

// GetConversation returns the messages between current and counterpart,
// oldest first, and marks the counterpart's messages to current as seen.
// The returned messages reflect the state read before the update.
func (s *HistoryService) GetConversation(ctx context.Context, current, counterpart string) (messages []*models.Message, err error) {
	ctx, span := tracing.StartSpan(ctx, "history.get_conversation")
	defer func() { tracing.EndSpan(span, err) }()

	if err := validation.ValidateUserID("user", current); err != nil {
		return nil, err
	}
	if err := validation.ValidateUserID("to_user_id", counterpart); err != nil {
		return nil, err
	}

	messages, err = s.store.Transcript(ctx, current, counterpart)
	if err != nil {
		return nil, err
	}

	marked, err := s.store.MarkSeen(ctx, current, counterpart)
	if err != nil {
		return nil, err
	}

	LogWithContext(ctx, s.logger).WithFields(logrus.Fields{
		LogFieldUserID: SanitizeUserID(ctx, current),
		LogFieldCount:  len(messages),
		"marked_seen":  marked,
	}).Debug("Conversation loaded")

	if messages == nil {
		messages = []*models.Message{}
	}
	return messages, nil
}

// GetInbox returns the latest message from each user who has written to
// current, newest first, with the sender's profile.
func (s *HistoryService) GetInbox(ctx context.Context, current string) (entries []models.InboxEntry, err error) {
	ctx, span := tracing.StartSpan(ctx, "history.get_inbox")
	defer func() { tracing.EndSpan(span, err) }()

	if err := validation.ValidateUserID("user", current); err != nil {
		return nil, err
	}

	latest, err := s.store.RecentConversations(ctx, current)
	if err != nil {
		return nil, err
	}

	entries = make([]models.InboxEntry, 0, len(latest))
	for _, msg := range latest {
		entries = append(entries, models.InboxEntry{
			Counterpart: s.directory.ProfileOrPlaceholder(ctx, msg.FromUserID),
			Message:     msg,
			Online:      s.presence != nil && s.presence.IsOnline(msg.FromUserID),
		})
	}
	return entries, nil
}

// CountUnseen returns how many messages to current have not been read yet.
func (s *HistoryService) CountUnseen(ctx context.Context, current string) (count int, err error) {
	ctx, span := tracing.StartSpan(ctx, "history.count_unseen")
	defer func() { tracing.EndSpan(span, err) }()

	if err := validation.ValidateUserID("user", current); err != nil {
		return 0, err
	}
	return s.store.CountUnseen(ctx, current)
}
