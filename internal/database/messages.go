package database

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "pingup/internal/errors"
	"pingup/internal/models"

	"github.com/google/uuid"
)

// AppendMessage validates the kind/content invariant, assigns identity and
// creation time, and persists the message unseen.
func (d *Database) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if err := validateMessage(msg); err != nil {
		return nil, err
	}

	stored := *msg
	stored.ID = uuid.NewString()
	stored.CreatedAt = d.utcNow()
	stored.UpdatedAt = stored.CreatedAt
	stored.Seen = false

	text, err := d.encryptor.Encrypt(stored.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message text: %w", err)
	}

	err = retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertMessageQuery,
			stored.ID,
			stored.FromUserID,
			stored.ToUserID,
			text,
			stored.MessageType,
			stored.MediaURL,
			stored.CreatedAt,
			stored.UpdatedAt,
		)
		return err
	}, "append message")
	if err != nil {
		return nil, apperrors.NewDatabaseError("append message", err)
	}

	return &stored, nil
}

func validateMessage(msg *models.Message) error {
	if msg == nil {
		return apperrors.NewValidationError("message", "", "message is required")
	}
	if msg.FromUserID == "" {
		return apperrors.NewValidationError("from_user_id", "", "sender is required")
	}
	if msg.ToUserID == "" {
		return apperrors.NewValidationError("to_user_id", "", "recipient is required")
	}

	switch msg.MessageType {
	case models.MessageKindImage:
		if msg.MediaURL == "" {
			return apperrors.NewValidationError("media_url", "", "image message requires a media reference")
		}
	case models.MessageKindText:
		if msg.MediaURL != "" {
			return apperrors.NewValidationError("message_type", string(msg.MessageType), "message with media must be an image message")
		}
		if msg.Text == "" {
			return apperrors.NewValidationError("text", "", "text message requires text")
		}
	default:
		return apperrors.NewValidationError("message_type", string(msg.MessageType), "unknown message kind")
	}
	return nil
}

// Transcript returns every message exchanged between a and b, oldest
// first, ties broken by insertion order.
func (d *Database) Transcript(ctx context.Context, a, b string) ([]*models.Message, error) {
	rows, err := d.db.QueryContext(ctx, SelectTranscriptQuery, a, b, b, a)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load transcript", err)
	}
	defer rows.Close()

	return d.scanMessages(rows)
}

// MarkSeen flags every unseen message from senderID to recipientID as seen
// and returns how many changed.
func (d *Database) MarkSeen(ctx context.Context, recipientID, senderID string) (int64, error) {
	var affected int64
	err := retryableDBOperationNoReturn(ctx, func() error {
		result, err := d.db.ExecContext(ctx, MarkSeenQuery, d.utcNow(), recipientID, senderID)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	}, "mark seen")
	if err != nil {
		return 0, apperrors.NewDatabaseError("mark seen", err)
	}
	return affected, nil
}

// RecentConversations returns the newest message from each distinct sender
// to userID, newest first.
func (d *Database) RecentConversations(ctx context.Context, userID string) ([]*models.Message, error) {
	rows, err := d.db.QueryContext(ctx, SelectRecentConversationsQuery, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load recent conversations", err)
	}
	defer rows.Close()

	return d.scanMessages(rows)
}

// CountUnseen returns how many messages addressed to userID are unseen.
func (d *Database) CountUnseen(ctx context.Context, userID string) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, CountUnseenQuery, userID).Scan(&count); err != nil {
		return 0, apperrors.NewDatabaseError("count unseen", err)
	}
	return count, nil
}

func (d *Database) scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	messages := make([]*models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var text string
		if err := rows.Scan(
			&msg.ID,
			&msg.FromUserID,
			&msg.ToUserID,
			&text,
			&msg.MessageType,
			&msg.MediaURL,
			&msg.Seen,
			&msg.CreatedAt,
			&msg.UpdatedAt,
		); err != nil {
			return nil, apperrors.NewDatabaseError("scan message", err)
		}

		plain, err := d.encryptor.Decrypt(text)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt message %s: %w", msg.ID, err)
		}
		msg.Text = plain
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate messages", err)
	}
	return messages, nil
}
