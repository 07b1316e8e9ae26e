package service

import (
	"context"
	"strings"
	"time"

	"pingup/internal/constants"
	apperrors "pingup/internal/errors"
	"pingup/internal/metrics"
	"pingup/internal/models"
	"pingup/internal/registry"
	"pingup/internal/tracing"
	"pingup/internal/validation"
	"pingup/pkg/media"
	"pingup/pkg/storage"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// MessageStore is the write side of the message store.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
}

// LivePusher hands events to online users.
type LivePusher interface {
	Push(userID string, ev registry.Event) registry.PushResult
}

// SendRequest is one send from an authenticated user.
type SendRequest struct {
	SenderID      string
	RecipientID   string
	Text          string
	Media         []byte
	MediaFilename string
}

// DeliveryService creates messages and notifies online recipients.
type DeliveryService struct {
	store         MessageStore
	uploader      storage.Uploader
	pusher        LivePusher
	directory     *DirectoryService
	mediaConfig   models.MediaConfig
	maxTextLength int
	logger        *logrus.Logger
}

func NewDeliveryService(store MessageStore, uploader storage.Uploader, pusher LivePusher, directory *DirectoryService, mediaConfig models.MediaConfig, logger *logrus.Logger) *DeliveryService {
	return &DeliveryService{
		store:         store,
		uploader:      uploader,
		pusher:        pusher,
		directory:     directory,
		mediaConfig:   mediaConfig,
		maxTextLength: constants.DefaultMaxTextLength,
		logger:        logger,
	}
}

// Send validates the request, uploads media if present and persists the
// message. Nothing is persisted when validation, the recipient lookup or
// the upload fails. Send does not notify the recipient; callers invoke
// Notify once the sender's response is prepared.
func (s *DeliveryService) Send(ctx context.Context, req SendRequest) (msg *models.Message, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "delivery.send",
		attribute.Bool("message.has_media", len(req.Media) > 0))
	defer func() { tracing.EndSpan(span, err) }()

	if err := s.validate(req); err != nil {
		metrics.IncrementCounter("messages_rejected_total", map[string]string{"reason": "validation"}, "Send requests rejected before persistence")
		return nil, err
	}

	if _, err := s.directory.GetProfile(ctx, req.RecipientID); err != nil {
		if apperrors.IsNotFound(err) {
			metrics.IncrementCounter("messages_rejected_total", map[string]string{"reason": "unknown_recipient"}, "Send requests rejected before persistence")
		}
		return nil, err
	}

	message := &models.Message{
		FromUserID:  req.SenderID,
		ToUserID:    req.RecipientID,
		Text:        req.Text,
		MessageType: models.MessageKindText,
	}

	if len(req.Media) > 0 {
		mediaURL, err := s.uploadMedia(ctx, req)
		if err != nil {
			return nil, err
		}
		message.MediaURL = mediaURL
		message.MessageType = models.MessageKindImage
	}

	stored, err := s.store.AppendMessage(ctx, message)
	if err != nil {
		return nil, err
	}

	labels := map[string]string{"message_type": string(stored.MessageType)}
	metrics.IncrementCounter("messages_sent_total", labels, "Messages persisted")
	metrics.RecordTimer("message_send_duration", time.Since(start), labels, "Time to validate, upload and persist a message")

	LogWithContext(ctx, s.logger).WithFields(logrus.Fields{
		LogFieldMessageID:   stored.ID,
		LogFieldSenderID:    SanitizeUserID(ctx, stored.FromUserID),
		LogFieldRecipientID: SanitizeUserID(ctx, stored.ToUserID),
		LogFieldMessageType: stored.MessageType,
	}).Info("Message stored")

	return stored, nil
}

func (s *DeliveryService) validate(req SendRequest) error {
	if err := validation.ValidateUserID("sender", req.SenderID); err != nil {
		return err
	}
	if err := validation.ValidateUserID("to_user_id", req.RecipientID); err != nil {
		return err
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Media) == 0 {
		return apperrors.NewValidationError("message", "", "message must have text or an image")
	}
	if req.Text != "" {
		if err := validation.ValidateText(req.Text, s.maxTextLength); err != nil {
			return err
		}
	}
	return nil
}

func (s *DeliveryService) uploadMedia(ctx context.Context, req SendRequest) (string, error) {
	img, err := media.Inspect(req.Media, s.mediaConfig)
	if err != nil {
		metrics.IncrementCounter("messages_rejected_total", map[string]string{"reason": "media"}, "Send requests rejected before persistence")
		return "", err
	}

	ctx, span := tracing.StartSpan(ctx, "storage.upload",
		attribute.String("media.type", img.ContentType),
		attribute.Int64("media.size_bytes", img.Size()))
	mediaURL, err := s.uploader.Upload(ctx, img.Data, img.Filename)
	tracing.EndSpan(span, err)
	if err != nil {
		metrics.IncrementCounter("media_upload_failures_total", nil, "Failed media uploads")
		LogWithContext(ctx, s.logger).WithError(err).WithFields(logrus.Fields{
			LogFieldSenderID:  SanitizeUserID(ctx, req.SenderID),
			LogFieldMediaType: img.ContentType,
			LogFieldSize:      img.Size(),
		}).Warn("Media upload failed, message not stored")
		if !apperrors.IsUpstream(err) {
			err = apperrors.NewUpstreamError("storage", "upload", 0, err)
		}
		return "", err
	}
	return mediaURL, nil
}

// Notify pushes a stored message to the recipient's live stream if one is
// registered. The outcome is logged and returned for tests; it is never an
// error for the sender.
func (s *DeliveryService) Notify(ctx context.Context, msg *models.Message) registry.PushResult {
	payload := models.MessageWithSender{
		Message:  msg,
		FromUser: s.directory.ProfileOrPlaceholder(ctx, msg.FromUserID),
	}

	result := s.pusher.Push(msg.ToUserID, registry.Event{Name: registry.EventMessage, Data: payload})

	entry := LogWithContext(ctx, s.logger).WithFields(logrus.Fields{
		LogFieldMessageID:   msg.ID,
		LogFieldRecipientID: SanitizeUserID(ctx, msg.ToUserID),
		LogFieldPushResult:  result.String(),
	})
	if result == registry.PushDropped {
		entry.Warn("Live stream buffer full, message left for history")
	} else {
		entry.Debug("Live push attempted")
	}
	return result
}
