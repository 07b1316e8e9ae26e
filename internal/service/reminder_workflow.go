package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"pingup/internal/constants"
	apperrors "pingup/internal/errors"
	"pingup/internal/metrics"
	"pingup/internal/models"
	"pingup/internal/workflow"
	"pingup/pkg/email"

	"github.com/sirupsen/logrus"
)

const (
	stepNotify        = "notify"
	stepWaitForRemind = "wait-for-reminder"
	stepRemind        = "remind"
	connectionsPath   = "/connections"
	connectionSubject = "👋 New Connection Request"
	reminderSubject   = "👋 Reminder: Pending Connection Request"
	emailKindInitial  = "initial"
	emailKindReminder = "reminder"
	skipReasonNoEmail = "no_email"
)

var connectionEmailTemplate = template.Must(template.New("connection-request").Parse(`<div style="font-family: Arial, sans-serif; padding: 20px;">
  <h2>Hi {{.TargetName}},</h2>
  <p>{{.Lead}} {{.RequesterName}}{{if .RequesterUsername}} - @{{.RequesterUsername}}{{end}}</p>
  <p>Click <a href="{{.ConnectionsURL}}" style="color: #10b981;">here</a> to accept or reject the request</p>
  <br/>
  <p>Thanks,<br/>PingUp - Stay Connected</p>
</div>`))

type connectionEmail struct {
	TargetName        string
	Lead              string
	RequesterName     string
	RequesterUsername string
	ConnectionsURL    string
}

// ConnectionLoader reads connections owned by the social graph.
type ConnectionLoader interface {
	GetConnection(ctx context.Context, connectionID string) (*models.Connection, error)
}

type notifyResult struct {
	Sent    bool   `json:"sent"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type remindResult struct {
	Skipped bool                    `json:"skipped"`
	Status  models.ConnectionStatus `json:"status,omitempty"`
	Reason  string                  `json:"reason,omitempty"`
	Sent    bool                    `json:"sent,omitempty"`
}

// ReminderOutput is the output of a completed reminder run.
type ReminderOutput struct {
	ReminderSent bool `json:"reminder_sent"`
}

// ReminderWorkflow emails the target of a connection request right away,
// and again after a delay if the request is still pending.
type ReminderWorkflow struct {
	connections ConnectionLoader
	directory   *DirectoryService
	mailer      email.Sender
	delay       time.Duration
	appURL      string
	logger      *logrus.Logger
}

func NewReminderWorkflow(connections ConnectionLoader, directory *DirectoryService, mailer email.Sender, delay time.Duration, appURL string, logger *logrus.Logger) *ReminderWorkflow {
	if delay <= 0 {
		delay = constants.DefaultReminderDelayHours * time.Hour
	}
	return &ReminderWorkflow{
		connections: connections,
		directory:   directory,
		mailer:      mailer,
		delay:       delay,
		appURL:      strings.TrimSuffix(appURL, "/"),
		logger:      logger,
	}
}

// Definition registers the workflow with an engine.
func (w *ReminderWorkflow) Definition() workflow.Definition {
	return workflow.Definition{
		Type: constants.WorkflowConnectionRequestReminder,
		Run:  w.run,
	}
}

func (w *ReminderWorkflow) run(ctx context.Context, rc *workflow.RunContext) (any, error) {
	var payload models.ReminderPayload
	if err := rc.Payload(&payload); err != nil {
		return nil, err
	}
	if payload.ConnectionID == "" {
		return nil, workflow.Permanent(apperrors.NewValidationError("connection_id", "", "connection id is required"))
	}

	var notified notifyResult
	err := rc.StepInto(stepNotify, func(ctx context.Context) (any, error) {
		return w.notify(ctx, rc.RunID(), payload.ConnectionID)
	}, &notified)
	if err != nil {
		return nil, err
	}

	if err := rc.Sleep(stepWaitForRemind, w.delay); err != nil {
		return nil, err
	}

	var reminded remindResult
	err = rc.StepInto(stepRemind, func(ctx context.Context) (any, error) {
		return w.remind(ctx, rc.RunID(), payload.ConnectionID)
	}, &reminded)
	if err != nil {
		return nil, err
	}

	return ReminderOutput{ReminderSent: reminded.Sent}, nil
}

func (w *ReminderWorkflow) notify(ctx context.Context, runID, connectionID string) (notifyResult, error) {
	conn, err := w.loadConnection(ctx, connectionID)
	if err != nil {
		return notifyResult{}, err
	}
	sent, err := w.sendConnectionEmail(ctx, runID, stepNotify, conn, emailKindInitial)
	if err != nil {
		return notifyResult{}, err
	}
	if !sent {
		return notifyResult{Skipped: true, Reason: skipReasonNoEmail}, nil
	}
	return notifyResult{Sent: true}, nil
}

// remind reloads the connection, since the target may have answered the
// request while the run was suspended.
func (w *ReminderWorkflow) remind(ctx context.Context, runID, connectionID string) (remindResult, error) {
	conn, err := w.connections.GetConnection(ctx, connectionID)
	if err != nil {
		return remindResult{}, err
	}
	if conn == nil || conn.Status != models.ConnectionPending {
		status := models.ConnectionStatus("deleted")
		if conn != nil {
			status = conn.Status
		}
		metrics.IncrementCounter("reminders_skipped_total", map[string]string{"status": string(status)}, "Reminders not sent because the request was no longer pending")
		w.logger.WithFields(logrus.Fields{
			LogFieldRunID:        runID,
			LogFieldConnectionID: connectionID,
			"connection_status":  status,
		}).Info("Connection request no longer pending, skipping reminder")
		return remindResult{Skipped: true, Status: status}, nil
	}

	sent, err := w.sendConnectionEmail(ctx, runID, stepRemind, conn, emailKindReminder)
	if err != nil {
		return remindResult{}, err
	}
	if !sent {
		return remindResult{Skipped: true, Status: conn.Status, Reason: skipReasonNoEmail}, nil
	}
	return remindResult{Sent: true}, nil
}

func (w *ReminderWorkflow) loadConnection(ctx context.Context, connectionID string) (*models.Connection, error) {
	conn, err := w.connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, apperrors.NewNotFoundError("connection", connectionID)
	}
	return conn, nil
}

// sendConnectionEmail reports false without error when the target has no
// address to write to.
func (w *ReminderWorkflow) sendConnectionEmail(ctx context.Context, runID, step string, conn *models.Connection, kind string) (bool, error) {
	target, err := w.directory.GetProfile(ctx, conn.ToUserID)
	if err != nil {
		return false, err
	}
	if target.Email == "" {
		metrics.IncrementCounter("reminder_emails_skipped_total", map[string]string{"kind": kind, "reason": skipReasonNoEmail}, "Connection request emails not sent")
		w.logger.WithFields(logrus.Fields{
			LogFieldRunID:        runID,
			LogFieldStep:         step,
			LogFieldConnectionID: conn.ID,
			LogFieldUserID:       SanitizeUserID(ctx, conn.ToUserID),
		}).Warn("Connection request target has no email address, skipping email")
		return false, nil
	}
	requester := w.directory.ProfileOrPlaceholder(ctx, conn.FromUserID)

	body, subject, err := w.render(target, requester, kind)
	if err != nil {
		return false, workflow.Permanent(err)
	}

	err = w.mailer.Send(ctx, email.Message{
		To:             target.Email,
		Subject:        subject,
		HTML:           body,
		IdempotencyKey: runID + ":" + step,
	})
	if err != nil {
		return false, err
	}

	metrics.IncrementCounter("reminder_emails_sent_total", map[string]string{"kind": kind}, "Connection request emails sent")
	w.logger.WithFields(logrus.Fields{
		LogFieldRunID:        runID,
		LogFieldStep:         step,
		LogFieldConnectionID: conn.ID,
		"to":                 SanitizeEmail(ctx, target.Email),
	}).Info("Connection request email sent")
	return true, nil
}

func (w *ReminderWorkflow) render(target, requester *models.UserProfile, kind string) (string, string, error) {
	data := connectionEmail{
		TargetName:        target.GetDisplayName(),
		Lead:              "You have a new connection request from",
		RequesterName:     requester.GetDisplayName(),
		RequesterUsername: requester.Username,
		ConnectionsURL:    w.appURL + connectionsPath,
	}
	subject := connectionSubject
	if kind == emailKindReminder {
		data.Lead = "You still have a pending connection request from"
		subject = reminderSubject
	}

	var buf bytes.Buffer
	if err := connectionEmailTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s email: %w", kind, err)
	}
	return buf.String(), subject, nil
}
