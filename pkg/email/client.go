package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "pingup/internal/errors"
	"pingup/internal/models"
	"pingup/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

const (
	serviceName       = "email"
	maxErrorBodyBytes = 1024
	breakerFailures   = 5
	breakerTimeout    = time.Minute
)

// Message is a single transactional email.
type Message struct {
	To      string
	Subject string
	HTML    string
	// IdempotencyKey lets the provider drop a resend of the same logical
	// email after a crash between sending and recording the send.
	IdempotencyKey string
}

// Sender delivers transactional email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Client posts JSON messages to the email provider's HTTP API.
type Client struct {
	apiURL  string
	apiKey  string
	from    string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *logrus.Logger
}

func NewClient(cfg models.EmailConfig, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		timeout := time.Duration(cfg.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &Client{
		apiURL: strings.TrimSuffix(cfg.APIURL, "/"),
		apiKey: cfg.APIKey,
		from:   cfg.Sender,
		client: httpClient,
		breaker: circuitbreaker.New(serviceName, breakerFailures, breakerTimeout,
			circuitbreaker.WithLogger(logger),
			circuitbreaker.WithFailurePredicate(apperrors.IsRetryable)),
		logger: logger,
	}
}

func (c *Client) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return apperrors.NewValidationError("to", "", "recipient address is required")
	}
	if msg.Subject == "" {
		return apperrors.NewValidationError("subject", "", "subject is required")
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.send(ctx, msg)
	})
	if circuitbreaker.IsCircuitBreakerError(err) {
		return apperrors.NewUpstreamError(serviceName, c.apiURL, http.StatusServiceUnavailable, err)
	}
	return err
}

func (c *Client) send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(sendRequest{
		From:    c.from,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if msg.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", msg.IdempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewUpstreamError(serviceName, c.apiURL, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return apperrors.NewUpstreamError(serviceName, c.apiURL, resp.StatusCode,
			fmt.Errorf("send failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.WithField("subject", msg.Subject).Debug("Email accepted by provider")
	return nil
}

// Stats exposes the send breaker for metrics.
func (c *Client) Stats() circuitbreaker.Stats {
	return c.breaker.GetStats()
}
