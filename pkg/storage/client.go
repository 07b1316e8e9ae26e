package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "pingup/internal/errors"
	"pingup/internal/models"
	"pingup/pkg/circuitbreaker"
	"pingup/pkg/media"

	"github.com/sirupsen/logrus"
)

const (
	serviceName       = "storage"
	maxErrorBodyBytes = 1024
	breakerFailures   = 5
	breakerTimeout    = 30 * time.Second
)

// Uploader stores media and returns a URL clients can fetch it from.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename string) (string, error)
}

// Client uploads files to the media storage collaborator with a multipart
// POST authenticated by the private API key.
type Client struct {
	uploadURL      string
	apiKey         string
	folder         string
	transformation string
	client         *http.Client
	breaker        *circuitbreaker.CircuitBreaker
	logger         *logrus.Logger
}

type uploadResponse struct {
	FileID   string `json:"fileId"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	FilePath string `json:"filePath"`
}

func NewClient(cfg models.StorageConfig, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		timeout := time.Duration(cfg.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &Client{
		uploadURL:      strings.TrimSuffix(cfg.UploadURL, "/"),
		apiKey:         cfg.APIKey,
		folder:         cfg.Folder,
		transformation: cfg.Transformation,
		client:         httpClient,
		breaker: circuitbreaker.New(serviceName, breakerFailures, breakerTimeout,
			circuitbreaker.WithLogger(logger),
			circuitbreaker.WithFailurePredicate(apperrors.IsRetryable)),
		logger: logger,
	}
}

// Upload stores data under filename and returns the delivery URL with the
// configured transformation applied.
func (c *Client) Upload(ctx context.Context, data []byte, filename string) (string, error) {
	var result uploadResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.upload(ctx, data, filename)
		return err
	})
	if circuitbreaker.IsCircuitBreakerError(err) {
		return "", apperrors.NewUpstreamError(serviceName, c.uploadURL, http.StatusServiceUnavailable, err)
	}
	if err != nil {
		return "", err
	}

	deliveryURL, err := c.deliveryURL(result.URL)
	if err != nil {
		return "", apperrors.NewUpstreamError(serviceName, c.uploadURL, 0, err)
	}

	c.logger.WithFields(logrus.Fields{
		"file_id":    result.FileID,
		"size_bytes": len(data),
	}).Debug("Media uploaded")

	return deliveryURL, nil
}

func (c *Client) upload(ctx context.Context, data []byte, filename string) (uploadResponse, error) {
	var result uploadResponse

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return result, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return result, fmt.Errorf("failed to write file data: %w", err)
	}
	fields := map[string]string{
		"fileName":          filename,
		"folder":            c.folder,
		"useUniqueFileName": "true",
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return result, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return result, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, body)
	if err != nil {
		return result, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.apiKey, "")

	resp, err := c.client.Do(req)
	if err != nil {
		return result, apperrors.NewUpstreamError(serviceName, c.uploadURL, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return result, apperrors.NewUpstreamError(serviceName, c.uploadURL, resp.StatusCode,
			fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, apperrors.NewUpstreamError(serviceName, c.uploadURL, resp.StatusCode,
			fmt.Errorf("failed to decode upload response: %w", err))
	}
	if result.URL == "" {
		return result, apperrors.NewUpstreamError(serviceName, c.uploadURL, resp.StatusCode,
			fmt.Errorf("upload response has no url"))
	}
	return result, nil
}

func (c *Client) deliveryURL(raw string) (string, error) {
	if err := media.ValidateMediaURL(raw); err != nil {
		return "", err
	}
	if c.transformation == "" {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("tr", c.transformation)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Stats exposes the upload breaker for metrics.
func (c *Client) Stats() circuitbreaker.Stats {
	return c.breaker.GetStats()
}
