package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"pingup/internal/constants"
	apperrors "pingup/internal/errors"
	"pingup/internal/features"
	"pingup/internal/httputil"
	"pingup/internal/middleware"
	"pingup/internal/models"
	"pingup/internal/registry"
	"pingup/internal/service"
	"pingup/internal/stream"
	"pingup/internal/tracing"
	"pingup/internal/validation"
	"pingup/internal/workflow"
	"pingup/pkg/circuitbreaker"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	maxRequestBodyBytes = int64(constants.DefaultMaxRequestBodyMB) * constants.BytesPerMegabyte
	maxEventBodyBytes   = int64(64 * 1024)
)

type messageSender interface {
	Send(ctx context.Context, req service.SendRequest) (*models.Message, error)
	Notify(ctx context.Context, msg *models.Message) registry.PushResult
}

type historyReader interface {
	GetConversation(ctx context.Context, current, counterpart string) ([]*models.Message, error)
	GetInbox(ctx context.Context, current string) ([]models.InboxEntry, error)
	CountUnseen(ctx context.Context, current string) (int, error)
}

type breakerReporter interface {
	Stats() circuitbreaker.Stats
}

type userEventApplier interface {
	ApplyUserEvent(ctx context.Context, event models.UserEvent) error
}

type workflowRunner interface {
	Start(ctx context.Context, workflowType string, payload any, opts ...workflow.StartOption) (string, error)
	GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error)
}

type healthChecker interface {
	Ping(ctx context.Context) error
}

type serverDeps struct {
	delivery  messageSender
	history   historyReader
	directory userEventApplier
	workflows workflowRunner
	registry  *registry.Registry
	health    healthChecker
	auth      *Authenticator
	limiter   *RateLimiter
	flags     *features.FlagManager
	breakers  []breakerReporter
}

type Server struct {
	cfg       *models.Config
	router    *mux.Router
	logger    *logrus.Logger
	errLogger *apperrors.Logger
	verbose   bool
	server    *http.Server

	delivery  messageSender
	history   historyReader
	directory userEventApplier
	workflows workflowRunner
	registry  *registry.Registry
	health    healthChecker
	auth      *Authenticator
	limiter   *RateLimiter
	flags     *features.FlagManager
	breakers  []breakerReporter
}

type messageResponse struct {
	Success bool            `json:"success"`
	Message *models.Message `json:"message"`
}

type messagesResponse struct {
	Success  bool `json:"success"`
	Messages any  `json:"messages"`
}

type unseenResponse struct {
	Success bool `json:"success"`
	Unseen  int  `json:"unseen"`
}

type runStartedResponse struct {
	Success bool   `json:"success"`
	RunID   string `json:"run_id,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

type runResponse struct {
	Success bool                `json:"success"`
	Run     *models.WorkflowRun `json:"run"`
}

type conversationRequest struct {
	ToUserID string `json:"to_user_id"`
}

type sendRequestBody struct {
	ToUserID string `json:"to_user_id"`
	Text     string `json:"text"`
}

func NewServer(cfg *models.Config, deps serverDeps, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		cfg:       cfg,
		router:    mux.NewRouter(),
		logger:    logger,
		errLogger: apperrors.WrapLogger(logger),
		verbose:   verbose,
		delivery:  deps.delivery,
		history:   deps.history,
		directory: deps.directory,
		workflows: deps.workflows,
		registry:  deps.registry,
		health:    deps.health,
		auth:      deps.auth,
		limiter:   deps.limiter,
		flags:     deps.flags,
		breakers:  deps.breakers,
	}
	if s.flags == nil {
		s.flags = features.NewFlagManager()
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	s.router.Use(s.verboseMiddleware)
	s.router.Use(middleware.DebugLoggingMiddleware(s.logger, middleware.DefaultDebugLoggingConfig()))

	s.router.HandleFunc("/", s.handleRoot()).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	message := s.router.PathPrefix("/api/message").Subrouter()

	// Stream routes authenticate inline: browsers cannot set headers on them.
	message.HandleFunc("/ws/{userId}", s.handleWebSocketStream()).Methods(http.MethodGet)

	authed := message.NewRoute().Subrouter()
	authed.Use(s.auth.Middleware)
	authed.HandleFunc("/send", s.handleSend()).Methods(http.MethodPost)
	authed.HandleFunc("/get", s.handleConversation()).Methods(http.MethodPost)
	authed.HandleFunc("/inbox", s.handleInbox()).Methods(http.MethodGet)
	authed.HandleFunc("/recent", s.handleInbox()).Methods(http.MethodPost)
	authed.HandleFunc("/unseen", s.handleUnseen()).Methods(http.MethodGet)

	message.HandleFunc("/{userId}", s.handleSSEStream()).Methods(http.MethodGet)

	events := s.router.PathPrefix("/api/events").Subrouter()
	events.HandleFunc("/connection-request", s.handleConnectionRequestEvent()).Methods(http.MethodPost)
	events.HandleFunc("/user", s.handleUserEvent()).Methods(http.MethodPost)

	s.router.HandleFunc("/api/workflows/runs/{runId}", s.handleGetRun()).Methods(http.MethodGet)
}

// Handler returns the router wrapped in CORS handling. Preflight requests
// are answered before routing.
func (s *Server) Handler() http.Handler {
	return middleware.CORS(s.cfg.Server.AllowedOrigins)(s.router)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) verboseMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(service.WithVerbose(r.Context(), s.verbose)))
	})
}

// writeError logs err and writes the failure envelope.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, message string) {
	ctx := r.Context()
	status := httputil.WriteError(w, err, tracing.GetRequestID(ctx))
	fields := logrus.Fields{
		service.LogFieldRequestID:  tracing.GetRequestID(ctx),
		service.LogFieldEndpoint:   r.URL.Path,
		service.LogFieldStatusCode: status,
	}
	if userID := userIDFromContext(ctx); userID != "" {
		fields[service.LogFieldUserID] = service.SanitizeUserID(ctx, userID)
	}
	if status >= http.StatusInternalServerError {
		s.errLogger.LogError(err, message, fields)
	} else {
		s.errLogger.LogWarn(err, message, fields)
	}
}

func (s *Server) handleRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Server is running"))
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.health.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("Health check failed")
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// authorizeStream checks that the caller owns the stream being opened.
func (s *Server) authorizeStream(r *http.Request, userID string) error {
	if err := validation.ValidateUserID("userId", userID); err != nil {
		return err
	}
	subject, err := s.auth.Verify(streamToken(r))
	if err != nil {
		return err
	}
	if subject != userID {
		return apperrors.New(apperrors.ErrCodeAuthorization, "stream requested for another user").
			WithUserMessage("Not allowed to open this stream")
	}
	return nil
}

func (s *Server) handleSSEStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := mux.Vars(r)["userId"]
		if err := s.authorizeStream(r, userID); err != nil {
			s.writeError(w, r, err, "Rejected live stream")
			return
		}

		sse, err := stream.NewSSE(w, s.cfg.Server.StreamBufferSize, time.Duration(s.cfg.Server.StreamHeartbeatSec)*time.Second)
		if err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "streaming unsupported"), "Failed to open live stream")
			return
		}
		s.serveStream(ctx, userID, "sse", sse, sse.Run)
	}
}

func (s *Server) handleWebSocketStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := mux.Vars(r)["userId"]
		if !s.flags.IsEnabled(features.FlagWebSocketStreams) {
			s.writeError(w, r, apperrors.NewNotFoundError("route", r.URL.Path), "WebSocket streams disabled")
			return
		}
		if err := s.authorizeStream(r, userID); err != nil {
			s.writeError(w, r, err, "Rejected live stream")
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: s.cfg.Server.AllowedOrigins,
		})
		if err != nil {
			// Accept has already written the failure response.
			s.logger.WithError(err).Warn("WebSocket upgrade failed")
			return
		}
		defer conn.CloseNow()

		ws := stream.NewWebSocket(conn, s.cfg.Server.StreamBufferSize, time.Duration(s.cfg.Server.StreamHeartbeatSec)*time.Second)
		s.serveStream(ctx, userID, "websocket", ws, ws.Run)
	}
}

// serveStream registers the stream, confirms the connection and blocks in
// run until the client goes away or the stream is closed.
func (s *Server) serveStream(ctx context.Context, userID, transport string, st registry.Stream, run func(context.Context) error) {
	s.registry.Register(userID, st)
	defer s.registry.Unregister(userID, st)

	st.Send(registry.Event{
		Name: registry.EventConnected,
		Data: map[string]string{"message": "Connected to live stream"},
	})

	entry := s.logger.WithFields(logrus.Fields{
		service.LogFieldUserID:    service.SanitizeUserID(ctx, userID),
		service.LogFieldStreamID:  st.ID(),
		service.LogFieldTransport: transport,
	})
	entry.Info("Live stream opened")

	if err := run(ctx); err != nil {
		entry.WithError(err).Debug("Live stream write failed")
	}
	entry.Info("Live stream closed")
}

func (s *Server) handleSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		senderID := userIDFromContext(ctx)

		if s.flags.IsEnabled(features.FlagSendRateLimiting) && !s.limiter.Allow(senderID) {
			s.writeError(w, r, apperrors.NewRateLimitError(s.cfg.Server.SendBurst, "1s"), "Send rate limit exceeded")
			return
		}

		if err := validation.ValidateHTTPRequestSize(r, maxRequestBodyBytes); err != nil {
			s.writeError(w, r, err, "Rejected send request")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

		req, err := s.parseSendRequest(r)
		if err != nil {
			s.writeError(w, r, err, "Rejected send request")
			return
		}
		req.SenderID = senderID

		msg, err := s.delivery.Send(ctx, req)
		if err != nil {
			s.writeError(w, r, err, "Failed to send message")
			return
		}

		if err := httputil.WriteJSON(w, http.StatusOK, messageResponse{Success: true, Message: msg}); err != nil {
			s.logger.WithError(err).Debug("Failed to write send response")
		}

		// The message is durable; the push is best effort and must not be
		// cut short by the request finishing.
		s.delivery.Notify(context.WithoutCancel(ctx), msg)
	}
}

// parseSendRequest accepts a multipart form with an optional "image" file
// or a JSON body for text-only messages.
func (s *Server) parseSendRequest(r *http.Request) (service.SendRequest, error) {
	var req service.SendRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxRequestBodyBytes); err != nil {
			return req, bodyError(err)
		}
		req.RecipientID = r.FormValue("to_user_id")
		req.Text = r.FormValue("text")

		file, header, err := r.FormFile("image")
		if err != nil {
			if stderrors.Is(err, http.ErrMissingFile) {
				return req, nil
			}
			return req, bodyError(err)
		}
		defer file.Close()

		if !s.flags.IsEnabled(features.FlagImageUploads) {
			return req, apperrors.NewValidationError("image", header.Filename, "image uploads are disabled")
		}

		data, err := io.ReadAll(file)
		if err != nil {
			return req, bodyError(err)
		}
		req.Media = data
		req.MediaFilename = header.Filename
		return req, nil

	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return req, bodyError(err)
		}
		req.RecipientID = r.FormValue("to_user_id")
		req.Text = r.FormValue("text")
		return req, nil

	default:
		var body sendRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return req, bodyError(err)
		}
		req.RecipientID = body.ToUserID
		req.Text = body.Text
		return req, nil
	}
}

func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if stderrors.As(err, &maxErr) {
		return apperrors.NewValidationError("body", "", fmt.Sprintf("request too large (max %d bytes)", maxErr.Limit))
	}
	appErr := apperrors.NewValidationError("body", "", "malformed request body")
	appErr.Cause = err
	return appErr
}

func (s *Server) handleConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		current := userIDFromContext(ctx)

		var body conversationRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxEventBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, r, bodyError(err), "Rejected conversation request")
			return
		}

		messages, err := s.history.GetConversation(ctx, current, body.ToUserID)
		if err != nil {
			s.writeError(w, r, err, "Failed to load conversation")
			return
		}

		_ = httputil.WriteJSON(w, http.StatusOK, messagesResponse{Success: true, Messages: messages})
	}
}

func (s *Server) handleInbox() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		entries, err := s.history.GetInbox(ctx, userIDFromContext(ctx))
		if err != nil {
			s.writeError(w, r, err, "Failed to load inbox")
			return
		}

		_ = httputil.WriteJSON(w, http.StatusOK, messagesResponse{Success: true, Messages: entries})
	}
}

func (s *Server) handleUnseen() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		count, err := s.history.CountUnseen(ctx, userIDFromContext(ctx))
		if err != nil {
			s.writeError(w, r, err, "Failed to count unseen messages")
			return
		}

		_ = httputil.WriteJSON(w, http.StatusOK, unseenResponse{Success: true, Unseen: count})
	}
}

func (s *Server) handleConnectionRequestEvent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body, err := verifySignature(r, s.cfg.Workflow.EventsSecret, SignatureHeader, maxEventBodyBytes)
		if err != nil {
			s.writeError(w, r, apperrors.NewAuthError(err.Error()), "Rejected connection request event")
			return
		}

		var event models.ConnectionRequestEvent
		if err := json.Unmarshal(body, &event); err != nil {
			s.writeError(w, r, bodyError(err), "Rejected connection request event")
			return
		}
		if err := validation.ValidateConnectionID(event.ConnectionID); err != nil {
			s.writeError(w, r, err, "Rejected connection request event")
			return
		}
		if err := validation.ValidateEventID(event.EventID); err != nil {
			s.writeError(w, r, err, "Rejected connection request event")
			return
		}

		if !s.flags.IsEnabled(features.FlagEmailReminders) {
			s.logger.WithFields(logrus.Fields{
				service.LogFieldConnectionID: event.ConnectionID,
				service.LogFieldRequestID:    tracing.GetRequestID(ctx),
			}).Info("Reminders disabled, connection request event ignored")
			_ = httputil.WriteJSON(w, http.StatusAccepted, runStartedResponse{Success: true, Skipped: true})
			return
		}

		dedupeKey := "connection-request:" + event.ConnectionID
		if event.EventID != "" {
			dedupeKey = "event:" + event.EventID
		}

		runID, err := s.workflows.Start(ctx, constants.WorkflowConnectionRequestReminder,
			models.ReminderPayload{ConnectionID: event.ConnectionID}, workflow.WithDedupeKey(dedupeKey))
		if err != nil {
			s.writeError(w, r, err, "Failed to start reminder workflow")
			return
		}

		s.logger.WithFields(logrus.Fields{
			service.LogFieldConnectionID: event.ConnectionID,
			service.LogFieldRunID:        runID,
			service.LogFieldRequestID:    tracing.GetRequestID(ctx),
		}).Info("Connection request event accepted")

		_ = httputil.WriteJSON(w, http.StatusAccepted, runStartedResponse{Success: true, RunID: runID})
	}
}

func (s *Server) handleUserEvent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body, err := verifySignature(r, s.cfg.Workflow.EventsSecret, SignatureHeader, maxEventBodyBytes)
		if err != nil {
			s.writeError(w, r, apperrors.NewAuthError(err.Error()), "Rejected user event")
			return
		}

		var event models.UserEvent
		if err := json.Unmarshal(body, &event); err != nil {
			s.writeError(w, r, bodyError(err), "Rejected user event")
			return
		}

		if err := s.directory.ApplyUserEvent(ctx, event); err != nil {
			s.writeError(w, r, err, "Failed to apply user event")
			return
		}

		_ = httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) handleGetRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := verifySharedSecret(r, s.cfg.Workflow.EventsSecret); err != nil {
			s.writeError(w, r, apperrors.NewAuthError(err.Error()), "Rejected run inspection")
			return
		}

		runID := mux.Vars(r)["runId"]
		if err := validation.ValidateRunID(runID); err != nil {
			s.writeError(w, r, err, "Rejected run inspection")
			return
		}

		run, err := s.workflows.GetRun(ctx, runID)
		if err != nil {
			s.writeError(w, r, err, "Failed to load workflow run")
			return
		}

		_ = httputil.WriteJSON(w, http.StatusOK, runResponse{Success: true, Run: run})
	}
}
