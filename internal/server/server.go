// Package server provides the HTTP surface: webhook ingestion from the
// source and tracker platforms, the manual sync/validate API, and the
// status and health endpoints.
//
// Webhook handlers are ingestion-first: once a delivery is
// authenticated and parsed it is acknowledged with 200 even when
// downstream propagation fails, because the upstream platforms retry
// on non-2xx and a replay would just append another record.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/trancendos/syncbridge/internal/buffer"
	"github.com/trancendos/syncbridge/internal/classify"
	"github.com/trancendos/syncbridge/internal/config"
	"github.com/trancendos/syncbridge/internal/logging"
	"github.com/trancendos/syncbridge/internal/metrics"
	"github.com/trancendos/syncbridge/internal/platform"
	"github.com/trancendos/syncbridge/internal/reconcile"
)

// webhookBodyLimit caps webhook request bodies.
const webhookBodyLimit = "1M"

// Propagator executes cross-platform propagation for ingested events.
type Propagator interface {
	PropagateFromSource(ctx context.Context, ev classify.SourceEvent) error
	PropagateFromTracker(ctx context.Context, issue platform.TrackerIssue) error
}

// Validator is the reconciliation surface behind the API routes.
type Validator interface {
	RunCycle(ctx context.Context) (reconcile.CycleResult, error)
	SyncEntity(ctx context.Context, entityID string, entityType buffer.EntityType) (string, error)
	Stats(ctx context.Context) (buffer.Stats, error)
}

// Server is the HTTP front of the sync service.
type Server struct {
	echo       *echo.Echo
	cfg        *config.Config
	store      buffer.Store
	propagator Propagator
	validator  Validator
	log        *logging.Logger
	metrics    *metrics.Metrics

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
}

// New creates the server and registers its routes.
func New(cfg *config.Config, store buffer.Store, propagator Propagator, validator Validator, log *logging.Logger, m *metrics.Metrics) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:        e,
		cfg:         cfg,
		store:       store,
		propagator:  propagator,
		validator:   validator,
		log:         log.Named("http"),
		metrics:     m,
		limiters:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}

	e.Use(s.requestLogger)
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	hooks := s.echo.Group("/webhook",
		middleware.BodyLimit(webhookBodyLimit),
		s.rateLimit,
	)
	hooks.POST("/github", s.handleGitHubWebhook)
	hooks.POST("/linear", s.handleLinearWebhook)

	api := s.echo.Group("/api")
	api.POST("/validate", s.handleValidate)
	api.POST("/sync", s.handleSync)
	api.GET("/status", s.handleStatus)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		s.log.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return err
	}
}

// rateLimit enforces a per-IP limit of 1 req/s with burst 10 on the
// webhook routes.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := c.RealIP()
		if !s.limiterFor(ip).Allow() {
			s.log.Warn(c.Request().Context(), "rate limit exceeded", zap.String("ip", ip))
			s.metrics.WebhooksRejectedTotal.WithLabelValues("any", "rate_limit").Inc()
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

// limiterFor returns the limiter for an IP. The map is flushed hourly
// so one-off senders do not accumulate forever.
func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastCleanup) > time.Hour {
		s.limiters = make(map[string]*rate.Limiter)
		s.lastCleanup = time.Now()
	}

	limiter, ok := s.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(1), 10)
		s.limiters[ip] = limiter
	}
	return limiter
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleGitHubWebhook ingests a source-platform delivery. Signature
// validation uses the shared webhook secret; a mismatch is 401 before
// any parsing.
func (s *Server) handleGitHubWebhook(c echo.Context) error {
	ctx := logging.WithDeliveryID(c.Request().Context(), github.DeliveryID(c.Request()))

	payload, err := github.ValidatePayload(c.Request(), []byte(s.cfg.GitHub.WebhookSecret.Value()))
	if err != nil {
		s.log.Warn(ctx, "invalid github webhook signature", zap.Error(err))
		s.metrics.WebhooksRejectedTotal.WithLabelValues("github", "signature").Inc()
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	event, err := github.ParseWebHook(github.WebHookType(c.Request()), payload)
	if err != nil {
		s.log.Warn(ctx, "unparseable github webhook", zap.Error(err))
		s.metrics.WebhooksRejectedTotal.WithLabelValues("github", "parse").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	s.metrics.WebhooksReceivedTotal.WithLabelValues("github").Inc()

	ev, ok := classify.DecodeSource(event)
	if !ok {
		s.log.Debug(ctx, "ignoring github event type", zap.String("type", fmt.Sprintf("%T", event)))
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	}

	s.ingestSource(ctx, ev)
	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

// ingestSource appends the observation and, when enabled, propagates
// it. Failures here never fail the delivery.
func (s *Server) ingestSource(ctx context.Context, ev classify.SourceEvent) {
	if in, ok := classify.ClassifySource(ev, time.Now().UTC()); ok {
		if _, err := s.store.Append(ctx, in); err != nil {
			s.log.Error(ctx, "appending source record failed", zap.Error(err))
		} else {
			s.metrics.RecordsAppendedTotal.WithLabelValues(string(in.Platform), string(in.EntityType)).Inc()
		}
	}

	if !s.cfg.Sync.Enabled || s.propagator == nil {
		return
	}
	if err := s.propagator.PropagateFromSource(ctx, ev); err != nil {
		s.log.Warn(ctx, "source propagation incomplete", zap.Error(err))
	}
}

// handleLinearWebhook ingests a tracker delivery. The body is
// authenticated with HMAC-SHA256 over the raw payload against the
// Linear-Signature header.
func (s *Server) handleLinearWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := readBody(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	if !platform.VerifyLinearSignature(body, s.cfg.Linear.WebhookSecret.Value(), c.Request().Header.Get("Linear-Signature")) {
		s.log.Warn(ctx, "invalid linear webhook signature")
		s.metrics.WebhooksRejectedTotal.WithLabelValues("linear", "signature").Inc()
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	event, err := classify.DecodeTracker(body)
	if err != nil {
		s.log.Warn(ctx, "unparseable linear webhook", zap.Error(err))
		s.metrics.WebhooksRejectedTotal.WithLabelValues("linear", "parse").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	s.metrics.WebhooksReceivedTotal.WithLabelValues("linear").Inc()

	s.ingestTracker(ctx, event)
	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) ingestTracker(ctx context.Context, event classify.TrackerEvent) {
	in := classify.ClassifyTracker(event, time.Now().UTC())
	if _, err := s.store.Append(ctx, in); err != nil {
		s.log.Error(ctx, "appending tracker record failed", zap.Error(err))
	} else {
		s.metrics.RecordsAppendedTotal.WithLabelValues(string(in.Platform), string(in.EntityType)).Inc()
	}

	if !s.cfg.Sync.Enabled || s.propagator == nil {
		return
	}
	if event.Type != "Issue" || event.Action == "remove" {
		return
	}
	stateName := event.Data.StateName
	if stateName == "" {
		stateName = event.Data.StateType
	}
	issue := platform.TrackerIssue{
		ID:          event.Data.ID,
		Identifier:  event.Data.Identifier,
		Title:       event.Data.Title,
		Description: event.Data.Description,
		URL:         event.Data.URL,
		State:       platform.TrackerState{Name: stateName, Type: event.Data.StateType},
	}
	if err := s.propagator.PropagateFromTracker(ctx, issue); err != nil {
		s.log.Warn(ctx, "tracker propagation incomplete", zap.Error(err))
	}
}

// handleValidate runs a reconciliation cycle synchronously.
func (s *Server) handleValidate(c echo.Context) error {
	result, err := s.validator.RunCycle(c.Request().Context())
	if err != nil {
		s.log.Error(c.Request().Context(), "validation cycle failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// SyncRequest is the body of POST /api/sync.
type SyncRequest struct {
	EntityID   string `json:"entityId"`
	EntityType string `json:"entityType"`
}

// SyncResponse is the body of a successful POST /api/sync.
type SyncResponse struct {
	RecordID string `json:"recordId"`
	Status   string `json:"status"`
}

// handleSync records a manual sync request. The remote mutation is not
// wired yet, so the response is 202: recorded, picked up by the next
// validation cycle.
func (s *Server) handleSync(c echo.Context) error {
	var req SyncRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.EntityID == "" || req.EntityType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "entityId and entityType are required")
	}

	id, err := s.validator.SyncEntity(c.Request().Context(), req.EntityID, buffer.EntityType(req.EntityType))
	if err != nil && !isNotImplemented(err) {
		s.log.Error(c.Request().Context(), "manual sync failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, SyncResponse{RecordID: id, Status: "recorded"})
}

func (s *Server) handleStatus(c echo.Context) error {
	stats, err := s.validator.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// Start begins serving on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	s.log.Info(context.Background(), "http server listening", zap.String("addr", addr))
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// isNotImplemented reports whether err is the explicit extension-point
// sentinel; for the API surface that means "recorded, not yet synced".
func isNotImplemented(err error) bool {
	return errors.Is(err, platform.ErrNotImplemented)
}

func readBody(c echo.Context) ([]byte, error) {
	defer c.Request().Body.Close()
	return io.ReadAll(c.Request().Body)
}
