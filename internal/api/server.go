// Package api serves reports over HTTP. Every report endpoint answers JSON
// by default and CSV when called with format=csv.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ahrav/go-tally/internal/application"
	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/logger"
)

// Reporter is the engine surface served over HTTP.
type Reporter interface {
	Run(ctx context.Context, req application.ReportRequest) (*domain.Report, error)
	Compare(ctx context.Context, req application.CompareRequest) (domain.Comparison, error)
	Heatmap(ctx context.Context, req application.HeatmapRequest) ([]domain.HeatmapWeight, error)
	Health() application.Health
}

// Server is the HTTP front of one Reporter.
type Server struct {
	app      *fiber.App
	reporter Reporter
	gatherer prometheus.Gatherer
	log      logrus.FieldLogger
	timeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the access and error logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) { s.log = log }
}

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithRequestTimeout bounds the time a report request may take. Zero
// leaves requests unbounded.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// NewServer builds the fiber app and registers all routes.
func NewServer(r Reporter, opts ...Option) *Server {
	s := &Server{
		reporter: r,
		log:      logger.Get(logger.HTTP),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:      "tallyd",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
		ErrorHandler: s.handleError,
	})
	s.app.Use(recoverer.New())
	s.app.Use(requestid.New())
	s.app.Use(s.accessLog)

	s.app.Get("/healthz", s.health)
	if s.gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.app.Group("/v1/reports")
	v1.Get("/candidates", s.candidates)
	v1.Get("/parties", s.parties)
	v1.Get("/geography", s.geography)
	v1.Get("/compare", s.compare)
	v1.Get("/heatmap", s.heatmap)
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) accessLog(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	var fe *fiber.Error
	if err != nil {
		status = statusFor(err)
		if errors.As(err, &fe) {
			status = fe.Code
		}
	}
	s.log.WithFields(logrus.Fields{
		"method":     c.Method(),
		"path":       c.Path(),
		"status":     status,
		"latency":    time.Since(start).String(),
		"request_id": c.GetRespHeader(fiber.HeaderXRequestID),
	}).Info("request")
	return err
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

func (s *Server) handleError(c fiber.Ctx, err error) error {
	code := statusFor(err)
	msg := err.Error()

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code, msg = fe.Code, fe.Message
	}
	if code >= fiber.StatusInternalServerError {
		s.log.WithFields(logrus.Fields{
			"path":  c.Path(),
			"error": err.Error(),
		}).Error("request failed")
	}
	return c.Status(code).JSON(errorBody{Status: code, Error: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidFilter), errors.Is(err, domain.ErrInvalidConfiguration):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrConfigurationMissing):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrKeyNotFound), errors.Is(err, domain.ErrNoBaseline):
		return fiber.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, domain.ErrSourceUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
