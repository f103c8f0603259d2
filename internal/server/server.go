// Package server exposes the generation pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/appforge/internal/health"
	"github.com/p-blackswan/appforge/internal/metrics"
	"github.com/p-blackswan/appforge/internal/requestid"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
}

// ProblemDetail is an RFC 7807 error body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Server is the HTTP API fiber application.
type Server struct {
	app     *fiber.App
	limiter *rateLimiter
	logger  zerolog.Logger
	config  Config
}

// New creates the server and registers every route. checker and m may be
// nil.
func New(cfg Config, h *Handlers, checker *health.Checker, m *metrics.Metrics, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "http_server").Logger()
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
		BodyLimit:             16 * 1024 * 1024,
	})

	s := &Server{app: app, logger: logger, config: cfg}
	s.setupMiddleware(cfg, m)
	s.setupRoutes(h, checker, m)
	return s
}

func (s *Server) setupMiddleware(cfg Config, m *metrics.Metrics) {
	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	s.app.Use(requestid.Middleware())

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + requestid.Header,
			AllowMethods: "GET, POST, OPTIONS",
		}))
	}

	s.app.Use(observe(s.logger, m))

	if cfg.RateLimit.RPS > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit)
		s.app.Use(s.limiter.handler())
	}

	s.app.Use(NewAuthMiddleware(cfg.Auth, s.logger))
}

func (s *Server) setupRoutes(h *Handlers, checker *health.Checker, m *metrics.Metrics) {
	s.app.Get("/healthz", health.Liveness)
	if checker != nil {
		s.app.Get("/readyz", checker.Readiness)
	} else {
		s.app.Get("/readyz", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"status": "ready"})
		})
	}
	if m != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	v1 := s.app.Group("/api/v1")
	v1.Post("/generate", h.Generate)
	v1.Post("/chat/intent", h.ChatIntent)
	v1.Post("/schema/validate", h.ValidateSchema)
	v1.Post("/schema/diff", h.DiffSchemas)
	v1.Post("/templates/generate", h.GenerateTemplates)
	v1.Get("/projects/:id/files", h.ProjectFiles)
}

// Start listens on the configured address. It blocks until the server stops.
func (s *Server) Start() error {
	addr := s.config.Addr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("http server starting")
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("http server shutting down")
	if s.limiter != nil {
		s.limiter.stop()
	}
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// observe logs every API request and records its latency. Probes are
// measured but not logged.
func observe(logger zerolog.Logger, m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			// Let the error handler set the final status before it is read.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		route := c.Route().Path
		if m != nil {
			m.ObserveHTTP(c.Method(), route, status, time.Since(start))
		}
		if !isProbe(c.Path()) {
			reqLogger := requestid.Logger(c.UserContext(), logger)
			reqLogger.Info().
				Str("method", c.Method()).
				Str("path", c.Path()).
				Int("status", status).
				Str("ip", c.IP()).
				Dur("duration", time.Since(start)).
				Msg("api request")
		}
		return nil
	}
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error().Err(err).Int("status", code).Str("path", c.Path()).Str("method", c.Method()).Msg("unhandled error")
		}

		title := "Internal Server Error"
		detail := "An internal error occurred"
		errType := "internal_error"
		if code < fiber.StatusInternalServerError {
			title = statusTitle(code)
			detail = err.Error()
			errType = "request_error"
		}
		return problemResponse(c, code, errType, title, detail)
	}
}

func statusTitle(code int) string {
	if msg := fiber.NewError(code).Message; msg != "" {
		return msg
	}
	return "Error"
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	c.Status(status)
	c.Set(fiber.HeaderContentType, "application/problem+json")
	body, err := json.Marshal(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
	if err != nil {
		return err
	}
	return c.Send(body)
}
