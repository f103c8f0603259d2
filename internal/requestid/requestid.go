// Package requestid carries a per-request id through context and fiber.
package requestid

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is the HTTP header the id is read from and echoed in.
const Header = "X-Request-ID"

// localsKey stores the id in fiber locals.
const localsKey = "request_id"

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Middleware reuses an inbound X-Request-ID or mints one, echoes it on the
// response and stores it in the request's user context.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(Header)
		var ctx context.Context
		if id == "" {
			ctx, id = New(c.UserContext())
		} else {
			ctx = WithRequestID(c.UserContext(), id)
		}
		c.SetUserContext(ctx)
		c.Set(Header, id)
		c.Locals(localsKey, id)
		return c.Next()
	}
}

// Get returns the id stored by Middleware, or "".
func Get(c *fiber.Ctx) string {
	id, _ := c.Locals(localsKey).(string)
	return id
}

// Logger derives a logger tagged with the request id in ctx.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}
