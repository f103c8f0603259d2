package server

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/appforge/internal/config"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string // config.AuthNone, config.AuthAPIKey or config.AuthJWT
	APIKey    string
	JWTSecret string
}

// leeway tolerates clock skew on exp and nbf.
const leeway = 30 * time.Second

// NewAuthMiddleware returns a fiber middleware that validates the
// Authorization header. The caller identity is stored in Locals("subject").
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
	)
	keyFunc := func(*jwt.Token) (any, error) { return []byte(cfg.JWTSecret), nil }

	return func(c *fiber.Ctx) error {
		if cfg.Mode == "" || cfg.Mode == config.AuthNone {
			c.Locals("subject", "anonymous")
			return c.Next()
		}

		path := c.Path()
		if isProbe(path) || c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		switch cfg.Mode {
		case config.AuthAPIKey:
			if cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) == 1 {
				c.Locals("subject", "api-key")
				return c.Next()
			}
			logger.Warn().Str("path", path).Str("method", c.Method()).Msg("unauthorized request: invalid API key")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_api_key", "Unauthorized",
				"Invalid API key")

		case config.AuthJWT:
			claims := &jwt.RegisteredClaims{}
			if _, err := parser.ParseWithClaims(token, claims, keyFunc); err != nil {
				logger.Warn().Err(err).Str("path", path).Str("method", c.Method()).Msg("unauthorized request: invalid token")
				return problemResponse(c, fiber.StatusUnauthorized,
					"invalid_token", "Unauthorized",
					"Invalid or expired token")
			}
			c.Locals("subject", claims.Subject)
			return c.Next()
		}

		return problemResponse(c, fiber.StatusInternalServerError,
			"auth_misconfigured", "Internal Server Error",
			"Unknown auth mode")
	}
}
