package requestid

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ctx, id := New(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	id := FromContext(context.Background())
	assert.NotEmpty(t, id) // generates new UUID
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "test-123")
	assert.Equal(t, "test-123", FromContext(ctx))
}

func TestMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(Get(c) + "|" + FromContext(c.UserContext()))
	})

	t.Run("propagates inbound id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(Header, "abc")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, "abc", resp.Header.Get(Header))
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		assert.Equal(t, "abc|abc", body.String())
	})

	t.Run("mints one when absent", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
		require.NoError(t, err)
		assert.Len(t, resp.Header.Get(Header), 36)
	})
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	withID := Logger(WithRequestID(context.Background(), "req-9"), base)
	withID.Info().Msg("hi")
	assert.Contains(t, buf.String(), `"request_id":"req-9"`)

	buf.Reset()
	withoutID := Logger(context.Background(), base)
	withoutID.Info().Msg("hi")
	assert.NotContains(t, buf.String(), "request_id")
}
