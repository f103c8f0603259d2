package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/internal/llm"
	"github.com/p-blackswan/appforge/internal/llm/llmtest"
)

func rateLimited() error { return perrors.NewAPIError("llm", 429, "rate limited") }

func TestStream_RetriesBeforeFirstChunk(t *testing.T) {
	fake := llmtest.New().WithStreams(
		llmtest.Stream{OpenErr: rateLimited()},
		llmtest.Stream{Err: rateLimited()},
		llmtest.Stream{Chunks: []string{"he", "llo"}},
	)
	ch, err := Stream(context.Background(), fastConfig(3, nil), func(ctx context.Context) (<-chan llm.Chunk, error) {
		return fake.StreamChat(ctx, llm.ChatOptions{})
	})
	require.NoError(t, err)

	text, err := llm.Collect(context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 3, fake.CallCount())
}

func TestStream_GivesUpAfterMaxRetries(t *testing.T) {
	fake := llmtest.New().WithStreams(
		llmtest.Stream{OpenErr: rateLimited()},
		llmtest.Stream{OpenErr: rateLimited()},
		llmtest.Stream{OpenErr: rateLimited()},
		llmtest.Stream{OpenErr: rateLimited()},
		llmtest.Stream{Chunks: []string{"never"}},
	)
	_, err := Stream(context.Background(), fastConfig(3, nil), func(ctx context.Context) (<-chan llm.Chunk, error) {
		return fake.StreamChat(ctx, llm.ChatOptions{})
	})
	require.Error(t, err)
	assert.True(t, perrors.IsTransient(err))
	assert.Equal(t, 4, fake.CallCount())
}

func TestStream_NeverRetriesAfterYield(t *testing.T) {
	fake := llmtest.New().WithStreams(
		llmtest.Stream{Chunks: []string{"partial"}, Err: rateLimited()},
		llmtest.Stream{Chunks: []string{"duplicate"}},
	)
	ch, err := Stream(context.Background(), fastConfig(3, nil), func(ctx context.Context) (<-chan llm.Chunk, error) {
		return fake.StreamChat(ctx, llm.ChatOptions{})
	})
	require.NoError(t, err)

	text, err := llm.Collect(context.Background(), ch)
	assert.Equal(t, "partial", text)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrStreamInterrupted)

	var apiErr *perrors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.StatusCode)
	assert.Equal(t, 1, fake.CallCount())
}

func TestStream_PermanentErrorNotRetried(t *testing.T) {
	fake := llmtest.New().WithStreams(
		llmtest.Stream{Err: errors.New("invalid request body")},
		llmtest.Stream{Chunks: []string{"x"}},
	)
	ch, err := Stream(context.Background(), fastConfig(3, nil), func(ctx context.Context) (<-chan llm.Chunk, error) {
		return fake.StreamChat(ctx, llm.ChatOptions{})
	})
	require.NoError(t, err)
	_, err = llm.Collect(context.Background(), ch)
	require.Error(t, err)
	assert.NotErrorIs(t, err, perrors.ErrStreamInterrupted)
	assert.Equal(t, 1, fake.CallCount())
}

func TestStreamState_String(t *testing.T) {
	assert.Equal(t, "not-started", stateNotStarted.String())
	assert.Equal(t, "yielded", stateYielded.String())
	assert.Equal(t, "failed", stateFailed.String())
}

func TestProvider_ChatFallbackOnce(t *testing.T) {
	fake := llmtest.New(
		llmtest.Reply{Err: perrors.NewAPIError("llm", 404, "model: primary not found")},
		llmtest.Reply{Content: "from fallback"},
	)
	var fallbacks int
	p := NewProvider(fake, fastConfig(3, nil), zerolog.Nop(),
		WithFallbackModel("fallback-model"),
		WithHooks(Hooks{OnFallback: func(op, from, to string) { fallbacks++ }}),
	)

	res, err := p.Chat(context.Background(), llm.ChatOptions{Model: "primary"})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", res.Content)
	assert.Equal(t, 1, fallbacks)

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "primary", calls[0].Model)
	assert.Equal(t, "fallback-model", calls[1].Model)
}

func TestProvider_FallbackFailsSurfaces(t *testing.T) {
	fake := llmtest.New(
		llmtest.Reply{Err: perrors.NewAPIError("llm", 404, "not found")},
		llmtest.Reply{Err: perrors.NewAPIError("llm", 403, "forbidden")},
		llmtest.Reply{Content: "unused"},
	)
	p := NewProvider(fake, fastConfig(3, nil), zerolog.Nop(), WithFallbackModel("fb"))

	_, err := p.Chat(context.Background(), llm.ChatOptions{Model: "primary"})
	require.Error(t, err)
	assert.False(t, perrors.IsTransient(err))
	assert.Equal(t, 2, fake.CallCount())
}

func TestProvider_NoFallbackWhenAlreadyFallback(t *testing.T) {
	fake := llmtest.New(
		llmtest.Reply{Err: perrors.NewAPIError("llm", 404, "not found")},
		llmtest.Reply{Content: "unused"},
	)
	p := NewProvider(fake, fastConfig(3, nil), zerolog.Nop(), WithFallbackModel("fb"))

	_, err := p.Chat(context.Background(), llm.ChatOptions{Model: "fb"})
	require.Error(t, err)
	assert.Equal(t, 1, fake.CallCount())
}

func TestProvider_ChatRetriesTransient(t *testing.T) {
	fake := llmtest.New(
		llmtest.Reply{Err: perrors.NewAPIError("llm", 502, "bad gateway")},
		llmtest.Reply{Content: "ok"},
	)
	var retries int
	p := NewProvider(fake, fastConfig(3, nil), zerolog.Nop(),
		WithHooks(Hooks{OnRetry: func(op string, attempt int, err error) { retries++ }}))

	res, err := p.Chat(context.Background(), llm.ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
	assert.Equal(t, 1, retries)
}

func TestProvider_StreamFallback(t *testing.T) {
	fake := llmtest.New().WithStreams(
		llmtest.Stream{OpenErr: errors.New("model primary does not exist")},
		llmtest.Stream{Chunks: []string{"fb"}},
	)
	p := NewProvider(fake, fastConfig(3, nil), zerolog.Nop(), WithFallbackModel("fallback"))

	ch, err := p.StreamChat(context.Background(), llm.ChatOptions{Model: "primary"})
	require.NoError(t, err)
	text, err := llm.Collect(context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, "fb", text)
	assert.Equal(t, "fallback", fake.Calls()[1].Model)
}
