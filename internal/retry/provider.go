package retry

import (
	"context"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/internal/llm"
)

// Hooks observe retry and fallback decisions, typically for metrics.
type Hooks struct {
	OnRetry    func(op string, attempt int, err error)
	OnFallback func(op, from, to string)
}

// Provider decorates an llm.Provider with transient-error retries and a
// single fallback-model substitution.
type Provider struct {
	inner         llm.Provider
	cfg           Config
	fallbackModel string
	hooks         Hooks
	logger        zerolog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithFallbackModel sets the model substituted when the requested one is unavailable.
func WithFallbackModel(model string) Option {
	return func(p *Provider) { p.fallbackModel = model }
}

// WithHooks installs observation callbacks.
func WithHooks(h Hooks) Option {
	return func(p *Provider) { p.hooks = h }
}

// NewProvider wraps inner.
func NewProvider(inner llm.Provider, cfg Config, logger zerolog.Logger, opts ...Option) *Provider {
	p := &Provider{
		inner:  inner,
		cfg:    cfg,
		logger: logger.With().Str("component", "retry").Logger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) ModelID() string { return p.inner.ModelID() }

func (p *Provider) model(opts llm.ChatOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return p.inner.ModelID()
}

// shouldFallback reports whether a permanent model error may be answered by
// substituting the fallback model. It never fires for the fallback itself.
func (p *Provider) shouldFallback(opts llm.ChatOptions, err error) bool {
	return p.fallbackModel != "" &&
		p.model(opts) != p.fallbackModel &&
		perrors.IsModelUnavailable(err)
}

func (p *Provider) retryHook(op string) func(int, error) {
	return func(attempt int, err error) {
		p.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("transient provider error, retrying")
		if p.hooks.OnRetry != nil {
			p.hooks.OnRetry(op, attempt, err)
		}
	}
}

func (p *Provider) fellBack(op string, opts llm.ChatOptions, err error) {
	p.logger.Warn().Err(err).
		Str("op", op).
		Str("from", p.model(opts)).
		Str("to", p.fallbackModel).
		Msg("model unavailable, switching to fallback model")
	if p.hooks.OnFallback != nil {
		p.hooks.OnFallback(op, p.model(opts), p.fallbackModel)
	}
}

func (p *Provider) chatWithRetry(ctx context.Context, opts llm.ChatOptions) (*llm.ChatResult, error) {
	hook := p.retryHook("chat")
	attempt := 0
	var lastErr error
	return Value(ctx, p.cfg, func(ctx context.Context) (*llm.ChatResult, error) {
		if attempt > 0 {
			hook(attempt, lastErr)
		}
		attempt++
		res, err := p.inner.Chat(ctx, opts)
		lastErr = err
		return res, err
	})
}

// Chat retries transient failures and falls back once on model errors.
func (p *Provider) Chat(ctx context.Context, opts llm.ChatOptions) (*llm.ChatResult, error) {
	res, err := p.chatWithRetry(ctx, opts)
	if err != nil && p.shouldFallback(opts, err) {
		p.fellBack("chat", opts, err)
		return p.chatWithRetry(ctx, opts.WithModel(p.fallbackModel))
	}
	return res, err
}

// StreamChat retries transient failures that happen before any chunk was
// yielded and falls back once when opening the stream reports a model error.
func (p *Provider) StreamChat(ctx context.Context, opts llm.ChatOptions) (<-chan llm.Chunk, error) {
	open := func(o llm.ChatOptions) OpenFunc {
		return func(ctx context.Context) (<-chan llm.Chunk, error) {
			return p.inner.StreamChat(ctx, o)
		}
	}
	ch, err := stream(ctx, p.cfg, open(opts), p.retryHook("stream"))
	if err != nil && p.shouldFallback(opts, err) {
		p.fellBack("stream", opts, err)
		fb := opts.WithModel(p.fallbackModel)
		return stream(ctx, p.cfg, open(fb), p.retryHook("stream"))
	}
	return ch, err
}
