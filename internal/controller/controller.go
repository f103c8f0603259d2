// Package controller is the planning stage: it asks the model for a Unified
// App Schema and recovers it from whatever text comes back.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/internal/extract"
	"github.com/p-blackswan/appforge/internal/llm"
	"github.com/p-blackswan/appforge/internal/prompts"
	"github.com/p-blackswan/appforge/internal/schema"
)

// DefaultMaxTokens bounds a planning response.
const DefaultMaxTokens = 8192

// maxLoggedRaw truncates raw model output in logs.
const maxLoggedRaw = 2000

// PlanRequest is the input to Plan and StreamPlan.
type PlanRequest struct {
	Prompt   string
	Platform schema.Platform
	// Existing switches the planner to update mode.
	Existing *schema.AppSchema
	History  []llm.Message
}

// PlanResult is a recovered plan.
type PlanResult struct {
	Schema      *schema.AppSchema `json:"schema"`
	Reasoning   string            `json:"reasoning,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
}

// PlanEventType tags a PlanEvent.
type PlanEventType string

const (
	PlanPlanning PlanEventType = "planning"
	PlanSchema   PlanEventType = "schema"
	PlanComplete PlanEventType = "complete"
	PlanError    PlanEventType = "error"
)

// PlanEvent is emitted by StreamPlan. Schema is set on schema events, Result
// on complete and Err on error.
type PlanEvent struct {
	Type    PlanEventType
	Message string
	Schema  *schema.AppSchema
	Result  *PlanResult
	Err     error
}

// Controller plans app schemas with an LLM provider.
type Controller struct {
	provider  llm.Provider
	prompts   *prompts.Config
	logger    zerolog.Logger
	model     string
	maxTokens int
}

// Option configures a Controller.
type Option func(*Controller)

// WithPrompts overrides the embedded prompt rules.
func WithPrompts(p *prompts.Config) Option {
	return func(c *Controller) { c.prompts = p }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithModel pins the model instead of the provider default.
func WithModel(model string) Option {
	return func(c *Controller) { c.model = model }
}

// WithMaxTokens sets the response token limit.
func WithMaxTokens(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// New creates a Controller.
func New(provider llm.Provider, opts ...Option) *Controller {
	c := &Controller{
		provider:  provider,
		logger:    zerolog.Nop(),
		maxTokens: DefaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	if c.prompts == nil {
		c.prompts = prompts.Default()
	}
	c.logger = c.logger.With().Str("component", "controller").Logger()
	return c
}

func (c *Controller) options(req PlanRequest) llm.ChatOptions {
	msgs := make([]llm.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		if m.Role == llm.RoleUser || m.Role == llm.RoleAssistant {
			msgs = append(msgs, m)
		}
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Prompt})
	return llm.ChatOptions{
		Model:       c.model,
		System:      c.prompts.PlannerSystem(platformOf(req), req.Existing),
		Messages:    msgs,
		Temperature: llm.Temp(llm.PlanningTemperature),
		MaxTokens:   c.maxTokens,
	}
}

// platformOf is the requested platform, or the existing schema's when the
// request leaves it empty.
func platformOf(req PlanRequest) schema.Platform {
	if req.Platform != "" {
		return req.Platform
	}
	return req.Existing.Platform()
}

func validate(req PlanRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return &perrors.PlanningError{Message: "prompt is empty", Code: "invalid_input", Err: perrors.ErrInvalidInput}
	}
	return nil
}

// Plan sends one planning request and parses the result. The returned
// schema always carries the requested platform.
func (c *Controller) Plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	res, err := c.provider.Chat(ctx, c.options(req))
	if err != nil {
		c.logger.Error().Err(err).Msg("planning request failed")
		return nil, perrors.NewPlanningError("the model request failed", err)
	}
	return c.parse(res.Content, req)
}

// StreamPlan plans with a streaming request. The channel carries planning
// progress, then schema and complete, or a single error. It is closed when
// planning ends or ctx is done.
func (c *Controller) StreamPlan(ctx context.Context, req PlanRequest) <-chan PlanEvent {
	out := make(chan PlanEvent, 4)
	go func() {
		defer close(out)
		send := func(ev PlanEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			send(PlanEvent{Type: PlanError, Message: perrors.UserMessage(err), Err: err})
		}

		if err := validate(req); err != nil {
			fail(err)
			return
		}
		if !send(PlanEvent{Type: PlanPlanning, Message: "Understanding your request"}) {
			return
		}
		stream, err := c.provider.StreamChat(ctx, c.options(req))
		if err != nil {
			c.logger.Error().Err(err).Msg("planning stream failed to open")
			fail(perrors.NewPlanningError("the model request failed", err))
			return
		}

		var b strings.Builder
		drafting := false
		for chunk := range stream {
			switch chunk.Type {
			case llm.ChunkContent:
				b.WriteString(chunk.Content)
				if !drafting {
					drafting = true
					if !send(PlanEvent{Type: PlanPlanning, Message: "Drafting the app structure"}) {
						return
					}
				}
			case llm.ChunkError:
				c.logger.Error().Err(chunk.Err).Int("received", b.Len()).Msg("planning stream failed")
				fail(perrors.NewPlanningError("the model stream failed", chunk.Err))
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		result, err := c.parse(b.String(), req)
		if err != nil {
			fail(err)
			return
		}
		if !send(PlanEvent{Type: PlanSchema, Schema: result.Schema}) {
			return
		}
		send(PlanEvent{Type: PlanComplete, Schema: result.Schema, Result: result})
	}()
	return out
}

// envelope is the planner response shape. Some models return the bare
// schema instead, which parse also accepts.
type envelope struct {
	Schema      json.RawMessage `json:"schema"`
	Reasoning   string          `json:"reasoning"`
	Suggestions []string        `json:"suggestions"`
}

func (c *Controller) parse(content string, req PlanRequest) (*PlanResult, error) {
	raw, tier, err := extract.JSON(content)
	if err != nil {
		c.logRaw(content, err)
		return nil, perrors.NewPlanningError("could not read a schema from the model response", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logRaw(content, err)
		return nil, perrors.NewPlanningError("could not read a schema from the model response", perrors.ErrUnparseable)
	}
	body := []byte(env.Schema)
	if len(env.Schema) == 0 || string(env.Schema) == "null" {
		body = raw
	}
	s, err := schema.Parse(body)
	if err != nil || isEmpty(s) {
		if err == nil {
			err = errors.New("no schema sections")
		}
		c.logRaw(content, err)
		return nil, perrors.NewPlanningError("the model response did not contain a schema", perrors.ErrUnparseable)
	}

	if s.Meta == nil {
		s.Meta = &schema.Meta{}
	}
	if p := platformOf(req); p != "" {
		s.Meta.Platform = p
	}

	c.logger.Debug().
		Str("tier", tier.String()).
		Int("pages", len(s.Pages())).
		Int("components", len(s.Components)).
		Msg("plan parsed")

	return &PlanResult{Schema: s, Reasoning: env.Reasoning, Suggestions: env.Suggestions}, nil
}

func isEmpty(s *schema.AppSchema) bool {
	return s == nil || (s.Meta == nil && s.Design == nil && s.Structure == nil && s.Features == nil && len(s.Components) == 0)
}

func (c *Controller) logRaw(content string, err error) {
	raw := content
	if len(raw) > maxLoggedRaw {
		raw = raw[:maxLoggedRaw] + "...(truncated)"
	}
	c.logger.Warn().Err(err).Str("raw", raw).Msg("unparseable planning response")
}
