// Package llm defines the completion provider contract used by every
// pipeline stage. Providers are interchangeable behind this interface.
package llm

import (
	"context"
	"strings"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Sampling temperatures per call kind.
const (
	DefaultTemperature  = 0.7
	PlanningTemperature = 0.3
	ReviewTemperature   = 0.2
)

// Message is a single turn in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions is the input to Chat and StreamChat.
type ChatOptions struct {
	Model       string // override provider default if set
	System      string
	Messages    []Message
	Temperature *float64 // nil means DefaultTemperature
	MaxTokens   int
}

// Temp returns a pointer to t for ChatOptions.Temperature.
func Temp(t float64) *float64 { return &t }

// EffectiveTemperature returns the requested temperature or the default.
func (o ChatOptions) EffectiveTemperature() float64 {
	if o.Temperature == nil {
		return DefaultTemperature
	}
	return *o.Temperature
}

// WithModel returns a copy of o targeting model.
func (o ChatOptions) WithModel(model string) ChatOptions {
	o.Model = model
	return o
}

// Usage reports token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResult is returned by Chat.
type ChatResult struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// ChunkType tags a streamed chunk.
type ChunkType string

const (
	ChunkContent ChunkType = "content"
	ChunkDone    ChunkType = "done"
	ChunkError   ChunkType = "error"
)

// Chunk is a single streaming unit.
type Chunk struct {
	Type    ChunkType
	Content string
	Err     error
}

// Provider is the core abstraction for language model backends.
type Provider interface {
	// Chat sends a completion request and waits for the full response.
	Chat(ctx context.Context, opts ChatOptions) (*ChatResult, error)

	// StreamChat starts a streaming completion. Errors that happen before
	// the stream opens are returned directly; later failures arrive as a
	// ChunkError. The channel is closed after ChunkDone or ChunkError.
	StreamChat(ctx context.Context, opts ChatOptions) (<-chan Chunk, error)

	// ModelID returns the default model identifier.
	ModelID() string
}

// Collect drains a stream into a single string. It returns the content read
// so far together with the first error chunk.
func Collect(ctx context.Context, ch <-chan Chunk) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return b.String(), nil
			}
			switch c.Type {
			case ChunkContent:
				b.WriteString(c.Content)
			case ChunkError:
				return b.String(), c.Err
			case ChunkDone:
				return b.String(), nil
			}
		}
	}
}
