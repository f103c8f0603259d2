package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/appforge/internal/errors"
)

const (
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 8192
	defaultModel        = "claude-sonnet-4-5"
	serviceName         = "anthropic"
)

// AnthropicProvider implements Provider using the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
	logger    zerolog.Logger
}

// AnthropicOption configures the provider.
type AnthropicOption func(*AnthropicProvider)

func WithModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if model != "" {
			p.model = model
		}
	}
}

func WithMaxTokens(n int) AnthropicOption {
	return func(p *AnthropicProvider) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(p *AnthropicProvider) { p.client = c }
}

func WithBaseURL(u string) AnthropicOption {
	return func(p *AnthropicProvider) { p.baseURL = strings.TrimRight(u, "/") }
}

func WithLogger(l zerolog.Logger) AnthropicOption {
	return func(p *AnthropicProvider) { p.logger = l }
}

// NewAnthropicProvider constructs a new Anthropic provider.
func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		apiKey:    apiKey,
		baseURL:   anthropicAPIBase,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		client:    &http.Client{Timeout: 180 * time.Second},
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With().Str("component", "llm.anthropic").Logger()
	return p
}

func (p *AnthropicProvider) ModelID() string { return p.model }

// ---- Anthropic wire types ----

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *anthropicError `json:"error,omitempty"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *anthropicError `json:"error,omitempty"`
}

// buildMessages folds system-role messages into the system prompt, since the
// Messages API only accepts user/assistant turns.
func buildMessages(opts ChatOptions) (string, []anthropicMessage) {
	system := opts.System
	out := make([]anthropicMessage, 0, len(opts.Messages))
	for _, m := range opts.Messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		out = append(out, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return system, out
}

func (p *AnthropicProvider) buildRequest(opts ChatOptions, stream bool) anthropicRequest {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTok := p.maxTokens
	if opts.MaxTokens > 0 {
		maxTok = opts.MaxTokens
	}
	system, msgs := buildMessages(opts)
	return anthropicRequest{
		Model:       model,
		MaxTokens:   maxTok,
		System:      system,
		Messages:    msgs,
		Temperature: opts.EffectiveTemperature(),
		Stream:      stream,
	}
}

func (p *AnthropicProvider) doRequest(ctx context.Context, ar anthropicRequest) (*http.Response, error) {
	body, err := json.Marshal(ar)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &perrors.APIError{Service: serviceName, Message: "request failed", Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, statusError(resp.StatusCode, raw)
	}
	return resp, nil
}

// statusError converts a non-2xx response into an APIError.
func statusError(status int, raw []byte) error {
	apiErr := &perrors.APIError{Service: serviceName, StatusCode: status, Message: http.StatusText(status)}
	var body struct {
		Error *anthropicError `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != nil {
		apiErr.Code = body.Error.Type
		apiErr.Message = body.Error.Message
	}
	return apiErr
}

// Chat sends a blocking completion request.
func (p *AnthropicProvider) Chat(ctx context.Context, opts ChatOptions) (*ChatResult, error) {
	ar := p.buildRequest(opts, false)
	resp, err := p.doRequest(ctx, ar)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &perrors.APIError{Service: serviceName, StatusCode: resp.StatusCode, Message: "read body", Err: err}
	}

	var ar2 anthropicResponse
	if err := json.Unmarshal(raw, &ar2); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if ar2.Error != nil {
		return nil, &perrors.APIError{Service: serviceName, StatusCode: resp.StatusCode, Code: ar2.Error.Type, Message: ar2.Error.Message}
	}

	out := &ChatResult{
		Model: ar2.Model,
		Usage: Usage{InputTokens: ar2.Usage.InputTokens, OutputTokens: ar2.Usage.OutputTokens},
	}
	if out.Model == "" {
		out.Model = ar.Model
	}
	for _, block := range ar2.Content {
		if block.Type == "text" {
			out.Content += block.Text
		}
	}

	p.logger.Debug().
		Str("model", out.Model).
		Str("stop_reason", ar2.StopReason).
		Int("in_tokens", out.Usage.InputTokens).
		Int("out_tokens", out.Usage.OutputTokens).
		Msg("anthropic chat")
	return out, nil
}

// StreamChat sends a completion request and relays Server-Sent Events as chunks.
func (p *AnthropicProvider) StreamChat(ctx context.Context, opts ChatOptions) (<-chan Chunk, error) {
	ar := p.buildRequest(opts, true)
	resp, err := p.doRequest(ctx, ar)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 16)
	go func() {
		defer resp.Body.Close()
		defer close(out)

		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				send(Chunk{Type: ChunkDone})
				return
			}

			var ev streamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Text != "" && !send(Chunk{Type: ChunkContent, Content: ev.Delta.Text}) {
					return
				}
			case "message_stop":
				send(Chunk{Type: ChunkDone})
				return
			case "error":
				apiErr := &perrors.APIError{Service: serviceName, Message: "stream error"}
				if ev.Error != nil {
					apiErr.Code = ev.Error.Type
					apiErr.Message = ev.Error.Message
					if ev.Error.Type == "overloaded_error" {
						apiErr.StatusCode = http.StatusServiceUnavailable
					}
				}
				send(Chunk{Type: ChunkError, Err: apiErr})
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(Chunk{Type: ChunkError, Err: &perrors.APIError{Service: serviceName, Message: "stream read", Err: err}})
			return
		}
		if ctx.Err() != nil {
			send(Chunk{Type: ChunkError, Err: ctx.Err()})
			return
		}
		send(Chunk{Type: ChunkDone})
	}()

	return out, nil
}
