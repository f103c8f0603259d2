// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/p-blackswan/appforge/internal/llm"
)

// Reply is one scripted Chat outcome.
type Reply struct {
	Content string
	Err     error
}

// Stream is one scripted StreamChat outcome. OpenErr fails the call before a
// channel is returned; otherwise Chunks are delivered and, if Err is set, an
// error chunk follows them instead of ChunkDone.
type Stream struct {
	OpenErr error
	Chunks  []string
	Err     error
}

// Provider replays scripted replies in order and records every call.
type Provider struct {
	Model string

	mu      sync.Mutex
	replies []Reply
	streams []Stream
	calls   []llm.ChatOptions
}

// New returns a provider scripted with the given Chat replies.
func New(replies ...Reply) *Provider {
	return &Provider{Model: "test-model", replies: replies}
}

// Text is shorthand for New with successful replies.
func Text(contents ...string) *Provider {
	replies := make([]Reply, len(contents))
	for i, c := range contents {
		replies[i] = Reply{Content: c}
	}
	return New(replies...)
}

// WithStreams appends scripted StreamChat outcomes.
func (p *Provider) WithStreams(streams ...Stream) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams = append(p.streams, streams...)
	return p
}

func (p *Provider) ModelID() string { return p.Model }

// Calls returns a copy of the recorded call options.
func (p *Provider) Calls() []llm.ChatOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.ChatOptions, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns how many Chat and StreamChat calls were made.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *Provider) Chat(ctx context.Context, opts llm.ChatOptions) (*llm.ChatResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, opts)
	if len(p.replies) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("llmtest: no scripted reply left")
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	model := opts.Model
	if model == "" {
		model = p.Model
	}
	return &llm.ChatResult{Content: r.Content, Model: model}, nil
}

func (p *Provider) StreamChat(ctx context.Context, opts llm.ChatOptions) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.calls = append(p.calls, opts)
	if len(p.streams) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("llmtest: no scripted stream left")
	}
	s := p.streams[0]
	p.streams = p.streams[1:]
	p.mu.Unlock()

	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	ch := make(chan llm.Chunk, len(s.Chunks)+1)
	for _, c := range s.Chunks {
		ch <- llm.Chunk{Type: llm.ChunkContent, Content: c}
	}
	if s.Err != nil {
		ch <- llm.Chunk{Type: llm.ChunkError, Err: s.Err}
	} else {
		ch <- llm.Chunk{Type: llm.ChunkDone}
	}
	close(ch)
	return ch, nil
}
