package retry

import (
	"context"
	"fmt"

	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/internal/llm"
)

// streamState tracks one streaming attempt. Retrying is only legal before the
// attempt has yielded content downstream.
type streamState int

const (
	stateNotStarted streamState = iota
	stateStreaming
	stateYielded
	stateDone
	stateFailed
)

func (s streamState) String() string {
	switch s {
	case stateNotStarted:
		return "not-started"
	case stateStreaming:
		return "streaming"
	case stateYielded:
		return "yielded"
	case stateDone:
		return "done"
	default:
		return "failed"
	}
}

// OpenFunc opens one streaming attempt.
type OpenFunc func(ctx context.Context) (<-chan llm.Chunk, error)

// streamRun drives attempts for a single logical streaming call.
type streamRun struct {
	cfg     Config
	open    OpenFunc
	state   streamState
	retries int
	onRetry func(attempt int, err error)
}

// mayRetry reports whether err can be retried in the current state.
func (r *streamRun) mayRetry(err error) bool {
	if r.state == stateYielded || r.state == stateDone {
		return false
	}
	return r.retries < r.cfg.MaxRetries && perrors.IsTransient(err)
}

// openWithRetry opens a new attempt, retrying transient open failures.
func (r *streamRun) openWithRetry(ctx context.Context) (<-chan llm.Chunk, error) {
	for {
		r.state = stateNotStarted
		ch, err := r.open(ctx)
		if err == nil {
			r.state = stateStreaming
			return ch, nil
		}
		if !r.mayRetry(err) {
			r.state = stateFailed
			return nil, err
		}
		if werr := r.backoff(ctx, err); werr != nil {
			r.state = stateFailed
			return nil, werr
		}
	}
}

func (r *streamRun) backoff(ctx context.Context, err error) error {
	if r.onRetry != nil {
		r.onRetry(r.retries+1, err)
	}
	if werr := r.cfg.wait(ctx, r.retries); werr != nil {
		return werr
	}
	r.retries++
	return nil
}

// Stream opens a stream with retries. Failures before the first chunk reach
// the caller are retried like Value; once content has been yielded an error
// is surfaced as a ChunkError wrapping ErrStreamInterrupted.
func Stream(ctx context.Context, cfg Config, open OpenFunc) (<-chan llm.Chunk, error) {
	return stream(ctx, cfg, open, nil)
}

func stream(ctx context.Context, cfg Config, open OpenFunc, onRetry func(int, error)) (<-chan llm.Chunk, error) {
	run := &streamRun{cfg: cfg, open: open, onRetry: onRetry}
	in, err := run.openWithRetry(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		send := func(c llm.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			var c llm.Chunk
			var ok bool
			select {
			case c, ok = <-in:
			case <-ctx.Done():
				return
			}
			if !ok {
				if run.state != stateDone {
					run.state = stateDone
					send(llm.Chunk{Type: llm.ChunkDone})
				}
				return
			}
			switch c.Type {
			case llm.ChunkContent:
				run.state = stateYielded
				if !send(c) {
					return
				}
			case llm.ChunkDone:
				run.state = stateDone
				send(c)
				return
			case llm.ChunkError:
				if run.mayRetry(c.Err) {
					if werr := run.backoff(ctx, c.Err); werr != nil {
						send(llm.Chunk{Type: llm.ChunkError, Err: werr})
						return
					}
					next, err := run.openWithRetry(ctx)
					if err != nil {
						send(llm.Chunk{Type: llm.ChunkError, Err: err})
						return
					}
					in = next
					continue
				}
				err := c.Err
				if run.state == stateYielded {
					err = fmt.Errorf("%w: %w", perrors.ErrStreamInterrupted, c.Err)
				}
				run.state = stateFailed
				send(llm.Chunk{Type: llm.ChunkError, Err: err})
				return
			}
		}
	}()
	return out, nil
}
