// Package errors provides the error taxonomy for the generation pipeline.
//
// Provider failures are split into transient errors (rate limits, gateway
// errors, network trouble) that the retry layer may repeat, and permanent
// "model unavailable" errors that trigger a one-shot fallback model.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout           = errors.New("operation timed out")
	ErrRateLimit         = errors.New("rate limit exceeded")
	ErrUnavailable       = errors.New("service unavailable")
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrUnparseable       = errors.New("response is not valid JSON")
	ErrEmptyResponse     = errors.New("empty response from provider")
	ErrInvalidInput      = errors.New("invalid input")
	ErrStreamInterrupted = errors.New("stream interrupted after partial output")
)

// APIError represents an error returned by an upstream provider.
type APIError struct {
	Service    string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// PlanningError is returned by the planner when no usable schema could be
// recovered from the provider response.
type PlanningError struct {
	Message string
	Code    string
	Err     error
}

func (e *PlanningError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("planning failed [%s]: %s", e.Code, e.Message)
	}
	return "planning failed: " + e.Message
}

func (e *PlanningError) Unwrap() error { return e.Err }

// CodeGenError is returned by code generation when no files could be
// recovered from the provider response.
type CodeGenError struct {
	Message string
	Code    string
	Err     error
}

func (e *CodeGenError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("code generation failed [%s]: %s", e.Code, e.Message)
	}
	return "code generation failed: " + e.Message
}

func (e *CodeGenError) Unwrap() error { return e.Err }

// NewPlanningError wraps err, copying the upstream status code when present.
func NewPlanningError(msg string, err error) *PlanningError {
	return &PlanningError{Message: msg, Code: codeOf(err), Err: err}
}

// NewCodeGenError wraps err, copying the upstream status code when present.
func NewCodeGenError(msg string, err error) *CodeGenError {
	return &CodeGenError{Message: msg, Code: codeOf(err), Err: err}
}

func codeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code != "" {
			return apiErr.Code
		}
		if apiErr.StatusCode != 0 {
			return fmt.Sprintf("%d", apiErr.StatusCode)
		}
	}
	return ""
}

var (
	transientMessageRe = regexp.MustCompile(`(?i)(timeout|timed out|deadline exceeded|connection reset|connection refused|econnreset|etimedout|socket hang up|network|temporarily unavailable|overloaded|bad gateway|service unavailable|gateway timeout|too many requests|rate limit)`)
	modelMissingRe     = regexp.MustCompile(`(?i)(model[^.]*not found|model[^.]*does not exist|no such model|unknown model|model[^.]*not available|unauthorized|forbidden|permission denied|invalid api key)`)
)

// IsTransient reports whether err is worth retrying: HTTP 429/502/503/504,
// the timeout/rate-limit/unavailable sentinels, net timeouts, or a message
// that looks like a network failure. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 502, 503, 504:
			return true
		case 400, 401, 403, 404, 422:
			return false
		}
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if IsModelUnavailable(err) {
		return false
	}
	return transientMessageRe.MatchString(err.Error())
}

// IsRetryable is kept as the name used by callers that think in terms of
// outward events: an error is retryable by the user when it is transient.
func IsRetryable(err error) bool { return IsTransient(err) }

// IsModelUnavailable reports whether err indicates that the requested model
// itself cannot be used (404, 401/403, or a "model not found" style message).
func IsModelUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrModelUnavailable) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403, 404:
			return true
		}
		if modelMissingRe.MatchString(apiErr.Message) {
			return true
		}
		if apiErr.StatusCode != 0 {
			return false
		}
	}
	return modelMissingRe.MatchString(err.Error())
}

// UserMessage returns a human-readable paraphrase of err suitable for the
// event stream. Raw upstream text stays in the logs.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var planErr *PlanningError
	var genErr *CodeGenError
	switch {
	case errors.Is(err, context.Canceled):
		return "Generation was cancelled."
	case errors.Is(err, ErrStreamInterrupted):
		return "The AI provider stopped responding midway. Please try again."
	case IsModelUnavailable(err):
		return "The selected AI model is not available right now. Please choose another model or try again later."
	case IsTransient(err):
		return "AI provider temporarily unavailable, please try again."
	case errors.As(err, &planErr):
		return "I couldn't turn that request into an app plan. Try describing the app in a bit more detail."
	case errors.As(err, &genErr):
		return "Code generation failed for this plan. Please try again or simplify the request."
	case errors.Is(err, ErrInvalidInput):
		return "The request was invalid: " + err.Error()
	default:
		return "Something went wrong while generating your app. Please try again."
	}
}
