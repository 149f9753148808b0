package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// TransientError is a failure that may go away when the call is repeated:
// rate limits, upstream 5xx, timeouts and broken connections.
type TransientError struct {
	Provider   string
	StatusCode int
	// RetryAfter is the delay requested by the upstream, if any.
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	return describe(e.Provider, "transient error", e.StatusCode, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError means the credentials were rejected or the account cannot be
// used. Retrying does not help.
type AuthError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	return describe(e.Provider, "authentication failed", e.StatusCode, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError is a malformed, unexpected or rejected exchange with the
// upstream.
type ProtocolError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProtocolError) Error() string {
	return describe(e.Provider, "protocol error", e.StatusCode, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConfigurationError means a model cannot be called at all, for example
// because it is not defined in the providers file.
type ConfigurationError struct {
	ModelID string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("model %s: %s", e.ModelID, e.Reason)
}

func describe(provider, kind string, status int, err error) string {
	msg := kind
	if provider != "" {
		msg = provider + ": " + kind
	}
	if status != 0 {
		msg += fmt.Sprintf(" (status %d)", status)
	}
	if err != nil {
		msg += ": " + err.Error()
	}
	return msg
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// RetryAfter returns the upstream requested delay carried by err, or 0.
func RetryAfter(err error) time.Duration {
	var t *TransientError
	if errors.As(err, &t) {
		return t.RetryAfter
	}
	return 0
}

func classifyStatus(provider string, status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Provider: provider, StatusCode: status, Err: err}
	case status == http.StatusRequestTimeout || status == http.StatusConflict ||
		status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Provider: provider, StatusCode: status, Err: err}
	default:
		return &ProtocolError{Provider: provider, StatusCode: status, Err: err}
	}
}

// classify maps an error from an upstream SDK or the network onto the
// provider error taxonomy. Context cancellation is passed through untouched.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var (
		transient *TransientError
		auth      *AuthError
		protocol  *ProtocolError
	)
	if errors.As(err, &transient) || errors.As(err, &auth) || errors.As(err, &protocol) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Provider: provider, Err: err}
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		if openaiErr.StatusCode == http.StatusTooManyRequests &&
			(openaiErr.Type == "insufficient_quota" || openaiErr.Code == "insufficient_quota") {
			return &AuthError{Provider: provider, StatusCode: openaiErr.StatusCode, Err: err}
		}
		classified := classifyStatus(provider, openaiErr.StatusCode, err)
		if t, ok := classified.(*TransientError); ok && openaiErr.Response != nil {
			t.RetryAfter = parseRetryAfter(openaiErr.Response.Header.Get("Retry-After"))
		}
		return classified
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		classified := classifyStatus(provider, anthropicErr.StatusCode, err)
		if t, ok := classified.(*TransientError); ok && anthropicErr.Response != nil {
			t.RetryAfter = parseRetryAfter(anthropicErr.Response.Header.Get("Retry-After"))
		}
		return classified
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return classifyStatus(provider, genaiErr.Code, err)
	}
	var genaiErrPtr *genai.APIError
	if errors.As(err, &genaiErrPtr) {
		return classifyStatus(provider, genaiErrPtr.Code, err)
	}

	var httpErr *statusError
	if errors.As(err, &httpErr) {
		return classifyStatus(provider, httpErr.StatusCode, err)
	}

	if isNetworkError(err) {
		return &TransientError{Provider: provider, Err: err}
	}
	return &ProtocolError{Provider: provider, Err: err}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// statusError is returned by the hand-written HTTP adapters for non-2xx
// responses.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", http.StatusText(e.StatusCode), e.Body)
}
