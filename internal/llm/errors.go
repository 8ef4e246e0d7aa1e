package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Kind classifies client failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnreachable
	KindTimeout
	KindInvalidEndpoint
	KindInvalidAPIKey
	KindNoModels
	KindServer
	KindBadResponse
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindTimeout:
		return "timeout"
	case KindInvalidEndpoint:
		return "invalid_endpoint"
	case KindInvalidAPIKey:
		return "invalid_api_key"
	case KindNoModels:
		return "no_models"
	case KindServer:
		return "server"
	case KindBadResponse:
		return "bad_response"
	default:
		return "unknown"
	}
}

// ClientError is returned by the backend clients.
type ClientError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches any *ClientError of the same kind, so errors.Is(err, ErrTimeout)
// works regardless of message and cause.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	return ok && t.Kind == e.Kind
}

// Sentinel errors for errors.Is checks.
var (
	ErrUnreachable     = &ClientError{Kind: KindUnreachable, Message: "server unreachable"}
	ErrTimeout         = &ClientError{Kind: KindTimeout, Message: "request timed out"}
	ErrInvalidEndpoint = &ClientError{Kind: KindInvalidEndpoint, Message: "invalid endpoint"}
	ErrInvalidAPIKey   = &ClientError{Kind: KindInvalidAPIKey, Message: "invalid API key"}
	ErrNoModels        = &ClientError{Kind: KindNoModels, Message: "no models returned"}

	// ErrEmptyResponse means the stream ended without a single delta.
	ErrEmptyResponse = errors.New("empty response")
)

// StreamError is an error reported by the backend inside the stream.
type StreamError struct {
	Reason string
}

func (e *StreamError) Error() string {
	return e.Reason
}

// Retryable reports whether err is a transient transport failure (timeout or
// unreachable server). Authentication, not-found and in-stream errors are
// never retried.
func Retryable(err error) bool {
	var ce *ClientError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == KindTimeout || ce.Kind == KindUnreachable
}

// classifyTransport maps an error from http.Client.Do or a body read.
// Cancellation of ctx by the caller is passed through untouched.
func classifyTransport(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &ClientError{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}
	return &ClientError{Kind: KindUnreachable, Message: "server unreachable", Cause: err}
}

// classifyStatus maps a non-2xx HTTP status. detail is the backend's error
// text, if any.
func classifyStatus(code int, detail string) error {
	detail = strings.TrimSpace(detail)
	msg := func(def string) string {
		if detail != "" {
			return def + ": " + detail
		}
		return def
	}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &ClientError{Kind: KindInvalidAPIKey, Message: msg("invalid API key")}
	case code == http.StatusNotFound:
		return &ClientError{Kind: KindInvalidEndpoint, Message: msg("endpoint or model not found")}
	case code >= 500:
		return &ClientError{Kind: KindServer, Message: msg("server error " + http.StatusText(code))}
	default:
		return &ClientError{Kind: KindBadResponse, Message: msg("unexpected status " + http.StatusText(code))}
	}
}
