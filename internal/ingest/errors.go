package ingest

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	KindConnect     ErrorKind = "connect"
	KindTimeout     ErrorKind = "timeout"
	KindAuth        ErrorKind = "auth"
	KindRateLimited ErrorKind = "rate_limited"
	KindAPI         ErrorKind = "api"
	KindStream      ErrorKind = "stream"
)

var (
	// ErrReadTimeout is the cancellation cause used when the stream stalls.
	ErrReadTimeout = errors.New("no audio received within read timeout")

	// ErrEmptyAudio is returned when a response carried no PCM at all.
	ErrEmptyAudio = errors.New("synthesis returned no audio")
)

// TransportError reports a failed or broken synthesis request.
type TransportError struct {
	Kind       ErrorKind
	StatusCode int    // HTTP status, 0 if none
	Message    string // server supplied detail, truncated
	Err        error
}

func (e *TransportError) Error() string {
	msg := "synthesis " + string(e.Kind) + " error"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a caller-level retry could succeed. The
// ingestor itself never retries.
func (e *TransportError) IsRetryable() bool {
	switch e.Kind {
	case KindConnect, KindTimeout, KindRateLimited, KindStream:
		return true
	case KindAPI:
		return e.StatusCode >= 500
	default:
		return false
	}
}

// ProtocolError reports a response that arrived but is not usable audio.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "synthesis protocol error: " + e.Reason + ": " + e.Err.Error()
	}
	return "synthesis protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// statusError maps a non-2xx status to a TransportError.
func statusError(status int, body string) *TransportError {
	kind := KindAPI
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuth
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		kind = KindTimeout
	}
	return &TransportError{Kind: kind, StatusCode: status, Message: body}
}

// ErrorKindOf returns a short label for metrics and logs.
func ErrorKindOf(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return string(te.Kind)
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return "protocol"
	}
	return "other"
}
