package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgnsrekt/streamtts/internal/audio"
	"github.com/dgnsrekt/streamtts/internal/ingest"
	"github.com/dgnsrekt/streamtts/internal/playback"
)

// Common TTS errors
var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("engine is closed")

	// ErrEmptyText indicates the request text is empty after trimming
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrTextTooLong indicates the request text exceeds the rune limit
	ErrTextTooLong = errors.New("text too long")

	// ErrInvalidSpeed indicates speed value is out of range
	ErrInvalidSpeed = errors.New("speed must be between 0.25 and 4.0")

	// ErrInvalidGain indicates gain value is out of range
	ErrInvalidGain = errors.New("gain must be between -10 and 10")

	// ErrWaitTimeout indicates WaitForCompletion gave up before the session
	// finished. The session keeps running.
	ErrWaitTimeout = errors.New("timed out waiting for completion")

	// ErrCanceled indicates an operation was canceled
	ErrCanceled = errors.New("operation canceled")
)

// TTSError represents a TTS-specific error with additional context
type TTSError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *TTSError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *TTSError) Unwrap() error {
	return e.Cause
}

// ErrorCode identifies specific error types
type ErrorCode string

const (
	// Rejected at submit, no session created
	ErrorCodeValidation ErrorCode = "VALIDATION"

	// Session failures
	ErrorCodeTransport ErrorCode = "TRANSPORT"
	ErrorCodeProtocol  ErrorCode = "PROTOCOL"
	ErrorCodeDevice    ErrorCode = "DEVICE"

	// System errors
	ErrorCodeTimeout  ErrorCode = "TIMEOUT"
	ErrorCodeCanceled ErrorCode = "CANCELED"
	ErrorCodeClosed   ErrorCode = "CLOSED"
)

// NewTTSError creates a new TTS error with context
func NewTTSError(code ErrorCode, message string, cause error) *TTSError {
	return &TTSError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context to the error
func (e *TTSError) WithContext(key string, value interface{}) *TTSError {
	e.Context[key] = value
	return e
}

// IsFatal returns true if the engine cannot be used for new sessions
// without intervention.
func (e *TTSError) IsFatal() bool {
	switch e.Code {
	case ErrorCodeDevice, ErrorCodeClosed:
		return true
	default:
		return false
	}
}

// IsRetryable returns true if resubmitting the same request can succeed
func (e *TTSError) IsRetryable() bool {
	switch e.Code {
	case ErrorCodeTimeout:
		return true
	case ErrorCodeTransport:
		var te *ingest.TransportError
		return !errors.As(e.Cause, &te) || te.IsRetryable()
	default:
		return false
	}
}

// classify maps a session failure from the lower layers into the taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var tErr *TTSError
	if errors.As(err, &tErr) {
		return err
	}

	var te *ingest.TransportError
	if errors.As(err, &te) {
		code := ErrorCodeTransport
		if te.Kind == ingest.KindTimeout {
			code = ErrorCodeTimeout
		}
		e := NewTTSError(code, "synthesis request failed", err).WithContext("kind", string(te.Kind))
		if te.StatusCode != 0 {
			e.WithContext("status", te.StatusCode)
		}
		return e
	}

	var pe *ingest.ProtocolError
	var se *playback.SequenceError
	if errors.As(err, &pe) || errors.As(err, &se) {
		return NewTTSError(ErrorCodeProtocol, "unusable audio stream", err)
	}

	var de *audio.DeviceError
	if errors.As(err, &de) {
		return NewTTSError(ErrorCodeDevice, "audio output failed", err).WithContext("op", de.Op)
	}

	if errors.Is(err, context.Canceled) {
		return NewTTSError(ErrorCodeCanceled, "operation canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTTSError(ErrorCodeTimeout, "operation timed out", err)
	}

	return NewTTSError(ErrorCodeTransport, "synthesis stream failed", err)
}

func codeOf(err error) (ErrorCode, bool) {
	var e *TTSError
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// IsValidation reports whether err rejected a request before a session
// was created.
func IsValidation(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrorCodeValidation
}

// IsTransport reports whether err is a network or API failure, including a
// stalled stream.
func IsTransport(err error) bool {
	code, ok := codeOf(err)
	if !ok {
		return false
	}
	if code == ErrorCodeTransport {
		return true
	}
	var te *ingest.TransportError
	return code == ErrorCodeTimeout && errors.As(err, &te)
}

// IsProtocol reports whether the API answered with unusable audio.
func IsProtocol(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrorCodeProtocol
}

// IsDevice reports whether the audio output failed.
func IsDevice(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrorCodeDevice
}
