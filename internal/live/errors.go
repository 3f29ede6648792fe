package live

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("agent stream not connected")
	ErrInvalidState = errors.New("invalid connection state")
)

// Kind classifies session-fatal failures.
type Kind string

const (
	KindCredential Kind = "credential"
	KindTransport  Kind = "transport"
	KindDevice     Kind = "device"
)

// Error is a session-fatal failure. Every Error is retryable by the user;
// nothing retries automatically.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the operator-facing text shown next to the retry action.
func (e *Error) Message() string {
	switch e.Kind {
	case KindCredential:
		return "Could not obtain a session credential for the interviewer. Check the server configuration and retry."
	case KindDevice:
		return "The microphone is unavailable. Allow microphone access and retry."
	default:
		return "The connection to the interviewer was lost. Retry to reconnect."
	}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// Redact keeps a short prefix of a secret for log correlation.
func Redact(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + "****"
}
