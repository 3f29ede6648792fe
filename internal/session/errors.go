package session

import "errors"

var (
	// ErrSessionEnded is returned for operations on a finished session or
	// an interview that is already closed.
	ErrSessionEnded = errors.New("session ended")

	ErrNoActiveSession = errors.New("no active session")
)
