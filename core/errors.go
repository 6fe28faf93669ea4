package session

import "errors"

var (
	// ErrSessionClosed is returned by operations attempted after the
	// session left the Active state.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionNotActive is returned when an operation requires a
	// started, not-yet-draining session.
	ErrSessionNotActive = errors.New("session not active")
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrInvalidTransition is returned when a turn-state change would
	// move backwards or leave a terminal state.
	ErrInvalidTransition = errors.New("invalid turn state transition")
)
