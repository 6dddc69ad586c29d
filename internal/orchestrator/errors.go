package orchestrator

import "errors"

var (
	// ErrSessionTerminal means the session is completed, failed, or
	// expired and accepts no further activity.
	ErrSessionTerminal = errors.New("session is in a terminal state")

	// ErrAwaitingInput means the session has a pending human input
	// request; the answer must come through the feedback endpoint.
	ErrAwaitingInput = errors.New("session is waiting for human input")

	// ErrEmptyMessage rejects blank user messages.
	ErrEmptyMessage = errors.New("message must not be empty")

	// ErrEmptyUserID rejects session creation without a user.
	ErrEmptyUserID = errors.New("user_id must not be empty")
)
