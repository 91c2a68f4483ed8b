package domain

import "errors"

var (
	// ErrNotFound indicates the backend has no record for the identifier.
	ErrNotFound = errors.New("not found")

	// ErrSessionClosed indicates an operation on a session that accepts no
	// further replies.
	ErrSessionClosed = errors.New("session is closed")

	// ErrNotConnected indicates a send attempted while the realtime channel
	// is down. Such sends are dropped, never queued.
	ErrNotConnected = errors.New("realtime channel not connected")

	// ErrAttachmentTooLarge indicates a staged file above the upload gate.
	ErrAttachmentTooLarge = errors.New("attachment exceeds 10 MiB limit")

	// ErrRetryExhausted indicates the reconnect ceiling was reached.
	ErrRetryExhausted = errors.New("reconnect retries exhausted")
)
