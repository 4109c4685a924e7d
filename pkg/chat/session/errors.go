package session

import "errors"

var (
	// ErrBlankMessage rejects a submission whose text is empty or
	// whitespace only. Callers ignore it silently.
	ErrBlankMessage = errors.New("blank message")

	// ErrBusy rejects a submission while another exchange is in flight.
	// Submissions are never queued.
	ErrBusy = errors.New("exchange already in flight")

	// ErrConversationNotFound is returned by Start when the requested
	// conversation does not exist or belongs to another owner.
	ErrConversationNotFound = errors.New("conversation not found")
)
