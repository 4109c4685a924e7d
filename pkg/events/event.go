package events

import "time"

// Event is the contract shared by everything published on the bus.
type Event interface {
	// EventType returns the unique code for this event (e.g. "CONVERSATION_CREATED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// BaseEvent is the plain record implementation used by all publishers.
type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// NewConversationCreated marks the lazy creation of a conversation on
// its first submission.
func NewConversationCreated(conversationID, userID string) BaseEvent {
	return BaseEvent{
		Type: "CONVERSATION_CREATED",
		Data: map[string]interface{}{
			"conversation_id": conversationID,
			"user_id":         userID,
		},
		OccurredAt: time.Now(),
	}
}

// NewExchangeCompleted marks a fully streamed and persisted model reply.
func NewExchangeCompleted(conversationID string, replyLength int) BaseEvent {
	return BaseEvent{
		Type: "EXCHANGE_COMPLETED",
		Data: map[string]interface{}{
			"conversation_id": conversationID,
			"reply_length":    replyLength,
		},
		OccurredAt: time.Now(),
	}
}

// NewConversationTitleUpdated marks the one-time title rewrite after the
// first completed exchange.
func NewConversationTitleUpdated(conversationID, title string) BaseEvent {
	return BaseEvent{
		Type: "CONVERSATION_TITLE_UPDATED",
		Data: map[string]interface{}{
			"conversation_id": conversationID,
			"title":           title,
		},
		OccurredAt: time.Now(),
	}
}
