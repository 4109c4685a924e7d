package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateConversationRequest struct {
	Title string `json:"title"`
}

type CreateConversationResponse struct {
	Id    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

type ConversationResponse struct {
	Id        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

type MessageResponse struct {
	Id        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// StreamChatRequest starts or continues a streamed exchange. An absent
// conversation id means "create a new conversation lazily".
type StreamChatRequest struct {
	ConversationId uuid.UUID `json:"conversation_id"`
	Message        string    `json:"message" validate:"required"`
}

// GenerateTitleMessage is the queue payload asking the title worker to
// label a conversation from its first exchange.
type GenerateTitleMessage struct {
	ConversationId uuid.UUID `json:"conversation_id"`
	UserMessage    string    `json:"user_message"`
	ModelReply     string    `json:"model_reply"`
}
