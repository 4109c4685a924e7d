package constant

const (
	ChatMessageRoleUser   = "user"
	ChatMessageRoleModel  = "model"
	ChatMessageRoleSystem = "system"

	// DefaultConversationTitle is the placeholder label a conversation keeps
	// until the title worker rewrites it after the first completed exchange.
	DefaultConversationTitle = "Nouvelle conversation"

	// GenerateTitleTopicName is the in-process pub/sub topic carrying
	// title generation requests.
	GenerateTitleTopicName = "GENERATE_CONVERSATION_TITLE"

	TitlePromptV1 = `Summarize this conversation in 3 to 5 words for a title. No quotation marks. Use the language of the conversation.

Conversation:
%s`
)
