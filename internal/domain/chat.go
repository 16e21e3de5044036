package domain

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the
// conversation service and the completion client.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
