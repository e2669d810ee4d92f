package completion

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Provider is one completion backend. Complete blocks for the full
// reply; callers wrap it in the retry policy.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}
