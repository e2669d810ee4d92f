package ticket

import "time"

type Status string

const (
	StatusNew               Status = "new"
	StatusAssistantHandling Status = "assistant-handling"
	StatusEscalated         Status = "escalated-to-agent"
	StatusAgentInProgress   Status = "agent-in-progress"
	StatusTerminated        Status = "terminated"
)

// Sentinel sender identities. Everything else is a human uid.
const (
	SenderSystem    = "system"
	SenderAssistant = "assistant"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageCode  MessageType = "code"
)

type Ticket struct {
	ID             string     `firestore:"-"`
	Status         Status     `firestore:"status"`
	Category       string     `firestore:"category"`
	CreatorID      string     `firestore:"creator_id"`
	AgentID        string     `firestore:"agent_id"`
	AgentName      string     `firestore:"agent_name"`
	AgentRequested bool       `firestore:"is_agent_requested"`
	GreetingSent   bool       `firestore:"initial_assistant_message_sent"`
	AppointmentIDs []string   `firestore:"appointment_ids"`
	LastMessage    string     `firestore:"last_message"`
	UpdatedAt      time.Time  `firestore:"updated_at"`
	TerminatedAt   *time.Time `firestore:"terminated_at"`
	TerminatedBy   string     `firestore:"terminated_by"`
	TerminatingBy  string     `firestore:"terminating_by"`
}

// Message is immutable once created; ordered by CreatedAt within a ticket.
type Message struct {
	ID         string      `firestore:"-"`
	TicketID   string      `firestore:"-"`
	SenderID   string      `firestore:"sender_id"`
	SenderName string      `firestore:"sender_name"`
	Body       string      `firestore:"body"`
	Type       MessageType `firestore:"type"`
	CreatedAt  time.Time   `firestore:"created_at"`
}

// Conversation mirrors fast-read status fields and the currently-typing
// participants (uid -> display name). Deleted wholesale at archival.
type Conversation struct {
	ID          string            `firestore:"-"`
	Typing      map[string]string `firestore:"typing"`
	Status      Status            `firestore:"status"`
	LastMessage string            `firestore:"last_message"`
}

func IsSentinel(senderID string) bool {
	return senderID == SenderSystem || senderID == SenderAssistant
}

func (m *Message) FromClient(t *Ticket) bool {
	return m.SenderID == t.CreatorID
}

func (m *Message) FromHumanAgent(t *Ticket) bool {
	return !IsSentinel(m.SenderID) && m.SenderID != t.CreatorID
}
