package chat

import "time"

// SenderKind distinguishes messages written by a person from messages the
// platform posts on its own behalf. The platform is a kind, never a
// well-known user id.
type SenderKind string

const (
	SenderUser   SenderKind = "user"
	SenderSystem SenderKind = "system"
)

// Sender identifies who wrote a message. UserID is empty for system messages.
type Sender struct {
	Kind   SenderKind
	UserID string
}

// SystemSender is the platform identity used for adjudication notices.
var SystemSender = Sender{Kind: SenderSystem}

// Message mirrors the messages table.
type Message struct {
	ID             string
	ConversationID string
	Sender         Sender
	Body           string
	CreatedAt      time.Time
}
