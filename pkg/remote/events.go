package remote

import "context"

// EventKind discriminates push events from the backend.
type EventKind string

const (
	EventNewMessage     EventKind = "new_message"
	EventEditedMessage  EventKind = "edited_message"
	EventDeletedMessage EventKind = "deleted_message"
	EventTyping         EventKind = "typing"
	EventReadHistory    EventKind = "read_history"
)

// Event is one push notification from the backend. Which fields are set
// depends on Kind:
//
//   - new_message / edited_message: Message (TopicID on it when the backend
//     attributed the message to a topic)
//   - deleted_message: ConversationID, MessageIDs
//   - typing: ConversationID, SenderID, SenderName
//   - read_history: ConversationID, TopicID, MaxReadID
type Event struct {
	Kind           EventKind   `json:"kind"`
	ConversationID string      `json:"conversation_id"`
	TopicID        int64       `json:"topic_id,omitempty"`
	Message        *RawMessage `json:"message,omitempty"`
	MessageIDs     []int64     `json:"message_ids,omitempty"`
	SenderID       string      `json:"sender_id,omitempty"`
	SenderName     string      `json:"sender_name,omitempty"`
	MaxReadID      int64       `json:"max_read_id,omitempty"`
	TimeUnix       int64       `json:"time_unix"`
}

// EventSource delivers backend push events. The channel closes when ctx is
// cancelled or the session drops; per-conversation ordering matches arrival
// order on the wire.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}
