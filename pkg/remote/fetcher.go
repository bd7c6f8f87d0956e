// Package remote defines the contract with the messaging backend. The cache
// layer only ever talks to the backend through Fetcher and EventSource; the
// actual transport lives outside this module.
package remote

import (
	"context"
	"encoding/json"
)

// RawDialog is a conversation as the backend reports it. TopicID is only
// meaningful on per-topic rows returned via FetchTopics.
type RawDialog struct {
	ConversationID string          `json:"conversation_id"`
	DisplayName    string          `json:"display_name"`
	Kind           string          `json:"kind"` // person|group|supergroup|channel
	IsMultiTopic   bool            `json:"is_multi_topic"`
	UnreadCount    int             `json:"unread_count"`
	HasAvatar      bool            `json:"has_avatar"`
	LastMessage    *RawMessage     `json:"last_message,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// RawMessage is a message as the backend reports it. TopicID is zero when
// the backend did not attribute the message to a topic.
type RawMessage struct {
	ID             int64           `json:"id"`
	ConversationID string          `json:"conversation_id"`
	TopicID        int64           `json:"topic_id,omitempty"`
	SenderID       string          `json:"sender_id,omitempty"`
	SenderName     string          `json:"sender_name"`
	Text           string          `json:"text"`
	TimeUnix       int64           `json:"time_unix"`
	EditTimeUnix   int64           `json:"edit_time_unix,omitempty"`
	ReplyToID      int64           `json:"reply_to_id,omitempty"`
	MediaKind      string          `json:"media_kind,omitempty"`
	IsOutgoing     bool            `json:"is_outgoing"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// RawTopic is one named sub-conversation of a multi-topic conversation.
// AnchorMessageID references the topic's most recent message; the matching
// RawMessage arrives in the anchors batch of FetchTopics.
type RawTopic struct {
	ConversationID  string `json:"conversation_id"`
	TopicID         int64  `json:"topic_id"`
	Title           string `json:"title"`
	UnreadCount     int    `json:"unread_count"`
	AnchorMessageID int64  `json:"anchor_message_id"`
}

// RawAvatar is a profile image blob for a user or conversation.
type RawAvatar struct {
	Bytes    []byte `json:"bytes"`
	MimeType string `json:"mime_type"`
}

// Fetcher is the only path to the backend. Calls fail with one of the
// sentinel errors in this package; none of them may crash the cache layer.
// topicID zero means "whole conversation"; beforeID zero means "most recent".
// FetchMessages returns its page oldest first, the same order pages are
// served to callers.
type Fetcher interface {
	FetchDialogs(ctx context.Context, limit int) ([]RawDialog, error)
	FetchMessages(ctx context.Context, conversationID string, topicID int64, limit int, beforeID int64) ([]RawMessage, error)
	FetchTopics(ctx context.Context, conversationID string) ([]RawTopic, []RawMessage, error)
	FetchAvatar(ctx context.Context, subjectID string) (*RawAvatar, error)
}
