package mirror

import (
	"github.com/chatmirror/chatmirror/pkg/dialogkey"
	"github.com/chatmirror/chatmirror/pkg/dialogstore"
	"github.com/chatmirror/chatmirror/pkg/remote"
)

// Event is the normalized form republished to local subscribers after a
// push event has been applied to the cache tiers. Unlike the raw backend
// event it is keyed by the owning compound dialog key, with topic
// resolution already done.
type Event struct {
	Kind       remote.EventKind           `json:"kind"`
	DialogID   dialogkey.Key              `json:"dialog_id"`
	Message    *dialogstore.MessageRecord `json:"message,omitempty"`
	MessageIDs []int64                    `json:"message_ids,omitempty"`
	SenderID   string                     `json:"sender_id,omitempty"`
	SenderName string                     `json:"sender_name,omitempty"`
	MaxReadID  int64                      `json:"max_read_id,omitempty"`
	TimeUnix   int64                      `json:"time_unix"`
}

// Listener receives normalized events. Listeners run on the ingest
// goroutine; a panicking listener is isolated and does not stop delivery to
// the others.
type Listener func(Event)
