package dialogstore

import (
	"encoding/json"

	"github.com/chatmirror/chatmirror/pkg/dialogkey"
)

// DialogKind mirrors the backend's conversation classes.
type DialogKind string

const (
	KindPerson     DialogKind = "person"
	KindGroup      DialogKind = "group"
	KindSupergroup DialogKind = "supergroup"
	KindChannel    DialogKind = "channel"
)

// DialogRecord is the denormalized dialog row. ID is unique; several records
// may share a ConversationID when a multi-topic conversation is expanded one
// record per topic.
//
// Raw carries the backend's full dialog payload for forward compatibility.
// The typed columns are the source of truth; Raw is write-only and is never
// merged back into them.
type DialogRecord struct {
	ID                  dialogkey.Key
	ConversationID      string
	TopicID             int64
	HasTopic            bool
	DisplayName         string
	LastMessagePreview  string
	LastMessageTimeUnix int64
	LastMessageOutgoing bool
	UnreadCount         int
	IsMultiTopic        bool
	Kind                DialogKind
	HasAvatar           bool
	ObservedAtUnix      int64
	Raw                 json.RawMessage
}

// MessageRecord is one message row, keyed by (DialogID, RemoteMessageID).
// ObservedAtUnix is the wall-clock instant the data was observed (event time
// for live events, fetch start for refills); upserts with an older
// ObservedAtUnix than the stored row are dropped so a stale refill cannot
// clobber a newer live edit.
type MessageRecord struct {
	RemoteMessageID int64
	DialogID        dialogkey.Key
	SenderID        string
	SenderName      string
	Text            string
	TimeUnix        int64
	EditTimeUnix    int64
	ReplyToID       int64
	MediaKind       string
	IsOutgoing      bool
	ObservedAtUnix  int64
	Raw             json.RawMessage
}

// AvatarBlob is a cached profile image. SubjectID is the remote user or
// conversation ID, never a compound key: avatars belong to the underlying
// entity, not to a topic.
type AvatarBlob struct {
	SubjectID     string
	Bytes         []byte
	MimeType      string
	UpdatedAtUnix int64
}
