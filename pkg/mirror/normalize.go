package mirror

import (
	"strings"
	"unicode/utf8"

	"github.com/chatmirror/chatmirror/pkg/dialogkey"
	"github.com/chatmirror/chatmirror/pkg/dialogstore"
	"github.com/chatmirror/chatmirror/pkg/remote"
)

const previewRunes = 120

func messageRecordFromRaw(dialogID dialogkey.Key, raw remote.RawMessage, observedAt int64) dialogstore.MessageRecord {
	return dialogstore.MessageRecord{
		RemoteMessageID: raw.ID,
		DialogID:        dialogID,
		SenderID:        raw.SenderID,
		SenderName:      raw.SenderName,
		Text:            raw.Text,
		TimeUnix:        raw.TimeUnix,
		EditTimeUnix:    raw.EditTimeUnix,
		ReplyToID:       raw.ReplyToID,
		MediaKind:       raw.MediaKind,
		IsOutgoing:      raw.IsOutgoing,
		ObservedAtUnix:  observedAt,
		Raw:             raw.Raw,
	}
}

func messageRecordsFromRaw(dialogID dialogkey.Key, raws []remote.RawMessage, observedAt int64) []dialogstore.MessageRecord {
	records := make([]dialogstore.MessageRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, messageRecordFromRaw(dialogID, raw, observedAt))
	}
	return records
}

func dialogRecordFromRaw(raw remote.RawDialog, observedAt int64) dialogstore.DialogRecord {
	rec := dialogstore.DialogRecord{
		ID:             dialogkey.ForConversation(raw.ConversationID),
		ConversationID: raw.ConversationID,
		DisplayName:    raw.DisplayName,
		UnreadCount:    raw.UnreadCount,
		IsMultiTopic:   raw.IsMultiTopic,
		Kind:           dialogKind(raw.Kind),
		HasAvatar:      raw.HasAvatar,
		ObservedAtUnix: observedAt,
		Raw:            raw.Raw,
	}
	if raw.LastMessage != nil {
		rec.LastMessagePreview = previewText(raw.LastMessage.Text)
		rec.LastMessageTimeUnix = raw.LastMessage.TimeUnix
		rec.LastMessageOutgoing = raw.LastMessage.IsOutgoing
	}
	return rec
}

func dialogKind(kind string) dialogstore.DialogKind {
	switch dialogstore.DialogKind(kind) {
	case dialogstore.KindPerson, dialogstore.KindGroup, dialogstore.KindSupergroup, dialogstore.KindChannel:
		return dialogstore.DialogKind(kind)
	default:
		return dialogstore.KindPerson
	}
}

// previewText flattens a message body into a single bounded line for dialog
// list rows.
func previewText(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewRunes]) + "…"
}
