// Package dialogkey derives stable local identifiers for dialogs.
//
// The remote backend addresses a whole conversation by a single ID; named
// sub-conversations ("topics") inside a forum-style conversation are not
// first-class there. Locally we key everything by a compound string of the
// conversation ID plus an optional topic ID, so one remote conversation can
// fan out into several independently cached dialogs.
package dialogkey

import (
	"strconv"
	"strings"
)

// Key is the compound dialog identifier: "<conv>" or "<conv>:<topic>".
type Key string

const sep = ":"

// ForConversation builds the key for a plain, single-topic conversation.
func ForConversation(convID string) Key {
	return Key(convID)
}

// ForTopic builds the key for one topic inside a multi-topic conversation.
func ForTopic(convID string, topicID int64) Key {
	return Key(convID + sep + strconv.FormatInt(topicID, 10))
}

// Parse splits a key into its conversation ID and optional topic ID.
// It is total: any string yields a usable result. A key without a topic
// suffix returns hasTopic == false, never topic 0.
func Parse(k Key) (convID string, topicID int64, hasTopic bool) {
	s := string(k)
	i := strings.Index(s, sep)
	if i < 0 {
		return s, 0, false
	}
	topic, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		// Not a topic suffix; the whole string is the conversation ID.
		return s, 0, false
	}
	return s[:i], topic, true
}

// Base strips any topic suffix. Operations scoped to the whole remote
// conversation (avatars, topic listing) use the base key.
func Base(k Key) Key {
	convID, _, _ := Parse(k)
	return Key(convID)
}

// ConversationID returns the remote conversation ID encoded in the key.
func ConversationID(k Key) string {
	convID, _, _ := Parse(k)
	return convID
}

// Topic returns the topic ID encoded in the key, if any.
func Topic(k Key) (int64, bool) {
	_, topicID, ok := Parse(k)
	return topicID, ok
}
