package mirror

import (
	"context"
	"fmt"
	"sync"

	"github.com/chatmirror/chatmirror/pkg/remote"
)

// fakeFetcher is the in-memory backend used across the package tests.
// Message histories are configured oldest first with ascending IDs; paging
// mirrors the real backend contract.
type fakeFetcher struct {
	mu      sync.Mutex
	dialogs []remote.RawDialog
	history map[string][]remote.RawMessage // keyed by conv|topic
	topics  map[string][]remote.RawTopic
	anchors map[string][]remote.RawMessage
	avatars map[string]*remote.RawAvatar

	err       error // when set, every call fails with it
	topicsErr error // overrides err for FetchTopics only when set

	gate chan struct{} // when set, FetchMessages blocks until closed

	dialogCalls  int
	messageCalls int
	topicCalls   int
	avatarCalls  int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		history: map[string][]remote.RawMessage{},
		topics:  map[string][]remote.RawTopic{},
		anchors: map[string][]remote.RawMessage{},
		avatars: map[string]*remote.RawAvatar{},
	}
}

func historyKey(convID string, topicID int64) string {
	return fmt.Sprintf("%s|%d", convID, topicID)
}

func (f *fakeFetcher) setHistory(convID string, topicID int64, msgs []remote.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[historyKey(convID, topicID)] = msgs
}

func (f *fakeFetcher) calls() (dialogs, messages, topics, avatars int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dialogCalls, f.messageCalls, f.topicCalls, f.avatarCalls
}

func (f *fakeFetcher) FetchDialogs(_ context.Context, limit int) ([]remote.RawDialog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialogCalls++
	if f.err != nil {
		return nil, f.err
	}
	out := append([]remote.RawDialog(nil), f.dialogs...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeFetcher) FetchMessages(ctx context.Context, convID string, topicID int64, limit int, beforeID int64) ([]remote.RawMessage, error) {
	f.mu.Lock()
	gate := f.gate
	f.messageCalls++
	err := f.err
	full := append([]remote.RawMessage(nil), f.history[historyKey(convID, topicID)]...)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	page := make([]remote.RawMessage, 0, limit)
	for _, m := range full {
		if beforeID > 0 && m.ID >= beforeID {
			continue
		}
		page = append(page, m)
	}
	if len(page) > limit {
		page = page[len(page)-limit:]
	}
	return page, nil
}

func (f *fakeFetcher) FetchTopics(_ context.Context, convID string) ([]remote.RawTopic, []remote.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topicCalls++
	if f.topicsErr != nil {
		return nil, nil, f.topicsErr
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	return append([]remote.RawTopic(nil), f.topics[convID]...),
		append([]remote.RawMessage(nil), f.anchors[convID]...), nil
}

func (f *fakeFetcher) FetchAvatar(_ context.Context, subjectID string) (*remote.RawAvatar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.avatarCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.avatars[subjectID], nil
}

var _ remote.Fetcher = &fakeFetcher{}

func rawMsg(convID string, id int64, text string) remote.RawMessage {
	return remote.RawMessage{
		ID:             id,
		ConversationID: convID,
		SenderName:     "alice",
		Text:           text,
		TimeUnix:       1000 + id,
	}
}

func rawHistory(convID string, n int) []remote.RawMessage {
	msgs := make([]remote.RawMessage, 0, n)
	for i := 1; i <= n; i++ {
		msgs = append(msgs, rawMsg(convID, int64(i), fmt.Sprintf("msg %d", i)))
	}
	return msgs
}
