package mirror

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/chatmirror/chatmirror/pkg/dialogkey"
	"github.com/chatmirror/chatmirror/pkg/dialogstore"
	"github.com/chatmirror/chatmirror/pkg/remote"
)

func newCacheForTest(t *testing.T, fetcher remote.Fetcher) (*Cache, *dialogstore.InMemoryStore) {
	t.Helper()
	store := dialogstore.NewInMemoryStore()
	c, err := NewCache(CacheConfig{Store: store, Fetcher: fetcher})
	require.NoError(t, err)
	return c, store
}

func TestMessagesColdCacheFetchesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	f.setHistory("100", 0, rawHistory("100", 20))
	c, store := newCacheForTest(t, f)
	d := dialogkey.ForConversation("100")

	page, err := c.Messages(ctx, d, 20, 0)
	require.NoError(t, err)
	require.Len(t, page, 20)
	require.Equal(t, int64(1), page[0].RemoteMessageID)
	require.Equal(t, int64(20), page[19].RemoteMessageID)

	_, msgCalls, _, _ := f.calls()
	require.Equal(t, 1, msgCalls)

	// Both tiers are now populated.
	stored, err := store.Messages(ctx, d, 20, 0)
	require.NoError(t, err)
	require.Len(t, stored, 20)

	// Within the TTL the second read is a pure L1 hit.
	page2, err := c.Messages(ctx, d, 20, 0)
	require.NoError(t, err)
	require.Len(t, page2, 20)
	_, msgCalls, _, _ = f.calls()
	require.Equal(t, 1, msgCalls)
}

func TestMessagesSingleFlight(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	f.setHistory("100", 0, rawHistory("100", 20))
	f.gate = make(chan struct{})
	c, _ := newCacheForTest(t, f)
	d := dialogkey.ForConversation("100")

	var wg sync.WaitGroup
	results := make([][]dialogstore.MessageRecord, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Messages(ctx, d, 20, 0)
		}(i)
	}

	// Let both callers reach the in-flight registry before releasing the
	// backend.
	require.Eventually(t, func() bool {
		_, calls, _, _ := f.calls()
		return calls >= 1
	}, time.Second, time.Millisecond)
	close(f.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Len(t, results[0], 20)
	require.Equal(t, results[0], results[1])

	_, msgCalls, _, _ := f.calls()
	require.Equal(t, 1, msgCalls)
}

func TestMessagesWarmStoreServesImmediatelyThenRefills(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	f.setHistory("100", 7, rawHistory("100", 20))
	c, store := newCacheForTest(t, f)
	d := dialogkey.ForTopic("100", 7)

	// The store holds the 15 most recent messages (ids 6..20).
	seed := make([]dialogstore.MessageRecord, 0, 15)
	for i := int64(6); i <= 20; i++ {
		seed = append(seed, dialogstore.MessageRecord{
			RemoteMessageID: i, Text: "cached", TimeUnix: 1000 + i, ObservedAtUnix: 1,
		})
	}
	require.NoError(t, store.UpsertMessages(ctx, d, seed))

	page, err := c.Messages(ctx, d, 20, 0)
	require.NoError(t, err)
	require.Len(t, page, 15)
	require.Equal(t, int64(6), page[0].RemoteMessageID)

	// Exactly one background refill tops the store up to 20.
	require.Eventually(t, func() bool {
		stored, err := store.Messages(ctx, d, 20, 0)
		return err == nil && len(stored) == 20
	}, time.Second, time.Millisecond)
	_, msgCalls, _, _ := f.calls()
	require.Equal(t, 1, msgCalls)

	// The refill superseded the short page in the hot tier.
	require.Eventually(t, func() bool {
		page, err := c.Messages(ctx, d, 20, 0)
		return err == nil && len(page) == 20
	}, time.Second, time.Millisecond)
	_, msgCalls, _, _ = f.calls()
	require.Equal(t, 1, msgCalls)
}

func TestMessagesPagedKeysDoNotCollide(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	f.setHistory("100", 0, rawHistory("100", 40))
	c, _ := newCacheForTest(t, f)
	d := dialogkey.ForConversation("100")

	recent, err := c.Messages(ctx, d, 20, 0)
	require.NoError(t, err)
	require.Equal(t, int64(40), recent[19].RemoteMessageID)

	older, err := c.Messages(ctx, d, 20, int64(21))
	require.NoError(t, err)
	require.Len(t, older, 20)
	require.Equal(t, int64(20), older[19].RemoteMessageID)

	// The recent page is still served from L1, not overwritten by the
	// paged read.
	recent2, err := c.Messages(ctx, d, 20, 0)
	require.NoError(t, err)
	require.Equal(t, int64(40), recent2[19].RemoteMessageID)
}

func TestMessagesInvalidLimit(t *testing.T) {
	c, _ := newCacheForTest(t, newFakeFetcher())
	_, err := c.Messages(context.Background(), "100", 0, 0)
	require.ErrorIs(t, err, ErrInvalidLimit)
	_, err = c.Dialogs(context.Background(), -5)
	require.ErrorIs(t, err, ErrInvalidLimit)
}

func TestMessagesRemoteTimeout(t *testing.T) {
	f := newFakeFetcher()
	f.gate = make(chan struct{}) // never released
	c, _ := newCacheForTest(t, f)
	c.remoteTimeout = 20 * time.Millisecond

	_, err := c.Messages(context.Background(), "100", 20, 0)
	require.ErrorIs(t, err, remote.ErrTimeout)
}

func TestDialogsColdOfflineSurfacesNotConnected(t *testing.T) {
	f := newFakeFetcher()
	f.err = remote.ErrNotConnected
	c, _ := newCacheForTest(t, f)

	_, err := c.Dialogs(context.Background(), 50)
	require.ErrorIs(t, err, remote.ErrNotConnected)
}

func TestDialogsMultiTopicExpansion(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	f.dialogs = []remote.RawDialog{
		{
			ConversationID: "100",
			DisplayName:    "engineering",
			Kind:           "supergroup",
			IsMultiTopic:   true,
		},
		{
			ConversationID: "2",
			DisplayName:    "bob",
			Kind:           "person",
			LastMessage:    ptrRawMsg(rawMsg("2", 9, "hi")),
		},
	}
	f.topics["100"] = []remote.RawTopic{
		{ConversationID: "100", TopicID: 7, Title: "deploys", UnreadCount: 3, AnchorMessageID: 51},
		{ConversationID: "100", TopicID: 8, Title: "oncall", AnchorMessageID: 52},
	}
	anchor51 := rawMsg("100", 51, "release went out")
	anchor51.TopicID = 7
	anchor51.IsOutgoing = true
	anchor51.TimeUnix = 5000
	anchor52 := rawMsg("100", 52, "quiet night")
	anchor52.TopicID = 8
	anchor52.TimeUnix = 4000
	f.anchors["100"] = []remote.RawMessage{anchor51, anchor52}

	c, store := newCacheForTest(t, f)
	dialogs, err := c.Dialogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dialogs, 3)

	byID := map[dialogkey.Key]dialogstore.DialogRecord{}
	for _, d := range dialogs {
		byID[d.ID] = d
	}

	deploys := byID[dialogkey.ForTopic("100", 7)]
	require.Equal(t, "engineering / deploys", deploys.DisplayName)
	require.Equal(t, 3, deploys.UnreadCount)
	require.True(t, deploys.LastMessageOutgoing)
	require.Equal(t, "release went out", deploys.LastMessagePreview)
	require.Equal(t, int64(5000), deploys.LastMessageTimeUnix)
	require.True(t, deploys.IsMultiTopic)
	require.True(t, deploys.HasTopic)

	oncall := byID[dialogkey.ForTopic("100", 8)]
	require.False(t, oncall.LastMessageOutgoing)

	// Newest activity first: deploys (5000), oncall (4000), bob (1009).
	require.Equal(t, dialogkey.ForTopic("100", 7), dialogs[0].ID)
	require.Equal(t, dialogkey.ForTopic("100", 8), dialogs[1].ID)
	require.Equal(t, dialogkey.ForConversation("2"), dialogs[2].ID)

	stored, err := store.Dialogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 3)
}

func TestDialogsTopicListingFailureFallsBackToSingleTopic(t *testing.T) {
	f := newFakeFetcher()
	f.dialogs = []remote.RawDialog{
		{ConversationID: "100", DisplayName: "engineering", Kind: "supergroup", IsMultiTopic: true},
	}
	f.topicsErr = errors.Wrap(remote.ErrTimeout, "fetch topics")

	c, _ := newCacheForTest(t, f)
	dialogs, err := c.Dialogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dialogs, 1)
	require.Equal(t, dialogkey.ForConversation("100"), dialogs[0].ID)
	require.True(t, dialogs[0].IsMultiTopic)
	require.False(t, dialogs[0].HasTopic)
}

func TestDialogsExpansionRetiresStaleBaseRecord(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	f.dialogs = []remote.RawDialog{
		{ConversationID: "100", DisplayName: "engineering", Kind: "supergroup", IsMultiTopic: true},
	}
	seedTopicsFixture(f)
	c, store := newCacheForTest(t, f)

	// An earlier run failed to list topics and persisted the base record.
	require.NoError(t, store.UpsertDialogs(ctx, []dialogstore.DialogRecord{
		{ID: "100", ConversationID: "100", DisplayName: "engineering", Kind: dialogstore.KindSupergroup, IsMultiTopic: true, LastMessageTimeUnix: 1, ObservedAtUnix: 1},
	}))

	// The warm store serves the stale page immediately; the background
	// refill expands per topic and must retire the base row.
	dialogs, err := c.Dialogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dialogs, 1)

	base := dialogkey.ForConversation("100")
	require.Eventually(t, func() bool {
		stored, err := store.Dialogs(ctx, 10)
		if err != nil || len(stored) != 2 {
			return false
		}
		for _, d := range stored {
			if d.ID == base {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
}

func TestAvatarReadThrough(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	f.avatars["u1"] = &remote.RawAvatar{Bytes: []byte{1, 2, 3}, MimeType: "image/jpeg"}
	c, store := newCacheForTest(t, f)

	blob, err := c.Avatar(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", blob.MimeType)

	// Persisted, so the next read never leaves the store.
	_, ok, err := store.Avatar(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = c.Avatar(ctx, "u1")
	require.NoError(t, err)
	_, _, _, avatarCalls := f.calls()
	require.Equal(t, 1, avatarCalls)

	_, err = c.Avatar(ctx, "unknown")
	require.ErrorIs(t, err, remote.ErrNotFound)
}

func ptrRawMsg(m remote.RawMessage) *remote.RawMessage { return &m }
