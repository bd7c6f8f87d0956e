package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatmirror/chatmirror/pkg/remote"
)

func newResolverForTest(f *fakeFetcher) *TopicResolver {
	return NewTopicResolver(f, 30*time.Second, time.Second)
}

func seedTopicsFixture(f *fakeFetcher) {
	f.topics["100"] = []remote.RawTopic{
		{ConversationID: "100", TopicID: 7, Title: "deploys", UnreadCount: 2, AnchorMessageID: 51},
		{ConversationID: "100", TopicID: 8, Title: "oncall", AnchorMessageID: 52},
	}
	anchor51 := rawMsg("100", 51, "release went out")
	anchor51.TopicID = 7
	anchor51.IsOutgoing = true
	anchor52 := rawMsg("100", 52, "quiet night")
	anchor52.TopicID = 8
	f.anchors["100"] = []remote.RawMessage{anchor51, anchor52}
}

func TestListTopicsCachesWithinTTL(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	seedTopicsFixture(f)
	r := newResolverForTest(f)

	topics, err := r.ListTopics(ctx, "100")
	require.NoError(t, err)
	require.Len(t, topics, 2)
	require.Equal(t, "deploys", topics[0].Title)
	require.Equal(t, int64(51), topics[0].AnchorMessageID)

	_, err = r.ListTopics(ctx, "100")
	require.NoError(t, err)
	_, _, topicCalls, _ := f.calls()
	require.Equal(t, 1, topicCalls)

	r.Invalidate("100")
	_, err = r.ListTopics(ctx, "100")
	require.NoError(t, err)
	_, _, topicCalls, _ = f.calls()
	require.Equal(t, 2, topicCalls)
}

func TestAnchorLookups(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	seedTopicsFixture(f)
	r := newResolverForTest(f)

	_, err := r.ListTopics(ctx, "100")
	require.NoError(t, err)

	anchor, ok := r.AnchorMessage("100", 7)
	require.True(t, ok)
	require.Equal(t, int64(51), anchor.ID)
	require.Equal(t, "release went out", anchor.Text)

	outgoing, known := r.IsOutgoingAnchor("100", 51)
	require.True(t, known)
	require.True(t, outgoing)
	outgoing, known = r.IsOutgoingAnchor("100", 52)
	require.True(t, known)
	require.False(t, outgoing)
	_, known = r.IsOutgoingAnchor("100", 999)
	require.False(t, known)

	topicID, ok := r.TopicForMessage("100", 51)
	require.True(t, ok)
	require.Equal(t, int64(7), topicID)
	_, ok = r.TopicForMessage("100", 999)
	require.False(t, ok)
}

func TestNoteMessageAdvancesAnchor(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	seedTopicsFixture(f)
	r := newResolverForTest(f)

	_, err := r.ListTopics(ctx, "100")
	require.NoError(t, err)

	live := rawMsg("100", 60, "deploying again")
	live.TopicID = 7
	r.NoteMessage("100", 7, live)

	topicID, ok := r.TopicForMessage("100", 60)
	require.True(t, ok)
	require.Equal(t, int64(7), topicID)

	topics, err := r.ListTopics(ctx, "100")
	require.NoError(t, err)
	require.Equal(t, int64(60), topics[0].AnchorMessageID)

	anchor, ok := r.AnchorMessage("100", 7)
	require.True(t, ok)
	require.Equal(t, "deploying again", anchor.Text)
}

func TestNoteMessageBeforeFirstFetch(t *testing.T) {
	f := newFakeFetcher()
	r := newResolverForTest(f)

	live := rawMsg("100", 60, "hello")
	r.NoteMessage("100", 7, live)

	// Attribution works before the topic list has ever been fetched.
	topicID, ok := r.TopicForMessage("100", 60)
	require.True(t, ok)
	require.Equal(t, int64(7), topicID)
}

func TestFetchTopicsKeepsLiveAttributions(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	seedTopicsFixture(f)
	r := newResolverForTest(f)

	_, err := r.ListTopics(ctx, "100")
	require.NoError(t, err)
	live := rawMsg("100", 60, "live message")
	r.NoteMessage("100", 7, live)

	r.Invalidate("100")
	_, err = r.ListTopics(ctx, "100")
	require.NoError(t, err)

	topicID, ok := r.TopicForMessage("100", 60)
	require.True(t, ok)
	require.Equal(t, int64(7), topicID)
}
