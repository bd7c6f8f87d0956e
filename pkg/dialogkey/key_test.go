package dialogkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	conv, topic, ok := Parse(ForConversation("100"))
	require.Equal(t, "100", conv)
	require.False(t, ok)
	require.Equal(t, int64(0), topic)

	conv, topic, ok = Parse(ForTopic("100", 7))
	require.Equal(t, "100", conv)
	require.True(t, ok)
	require.Equal(t, int64(7), topic)
}

func TestParseNoTopicNeverZero(t *testing.T) {
	_, topic, ok := Parse(Key("-10012345"))
	require.False(t, ok)
	require.Equal(t, int64(0), topic)

	// Topic 0 is still representable and distinct from "no topic".
	conv, topic, ok := Parse(ForTopic("-10012345", 0))
	require.Equal(t, "-10012345", conv)
	require.True(t, ok)
	require.Equal(t, int64(0), topic)
}

func TestParseIsTotal(t *testing.T) {
	conv, _, ok := Parse(Key("abc:not-a-number"))
	require.Equal(t, "abc:not-a-number", conv)
	require.False(t, ok)

	conv, _, ok = Parse(Key(""))
	require.Equal(t, "", conv)
	require.False(t, ok)
}

func TestBase(t *testing.T) {
	require.Equal(t, Key("100"), Base(ForTopic("100", 7)))
	require.Equal(t, Key("100"), Base(ForConversation("100")))
	require.Equal(t, "100", ConversationID(ForTopic("100", 7)))

	topic, ok := Topic(ForTopic("100", 7))
	require.True(t, ok)
	require.Equal(t, int64(7), topic)
	_, ok = Topic(ForConversation("100"))
	require.False(t, ok)
}
