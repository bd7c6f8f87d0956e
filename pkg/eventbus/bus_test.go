package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
)

func TestBuildInProcessRoundTrip(t *testing.T) {
	bus, err := Build(Settings{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	msgs, err := bus.Subscriber.Subscribe(context.Background(), "t")
	require.NoError(t, err)

	payload := []byte(`{"kind":"new_message"}`)
	require.NoError(t, bus.Publisher.Publish("t", message.NewMessage(watermill.NewUUID(), payload)))

	select {
	case m := <-msgs:
		require.Equal(t, payload, []byte(m.Payload))
		m.Ack()
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestSettingsDefaults(t *testing.T) {
	s := Settings{}.withDefaults()
	require.Equal(t, "localhost:6379", s.Addr)
	require.Equal(t, "chatmirror", s.Group)
	require.Equal(t, "mirror-1", s.Consumer)
}
