// Package eventbus constructs the watermill transport that carries
// normalized cache events. By default events stay in-process on a
// gochannel Pub/Sub; with Redis enabled they go over Redis Streams so other
// local processes (panels, tray, tooling) can consume them too.
package eventbus

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Settings holds the event transport configuration.
type Settings struct {
	Enabled  bool   `yaml:"redis_enabled"`
	Addr     string `yaml:"redis_addr"`
	Group    string `yaml:"redis_group"`
	Consumer string `yaml:"redis_consumer"`
}

func (s Settings) withDefaults() Settings {
	if s.Addr == "" {
		s.Addr = "localhost:6379"
	}
	if s.Group == "" {
		s.Group = "chatmirror"
	}
	if s.Consumer == "" {
		s.Consumer = "mirror-1"
	}
	return s
}

// Bus bundles the publisher and subscriber sides of one transport.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var firstErr error
	if b.Publisher != nil {
		if err := b.Publisher.Close(); err != nil {
			firstErr = err
		}
	}
	if b.Subscriber != nil {
		if err := b.Subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build constructs the bus described by the settings. When Redis is
// disabled the returned publisher and subscriber share one in-process
// gochannel.
func Build(s Settings) (*Bus, error) {
	logger := NewWatermillLogger(log.With().Str("component", "eventbus").Logger())

	if !s.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{}, logger)
		return &Bus{Publisher: ch, Subscriber: ch}, nil
	}

	s = s.withDefaults()
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaller := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaller,
	}, logger)
	if err != nil {
		return nil, err
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaller,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, err
	}

	return &Bus{Publisher: pub, Subscriber: sub}, nil
}
