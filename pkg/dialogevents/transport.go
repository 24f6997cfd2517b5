package dialogevents

import (
	"context"
	"strings"

	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Settings selects the event transport.
type Settings struct {
	Topic string      `yaml:"topic"`
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Topic: DefaultTopic,
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Group:    "dialogd",
			Consumer: "dialogd-1",
		},
	}
}

// Transport bundles the publisher and subscriber halves of one event bus.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	closers []func() error
}

// BuildTransport returns a Redis Streams transport when enabled and an
// in-memory gochannel otherwise.
func BuildTransport(ctx context.Context, s Settings) (*Transport, error) {
	logger := NewWatermillLogger(log.Logger)
	if !s.Redis.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
		return &Transport{Publisher: ch, Subscriber: ch, closers: []func() error{ch.Close}}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Redis.Addr})
	topic := s.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	if err := EnsureGroupAtTail(ctx, client, topic, s.Redis.Group); err != nil {
		_ = client.Close()
		return nil, err
	}
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Redis.Group,
		Consumer:      s.Redis.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis subscriber")
	}
	log.Info().Str("component", "dialogevents").Str("addr", s.Redis.Addr).Str("group", s.Redis.Group).Msg("using redis streams transport")
	return &Transport{
		Publisher:  pub,
		Subscriber: sub,
		closers:    []func() error{sub.Close, pub.Close, client.Close},
	}, nil
}

func (t *Transport) Close() error {
	if t == nil {
		return nil
	}
	var first error
	for _, c := range t.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	t.closers = nil
	return first
}

// EnsureGroupAtTail creates the consumer group at the stream tail so a fresh
// consumer does not replay the whole history.
func EnsureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "create consumer group")
	}
	log.Info().Str("component", "dialogevents").Str("stream", stream).Str("group", group).Msg("created redis consumer group at tail")
	return nil
}
