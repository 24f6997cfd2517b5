package dialogevents

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Handler processes one decoded event. Errors are logged and the message is
// still acked.
type Handler func(ctx context.Context, ev Event) error

// Consume subscribes to topic and feeds every decoded event to h until ctx is
// done or the subscription closes. Undecodable messages are acked and skipped.
func Consume(ctx context.Context, sub message.Subscriber, topic string, name string, h Handler) error {
	if sub == nil {
		return errors.New("dialogevents: nil subscriber")
	}
	if h == nil {
		return errors.New("dialogevents: nil handler")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	ch, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", topic)
	}
	logger := log.With().Str("component", "dialogevents").Str("consumer", name).Logger()
	logger.Debug().Str("topic", topic).Msg("consumer started")
	for msg := range ch {
		ev, err := Decode(msg.Payload)
		if err != nil {
			logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("skipping undecodable event")
			msg.Ack()
			continue
		}
		if err := h(msg.Context(), ev); err != nil {
			logger.Warn().Err(err).Str("session_id", ev.SessionID).Str("type", string(ev.Type)).Msg("handler failed")
		}
		msg.Ack()
	}
	logger.Debug().Msg("consumer stopped")
	return nil
}

// LogHandler writes every event to the global logger.
func LogHandler(_ context.Context, ev Event) error {
	log.Info().
		Str("component", "dialogevents").
		Str("type", string(ev.Type)).
		Str("session_id", ev.SessionID).
		Str("turn_id", ev.TurnID).
		Str("role", ev.Role).
		Int("length", ev.Length).
		Str("reason", ev.Reason).
		Msg("dialog event")
	return nil
}

// Fanout runs every handler for each event and returns the first error.
func Fanout(handlers ...Handler) Handler {
	return func(ctx context.Context, ev Event) error {
		var first error
		for _, h := range handlers {
			if h == nil {
				continue
			}
			if err := h(ctx, ev); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
}
