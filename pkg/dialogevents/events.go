// Package dialogevents publishes session and turn lifecycle events on a
// watermill transport so that side consumers (logging, the turn archive) can
// observe conversations without touching the session store.
package dialogevents

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/dialogd/pkg/dialog"
)

// DefaultTopic is the topic all dialog events are published on.
const DefaultTopic = "dialogd.events"

type Type string

const (
	TypeSessionCreated Type = "session.created"
	TypeSessionDeleted Type = "session.deleted"
	TypeSessionsClear  Type = "sessions.cleared"
	TypeTurnCommitted  Type = "turn.committed"
	TypeTurnRetracted  Type = "turn.retracted"
)

const (
	ReasonDeleted = "deleted"
	ReasonEvicted = "evicted"
)

// Event is the JSON payload carried by every message.
type Event struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Length    int    `json:"length,omitempty"`
	Count     int    `json:"count,omitempty"`
	// Reason tells why a session went away: "deleted" or "evicted".
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// TurnEvent builds an event describing a single turn.
func TurnEvent(typ Type, sessionID string, t dialog.Turn) Event {
	return Event{
		Type:      typ,
		SessionID: sessionID,
		TurnID:    t.ID(),
		Role:      string(t.Role()),
		Content:   t.Content(),
		Length:    t.Length(),
		At:        t.CreatedAt(),
	}
}

func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, errors.Wrap(err, "decode dialog event")
	}
	if ev.Type == "" {
		return Event{}, errors.New("decode dialog event: missing type")
	}
	return ev, nil
}

// Publisher wraps a watermill publisher. A nil *Publisher drops events.
type Publisher struct {
	pub   message.Publisher
	topic string
}

func NewPublisher(pub message.Publisher, topic string) *Publisher {
	if strings.TrimSpace(topic) == "" {
		topic = DefaultTopic
	}
	return &Publisher{pub: pub, topic: topic}
}

func (p *Publisher) Topic() string {
	if p == nil {
		return ""
	}
	return p.topic
}

func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.pub == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal dialog event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", string(ev.Type))
	if ev.SessionID != "" {
		msg.Metadata.Set("session_id", ev.SessionID)
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	if err := p.pub.Publish(p.topic, msg); err != nil {
		return errors.Wrapf(err, "publish %s", ev.Type)
	}
	return nil
}

// Emit publishes and logs failures instead of returning them. Event delivery
// never fails an ask.
func (p *Publisher) Emit(ctx context.Context, ev Event) {
	if err := p.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("component", "dialogevents").Str("session_id", ev.SessionID).Str("type", string(ev.Type)).Msg("event publish failed")
	}
}
