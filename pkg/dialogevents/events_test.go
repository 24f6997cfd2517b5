package dialogevents

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestPublishConsume_InMemory(t *testing.T) {
	tr, err := BuildTransport(context.Background(), DefaultSettings())
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Consume(ctx, tr.Subscriber, DefaultTopic, "test", func(_ context.Context, ev Event) error {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
			return nil
		})
	}()

	pub := NewPublisher(tr.Publisher, "")
	require.Equal(t, DefaultTopic, pub.Topic())

	// gochannel drops messages published before the subscription exists
	require.Eventually(t, func() bool {
		_ = pub.Publish(ctx, Event{Type: TypeSessionCreated, SessionID: "probe"})
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, pub.Publish(ctx, Event{Type: TypeTurnCommitted, SessionID: "s1", TurnID: "t1", Role: "user", Content: "hi", Length: 2}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range got {
			if ev.Type == TypeTurnCommitted {
				return ev.SessionID == "s1" && ev.Content == "hi" && !ev.At.IsZero()
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestNilPublisherDropsEvents(t *testing.T) {
	var p *Publisher
	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeTurnCommitted}))
	p.Emit(context.Background(), Event{Type: TypeTurnCommitted})
	require.Equal(t, "", p.Topic())
}

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"turn.committed","session_id":"s","length":3,"at":"2024-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	require.Equal(t, TypeTurnCommitted, ev.Type)
	require.Equal(t, 3, ev.Length)

	_, err = Decode([]byte(`{}`))
	require.Error(t, err)
	_, err = Decode([]byte(`not json`))
	require.Error(t, err)
}

func TestConsumeRejectsNilArguments(t *testing.T) {
	require.Error(t, Consume(context.Background(), nil, "", "x", LogHandler))
}

func TestFanout(t *testing.T) {
	var calls []string
	h := Fanout(
		func(context.Context, Event) error { calls = append(calls, "a"); return nil },
		nil,
		func(context.Context, Event) error { calls = append(calls, "b"); return errors.New("b failed") },
		func(context.Context, Event) error { calls = append(calls, "c"); return nil },
	)
	err := h(context.Background(), Event{Type: TypeTurnCommitted})
	require.EqualError(t, err, "b failed")
	require.Equal(t, []string{"a", "b", "c"}, calls)
}
