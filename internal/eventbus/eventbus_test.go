package eventbus_test

import (
	"bufio"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/claude-slack/internal/eventbus"
)

func TestPublish_AssignsIncreasingIDs(t *testing.T) {
	b := eventbus.New(10, nil)
	e1 := b.Publish("message", "created", "a")
	e2 := b.Publish("message", "created", "b")
	require.Equal(t, int64(1), e1.ID)
	require.Equal(t, int64(2), e2.ID)
}

func TestSubscribe_ReceivesLiveEvents(t *testing.T) {
	b := eventbus.New(10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := b.Subscribe(ctx, "client-1", 0, nil)
	b.Publish("message", "created", "hello")

	select {
	case ev := <-ch:
		require.Equal(t, "message", ev.Topic)
		require.Equal(t, "hello", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribe_ReplaysBufferedEventsAfterLastSeen(t *testing.T) {
	b := eventbus.New(10, nil)
	b.Publish("a", "x", 1)
	b.Publish("a", "x", 2)
	e3 := b.Publish("a", "x", 3)

	ch, cancel := b.Subscribe(context.Background(), "client", e3.ID-1, nil)
	defer cancel()

	select {
	case ev := <-ch:
		require.Equal(t, e3.ID, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("expected replay of event 3")
	}
}

func TestSubscribe_TopicFilter(t *testing.T) {
	b := eventbus.New(10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := b.Subscribe(ctx, "client", 0, []string{"wanted"})
	b.Publish("ignored", "x", nil)
	b.Publish("wanted", "x", "payload")

	select {
	case ev := <-ch:
		require.Equal(t, "wanted", ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("expected only the wanted-topic event")
	}

	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected second event: %+v", ev)
		}
	default:
	}
}

func TestSubscribe_LastSeenBeforeHorizonTriggersResync(t *testing.T) {
	b := eventbus.New(2, nil)
	b.Publish("a", "x", 1)
	b.Publish("a", "x", 2)
	b.Publish("a", "x", 3) // evicts event 1, horizon now 2

	ch, cancel := b.Subscribe(context.Background(), "client", 0, nil)
	defer cancel()

	select {
	case ev := <-ch:
		require.Equal(t, eventbus.SubtypeResyncRequired, ev.Subtype)
	case <-time.After(time.Second):
		t.Fatal("expected resync-required event")
	}
}

func TestSubscribe_CancelStopsDelivery(t *testing.T) {
	b := eventbus.New(10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "client", 0, nil)
	cancel()

	time.Sleep(50 * time.Millisecond)
	b.Publish("a", "x", nil)

	select {
	case _, ok := <-ch:
		require.False(t, ok, "channel should be closed after context cancellation")
	case <-time.After(time.Second):
		t.Fatal("expected channel to be closed, not block")
	}
}

func TestEncodeDecodeLine_RoundTrips(t *testing.T) {
	ev := eventbus.Event{ID: 42, Topic: "message", Subtype: "created", Timestamp: time.Now().UTC().Truncate(time.Second), Payload: map[string]any{"k": "v"}}

	var buf bytes.Buffer
	require.NoError(t, eventbus.EncodeLine(&buf, ev))

	decoded, err := eventbus.DecodeLine(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, ev.ID, decoded.ID)
	require.Equal(t, ev.Topic, decoded.Topic)
	require.Equal(t, ev.Subtype, decoded.Subtype)
	require.True(t, ev.Timestamp.Equal(decoded.Timestamp))
}
