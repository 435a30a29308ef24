// ABOUTME: Ordered, resumable, globally-id'd fan-out event bus
// ABOUTME: Generalizes the conversation package's per-key broadcaster into a single ring-buffered ledger

package eventbus

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	// Unchanged from the teacher's broadcaster.
	subscriberBufferSize = 64

	// defaultSize is the ring buffer capacity when New is called with size <= 0.
	defaultSize = 10000

	// maxDropsBeforeDisconnect forces a slow subscriber to resync rather
	// than let it silently miss an unbounded number of events.
	maxDropsBeforeDisconnect = subscriberBufferSize
)

// Event is a single published occurrence on the bus. ID is globally
// increasing and assigned by the bus at publish time.
type Event struct {
	ID        int64
	Topic     string
	Subtype   string
	Timestamp time.Time
	Payload   any
}

// SubtypeResyncRequired marks the TopicSystem event sent to a subscriber whose requested replay point falls
// before the ring buffer's retained horizon, or who fell far enough behind
// live publishing that its channel was repeatedly full.
const (
	TopicSystem           = "system"
	SubtypeResyncRequired = "resync-required"
)

type subscriber struct {
	ch     chan Event
	topics map[string]bool
	drops  int
}

// Bus is a ring buffer of recent events plus a live subscriber fan-out.
type Bus struct {
	mu      sync.RWMutex
	size    int
	buf     []Event // circular buffer, len == size once full
	nextID  int64
	horizon int64 // oldest retained event id (0 if none evicted yet)

	subscribers map[string]*subscriber
	logger      *slog.Logger
}

// New creates a Bus retaining the most recent size events (default 10000
// when size <= 0). Pass nil logger for slog.Default().
func New(size int, logger *slog.Logger) *Bus {
	if size <= 0 {
		size = defaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		size:        size,
		buf:         make([]Event, 0, size),
		subscribers: make(map[string]*subscriber),
		logger:      logger.With("component", "eventbus"),
	}
}

// Publish appends an event to the ring buffer and fans it out to every
// subscriber whose topic filter matches. Non-blocking: a subscriber whose
// channel is full has the event dropped and a drop counted against it;
// past maxDropsBeforeDisconnect the subscriber is force-disconnected with
// a resync-required event and its channel closed.
func (b *Bus) Publish(topic, subtype string, payload any) Event {
	b.mu.Lock()
	b.nextID++
	ev := Event{ID: b.nextID, Topic: topic, Subtype: subtype, Timestamp: time.Now(), Payload: payload}

	if len(b.buf) < b.size {
		b.buf = append(b.buf, ev)
	} else {
		b.buf[int(b.nextID-1)%b.size] = ev
		b.horizon = b.buf[(int(b.nextID)%b.size)].ID
	}

	targets := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.topics == nil || sub.topics[topic] {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		b.deliver(sub, ev)
	}

	return ev
}

func (b *Bus) deliver(sub *subscriber, ev Event) {
	select {
	case sub.ch <- ev:
		b.mu.Lock()
		sub.drops = 0
		b.mu.Unlock()
	default:
		b.mu.Lock()
		sub.drops++
		drops := sub.drops
		b.mu.Unlock()
		b.logger.Debug("dropped event for slow subscriber", "event_id", ev.ID, "topic", ev.Topic, "drops", drops)
		if drops >= maxDropsBeforeDisconnect {
			b.forceResync(sub)
		}
	}
}

func (b *Bus) forceResync(sub *subscriber) {
	select {
	case sub.ch <- Event{Topic: TopicSystem, Subtype: SubtypeResyncRequired, Timestamp: time.Now()}:
	default:
	}
	close(sub.ch)
	b.mu.Lock()
	for id, s := range b.subscribers {
		if s == sub {
			delete(b.subscribers, id)
			break
		}
	}
	b.mu.Unlock()
}

// Subscribe registers clientID for events whose topic is in topics (nil or
// empty means all topics), replays buffered events with id > lastSeen (or,
// if lastSeen predates the retained horizon, a single resync-required
// event followed by the live tail only), then streams live events.
// The returned cancel func unsubscribes and closes the channel; it is also
// invoked automatically when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, clientID string, lastSeen int64, topics []string) (<-chan Event, func()) {
	subID := clientID + ":" + uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	var topicSet map[string]bool
	if len(topics) > 0 {
		topicSet = make(map[string]bool, len(topics))
		for _, t := range topics {
			topicSet[t] = true
		}
	}
	sub := &subscriber{ch: ch, topics: topicSet}

	b.mu.Lock()
	var replay []Event
	if b.horizon > 0 && lastSeen < b.horizon-1 {
		replay = []Event{{Topic: TopicSystem, Subtype: SubtypeResyncRequired, Timestamp: time.Now()}}
	} else {
		for _, ev := range b.buf {
			if ev.ID > lastSeen && (topicSet == nil || topicSet[ev.Topic]) {
				replay = append(replay, ev)
			}
		}
		sort.Slice(replay, func(i, j int) bool { return replay[i].ID < replay[j].ID })
	}
	b.subscribers[subID] = sub
	b.mu.Unlock()

	for _, ev := range replay {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped replay event, channel full at subscribe time", "event_id", ev.ID)
		}
	}

	cancel := func() { b.unsubscribe(subID) }

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel
}

func (b *Bus) unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(sub.ch)
}

// Close shuts the bus down, closing every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
