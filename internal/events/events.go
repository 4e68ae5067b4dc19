// Package events fans out device state changes to live subscribers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Event types.
const (
	DeviceUpdated     = "device.updated"
	PolicyChanged     = "policy.changed"
	ReconcileApplied  = "reconcile.applied"
	ReconcileFailed   = "reconcile.failed"
	BedtimeTransition = "bedtime.transition"
)

var droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "revive_events_dropped_total",
	Help: "Events dropped because a subscriber was not keeping up",
})

// Event is a single notification.
type Event struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Device string    `json:"device,omitempty"`
	Time   time.Time `json:"time"`
	Data   any       `json:"data,omitempty"`
}

// Broadcaster delivers every published event to every subscriber. A
// subscriber whose buffer is full misses events rather than blocking
// publishers.
type Broadcaster struct {
	buffer int
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[uint64]chan Event
	next uint64
}

// New creates a Broadcaster with the given per-subscriber buffer.
func New(buffer int, logger zerolog.Logger) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{
		buffer: buffer,
		logger: logger.With().Str("component", "events").Logger(),
		subs:   make(map[uint64]chan Event),
	}
}

// Publish sends an event. It never blocks. A nil Broadcaster discards it.
func (b *Broadcaster) Publish(typ, device string, data any) {
	if b == nil {
		return
	}
	ev := Event{
		ID:     uuid.NewString(),
		Type:   typ,
		Device: device,
		Time:   time.Now().UTC(),
		Data:   data,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			droppedEvents.Inc()
			b.logger.Debug().Uint64("subscriber", id).Str("type", typ).Msg("subscriber buffer full, event dropped")
		}
	}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
