// Package eventbus implements the per-run broadcast channel described in
// SPEC_FULL.md §4.1: a single producer (the Agent) fans events out to N
// subscribers, each with a bounded buffer. A subscriber that cannot keep up
// has its oldest buffered event dropped and replaced with a Lagged marker;
// other subscribers are unaffected.
//
// The Subscribe/Publish/Close shape is grounded on
// runtime/agent/hooks.Bus (Register/Publish/Subscription), adapted from a
// synchronous fail-fast fan-out to the spec's bounded, drop-oldest,
// per-subscriber channel semantics, which in turn follows the buffered
// channel + background goroutine shape of the teacher's provider streaming
// adapters (features/model/anthropic/stream.go).
package eventbus

import (
	"context"
	"sync"

	"github.com/metricloop/agentrt/message"
)

// Payload is whatever an Event carries: a thread Message, a ProgressiveArtifact,
// a ModeChanged notice, an error, or Lagged. It is intentionally `any` because
// subscribers type-switch on the concrete value, mirroring the sealed
// message.Message pattern at the event layer.
type Payload any

// Event is one item delivered on the bus, in sequence order, for one run.
type Event struct {
	RunID    string
	Sequence uint64
	Payload  Payload
}

// Lagged replaces one or more events a slow subscriber could not keep up
// with. Skipped counts how many events were dropped to make room.
type Lagged struct {
	Skipped int
}

// ModeChanged is an informational event emitted by the Mode Controller on
// every mode transition (SPEC_FULL.md §4.7 step 4). Subscribers may ignore
// it.
type ModeChanged struct {
	From string
	To   string
}

// Error wraps an error surfaced to subscribers. Kind names the agenterrors
// category; the runtime publishes Error only for provider failures (Kind
// "provider"), while parse, tool and gate failures reach subscribers as Tool
// messages with IsError set.
type Error struct {
	Kind   string
	Detail string
}

// DonePayload is the Payload carried by the bus's terminal event.
type DonePayload struct {
	Cancelled bool
}

// Bus is a single-producer, many-subscriber broadcast channel for one
// Agent's events across its lifetime (possibly many runs).
type Bus struct {
	capacity int

	mu   sync.Mutex
	subs map[*subscriber]struct{}

	closeOnce sync.Once
	closed    bool

	onLag func(skipped int)
}

type subscriber struct {
	ch     chan Event
	mu     sync.Mutex
	lagged bool
}

// New constructs a Bus with the given per-subscriber buffer capacity. A
// capacity <= 0 is rejected in favor of the spec's documented default of
// 256.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{capacity: capacity, subs: make(map[*subscriber]struct{})}
}

// OnLag registers a callback invoked the first time a given subscriber has
// an event dropped, with the number skipped in that first overflow. It runs
// while that subscriber's own lock is held, so it must not call back into
// the Bus. It is used by the Agent to emit a telemetry log line; it is not
// part of the subscriber-facing contract.
func (b *Bus) OnLag(fn func(skipped int)) {
	b.mu.Lock()
	b.onLag = fn
	b.mu.Unlock()
}

// Subscribe registers a new subscriber and returns a receive-only channel of
// events. Subscribers must be attached before a run starts to avoid losing
// its early events (SPEC_FULL.md §4.1). If the bus is already closed,
// Subscribe returns a closed channel immediately.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, b.capacity)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
	}
	return sub.ch, unsubscribe
}

// Publish delivers event to every currently registered subscriber. A
// subscriber whose buffer is full has its oldest event dropped and replaced
// with a Lagged event carrying the number of events skipped so far in this
// lag episode; the new event is then enqueued. Other subscribers are
// unaffected by one subscriber's lag.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	onLag := b.onLag
	b.mu.Unlock()

	for _, s := range subs {
		s.send(event, onLag)
	}
}

func (s *subscriber) send(event Event, onLag func(int)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- event:
		return
	default:
	}

	// Buffer full. Drain it, coalesce an existing Lagged marker at the front
	// into the new one instead of letting it occupy a second slot, then drop
	// just enough of the remaining oldest events to leave room for both the
	// marker and the new event. The new event always gets enqueued below;
	// only genuinely stale events are ever sacrificed to make room for it.
	capacity := cap(s.ch)
	buffered := make([]Event, 0, capacity)
	for {
		select {
		case e := <-s.ch:
			buffered = append(buffered, e)
			continue
		default:
		}
		break
	}

	skipped := 0
	if len(buffered) > 0 {
		if lg, ok := buffered[0].Payload.(Lagged); ok {
			skipped = lg.Skipped
			buffered = buffered[1:]
		}
	}

	room := capacity - 2 // one slot for the marker, one for the new event
	if room < 0 {
		room = 0
	}
	if len(buffered) > room {
		drop := len(buffered) - room
		skipped += drop
		buffered = buffered[drop:]
	}

	if !s.lagged && onLag != nil {
		onLag(skipped)
	}
	s.lagged = true

	if capacity >= 2 {
		s.ch <- Event{RunID: event.RunID, Sequence: event.Sequence, Payload: Lagged{Skipped: skipped}}
	}
	for _, e := range buffered {
		s.ch <- e
	}
	// capacity == 1 cannot hold both a marker and the event; the marker is
	// dropped in favor of delivering the event itself.
	s.ch <- event
}

// Close closes the bus: it publishes a final Done payload to every
// subscriber exactly once, then unregisters and closes every subscriber
// channel. Close is idempotent.
func (b *Bus) Close(ctx context.Context, runID string, seq uint64, cancelled bool) {
	b.closeOnce.Do(func() {
		b.Publish(Event{RunID: runID, Sequence: seq, Payload: message.Done{Cancelled: cancelled}})

		b.mu.Lock()
		b.closed = true
		subs := b.subs
		b.subs = make(map[*subscriber]struct{})
		b.mu.Unlock()

		for s := range subs {
			close(s.ch)
		}
	})
	_ = ctx
}
