// Package events defines the historical sync engine's output events and
// a small in-process bus for delivering them to subscribers (the
// realtime engine, progress reporters, the NATS sink).
package events

// Event is the closed set of events the engine emits. Type-switch on the
// concrete type to handle each variant.
type Event interface {
	isEvent()
}

// HistoricalCheckpoint reports that every event source has confirmed
// coverage up to and including BlockNumber. Monotone per engine
// instance: BlockNumber only increases across successive emissions.
type HistoricalCheckpoint struct {
	BlockNumber    int64
	BlockTimestamp uint64
}

func (HistoricalCheckpoint) isEvent() {}

// SyncComplete is emitted exactly once, when every source has no
// remaining required blocks and the work queue has drained.
type SyncComplete struct{}

func (SyncComplete) isEvent() {}

// Bus is a minimal, non-blocking-on-slow-subscriber event bus: Emit
// never blocks the caller past the channel's buffer.
type Bus struct {
	ch chan Event
}

// NewBus creates a bus with the given buffer size.
func NewBus(buffer int) *Bus {
	return &Bus{ch: make(chan Event, buffer)}
}

// Emit enqueues an event. If the buffer is full, the oldest event is
// dropped to make room — subscribers care about the latest checkpoint,
// not an unbounded backlog.
func (b *Bus) Emit(e Event) {
	select {
	case b.ch <- e:
	default:
		select {
		case <-b.ch:
		default:
		}
		select {
		case b.ch <- e:
		default:
		}
	}
}

// Events returns the receive side of the bus.
func (b *Bus) Events() <-chan Event {
	return b.ch
}
