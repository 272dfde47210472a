package engine

import (
	"sync"

	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// eventBuffer is an in-memory, append-only record of the SSE events emitted
// for one task, fanned out live to any subscribers (stream handlers) and
// replayed to late subscribers from the start.
type eventBuffer struct {
	mu     sync.Mutex
	events []v1.Envelope
	subs   map[chan v1.Envelope]struct{}
	closed bool
}

func newEventBuffer() *eventBuffer {
	return &eventBuffer{subs: make(map[chan v1.Envelope]struct{})}
}

// publish appends an event and fans it out to every live subscriber. It is
// a no-op once the buffer has been closed.
func (b *eventBuffer) publish(env v1.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.events = append(b.events, env)
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
			// slow subscriber: drop rather than block the task goroutine.
		}
	}
}

// subscribe returns a channel replaying buffered events followed by any new
// ones, and an unsubscribe function the caller must invoke when done.
func (b *eventBuffer) subscribe() (<-chan v1.Envelope, func()) {
	ch := make(chan v1.Envelope, 256)

	b.mu.Lock()
	for _, env := range b.events {
		select {
		case ch <- env:
		default:
		}
	}
	closed := b.closed
	if !closed {
		b.subs[ch] = struct{}{}
	}
	b.mu.Unlock()

	if closed {
		close(ch)
	}

	unsub := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsub
}

// close marks the buffer terminal and closes every live subscriber channel.
func (b *eventBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan v1.Envelope]struct{})
}
