// Package pubsub is a small typed publish/subscribe broker used to fan out
// engine updates to view-layer subscribers.
package pubsub

import (
	"context"
	"log/slog"
	"sync"
)

// EventType names what happened.
type EventType string

// Event wraps a payload with its type.
type Event[T any] struct {
	Type    EventType
	Payload T
}

const defaultBuffer = 64

// Broker delivers every published event to every subscriber. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[chan Event[T]]struct{}
	buffer int
	closed bool
	done   chan struct{}
	logger *slog.Logger
}

// NewBroker creates a broker whose subscriber channels hold buffer events.
func NewBroker[T any](buffer int, logger *slog.Logger) *Broker[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker[T]{
		subs:   map[chan Event[T]]struct{}{},
		buffer: buffer,
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Subscribe returns a channel of events that is closed when ctx is done or
// the broker is closed.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	ch := make(chan Event[T], b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(ch)
		case <-b.done:
		}
	}()
	return ch
}

// Publish sends an event to all subscribers.
func (b *Broker[T]) Publish(typ EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	ev := Event[T]{Type: typ, Payload: payload}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("subscriber buffer full, dropping event", "type", string(typ))
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Broker[T]) unsubscribe(ch chan Event[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}
