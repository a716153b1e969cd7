// Package events fans out state changes to any number of live subscribers
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscriber queue depth used when none is configured
const DefaultBuffer = 16

// Broadcaster delivers every published event to all current subscribers.
// Delivery never blocks: a subscriber whose queue is full is dropped and its channel closed.
type Broadcaster[T any] struct {
	mu          sync.Mutex
	subscribers map[string]chan T
	buffer      int
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer
func NewBroadcaster[T any](buffer int, logger *slog.Logger) *Broadcaster[T] {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster[T]{
		subscribers: make(map[string]chan T),
		buffer:      buffer,
		logger:      logger,
	}
}

// Subscribe registers a new subscriber and queues current as its first event,
// so late joiners always start from the present state.
func (b *Broadcaster[T]) Subscribe(current T) (string, <-chan T) {
	ch := make(chan T, b.buffer)
	ch <- current

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return "", ch
	}

	id := uuid.NewString()
	b.subscribers[id] = ch
	b.logger.Debug("subscriber added", slog.String("subscriber", id), slog.Int("subscribers", len(b.subscribers)))

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are ignored.
func (b *Broadcaster[T]) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(id)
}

// Publish delivers event to every subscriber registered at the time of the call
// and returns the number of successful deliveries.
func (b *Broadcaster[T]) Publish(event T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
			delivered++
		default:
			b.logger.Warn("dropping slow subscriber", slog.String("subscriber", id))
			b.removeLocked(id)
		}
	}

	return delivered
}

// Len returns the number of current subscribers
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subscribers)
}

// Close drops every subscriber; later subscriptions receive a closed channel
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id := range b.subscribers {
		b.removeLocked(id)
	}
	b.closed = true
}

func (b *Broadcaster[T]) removeLocked(id string) {
	ch, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(ch)
	b.logger.Debug("subscriber removed", slog.String("subscriber", id), slog.Int("subscribers", len(b.subscribers)))
}
