// Package bus fans worker events out to any number of subscribers.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/releasedash/internal/logger"
	"go.uber.org/zap"
)

const defaultSubscriberBuffer = 100

// EventBus delivers published events to every current subscriber. Publishing
// never blocks: a full bus or a slow subscriber loses events instead.
type EventBus struct {
	events chan *Event
	subs   map[string]chan *Event
	subsMu sync.RWMutex
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewEventBus creates a bus and starts its broadcaster.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	b := &EventBus{
		events: make(chan *Event, bufferSize),
		subs:   make(map[string]chan *Event),
		done:   make(chan struct{}),
	}
	go b.broadcast()
	return b
}

// Publish queues ev for delivery.
func (b *EventBus) Publish(ev *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	select {
	case b.events <- ev:
		return nil
	default:
		logger.Warn("Event bus full, event dropped",
			zap.String("id", ev.ID),
			zap.String("type", string(ev.Type)))
		return ErrBusFull
	}
}

// Subscription is a live subscriber. C is closed on Unsubscribe or when the
// bus closes.
type Subscription struct {
	ID  string
	C   <-chan *Event
	bus *EventBus
}

// Unsubscribe stops delivery to s.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.Unsubscribe(s.ID)
}

// Subscribe registers a new subscriber with its own buffer.
func (b *EventBus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	ch := make(chan *Event, buffer)
	subID := uuid.New().String()
	if b.closed {
		close(ch)
		return &Subscription{ID: subID, C: ch, bus: b}
	}

	b.subsMu.Lock()
	b.subs[subID] = ch
	total := len(b.subs)
	b.subsMu.Unlock()

	logger.Debug("New event subscriber",
		zap.String("subscription_id", subID),
		zap.Int("total_subscribers", total))

	return &Subscription{ID: subID, C: ch, bus: b}
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(subID string) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	if ch, ok := b.subs[subID]; ok {
		delete(b.subs, subID)
		close(ch)
		logger.Debug("Event subscriber removed",
			zap.String("subscription_id", subID),
			zap.Int("remaining_subscribers", len(b.subs)))
	}
}

// Close stops the bus. Events already queued are still delivered, then all
// subscriber channels are closed.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.events)
	b.mu.Unlock()

	<-b.done
	return nil
}

// IsClosed reports whether Close has been called.
func (b *EventBus) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Pending returns the number of queued, undelivered events.
func (b *EventBus) Pending() int {
	return len(b.events)
}

func (b *EventBus) broadcast() {
	defer close(b.done)

	for ev := range b.events {
		b.subsMu.RLock()
		for subID, ch := range b.subs {
			select {
			case ch <- ev:
			default:
				logger.Warn("Subscriber channel full, event dropped",
					zap.String("subscription_id", subID),
					zap.String("type", string(ev.Type)))
			}
		}
		b.subsMu.RUnlock()
	}

	b.subsMu.Lock()
	for subID, ch := range b.subs {
		delete(b.subs, subID)
		close(ch)
	}
	b.subsMu.Unlock()
}

// Errors
var (
	ErrBusClosed = &BusError{Message: "event bus is closed"}
	ErrBusFull   = &BusError{Message: "event bus is full"}
)

// BusError is returned by Publish.
type BusError struct {
	Message string
}

func (e *BusError) Error() string {
	return e.Message
}
