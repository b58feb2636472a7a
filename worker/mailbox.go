package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/releasedash/errors"
)

// ErrMailboxClosed is returned by Receive once the mailbox is closed and
// empty.
var ErrMailboxClosed = errors.New(errors.ErrCodeShutdown, "mailbox closed")

// Mailbox is an unbounded FIFO with any number of producers and a single
// consumer. Enqueue never blocks.
type Mailbox struct {
	mu     sync.Mutex
	queue  []*Message
	notify chan struct{}
	closed bool
	seq    uint64
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

// Enqueue appends msg and assigns its id and sequence number. It fails with
// a canceled error when ctx is already done and with a shutdown error once
// the mailbox is closed.
func (m *Mailbox) Enqueue(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return errors.Canceled("enqueue", context.Cause(ctx))
	}
	if msg.Kind() == KindUnknown {
		return errors.InvalidInput("message must carry exactly one variant")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.Shutdown("enqueue " + msg.Kind().String())
	}
	m.seq++
	msg.Seq = m.seq
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.EnqueuedAt = time.Now()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive removes and returns the oldest message, waiting while the mailbox
// is empty. Once ctx is done it returns ctx's error even if messages are
// still queued. Only one goroutine may call Receive.
func (m *Mailbox) Receive(ctx context.Context) (*Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m.mu.Lock()
		if len(m.queue) > 0 {
			msg := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return msg, nil
		}
		closed := m.closed
		m.mu.Unlock()

		if closed {
			return nil, ErrMailboxClosed
		}

		select {
		case <-m.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close refuses further enqueues. It returns the messages that were still
// queued so the caller can release them.
func (m *Mailbox) Close() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	pending := m.queue
	m.queue = nil

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return pending
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Closed reports whether Close has been called.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
