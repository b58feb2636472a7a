package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) *Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishFansOut(t *testing.T) {
	b := NewEventBus(10)
	defer b.Close()

	s1 := b.Subscribe(10)
	s2 := b.Subscribe(10)

	require.NoError(t, b.Publish(&Event{Type: EventCommandExecuted, Kind: "approve-release"}))

	e1 := receive(t, s1)
	e2 := receive(t, s2)
	assert.Equal(t, EventCommandExecuted, e1.Type)
	assert.NotEmpty(t, e1.ID)
	assert.False(t, e1.Timestamp.IsZero())
	assert.Same(t, e1, e2)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewEventBus(10)
	defer b.Close()

	sub := b.Subscribe(1)
	sub.Unsubscribe()
	sub.Unsubscribe()

	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestCloseDeliversQueuedThenClosesSubscribers(t *testing.T) {
	b := NewEventBus(10)
	sub := b.Subscribe(10)

	require.NoError(t, b.Publish(&Event{Type: EventWorkerStopped}))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	ev := receive(t, sub)
	assert.Equal(t, EventWorkerStopped, ev.Type)
	_, ok := <-sub.C
	assert.False(t, ok)

	assert.ErrorIs(t, b.Publish(&Event{Type: EventMessageProcessed}), ErrBusClosed)
	assert.True(t, b.IsClosed())

	late := b.Subscribe(1)
	_, ok = <-late.C
	assert.False(t, ok)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewEventBus(100)
	defer b.Close()

	slow := b.Subscribe(1)
	fast := b.Subscribe(100)

	for i := 0; i < 50; i++ {
		_ = b.Publish(&Event{Type: EventMessageProcessed, Seq: uint64(i + 1)})
	}

	for i := 0; i < 50; i++ {
		ev := receive(t, fast)
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
	first := receive(t, slow)
	assert.Equal(t, uint64(1), first.Seq)
}
