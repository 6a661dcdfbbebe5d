package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: ExecutionStarted, Data: "x"})

	select {
	case ev := <-ch:
		assert.Equal(t, ExecutionStarted, ev.Type)
		assert.Equal(t, "x", ev.Data)
		assert.False(t, ev.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		// second publish overflows the buffer; must drop, not block
		b.Publish(Event{Type: ExecutionFinished})
		b.Publish(Event{Type: ExecutionFinished})
		b.Publish(Event{Type: ExecutionFinished})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	require.NotPanics(t, func() {
		b.Publish(Event{Type: FiringSkipped})
	})
	_, open := <-ch
	assert.False(t, open)
}
