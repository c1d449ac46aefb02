package event_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/confrelay/internal/event"
)

func TestWaitReturnsImmediatelyQueuedEvent(t *testing.T) {
	q := event.NewQueue()
	q.Push(event.Event{Payload: `{"a":1}`})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got := q.Wait(ctx, nil)
	assert.Equal(t, `{"a":1}`, got.Payload)
}

func TestWaitDeliversFIFOOrder(t *testing.T) {
	q := event.NewQueue()
	q.Push(event.Event{Payload: "E1"})
	q.Push(event.Event{Payload: "E2"})
	q.Push(event.Event{Payload: "E3"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for _, want := range []string{"E1", "E2", "E3"} {
		got := q.Wait(ctx, nil)
		require.Equal(t, want, got.Payload)
	}
}

func TestWaitTimesOutToKeepalive(t *testing.T) {
	q := event.NewQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	got := q.Wait(ctx, nil)
	assert.Equal(t, event.Keepalive, got)
}

func TestWaitUnblocksOnShutdown(t *testing.T) {
	q := event.NewQueue()
	shutdown := make(chan struct{})
	close(shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got := q.Wait(ctx, shutdown)
	assert.Equal(t, event.Keepalive, got)
}

func TestWaitWakesOnPushFromAnotherGoroutine(t *testing.T) {
	q := event.NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(event.Event{Payload: "late"})
	}()

	got := q.Wait(ctx, nil)
	assert.Equal(t, "late", got.Payload)
}

func TestDrainDiscardsPending(t *testing.T) {
	q := event.NewQueue()
	q.Push(event.Event{Payload: "gone"})
	q.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	got := q.Wait(ctx, nil)
	assert.Equal(t, event.Keepalive, got)
}
