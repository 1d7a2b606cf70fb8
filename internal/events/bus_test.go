package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventTradeFilled, 4)
	defer unsub()

	bus.Publish(EventTradeFilled, "trade-1")
	bus.Publish(EventDecision, "ignored") // different topic

	select {
	case got := <-ch:
		assert.Equal(t, "trade-1", got)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected event %v", got)
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(EventDecision, 1)
	defer unsub()

	// A full subscriber buffer must not block the publisher.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(EventDecision, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventRiskAlert, 1)
	unsub()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe is a no-op.
	bus.Publish(EventRiskAlert, "x")
}

func TestSubscribeAllFansIn(t *testing.T) {
	bus := NewBus()
	stream, stop := bus.SubscribeAll(16)
	defer stop()

	bus.Publish(EventTradeFilled, "t1")
	bus.Publish(EventPositionClosed, "p1")

	seen := map[Event]any{}
	for i := 0; i < 2; i++ {
		select {
		case env := <-stream:
			seen[env.Event] = env.Payload
		case <-time.After(time.Second):
			t.Fatal("fan-in event missing")
		}
	}
	require.Len(t, seen, 2)
	assert.Equal(t, "t1", seen[EventTradeFilled])
	assert.Equal(t, "p1", seen[EventPositionClosed])
}
