package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishAndSubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(TypeAnalysisCompleted, map[string]any{"analysis_id": "abc"})

	select {
	case event := <-events:
		assert.Equal(t, TypeAnalysisCompleted, event.Type)
		assert.Equal(t, "abc", event.Payload["analysis_id"])
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	a, unsubA := bus.Subscribe()
	defer unsubA()
	b, unsubB := bus.Subscribe()
	defer unsubB()

	require.Equal(t, 2, bus.SubscriberCount())
	bus.Publish(TypeAnalysisStarted, nil)

	for _, ch := range []<-chan Event{a, b} {
		select {
		case event := <-ch:
			assert.Equal(t, TypeAnalysisStarted, event.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	events, unsubscribe := bus.Subscribe()
	unsubscribe()

	_, open := <-events
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount())

	// Publishing after unsubscribe must not panic.
	bus.Publish(TypeAnalysisFailed, nil)
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	_, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	// Overflow the buffer without ever reading; Publish must return.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(TypeAnalysisCompleted, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
