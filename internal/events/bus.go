// Package events implements the analysis lifecycle event stream: an
// in-process bus fanned out to SSE and WebSocket subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types published by the analysis pipeline.
const (
	TypeAnalysisStarted   = "analysis.started"
	TypeAnalysisCompleted = "analysis.completed"
	TypeAnalysisFailed    = "analysis.failed"
	TypeDatasetUploaded   = "dataset.uploaded"
	TypeBackupCompleted   = "backup.completed"
)

// Event is one lifecycle notification.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// subscriberBuffer bounds each subscriber channel. A subscriber that
// falls this far behind starts losing events rather than blocking
// publishers.
const subscriberBuffer = 64

// Bus is a non-blocking fan-out event bus. Publish never waits on slow
// subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
	log  zerolog.Logger

	dropped atomic.Int64
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[string]chan Event),
		log:  log.With().Str("component", "events").Logger(),
	}
}

// Publish stamps and delivers an event to every subscriber. Full
// subscriber buffers drop the event for that subscriber.
func (b *Bus) Publish(eventType string, payload map[string]any) {
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
			b.log.Warn().
				Str("subscriber", id).
				Str("event_type", eventType).
				Msg("Dropping event for slow subscriber")
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	id := uuid.New().String()
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	b.log.Debug().Str("subscriber", id).Msg("Subscriber attached")

	return ch, func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
}

// SubscriberCount returns the number of attached subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many events were lost to slow subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
