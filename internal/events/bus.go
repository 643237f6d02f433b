// Package events fans assessment lifecycle events out to in-process
// subscribers (the websocket stream) and, when configured, a Redis
// channel for external consumers.
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/temi0x/chainguard/pkg/models"
)

// Publisher forwards events beyond the process boundary.
type Publisher interface {
	Publish(ctx context.Context, event models.AssessmentEvent) error
}

const subscriberBuffer = 64

// Bus delivers events to subscriber channels without blocking the
// publishing path: a subscriber that falls behind loses events rather
// than stalling fulfillment handling.
type Bus struct {
	logger    *zap.Logger
	publisher Publisher

	mu     sync.Mutex
	nextID int
	subs   map[int]chan models.AssessmentEvent
}

// NewBus creates the bus. publisher may be nil.
func NewBus(logger *zap.Logger, publisher Publisher) *Bus {
	return &Bus{
		logger:    logger,
		publisher: publisher,
		subs:      make(map[int]chan models.AssessmentEvent),
	}
}

// Subscribe returns a buffered event channel and a cancel function that
// closes it and stops delivery.
func (b *Bus) Subscribe() (<-chan models.AssessmentEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan models.AssessmentEvent, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber and the external
// publisher. Never blocks; never fails the caller.
func (b *Bus) Publish(ctx context.Context, event models.AssessmentEvent) {
	b.mu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Debug("event dropped for slow subscriber",
				zap.String("type", string(event.Type)),
				zap.String("request_id", event.RequestID))
		}
	}
	b.mu.Unlock()

	if b.publisher != nil {
		if err := b.publisher.Publish(ctx, event); err != nil {
			b.logger.Warn("external event publish failed",
				zap.String("type", string(event.Type)), zap.Error(err))
		}
	}
}
