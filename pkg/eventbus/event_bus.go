// Package eventbus provides the work-queue abstraction the scheduler,
// orchestrator and executor publish to and consume from. Lanes are topics;
// per-lane concurrency is bounded by the subscriber's worker count.
package eventbus

import (
	"context"
	"time"

	"github.com/keylin/harvester/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	// Publish enqueues an event on a lane. The key groups related events for
	// partition-ordered transports.
	Publish(ctx context.Context, lane, key string, event Event) error

	// PublishAfter enqueues an event after a delay. Used for retry
	// re-enqueues; a zero delay publishes immediately.
	PublishAfter(ctx context.Context, delay time.Duration, lane, key string, event Event) error
}

type EventHandler func(ctx context.Context, event any) error

type EventSubscriber interface {
	// Handle registers the handler invoked for one event type on a lane.
	Handle(lane string, eventType events.EventType, handler EventHandler) error

	// Subscribe starts consuming a lane with at most workers concurrent
	// handler invocations.
	Subscribe(ctx context.Context, lane string, workers int) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
