package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/keylin/harvester/pkg/events"
)

// WatermillEventBus adapts a watermill publisher/subscriber pair to the
// lane-oriented EventBus interface. One subscription per lane; handler
// concurrency is bounded by a per-lane semaphore.
type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber

	mu            sync.RWMutex
	subscriptions map[string]map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[string]map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, lane, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventKeyMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(lane, msg)
}

// PublishAfter defers the publish with a timer. The deferral lives in this
// process; the step bookkeeping in persistence is what makes a lost retry
// recoverable, not the timer.
func (eb *WatermillEventBus) PublishAfter(ctx context.Context, delay time.Duration, lane, key string, event Event) error {
	if delay <= 0 {
		return eb.Publish(ctx, lane, key, event)
	}

	timer := time.AfterFunc(delay, func() {
		// Detached from the caller's context: the re-enqueue must survive the
		// handler invocation that scheduled it.
		_ = eb.Publish(context.WithoutCancel(ctx), lane, key, event)
	})
	_ = timer

	return nil
}

func (eb *WatermillEventBus) Handle(lane string, eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.subscriptions[lane] == nil {
		eb.subscriptions[lane] = make(map[events.EventType]EventHandler)
	}

	eb.subscriptions[lane][eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context, lane string, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	messages, err := eb.subscriber.Subscribe(ctx, lane)
	if err != nil {
		return fmt.Errorf("failed to subscribe to lane %s: %w", lane, err)
	}

	sem := make(chan struct{}, workers)

	go func() {
		for msg := range messages {
			sem <- struct{}{}

			go func(msg *message.Message) {
				defer func() { <-sem }()

				eb.dispatch(ctx, lane, msg)
			}(msg)
		}
	}()

	return nil
}

func (eb *WatermillEventBus) dispatch(ctx context.Context, lane string, msg *message.Message) {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	eb.mu.RLock()
	handler, exists := eb.subscriptions[lane][eventType]
	eb.mu.RUnlock()

	if !exists {
		msg.Ack()

		return
	}

	event := newEvent(eventType)
	if event == nil {
		msg.Nack()

		return
	}

	if err := json.Unmarshal(msg.Payload, event); err != nil {
		msg.Nack()

		return
	}

	if err := handler(ctx, event); err != nil {
		msg.Nack()

		return
	}

	msg.Ack()
}

func newEvent(eventType events.EventType) any {
	switch eventType {
	case events.CollectDueEvent:
		return &events.CollectDue{}
	case events.StepAvailableEvent:
		return &events.StepAvailable{}
	case events.ExecutionCompletedEvent:
		return &events.ExecutionCompleted{}
	case events.ExecutionFailedEvent:
		return &events.ExecutionFailed{}
	case events.ExecutionCancelledEvent:
		return &events.ExecutionCancelled{}
	default:
		return nil
	}
}

func (eb *WatermillEventBus) Close() error {
	if err := eb.publisher.Close(); err != nil {
		return err
	}

	return eb.subscriber.Close()
}
