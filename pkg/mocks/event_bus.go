// Package mocks provides test doubles shared across packages.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keylin/harvester/pkg/eventbus"
	"github.com/keylin/harvester/pkg/events"
)

// PublishedEvent is one recorded Publish/PublishAfter call.
type PublishedEvent struct {
	Lane  string
	Key   string
	Event eventbus.Event
	Delay time.Duration
}

// RecordingEventBus records published events instead of delivering them.
type RecordingEventBus struct {
	mu        sync.Mutex
	published []PublishedEvent

	// PublishErr, when set, is returned by every publish call.
	PublishErr error
}

func NewRecordingEventBus() *RecordingEventBus {
	return &RecordingEventBus{}
}

func (b *RecordingEventBus) Publish(_ context.Context, lane, key string, event eventbus.Event) error {
	return b.record(lane, key, event, 0)
}

func (b *RecordingEventBus) PublishAfter(_ context.Context, delay time.Duration, lane, key string, event eventbus.Event) error {
	return b.record(lane, key, event, delay)
}

func (b *RecordingEventBus) record(lane, key string, event eventbus.Event, delay time.Duration) error {
	if b.PublishErr != nil {
		return b.PublishErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = append(b.published, PublishedEvent{
		Lane:  lane,
		Key:   key,
		Event: event,
		Delay: delay,
	})

	return nil
}

// Published returns a snapshot of every recorded event.
func (b *RecordingEventBus) Published() []PublishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make([]PublishedEvent, len(b.published))
	copy(snapshot, b.published)

	return snapshot
}

// PublishedOn returns the recorded events for one lane.
func (b *RecordingEventBus) PublishedOn(lane string) []PublishedEvent {
	var matched []PublishedEvent

	for _, event := range b.Published() {
		if event.Lane == lane {
			matched = append(matched, event)
		}
	}

	return matched
}

// Reset discards every recorded event.
func (b *RecordingEventBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = nil
}

func (b *RecordingEventBus) Handle(string, events.EventType, eventbus.EventHandler) error {
	return nil
}

func (b *RecordingEventBus) Subscribe(context.Context, string, int) error {
	return nil
}

func (b *RecordingEventBus) Close() error { return nil }

func (b *RecordingEventBus) GenerateID() string { return uuid.NewString() }
