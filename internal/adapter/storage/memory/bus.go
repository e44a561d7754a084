package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/meshcompute/dispatch/internal/core/domain"
	"github.com/meshcompute/dispatch/internal/core/port"
)

// notificationBus is a channel-backed pub/sub with the same at-most-once,
// no-replay contract as the shared-store bus.
type notificationBus struct {
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

func NewNotificationBus() port.NotificationBus {
	return &notificationBus{
		subs: make(map[string]map[*subscription]struct{}),
	}
}

func (b *notificationBus) publish(channel, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := domain.Event{
		Type:    eventType,
		Channel: channel,
		Payload: raw,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[channel] {
		select {
		case sub.events <- event:
		default:
			// Slow subscriber: drop, same as the shared-store bus.
		}
	}
	return nil
}

func (b *notificationBus) PublishJobUpdate(_ context.Context, jobID string, patch map[string]any) error {
	return b.publish("job:"+jobID, domain.EventJobUpdate, patch)
}

func (b *notificationBus) PublishNodeCommand(_ context.Context, nodeID string, cmd domain.NodeCommand) error {
	return b.publish("node:"+nodeID, domain.EventNodeCommand, cmd)
}

func (b *notificationBus) PublishEvent(_ context.Context, eventType string, payload any) error {
	return b.publish("events", eventType, payload)
}

func (b *notificationBus) SubscribeJob(_ context.Context, jobID string) (port.Subscription, error) {
	return b.subscribe("job:" + jobID), nil
}

func (b *notificationBus) SubscribeNode(_ context.Context, nodeID string) (port.Subscription, error) {
	return b.subscribe("node:" + nodeID), nil
}

func (b *notificationBus) SubscribeEvents(_ context.Context) (port.Subscription, error) {
	return b.subscribe("events"), nil
}

func (b *notificationBus) subscribe(channel string) *subscription {
	sub := &subscription{
		bus:     b,
		channel: channel,
		events:  make(chan domain.Event, 16),
	}
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

type subscription struct {
	bus     *notificationBus
	channel string
	events  chan domain.Event
	once    sync.Once
}

func (s *subscription) Events() <-chan domain.Event {
	return s.events
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.channel], s)
		s.bus.mu.Unlock()
		close(s.events)
	})
	return nil
}
