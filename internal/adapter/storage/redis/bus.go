package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/internal/core/domain"
	"github.com/meshcompute/dispatch/internal/core/port"
)

type notificationBus struct {
	client redis.UniversalClient
	log    *zap.Logger
}

// NewNotificationBus creates the pub/sub fan-out over the shared store.
// Delivery is at-most-once with no replay: a subscriber connecting after a
// publish never sees it.
func NewNotificationBus(client redis.UniversalClient, log *zap.Logger) port.NotificationBus {
	return &notificationBus{
		client: client,
		log:    log,
	}
}

func (b *notificationBus) publish(ctx context.Context, channel, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := domain.Event{
		Type:    eventType,
		Channel: channel,
		Payload: raw,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, data).Err()
}

func (b *notificationBus) PublishJobUpdate(ctx context.Context, jobID string, patch map[string]any) error {
	return b.publish(ctx, chanJob(jobID), domain.EventJobUpdate, patch)
}

func (b *notificationBus) PublishNodeCommand(ctx context.Context, nodeID string, cmd domain.NodeCommand) error {
	return b.publish(ctx, chanNode(nodeID), domain.EventNodeCommand, cmd)
}

func (b *notificationBus) PublishEvent(ctx context.Context, eventType string, payload any) error {
	return b.publish(ctx, chanEvents, eventType, payload)
}

func (b *notificationBus) SubscribeJob(ctx context.Context, jobID string) (port.Subscription, error) {
	return b.subscribe(ctx, chanJob(jobID))
}

func (b *notificationBus) SubscribeNode(ctx context.Context, nodeID string) (port.Subscription, error) {
	return b.subscribe(ctx, chanNode(nodeID))
}

func (b *notificationBus) SubscribeEvents(ctx context.Context) (port.Subscription, error) {
	return b.subscribe(ctx, chanEvents)
}

func (b *notificationBus) subscribe(ctx context.Context, channel string) (port.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	// Force the subscription onto the wire before returning so a caller that
	// publishes right after subscribing is not racing the handshake.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	sub := &subscription{
		pubsub: pubsub,
		events: make(chan domain.Event, 16),
	}
	go sub.pump(b.log.Named("bus"))
	return sub, nil
}

type subscription struct {
	pubsub *redis.PubSub
	events chan domain.Event
}

func (s *subscription) pump(log *zap.Logger) {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var event domain.Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			log.Warn("Dropping malformed bus event", zap.Error(err))
			continue
		}
		select {
		case s.events <- event:
		default:
			// Slow subscriber: drop rather than block the pump. At-most-once
			// delivery makes this legal.
		}
	}
}

func (s *subscription) Events() <-chan domain.Event {
	return s.events
}

func (s *subscription) Close() error {
	return s.pubsub.Close()
}
