package distributed

import (
	"context"
	"encoding/json"
	"fmt"

	"orderlive/internal/core/domain"
	"orderlive/internal/core/ports"
	"orderlive/pkg/circuitbreaker"
	"orderlive/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const eventChannel = "orderlive:events"

// EventBridge relays domain events between gateway instances over redis
// pub/sub. Locally published events are forwarded to the channel; events
// from other instances are re-published into the local bus so each gateway
// fans out to its own connections. The bridge is optional; without it the
// bus stays strictly process-local.
type EventBridge struct {
	client     *redis.Client
	bus        ports.EventBus
	instanceID string

	breaker *circuitbreaker.CircuitBreaker
	policy  retry.Policy

	pubsub *redis.PubSub
	logger *zap.SugaredLogger
}

func NewEventBridge(
	client *redis.Client,
	bus ports.EventBus,
	instanceID string,
	logger *zap.SugaredLogger,
) *EventBridge {
	return &EventBridge{
		client:     client,
		bus:        bus,
		instanceID: instanceID,
		breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig()),
		policy:     retry.DefaultPolicy(),
		logger:     logger,
	}
}

// Start subscribes the bridge to both sides: the local bus and the redis
// channel. It returns after spawning the consumer goroutine; the consumer
// stops when ctx is cancelled.
func (b *EventBridge) Start(ctx context.Context) error {
	if b.pubsub != nil {
		return fmt.Errorf("event bridge already started")
	}

	b.bus.Subscribe(func(ctx context.Context, event *domain.DomainEvent) {
		// Only locally originated events cross the bridge; anything with
		// an instance id already travelled once.
		if event.InstanceID != "" {
			return
		}
		b.forward(ctx, event)
	})

	b.pubsub = b.client.Subscribe(ctx, eventChannel)
	go b.consume(ctx)
	return nil
}

func (b *EventBridge) forward(ctx context.Context, event *domain.DomainEvent) {
	outbound := *event
	outbound.InstanceID = b.instanceID

	data, err := json.Marshal(&outbound)
	if err != nil {
		b.logger.Warnw("failed to marshal event for bridge", "kind", event.Kind, "error", err)
		return
	}

	err = b.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, b.policy, func() error {
			return b.client.Publish(ctx, eventChannel, data).Err()
		})
	})
	if err != nil {
		b.logger.Warnw("failed to forward event over bridge",
			"kind", event.Kind,
			"error", fmt.Errorf("%w: %v", domain.ErrBridgeUnavailable, err),
		)
	}
}

func (b *EventBridge) consume(ctx context.Context) {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event domain.DomainEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warnw("failed to unmarshal bridged event", "error", err)
				continue
			}
			if event.InstanceID == b.instanceID {
				continue
			}
			if err := b.bus.Publish(ctx, &event); err != nil {
				b.logger.Warnw("failed to publish bridged event",
					"kind", event.Kind,
					"error", err,
				)
			}
		}
	}
}

// Close tears down the redis subscription.
func (b *EventBridge) Close() error {
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
