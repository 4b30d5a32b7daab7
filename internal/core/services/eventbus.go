package services

import (
	"context"
	"sync"

	"orderlive/internal/core/domain"
	"orderlive/internal/core/ports"

	"go.uber.org/zap"
)

// EventBus is the process-local relay between the order-mutation boundary
// and the broadcaster. Handlers run synchronously, in registration order,
// on the publisher's goroutine; they must not block.
type EventBus struct {
	mu       sync.RWMutex
	handlers []func(ctx context.Context, event *domain.DomainEvent)

	logger *zap.SugaredLogger
}

func NewEventBus(logger *zap.SugaredLogger) ports.EventBus {
	return &EventBus{logger: logger}
}

func (b *EventBus) Publish(ctx context.Context, event *domain.DomainEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	b.logger.Debugw("publishing event",
		"kind", event.Kind,
		"order_id", event.OrderID,
	)
	for _, handler := range handlers {
		handler(ctx, event)
	}
	return nil
}

func (b *EventBus) Subscribe(handler func(ctx context.Context, event *domain.DomainEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}
