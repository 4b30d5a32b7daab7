package ports

import (
	"context"

	"orderlive/internal/core/domain"
)

// EventBus relays domain events from the order-mutation boundary to the
// broadcaster. Dispatch is synchronous and in registration order.
type EventBus interface {
	Publish(ctx context.Context, event *domain.DomainEvent) error
	Subscribe(handler func(ctx context.Context, event *domain.DomainEvent))
}

// Broadcaster fans one domain event out to the connections resolved at call
// time. Delivery is at-most-once and best-effort.
type Broadcaster interface {
	Publish(ctx context.Context, event *domain.DomainEvent)
}

// AuthService validates the bearer tokens presented on the ingest API and,
// when enabled, on the socket authenticate handshake.
type AuthService interface {
	GenerateToken(userID, displayName string) (string, error)
	ValidateToken(token string) (*Claims, error)
}

type Claims struct {
	UserID      string
	DisplayName string
}
