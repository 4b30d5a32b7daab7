package services

import (
	"context"
	"fmt"
	"time"

	"orderlive/internal/core/domain"
	"orderlive/internal/core/ports"
	"orderlive/pkg/protocol"
	"orderlive/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BroadcastMetrics is implemented by the monitoring collector. A nil value
// disables recording.
type BroadcastMetrics interface {
	RecordBroadcast(kind domain.EventKind, recipients int)
	RecordDroppedSend()
	ObserveBroadcastDuration(d time.Duration)
}

// Broadcaster resolves target rooms at call time and pushes wire messages
// through the sender. Delivery is fire-and-forget: a dead recipient is
// dropped silently and never blocks the others.
type Broadcaster struct {
	registry ports.ConnectionRegistry
	sender   ports.Sender
	metrics  BroadcastMetrics
	logger   *zap.SugaredLogger
}

func NewBroadcaster(
	registry ports.ConnectionRegistry,
	sender ports.Sender,
	metrics BroadcastMetrics,
	logger *zap.SugaredLogger,
) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		sender:   sender,
		metrics:  metrics,
		logger:   logger,
	}
}

// Publish dispatches one event. The switch enumerates every event kind; an
// unknown kind is logged and dropped rather than guessed at.
func (b *Broadcaster) Publish(ctx context.Context, event *domain.DomainEvent) {
	ctx, span := tracing.StartSpan(ctx, "broadcaster.publish")
	defer span.End()
	tracing.AddEventAttributes(ctx, string(event.Kind), string(event.OrderID))

	if b.metrics != nil {
		start := time.Now()
		defer func() { b.metrics.ObserveBroadcastDuration(time.Since(start)) }()
	}

	switch event.Kind {
	case domain.EventOrderCreated, domain.EventOrderUpdated, domain.EventOrderStatusChanged:
		b.pushOrder(event, orderUpdateFrom(event.Order))
		b.pushNotification(event)
	case domain.EventOrderDeleted:
		update := protocol.OrderUpdate{
			OrderID:   string(event.OrderID),
			Status:    "deleted",
			Timestamp: event.Timestamp,
		}
		b.pushOrder(event, update)
		b.pushNotification(event)
	case domain.EventOrdersBulkUpdated:
		updates := make([]protocol.OrderUpdate, 0, len(event.Orders))
		for _, order := range event.Orders {
			updates = append(updates, orderUpdateFrom(order))
		}
		// One array push, never N singular events.
		b.sendToRoom(domain.RoomAuthenticated, protocol.TypeBulkOrderUpdate, updates, event.Kind)
		b.pushNotification(event)
	case domain.EventMetricsTick:
		b.sendToRoom(domain.RoomAuthenticated, protocol.TypeSystemStats, protocol.SystemStats{
			Connections:   event.Stats.Connections,
			Rooms:         event.Stats.Rooms,
			UptimeSeconds: event.Stats.UptimeSeconds,
			Timestamp:     event.Stats.Timestamp,
		}, event.Kind)
		b.sendToRoom(domain.RoomAuthenticated, protocol.TypeMetricsUpdate, protocol.MetricsUpdate{
			EventsBroadcast: event.Stats.EventsBroadcast,
			DroppedSends:    event.Stats.DroppedSends,
			Timestamp:       event.Stats.Timestamp,
		}, event.Kind)
	case domain.EventEmergency:
		b.sendToRoom(domain.RoomAuthenticated, protocol.TypeEmergencyNotification, protocol.EmergencyNotification{
			Title:     event.Emergency.Title,
			Message:   event.Emergency.Message,
			Timestamp: event.Timestamp,
		}, event.Kind)
	default:
		b.logger.Warnw("dropping event of unknown kind", "kind", event.Kind)
	}
}

// pushOrder delivers the plain copy to the authenticated room and, since the
// event carries an order id, an enriched detail-flagged copy to that order's
// room.
func (b *Broadcaster) pushOrder(event *domain.DomainEvent, update protocol.OrderUpdate) {
	b.sendToRoom(domain.RoomAuthenticated, protocol.TypeOrderUpdate, update, event.Kind)

	detail := update
	detail.Detail = true
	b.sendToRoom(domain.OrderRoom(event.OrderID), protocol.TypeOrderDetailUpdate, detail, event.Kind)
}

func (b *Broadcaster) pushNotification(event *domain.DomainEvent) {
	notification := b.synthesizeNotification(event)
	payload := protocol.Notification{
		ID:        notification.ID,
		Title:     notification.Title,
		Message:   notification.Message,
		Type:      string(notification.Severity),
		Timestamp: notification.Timestamp,
		OrderID:   string(notification.OrderID),
	}
	b.sendToRoom(domain.RoomAuthenticated, protocol.TypeNotification, payload, event.Kind)
}

func (b *Broadcaster) synthesizeNotification(event *domain.DomainEvent) *domain.NotificationMessage {
	notification := &domain.NotificationMessage{
		ID:        uuid.NewString(),
		Severity:  domain.SeverityFor(event.Kind),
		Timestamp: event.Timestamp,
		OrderID:   event.OrderID,
	}

	switch event.Kind {
	case domain.EventOrderCreated:
		notification.Title = "Order Created"
		notification.Message = fmt.Sprintf("Order %s was created", event.OrderID)
	case domain.EventOrderUpdated:
		notification.Title = "Order Updated"
		notification.Message = fmt.Sprintf("Order %s was updated", event.OrderID)
	case domain.EventOrderStatusChanged:
		notification.Title = "Order Status Changed"
		notification.Message = fmt.Sprintf("Order %s changed status to %s", event.OrderID, event.Order.Status)
	case domain.EventOrderDeleted:
		notification.Title = "Order Deleted"
		notification.Message = fmt.Sprintf("Order %s was deleted", event.OrderID)
	case domain.EventOrdersBulkUpdated:
		notification.Title = "Orders Updated"
		notification.Message = fmt.Sprintf("%d orders were updated", len(event.Orders))
	}
	return notification
}

// sendToRoom resolves members once, at call time; connections joining after
// resolution do not receive this message.
func (b *Broadcaster) sendToRoom(room domain.RoomID, msgType string, payload interface{}, kind domain.EventKind) {
	members := b.registry.MembersOf(room)
	delivered := 0
	for _, id := range members {
		if err := b.sender.Send(id, msgType, payload); err != nil {
			if b.metrics != nil {
				b.metrics.RecordDroppedSend()
			}
			b.logger.Debugw("dropped send to dead connection",
				"connection_id", id,
				"room", room,
				"message_type", msgType,
				"error", err,
			)
			continue
		}
		delivered++
	}
	if b.metrics != nil {
		b.metrics.RecordBroadcast(kind, delivered)
	}
}

func orderUpdateFrom(order *domain.Order) protocol.OrderUpdate {
	return protocol.OrderUpdate{
		OrderID:      string(order.ID),
		Status:       string(order.Status),
		CustomerName: order.CustomerName,
		Timestamp:    order.UpdatedAt,
		Amount:       order.Amount,
		Type:         order.Type,
	}
}
