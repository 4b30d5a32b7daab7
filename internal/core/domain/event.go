package domain

import (
	"fmt"
	"time"
)

// EventKind enumerates the closed set of domain events. The broadcaster
// dispatches over this set exhaustively; adding a kind without teaching the
// broadcaster about it is a programming error surfaced at publish time.
type EventKind string

const (
	EventOrderCreated       EventKind = "order.created"
	EventOrderUpdated       EventKind = "order.updated"
	EventOrderDeleted       EventKind = "order.deleted"
	EventOrderStatusChanged EventKind = "order.status_changed"
	EventOrdersBulkUpdated  EventKind = "orders.bulk_updated"
	EventMetricsTick        EventKind = "metrics.tick"
	EventEmergency          EventKind = "notice.emergency"
)

// DomainEvent is immutable once constructed; producers hand it to the bus
// and never touch it again.
type DomainEvent struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	OrderID  OrderID   `json:"order_id,omitempty"`
	OrderIDs []OrderID `json:"order_ids,omitempty"`

	Order  *Order   `json:"order,omitempty"`
	Orders []*Order `json:"orders,omitempty"`

	Stats     *SystemStats     `json:"stats,omitempty"`
	Emergency *EmergencyNotice `json:"emergency,omitempty"`

	// InstanceID is set by the distributed bridge so gateways can skip
	// events they published themselves.
	InstanceID string `json:"instance_id,omitempty"`
}

// SystemStats is the payload of a metrics tick.
type SystemStats struct {
	Connections     int       `json:"connections"`
	Rooms           int       `json:"rooms"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	EventsBroadcast uint64    `json:"events_broadcast"`
	DroppedSends    uint64    `json:"dropped_sends"`
	Timestamp       time.Time `json:"timestamp"`
}

// EmergencyNotice is an operator-initiated push to every authenticated client.
type EmergencyNotice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func NewOrderCreated(order *Order) *DomainEvent {
	return &DomainEvent{
		Kind:      EventOrderCreated,
		Timestamp: time.Now(),
		OrderID:   order.ID,
		Order:     order,
	}
}

func NewOrderUpdated(order *Order) *DomainEvent {
	return &DomainEvent{
		Kind:      EventOrderUpdated,
		Timestamp: time.Now(),
		OrderID:   order.ID,
		Order:     order,
	}
}

func NewOrderDeleted(orderID OrderID) *DomainEvent {
	return &DomainEvent{
		Kind:      EventOrderDeleted,
		Timestamp: time.Now(),
		OrderID:   orderID,
	}
}

func NewOrderStatusChanged(order *Order) *DomainEvent {
	return &DomainEvent{
		Kind:      EventOrderStatusChanged,
		Timestamp: time.Now(),
		OrderID:   order.ID,
		Order:     order,
	}
}

func NewOrdersBulkUpdated(orders []*Order) *DomainEvent {
	ids := make([]OrderID, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return &DomainEvent{
		Kind:      EventOrdersBulkUpdated,
		Timestamp: time.Now(),
		OrderIDs:  ids,
		Orders:    orders,
	}
}

func NewMetricsTick(stats *SystemStats) *DomainEvent {
	return &DomainEvent{
		Kind:      EventMetricsTick,
		Timestamp: time.Now(),
		Stats:     stats,
	}
}

func NewEmergency(notice *EmergencyNotice) *DomainEvent {
	return &DomainEvent{
		Kind:      EventEmergency,
		Timestamp: time.Now(),
		Emergency: notice,
	}
}

// Validate checks that the event carries the payload its kind requires.
func (e *DomainEvent) Validate() error {
	switch e.Kind {
	case EventOrderCreated, EventOrderUpdated, EventOrderStatusChanged:
		if e.Order == nil {
			return fmt.Errorf("%s event requires an order payload", e.Kind)
		}
		if e.OrderID == "" {
			return fmt.Errorf("%s event requires an order id", e.Kind)
		}
	case EventOrderDeleted:
		if e.OrderID == "" {
			return fmt.Errorf("%s event requires an order id", e.Kind)
		}
	case EventOrdersBulkUpdated:
		if len(e.Orders) == 0 {
			return fmt.Errorf("%s event requires at least one order", e.Kind)
		}
	case EventMetricsTick:
		if e.Stats == nil {
			return fmt.Errorf("%s event requires stats", e.Kind)
		}
	case EventEmergency:
		if e.Emergency == nil {
			return fmt.Errorf("%s event requires a notice", e.Kind)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEventKind, e.Kind)
	}
	return nil
}
