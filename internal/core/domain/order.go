package domain

import "time"

type OrderID string

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Order is the projection of an order that travels through the real-time
// layer. The system of record lives behind the ingest API; this type only
// carries the fields clients render.
type Order struct {
	ID           OrderID     `json:"id"`
	CustomerName string      `json:"customer_name"`
	Status       OrderStatus `json:"status"`
	Amount       float64     `json:"amount"`
	Type         string      `json:"type"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
