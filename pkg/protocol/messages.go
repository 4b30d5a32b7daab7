// Package protocol defines the wire messages exchanged between the gateway
// and its subscribers. Every frame is a JSON object with a type tag and a
// type-specific payload.
package protocol

import (
	"encoding/json"
	"time"
)

// Client -> server message types.
const (
	TypeAuthenticate   = "authenticate"
	TypeJoinOrderRoom  = "join_order_room"
	TypeLeaveOrderRoom = "leave_order_room"
	TypePing           = "ping"
)

// Server -> client message types.
const (
	TypeOrderUpdate           = "order_update"
	TypeOrderDetailUpdate     = "order_detail_update"
	TypeBulkOrderUpdate       = "bulk_order_update"
	TypeNotification          = "notification"
	TypeSystemStats           = "system_stats"
	TypeMetricsUpdate         = "metrics_update"
	TypeEmergencyNotification = "emergency_notification"
	TypePong                  = "pong"
	TypeError                 = "error"
)

// Bidirectional, room-scoped message types.
const (
	TypeTypingStart = "typing_start"
	TypeTypingStop  = "typing_stop"
)

// Message is the framing envelope for every websocket frame.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into an envelope. Marshal failures are a
// programming error (all payload types below are marshalable) and reported
// as an empty payload.
func NewMessage(msgType string, payload interface{}) Message {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{Type: msgType}
	}
	return Message{Type: msgType, Payload: data}
}

type Authenticate struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Token  string `json:"token,omitempty"`
}

type JoinOrderRoom struct {
	OrderID string `json:"orderId"`
}

type LeaveOrderRoom struct {
	OrderID string `json:"orderId"`
}

type Ping struct {
	Timestamp time.Time `json:"timestamp"`
}

type Pong struct {
	Timestamp  time.Time `json:"timestamp"`
	ServerTime time.Time `json:"serverTime"`
}

// OrderUpdate mirrors the dashboard's order row. Detail is set only on
// order_detail_update frames pushed to the per-order room.
type OrderUpdate struct {
	OrderID      string    `json:"orderId"`
	Status       string    `json:"status"`
	CustomerName string    `json:"customerName"`
	Timestamp    time.Time `json:"timestamp"`
	Amount       float64   `json:"amount"`
	Type         string    `json:"type"`
	Detail       bool      `json:"detail,omitempty"`
}

type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId,omitempty"`
	OrderID   string    `json:"orderId,omitempty"`
}

type SystemStats struct {
	Connections   int       `json:"connections"`
	Rooms         int       `json:"rooms"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	Timestamp     time.Time `json:"timestamp"`
}

type MetricsUpdate struct {
	EventsBroadcast uint64    `json:"eventsBroadcast"`
	DroppedSends    uint64    `json:"droppedSends"`
	Timestamp       time.Time `json:"timestamp"`
}

type EmergencyNotification struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingStart struct {
	OrderID  string `json:"orderId"`
	UserName string `json:"userName"`
}

type TypingStop struct {
	OrderID string `json:"orderId"`
}

type Error struct {
	Message string `json:"message"`
}
