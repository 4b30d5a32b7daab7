package domain

import "time"

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
)

// NotificationMessage is the human-readable view of a domain event,
// synthesized at fan-out time and never stored server-side.
type NotificationMessage struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId,omitempty"`
	OrderID   OrderID   `json:"orderId,omitempty"`
}

// SeverityFor maps an event kind to notification severity.
func SeverityFor(kind EventKind) Severity {
	switch kind {
	case EventOrderCreated:
		return SeveritySuccess
	case EventOrderDeleted:
		return SeverityWarning
	case EventEmergency:
		return SeverityError
	default:
		return SeverityInfo
	}
}
