package domain

import "errors"

var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrUnknownEventKind  = errors.New("unknown event kind")
	ErrMutationInFlight  = errors.New("optimistic mutation already in flight for key")
	ErrSubscriberClosed  = errors.New("subscriber closed")
	ErrRetriesExhausted  = errors.New("reconnect attempts exhausted")
	ErrBridgeUnavailable = errors.New("event bridge unavailable")
)
