package ports

import "orderlive/internal/core/domain"

// ConnectionRegistry is the authoritative map from connection id to session
// plus the room membership index used for targeted fan-out. All operations
// on unknown sessions are no-ops; lost messages are preferred over crashing
// the transport.
type ConnectionRegistry interface {
	Register(id domain.ConnectionID)
	Authenticate(id domain.ConnectionID, userID, displayName string)
	JoinRoom(id domain.ConnectionID, room domain.RoomID)
	LeaveRoom(id domain.ConnectionID, room domain.RoomID)
	Unregister(id domain.ConnectionID)

	// MembersOf reflects the most recent join/leave/unregister
	// synchronously.
	MembersOf(room domain.RoomID) []domain.ConnectionID
	Session(id domain.ConnectionID) (*domain.ConnectionSession, bool)
	Count() int
	RoomCount() int
}

// Sender pushes one wire message to one connection. Implemented by the
// websocket server; a send to a closed connection returns an error the
// broadcaster swallows.
type Sender interface {
	Send(id domain.ConnectionID, msgType string, payload interface{}) error
}
