package domain

import "time"

type ConnectionID string

type RoomID string

// RoomAuthenticated is the global room every authenticated connection joins.
const RoomAuthenticated RoomID = "authenticated"

// OrderRoom names the per-order detail room.
func OrderRoom(id OrderID) RoomID {
	return RoomID("order:" + string(id))
}

// ConnectionSession tracks one live client connection. Owned exclusively by
// the connection registry; no other component may mutate it.
type ConnectionSession struct {
	ID          ConnectionID
	UserID      string
	DisplayName string
	Rooms       map[RoomID]struct{}
	ConnectedAt time.Time
}

func NewConnectionSession(id ConnectionID) *ConnectionSession {
	return &ConnectionSession{
		ID:          id,
		Rooms:       make(map[RoomID]struct{}),
		ConnectedAt: time.Now(),
	}
}

// Authenticated reports whether an identity was attached via the
// authenticate handshake.
func (s *ConnectionSession) Authenticated() bool {
	return s.UserID != ""
}
