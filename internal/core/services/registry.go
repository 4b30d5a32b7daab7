package services

import (
	"sync"

	"orderlive/internal/core/domain"
	"orderlive/internal/core/ports"

	"go.uber.org/zap"
)

// ConnectionRegistry keeps sessions and a room index in process memory.
// Mutation happens synchronously inside the handler that observed the
// connect/disconnect/join/leave, so MembersOf never sees a stale room list
// mid-broadcast.
type ConnectionRegistry struct {
	mu       sync.RWMutex
	sessions map[domain.ConnectionID]*domain.ConnectionSession
	rooms    map[domain.RoomID]map[domain.ConnectionID]struct{}

	logger *zap.SugaredLogger
}

func NewConnectionRegistry(logger *zap.SugaredLogger) ports.ConnectionRegistry {
	return &ConnectionRegistry{
		sessions: make(map[domain.ConnectionID]*domain.ConnectionSession),
		rooms:    make(map[domain.RoomID]map[domain.ConnectionID]struct{}),
		logger:   logger,
	}
}

// Register creates an anonymous session. A second call for the same id
// overwrites the first, dropping its room memberships.
func (r *ConnectionRegistry) Register(id domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.sessions[id]; exists {
		r.removeFromRoomsLocked(old)
	}
	r.sessions[id] = domain.NewConnectionSession(id)
	r.logger.Debugw("connection registered", "connection_id", id)
}

// Authenticate attaches identity to an existing session and joins it to the
// authenticated room. Unknown sessions are a no-op.
func (r *ConnectionRegistry) Authenticate(id domain.ConnectionID, userID, displayName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists {
		return
	}
	session.UserID = userID
	session.DisplayName = displayName
	r.joinRoomLocked(session, domain.RoomAuthenticated)
	r.logger.Infow("connection authenticated",
		"connection_id", id,
		"user_id", userID,
	)
}

func (r *ConnectionRegistry) JoinRoom(id domain.ConnectionID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists {
		return
	}
	r.joinRoomLocked(session, room)
}

func (r *ConnectionRegistry) LeaveRoom(id domain.ConnectionID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists {
		return
	}
	delete(session.Rooms, room)
	if members, ok := r.rooms[room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Unregister removes the session and all its room memberships. Called
// exactly once per connection on transport close.
func (r *ConnectionRegistry) Unregister(id domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists {
		return
	}
	r.removeFromRoomsLocked(session)
	delete(r.sessions, id)
	r.logger.Debugw("connection unregistered", "connection_id", id)
}

func (r *ConnectionRegistry) MembersOf(room domain.RoomID) []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, exists := r.rooms[room]
	if !exists {
		return nil
	}
	ids := make([]domain.ConnectionID, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

func (r *ConnectionRegistry) Session(id domain.ConnectionID) (*domain.ConnectionSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	return session, exists
}

func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *ConnectionRegistry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *ConnectionRegistry) joinRoomLocked(session *domain.ConnectionSession, room domain.RoomID) {
	session.Rooms[room] = struct{}{}
	members, exists := r.rooms[room]
	if !exists {
		members = make(map[domain.ConnectionID]struct{})
		r.rooms[room] = members
	}
	members[session.ID] = struct{}{}
}

func (r *ConnectionRegistry) removeFromRoomsLocked(session *domain.ConnectionSession) {
	for room := range session.Rooms {
		if members, ok := r.rooms[room]; ok {
			delete(members, session.ID)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
}
