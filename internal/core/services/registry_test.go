package services

import (
	"testing"

	"orderlive/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry() *ConnectionRegistry {
	return NewConnectionRegistry(zap.NewNop().Sugar()).(*ConnectionRegistry)
}

func TestRegistry_AuthenticateJoinsAuthenticatedRoom(t *testing.T) {
	r := newTestRegistry()
	r.Register("c1")
	r.Authenticate("c1", "u1", "Dana")

	members := r.MembersOf(domain.RoomAuthenticated)
	require.Len(t, members, 1)
	assert.Equal(t, domain.ConnectionID("c1"), members[0])

	session, ok := r.Session("c1")
	require.True(t, ok)
	assert.Equal(t, "u1", session.UserID)
	assert.True(t, session.Authenticated())
}

func TestRegistry_RegisteredButUnauthenticatedIsNotInAnyRoom(t *testing.T) {
	r := newTestRegistry()
	r.Register("c1")

	assert.Empty(t, r.MembersOf(domain.RoomAuthenticated))
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 0, r.RoomCount())
}

func TestRegistry_AuthenticateUnknownConnectionIsNoop(t *testing.T) {
	r := newTestRegistry()
	r.Authenticate("ghost", "u1", "Dana")

	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.MembersOf(domain.RoomAuthenticated))
}

func TestRegistry_UnregisterPurgesAllRoomMemberships(t *testing.T) {
	r := newTestRegistry()
	r.Register("c1")
	r.Authenticate("c1", "u1", "Dana")
	r.JoinRoom("c1", domain.OrderRoom("o1"))
	r.JoinRoom("c1", domain.OrderRoom("o2"))
	require.Equal(t, 3, r.RoomCount())

	r.Unregister("c1")

	// No straggler memberships remain once Unregister returns.
	assert.Empty(t, r.MembersOf(domain.RoomAuthenticated))
	assert.Empty(t, r.MembersOf(domain.OrderRoom("o1")))
	assert.Empty(t, r.MembersOf(domain.OrderRoom("o2")))
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0, r.RoomCount())
}

func TestRegistry_ReRegisterDropsOldMemberships(t *testing.T) {
	r := newTestRegistry()
	r.Register("c1")
	r.Authenticate("c1", "u1", "Dana")
	r.JoinRoom("c1", domain.OrderRoom("o1"))

	r.Register("c1")

	assert.Empty(t, r.MembersOf(domain.OrderRoom("o1")))
	session, ok := r.Session("c1")
	require.True(t, ok)
	assert.False(t, session.Authenticated(), "fresh session replaces the old one")
}

func TestRegistry_LeaveRoomRemovesEmptyRoom(t *testing.T) {
	r := newTestRegistry()
	r.Register("c1")
	r.Register("c2")
	r.JoinRoom("c1", domain.OrderRoom("o1"))
	r.JoinRoom("c2", domain.OrderRoom("o1"))

	r.LeaveRoom("c1", domain.OrderRoom("o1"))
	assert.Len(t, r.MembersOf(domain.OrderRoom("o1")), 1)

	r.LeaveRoom("c2", domain.OrderRoom("o1"))
	assert.Equal(t, 0, r.RoomCount(), "empty rooms are dropped from the index")
}

func TestRegistry_LeaveRoomNeverJoinedIsNoop(t *testing.T) {
	r := newTestRegistry()
	r.Register("c1")
	r.LeaveRoom("c1", domain.OrderRoom("o1"))
	assert.Equal(t, 1, r.Count())
}
