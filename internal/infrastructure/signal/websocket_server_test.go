package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"orderlive/internal/core/domain"
	"orderlive/internal/core/ports"
	"orderlive/internal/core/services"
	"orderlive/pkg/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startServer(t *testing.T, auth ports.AuthService) (ports.ConnectionRegistry, *WebSocketServer, string) {
	t.Helper()

	registry := services.NewConnectionRegistry(zap.NewNop().Sugar())
	ws := NewWebSocketServer(registry, auth, DefaultOptions(), zap.NewNop().Sugar())

	srv := httptest.NewServer(http.HandlerFunc(ws.HandleWebSocket))
	t.Cleanup(srv.Close)

	return registry, ws, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, msg)
}

func TestWebSocketServer_RegistersOnConnect(t *testing.T) {
	registry, ws, url := startServer(t, nil)

	dial(t, url)

	eventually(t, func() bool { return registry.Count() == 1 }, "session registered")
	eventually(t, func() bool { return ws.ConnectionCount() == 1 }, "transport tracked")
}

func TestWebSocketServer_AuthenticateJoinsAuthenticatedRoom(t *testing.T) {
	registry, _, url := startServer(t, nil)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(protocol.NewMessage(protocol.TypeAuthenticate, protocol.Authenticate{
		UserID: "u1",
		Name:   "Dana",
	})))

	eventually(t, func() bool {
		return len(registry.MembersOf(domain.RoomAuthenticated)) == 1
	}, "authenticated room membership")
}

func TestWebSocketServer_AuthenticateWithoutUserIDRejected(t *testing.T) {
	_, _, url := startServer(t, nil)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(protocol.NewMessage(protocol.TypeAuthenticate, protocol.Authenticate{})))

	msg := readMessage(t, conn)
	assert.Equal(t, protocol.TypeError, msg.Type)
}

func TestWebSocketServer_TokenVerifiedWhenAuthConfigured(t *testing.T) {
	auth := services.NewAuthService("test-secret", time.Hour)
	registry, _, url := startServer(t, auth)

	token, err := auth.GenerateToken("u1", "Dana")
	require.NoError(t, err)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(protocol.NewMessage(protocol.TypeAuthenticate, protocol.Authenticate{
		Token: token,
	})))

	eventually(t, func() bool {
		members := registry.MembersOf(domain.RoomAuthenticated)
		if len(members) != 1 {
			return false
		}
		session, ok := registry.Session(members[0])
		return ok && session.UserID == "u1" && session.DisplayName == "Dana"
	}, "identity comes from the token claims")
}

func TestWebSocketServer_BadTokenRejected(t *testing.T) {
	auth := services.NewAuthService("test-secret", time.Hour)
	registry, _, url := startServer(t, auth)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(protocol.NewMessage(protocol.TypeAuthenticate, protocol.Authenticate{
		UserID: "u1",
		Token:  "forged",
	})))

	msg := readMessage(t, conn)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Empty(t, registry.MembersOf(domain.RoomAuthenticated))
}

func TestWebSocketServer_JoinAndLeaveOrderRoom(t *testing.T) {
	registry, _, url := startServer(t, nil)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(protocol.NewMessage(protocol.TypeJoinOrderRoom, protocol.JoinOrderRoom{
		OrderID: "o42",
	})))

	eventually(t, func() bool {
		return len(registry.MembersOf(domain.OrderRoom("o42"))) == 1
	}, "joined order room")

	require.NoError(t, conn.WriteJSON(protocol.NewMessage(protocol.TypeLeaveOrderRoom, protocol.LeaveOrderRoom{
		OrderID: "o42",
	})))

	eventually(t, func() bool {
		return len(registry.MembersOf(domain.OrderRoom("o42"))) == 0
	}, "left order room")
}

func TestWebSocketServer_PingAnswersPongWithEcho(t *testing.T) {
	_, _, url := startServer(t, nil)

	conn := dial(t, url)
	sent := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, conn.WriteJSON(protocol.NewMessage(protocol.TypePing, protocol.Ping{Timestamp: sent})))

	msg := readMessage(t, conn)
	require.Equal(t, protocol.TypePong, msg.Type)

	var pong protocol.Pong
	require.NoError(t, json.Unmarshal(msg.Payload, &pong))
	assert.True(t, pong.Timestamp.Equal(sent), "pong echoes the ping timestamp")
	assert.False(t, pong.ServerTime.IsZero())
}

func TestWebSocketServer_UnknownTypeGetsErrorFrame(t *testing.T) {
	_, _, url := startServer(t, nil)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(protocol.Message{Type: "mystery"}))

	msg := readMessage(t, conn)
	assert.Equal(t, protocol.TypeError, msg.Type)
}

func TestWebSocketServer_DisconnectCleansUp(t *testing.T) {
	registry, ws, url := startServer(t, nil)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(protocol.NewMessage(protocol.TypeJoinOrderRoom, protocol.JoinOrderRoom{
		OrderID: "o1",
	})))
	eventually(t, func() bool {
		return len(registry.MembersOf(domain.OrderRoom("o1"))) == 1
	}, "joined before close")

	conn.Close()

	eventually(t, func() bool { return registry.Count() == 0 }, "session unregistered")
	eventually(t, func() bool { return ws.ConnectionCount() == 0 }, "transport dropped")
	assert.Empty(t, registry.MembersOf(domain.OrderRoom("o1")))
}

func TestWebSocketServer_TypingRelayExcludesSender(t *testing.T) {
	registry, _, url := startServer(t, nil)

	sender := dial(t, url)
	watcher := dial(t, url)

	for _, conn := range []*websocket.Conn{sender, watcher} {
		require.NoError(t, conn.WriteJSON(protocol.NewMessage(protocol.TypeJoinOrderRoom, protocol.JoinOrderRoom{
			OrderID: "o9",
		})))
	}
	eventually(t, func() bool {
		return len(registry.MembersOf(domain.OrderRoom("o9"))) == 2
	}, "both joined")

	require.NoError(t, sender.WriteJSON(protocol.NewMessage(protocol.TypeTypingStart, protocol.TypingStart{
		OrderID:  "o9",
		UserName: "Dana",
	})))

	msg := readMessage(t, watcher)
	require.Equal(t, protocol.TypeTypingStart, msg.Type)

	var typing protocol.TypingStart
	require.NoError(t, json.Unmarshal(msg.Payload, &typing))
	assert.Equal(t, "o9", typing.OrderID)
	assert.Equal(t, "Dana", typing.UserName)

	// The sender must not receive its own relay.
	sender.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var echo protocol.Message
	err := sender.ReadJSON(&echo)
	assert.Error(t, err, "no frame should come back to the sender")
}

// chattyConn produces an inbound frame on every read.
type chattyConn struct{}

func (chattyConn) ReadJSON(v interface{}) error {
	*(v.(*protocol.Message)) = protocol.Message{Type: protocol.TypePing}
	return nil
}

func (chattyConn) SetReadDeadline(time.Time) error { return nil }

func TestReadPump_ExitsWhenLoopIsGone(t *testing.T) {
	messages := make(chan protocol.Message, 2)
	errs := make(chan error, 1)
	done := make(chan struct{})

	exited := make(chan struct{})
	go func() {
		readPump(chattyConn{}, time.Second, messages, errs, done)
		close(exited)
	}()

	// Let the pump fill the buffer, then abandon the channel the way the
	// select loop does when a ping write fails.
	require.Eventually(t, func() bool { return len(messages) == cap(messages) },
		2*time.Second, 5*time.Millisecond)
	close(done)

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("read pump stuck on a full message channel")
	}
}
