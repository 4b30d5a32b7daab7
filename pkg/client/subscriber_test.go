package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"orderlive/internal/core/domain"
	"orderlive/pkg/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDialRefused = errors.New("dial refused")

type readResult struct {
	msg protocol.Message
	err error
}

// fakeConn scripts inbound frames and records outbound ones.
type fakeConn struct {
	inbox  chan readResult
	closed chan struct{}

	mu        sync.Mutex
	writes    []protocol.Message
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan readResult, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadJSON(v interface{}) error {
	select {
	case res := <-c.inbox:
		if res.err != nil {
			return res.err
		}
		*(v.(*protocol.Message)) = res.msg
		return nil
	case <-c.closed:
		return errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v.(protocol.Message))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.writes))
	for _, w := range c.writes {
		types = append(types, w.Type)
	}
	return types
}

func (c *fakeConn) failRead(err error) {
	c.inbox <- readResult{err: err}
}

// retryCapture replaces the subscriber's timer so tests control when and
// whether a scheduled retry fires.
type retryCapture struct {
	delays chan time.Duration

	mu sync.Mutex
	cb func()
}

func newRetryCapture() *retryCapture {
	return &retryCapture{delays: make(chan time.Duration, 16)}
}

func (r *retryCapture) afterFunc(d time.Duration, f func()) *time.Timer {
	r.mu.Lock()
	r.cb = f
	r.mu.Unlock()
	r.delays <- d
	return time.NewTimer(time.Hour)
}

func (r *retryCapture) fire() {
	r.mu.Lock()
	cb := r.cb
	r.mu.Unlock()
	cb()
}

func (r *retryCapture) nextDelay(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-r.delays:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a retry to be scheduled")
		return 0
	}
}

func waitForState(t *testing.T, s *Subscriber, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, still %v", want, s.State())
}

func TestSubscriber_BackoffLadderThenTerminalFailure(t *testing.T) {
	capture := newRetryCapture()
	errCh := make(chan error, 1)

	s := NewSubscriber(Options{
		URL: "ws://gateway/ws",
		Dialer: func(ctx context.Context, url string) (Conn, error) {
			return nil, errDialRefused
		},
		Handlers: Handlers{
			OnError: func(err error) { errCh <- err },
		},
	})
	s.afterFunc = capture.afterFunc

	require.NoError(t, s.Connect())

	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
	}
	for i, d := range want {
		got := capture.nextDelay(t)
		assert.Equal(t, d, got, "retry %d delay", i+1)
		capture.fire()
	}

	// The sixth consecutive failure exhausts the budget.
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrRetriesExhausted)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a terminal failure callback")
	}
	waitForState(t, s, StateFailed)

	select {
	case d := <-capture.delays:
		t.Fatalf("no further retries expected after terminal failure, got delay %v", d)
	default:
	}
}

func TestSubscriber_ConnectAfterTerminalFailureGetsFreshBudget(t *testing.T) {
	capture := newRetryCapture()

	s := NewSubscriber(Options{
		URL: "ws://gateway/ws",
		Dialer: func(ctx context.Context, url string) (Conn, error) {
			return nil, errDialRefused
		},
	})
	s.afterFunc = capture.afterFunc

	require.NoError(t, s.Connect())
	for i := 0; i < 5; i++ {
		capture.nextDelay(t)
		capture.fire()
	}
	waitForState(t, s, StateFailed)

	// A manual Connect out of Failed restarts the ladder at the base delay
	// instead of failing terminally on the first dial error.
	require.NoError(t, s.Connect())
	assert.Equal(t, 2*time.Second, capture.nextDelay(t))
	waitForState(t, s, StateReconnecting)
}

func TestSubscriber_SuccessfulConnectResetsAttempts(t *testing.T) {
	capture := newRetryCapture()
	conns := make(chan Conn, 2)

	s := NewSubscriber(Options{
		URL: "ws://gateway/ws",
		Dialer: func(ctx context.Context, url string) (Conn, error) {
			select {
			case c := <-conns:
				return c, nil
			default:
				return nil, errDialRefused
			}
		},
	})
	s.afterFunc = capture.afterFunc

	// Two failures climb the ladder.
	require.NoError(t, s.Connect())
	assert.Equal(t, 2*time.Second, capture.nextDelay(t))
	capture.fire()
	assert.Equal(t, 4*time.Second, capture.nextDelay(t))

	// A success resets the counter; the next failure starts at the base.
	conn := newFakeConn()
	conns <- conn
	capture.fire()
	waitForState(t, s, StateConnected)

	conn.failRead(errors.New("connection reset"))
	assert.Equal(t, 2*time.Second, capture.nextDelay(t))
}

func TestSubscriber_RemoteCloseRetriesImmediately(t *testing.T) {
	capture := newRetryCapture()
	first := newFakeConn()
	second := newFakeConn()
	conns := make(chan Conn, 2)
	conns <- first
	conns <- second

	s := NewSubscriber(Options{
		URL: "ws://gateway/ws",
		Dialer: func(ctx context.Context, url string) (Conn, error) {
			return <-conns, nil
		},
	})
	s.afterFunc = capture.afterFunc

	require.NoError(t, s.Connect())
	waitForState(t, s, StateConnected)

	first.failRead(&websocket.CloseError{Code: websocket.CloseGoingAway})

	// A close frame gets one immediate attempt, not the ladder.
	assert.Equal(t, time.Duration(0), capture.nextDelay(t))
	capture.fire()
	waitForState(t, s, StateConnected)
}

func TestSubscriber_ReplaysRoomsAndIdentityAfterReconnect(t *testing.T) {
	capture := newRetryCapture()
	first := newFakeConn()
	second := newFakeConn()
	conns := make(chan Conn, 2)
	conns <- first
	conns <- second

	s := NewSubscriber(Options{
		URL:      "ws://gateway/ws",
		Identity: &Identity{UserID: "u1", Name: "Dana"},
		Dialer: func(ctx context.Context, url string) (Conn, error) {
			return <-conns, nil
		},
	})
	s.afterFunc = capture.afterFunc

	s.JoinOrderRoom("o42")
	require.NoError(t, s.Connect())
	waitForState(t, s, StateConnected)

	assert.Contains(t, first.sentTypes(), protocol.TypeAuthenticate)
	assert.Contains(t, first.sentTypes(), protocol.TypeJoinOrderRoom)

	first.failRead(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	capture.nextDelay(t)
	capture.fire()
	waitForState(t, s, StateConnected)

	// The desired membership survives the drop and is replayed unprompted.
	types := second.sentTypes()
	assert.Contains(t, types, protocol.TypeAuthenticate)
	assert.Contains(t, types, protocol.TypeJoinOrderRoom)

	var joined []string
	second.mu.Lock()
	for _, w := range second.writes {
		if w.Type == protocol.TypeJoinOrderRoom {
			var p protocol.JoinOrderRoom
			require.NoError(t, json.Unmarshal(w.Payload, &p))
			joined = append(joined, p.OrderID)
		}
	}
	second.mu.Unlock()
	assert.Equal(t, []string{"o42"}, joined)
}

func TestSubscriber_LeaveRoomWhileOfflineIsNotReplayed(t *testing.T) {
	capture := newRetryCapture()
	conn := newFakeConn()

	s := NewSubscriber(Options{
		URL: "ws://gateway/ws",
		Dialer: func(ctx context.Context, url string) (Conn, error) {
			return conn, nil
		},
	})
	s.afterFunc = capture.afterFunc

	s.JoinOrderRoom("o1")
	s.LeaveOrderRoom("o1")
	require.NoError(t, s.Connect())
	waitForState(t, s, StateConnected)

	assert.NotContains(t, conn.sentTypes(), protocol.TypeJoinOrderRoom)
}

func TestSubscriber_ConnectAfterDisconnectFails(t *testing.T) {
	s := NewSubscriber(Options{
		URL: "ws://gateway/ws",
		Dialer: func(ctx context.Context, url string) (Conn, error) {
			return newFakeConn(), nil
		},
	})

	s.Disconnect()
	assert.ErrorIs(t, s.Connect(), domain.ErrSubscriberClosed)
	assert.Equal(t, StateClosed, s.State())
}

func TestSubscriber_DisconnectCancelsPendingRetry(t *testing.T) {
	capture := newRetryCapture()
	s := NewSubscriber(Options{
		URL: "ws://gateway/ws",
		Dialer: func(ctx context.Context, url string) (Conn, error) {
			return nil, errDialRefused
		},
	})
	s.afterFunc = capture.afterFunc

	require.NoError(t, s.Connect())
	capture.nextDelay(t)

	s.Disconnect()
	// The scheduled retry is stale; firing it must not resurrect the
	// subscriber.
	capture.fire()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateClosed, s.State())
}

func TestSubscriber_DispatchBulkUpdateArrivesAsOneArray(t *testing.T) {
	var singles []protocol.OrderUpdate
	var bulks [][]protocol.OrderUpdate

	s := NewSubscriber(Options{
		URL: "ws://gateway/ws",
		Handlers: Handlers{
			OnOrderUpdate:     func(u protocol.OrderUpdate) { singles = append(singles, u) },
			OnBulkOrderUpdate: func(us []protocol.OrderUpdate) { bulks = append(bulks, us) },
		},
	})

	updates := []protocol.OrderUpdate{
		{OrderID: "o1", Status: "shipped"},
		{OrderID: "o2", Status: "shipped"},
		{OrderID: "o3", Status: "shipped"},
	}
	s.dispatch(protocol.NewMessage(protocol.TypeBulkOrderUpdate, updates))

	require.Len(t, bulks, 1, "bulk updates arrive as a single array push")
	assert.Len(t, bulks[0], 3)
	assert.Empty(t, singles, "bulk must not be unrolled into singular updates")
}

func TestSubscriber_DispatchIgnoresUnknownType(t *testing.T) {
	s := NewSubscriber(Options{URL: "ws://gateway/ws"})
	s.dispatch(protocol.Message{Type: "mystery", Payload: []byte(`{}`)})
}

func TestSubscriber_PongRecordsLatency(t *testing.T) {
	s := NewSubscriber(Options{URL: "ws://gateway/ws"})

	s.mu.Lock()
	s.lastPingAt = time.Now().Add(-50 * time.Millisecond)
	s.mu.Unlock()

	s.dispatch(protocol.NewMessage(protocol.TypePong, protocol.Pong{
		Timestamp:  time.Now().Add(-50 * time.Millisecond),
		ServerTime: time.Now(),
	}))

	assert.GreaterOrEqual(t, s.Latency(), 50*time.Millisecond)
}
