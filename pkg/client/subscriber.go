package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"orderlive/internal/core/domain"
	"orderlive/pkg/protocol"
	"orderlive/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the subscriber's connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateReconnecting
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Conn is the minimal transport surface the subscriber needs. Satisfied by
// *websocket.Conn and by fakes in tests.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens one transport connection.
type Dialer func(ctx context.Context, url string) (Conn, error)

func websocketDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Identity is the authentication handshake sent right after connecting.
type Identity struct {
	UserID string
	Name   string
	Token  string
}

// Handlers is the typed event surface exposed to the rest of the client.
// Nil callbacks are skipped.
type Handlers struct {
	OnOrderUpdate     func(protocol.OrderUpdate)
	OnBulkOrderUpdate func([]protocol.OrderUpdate)
	OnNotification    func(protocol.Notification)
	OnSystemStats     func(protocol.SystemStats)
	OnMetrics         func(protocol.MetricsUpdate)
	OnEmergency       func(protocol.EmergencyNotification)
	OnTypingStart     func(protocol.TypingStart)
	OnTypingStop      func(protocol.TypingStop)
	OnStateChange     func(State)
	OnError           func(error)
}

// Options configures a Subscriber.
type Options struct {
	URL      string
	Identity *Identity
	Handlers Handlers

	// Backoff governs reconnection after transport failures. Zero value
	// means the default ladder: 5 attempts, 2s base, doubling, no jitter.
	Backoff retry.Policy

	// HeartbeatInterval between pings while connected; default 30s.
	HeartbeatInterval time.Duration

	Dialer Dialer
	Logger *zap.SugaredLogger
}

// DefaultBackoff is the reconnect ladder: 2s, 4s, 8s, 16s, 32s, then fail.
func DefaultBackoff() retry.Policy {
	return retry.Policy{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		Multiplier:   2.0,
	}
}

// Subscriber owns one logical connection to the gateway: authentication
// handshake, exponential-backoff reconnection, heartbeat, and the typed
// event stream. Desired room memberships survive reconnects and are
// replayed after every transition to Connected.
type Subscriber struct {
	opts     Options
	handlers Handlers
	logger   *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	conn          Conn
	gen           int
	attempts      int
	retryTimer    *time.Timer
	stopHeartbeat chan struct{}
	desiredRooms  map[string]struct{}
	lastPingAt    time.Time
	latency       time.Duration
	lastErr       error

	// writeMu serializes writes to the transport; gorilla connections do
	// not support concurrent writers.
	writeMu sync.Mutex

	// afterFunc schedules retries; replaced in tests to capture delays.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewSubscriber(opts Options) *Subscriber {
	if opts.Dialer == nil {
		opts.Dialer = websocketDialer
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.Backoff.MaxAttempts == 0 && opts.Backoff.InitialDelay == 0 {
		opts.Backoff = DefaultBackoff()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		opts:         opts,
		handlers:     opts.Handlers,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		state:        StateIdle,
		desiredRooms: make(map[string]struct{}),
		afterFunc:    time.AfterFunc,
	}
}

// Connect starts the connection attempt. No-op while already Connecting or
// Connected; an error is returned only when the subscriber is Closed.
func (s *Subscriber) Connect() error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateConnected:
		s.mu.Unlock()
		return nil
	case StateClosed:
		s.mu.Unlock()
		return domain.ErrSubscriberClosed
	case StateFailed:
		// A fresh manual Connect gets the full retry budget back.
		s.attempts = 0
	}
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	go s.dial()
	return nil
}

// Disconnect cancels any pending retry, closes the transport, resets the
// attempt counter and moves to the terminal Closed state.
func (s *Subscriber) Disconnect() {
	s.mu.Lock()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.stopHeartbeatLocked()
	conn := s.conn
	s.conn = nil
	s.gen++
	s.attempts = 0
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		conn.Close()
	}
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Latency returns the last measured ping round-trip time. Advisory only.
func (s *Subscriber) Latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency
}

// LastError returns the most recent transport error.
func (s *Subscriber) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// JoinOrderRoom records the room as desired and joins it immediately when
// connected. The desire survives reconnects and is replayed after every
// Connected transition.
func (s *Subscriber) JoinOrderRoom(orderID string) {
	s.mu.Lock()
	s.desiredRooms[orderID] = struct{}{}
	connected := s.state == StateConnected
	s.mu.Unlock()

	if connected {
		s.send(protocol.TypeJoinOrderRoom, protocol.JoinOrderRoom{OrderID: orderID})
	}
}

// LeaveOrderRoom removes the desire even while offline.
func (s *Subscriber) LeaveOrderRoom(orderID string) {
	s.mu.Lock()
	delete(s.desiredRooms, orderID)
	connected := s.state == StateConnected
	s.mu.Unlock()

	if connected {
		s.send(protocol.TypeLeaveOrderRoom, protocol.LeaveOrderRoom{OrderID: orderID})
	}
}

// SendTypingStart is silently dropped when not connected.
func (s *Subscriber) SendTypingStart(orderID string) {
	s.mu.Lock()
	connected := s.state == StateConnected
	var userName string
	if s.opts.Identity != nil {
		userName = s.opts.Identity.Name
	}
	s.mu.Unlock()

	if connected {
		s.send(protocol.TypeTypingStart, protocol.TypingStart{OrderID: orderID, UserName: userName})
	}
}

// SendTypingStop is silently dropped when not connected.
func (s *Subscriber) SendTypingStop(orderID string) {
	s.mu.Lock()
	connected := s.state == StateConnected
	s.mu.Unlock()

	if connected {
		s.send(protocol.TypeTypingStop, protocol.TypingStop{OrderID: orderID})
	}
}

func (s *Subscriber) dial() {
	conn, err := s.opts.Dialer(s.ctx, s.opts.URL)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.lastErr = err
		s.scheduleRetryLocked(err)
		s.mu.Unlock()
		return
	}

	s.conn = conn
	s.gen++
	gen := s.gen
	s.attempts = 0
	s.setStateLocked(StateConnected)
	identity := s.opts.Identity
	rooms := make([]string, 0, len(s.desiredRooms))
	for room := range s.desiredRooms {
		rooms = append(rooms, room)
	}
	s.startHeartbeatLocked()
	s.mu.Unlock()

	if identity != nil {
		s.send(protocol.TypeAuthenticate, protocol.Authenticate{
			UserID: identity.UserID,
			Name:   identity.Name,
			Token:  identity.Token,
		})
	}
	for _, room := range rooms {
		s.send(protocol.TypeJoinOrderRoom, protocol.JoinOrderRoom{OrderID: room})
	}

	go s.readLoop(conn, gen)
}

// scheduleRetryLocked implements the backoff ladder. Attempt n (zero-based)
// waits initialDelay * multiplier^n; once the ceiling is reached the
// subscriber surfaces a terminal failure and stops retrying on its own.
func (s *Subscriber) scheduleRetryLocked(cause error) {
	if s.attempts >= s.opts.Backoff.MaxAttempts {
		s.setStateLocked(StateFailed)
		s.logger.Warnw("reconnect attempts exhausted",
			"attempts", s.attempts,
			"error", cause,
		)
		if s.handlers.OnError != nil {
			err := fmt.Errorf("%w after %d attempts: %v", domain.ErrRetriesExhausted, s.attempts, cause)
			go s.handlers.OnError(err)
		}
		return
	}

	delay := s.opts.Backoff.Delay(s.attempts)
	s.attempts++
	s.setStateLocked(StateReconnecting)
	s.logger.Infow("scheduling reconnect",
		"attempt", s.attempts,
		"delay", delay,
		"error", cause,
	)
	s.retryTimer = s.afterFunc(delay, s.retryConnect)
}

func (s *Subscriber) retryConnect() {
	s.mu.Lock()
	if s.state != StateReconnecting && s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	go s.dial()
}

func (s *Subscriber) readLoop(conn Conn, gen int) {
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			s.handleDisconnect(gen, err)
			return
		}
		s.dispatch(msg)
	}
}

func (s *Subscriber) handleDisconnect(gen int, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.stopHeartbeatLocked()
	s.conn = nil
	s.lastErr = cause
	s.setStateLocked(StateDisconnected)

	if isRemoteClose(cause) {
		// The remote side closed the connection: one immediate attempt
		// instead of the exponential ladder.
		s.attempts = 0
		s.logger.Infow("remote closed connection, reconnecting immediately")
		s.retryTimer = s.afterFunc(0, s.retryConnect)
		s.mu.Unlock()
		return
	}

	s.scheduleRetryLocked(cause)
	s.mu.Unlock()
}

// isRemoteClose distinguishes a deliberate close frame from a network drop.
func isRemoteClose(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}

func (s *Subscriber) startHeartbeatLocked() {
	stop := make(chan struct{})
	s.stopHeartbeat = stop
	interval := s.opts.HeartbeatInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				now := time.Now()
				s.mu.Lock()
				s.lastPingAt = now
				s.mu.Unlock()
				s.send(protocol.TypePing, protocol.Ping{Timestamp: now})
			}
		}
	}()
}

func (s *Subscriber) stopHeartbeatLocked() {
	if s.stopHeartbeat != nil {
		close(s.stopHeartbeat)
		s.stopHeartbeat = nil
	}
}

func (s *Subscriber) send(msgType string, payload interface{}) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	s.writeMu.Lock()
	err := conn.WriteJSON(protocol.NewMessage(msgType, payload))
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Debugw("send failed", "message_type", msgType, "error", err)
	}
}

func (s *Subscriber) dispatch(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeOrderUpdate, protocol.TypeOrderDetailUpdate:
		var payload protocol.OrderUpdate
		if s.decode(msg, &payload) && s.handlers.OnOrderUpdate != nil {
			s.handlers.OnOrderUpdate(payload)
		}
	case protocol.TypeBulkOrderUpdate:
		// The bulk form arrives as one array, never N singular frames.
		var payload []protocol.OrderUpdate
		if s.decode(msg, &payload) && s.handlers.OnBulkOrderUpdate != nil {
			s.handlers.OnBulkOrderUpdate(payload)
		}
	case protocol.TypeNotification:
		var payload protocol.Notification
		if s.decode(msg, &payload) && s.handlers.OnNotification != nil {
			s.handlers.OnNotification(payload)
		}
	case protocol.TypeSystemStats:
		var payload protocol.SystemStats
		if s.decode(msg, &payload) && s.handlers.OnSystemStats != nil {
			s.handlers.OnSystemStats(payload)
		}
	case protocol.TypeMetricsUpdate:
		var payload protocol.MetricsUpdate
		if s.decode(msg, &payload) && s.handlers.OnMetrics != nil {
			s.handlers.OnMetrics(payload)
		}
	case protocol.TypeEmergencyNotification:
		var payload protocol.EmergencyNotification
		if s.decode(msg, &payload) && s.handlers.OnEmergency != nil {
			s.handlers.OnEmergency(payload)
		}
	case protocol.TypeTypingStart:
		var payload protocol.TypingStart
		if s.decode(msg, &payload) && s.handlers.OnTypingStart != nil {
			s.handlers.OnTypingStart(payload)
		}
	case protocol.TypeTypingStop:
		var payload protocol.TypingStop
		if s.decode(msg, &payload) && s.handlers.OnTypingStop != nil {
			s.handlers.OnTypingStop(payload)
		}
	case protocol.TypePong:
		var payload protocol.Pong
		if s.decode(msg, &payload) {
			s.recordPong()
		}
	case protocol.TypeError:
		var payload protocol.Error
		if s.decode(msg, &payload) && s.handlers.OnError != nil {
			s.handlers.OnError(errors.New(payload.Message))
		}
	default:
		s.logger.Debugw("ignoring message of unknown type", "type", msg.Type)
	}
}

func (s *Subscriber) decode(msg protocol.Message, v interface{}) bool {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		s.logger.Warnw("failed to decode payload", "type", msg.Type, "error", err)
		return false
	}
	return true
}

func (s *Subscriber) recordPong() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastPingAt.IsZero() {
		s.latency = time.Since(s.lastPingAt)
	}
}

func (s *Subscriber) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	if s.handlers.OnStateChange != nil {
		go s.handlers.OnStateChange(state)
	}
}
