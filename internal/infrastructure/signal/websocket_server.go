package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"orderlive/internal/core/domain"
	"orderlive/internal/core/ports"
	"orderlive/pkg/protocol"
	"orderlive/pkg/tracing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Options tunes the per-connection timeouts and inbound rate limit.
type Options struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MessagesPerSecond/Burst bound inbound messages per connection;
	// zero disables limiting.
	MessagesPerSecond float64
	Burst             int
}

func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

type connection struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *connection) writeJSON(deadline time.Duration, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(deadline))
	return c.conn.WriteJSON(v)
}

// WebSocketServer is the transport side of the fan-out: it owns the raw
// connections, feeds lifecycle changes into the registry, and implements
// ports.Sender for the broadcaster.
type WebSocketServer struct {
	registry ports.ConnectionRegistry
	auth     ports.AuthService // nil when handshake tokens are not verified
	opts     Options

	connections map[domain.ConnectionID]*connection
	mu          sync.RWMutex

	logger *zap.SugaredLogger
}

func NewWebSocketServer(
	registry ports.ConnectionRegistry,
	auth ports.AuthService,
	opts Options,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	return &WebSocketServer{
		registry:    registry,
		auth:        auth,
		opts:        opts,
		connections: make(map[domain.ConnectionID]*connection),
		logger:      logger,
	}
}

// Send implements ports.Sender. Sends to connections that are gone return
// domain.ErrConnectionClosed, which the broadcaster swallows.
func (s *WebSocketServer) Send(id domain.ConnectionID, msgType string, payload interface{}) error {
	s.mu.RLock()
	c, exists := s.connections[id]
	s.mu.RUnlock()

	if !exists {
		return domain.ErrConnectionClosed
	}
	if err := c.writeJSON(s.opts.WriteTimeout, protocol.NewMessage(msgType, payload)); err != nil {
		return fmt.Errorf("write to %s: %w", id, err)
	}
	return nil
}

// ConnectionCount reports live transport connections.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := domain.ConnectionID(uuid.NewString())
	c := &connection{conn: conn}

	s.mu.Lock()
	s.connections[id] = c
	s.mu.Unlock()
	s.registry.Register(id)

	s.logger.Infow("client connected", "connection_id", id, "remote", r.RemoteAddr)

	conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	var limiter *rate.Limiter
	if s.opts.MessagesPerSecond > 0 {
		burst := s.opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), burst)
	}

	messageChan := make(chan protocol.Message, 10)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go readPump(conn, s.opts.ReadTimeout, messageChan, errorChan, done)

	for {
		select {
		case msg := <-messageChan:
			if limiter != nil && !limiter.Allow() {
				s.sendError(c, "message rate limit exceeded")
				continue
			}
			if err := s.handleMessage(r.Context(), id, msg); err != nil {
				s.logger.Infow("error handling message",
					"connection_id", id,
					"message_type", msg.Type,
					"error", err,
				)
				s.sendError(c, err.Error())
			}

		case <-pingTicker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "connection_id", id, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "connection_id", id, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	// Unregister exactly once, regardless of close reason.
	s.mu.Lock()
	delete(s.connections, id)
	s.mu.Unlock()
	s.registry.Unregister(id)

	s.logger.Infow("client disconnected", "connection_id", id)
}

type readConn interface {
	ReadJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
}

// readPump feeds inbound frames to the connection's select loop. It returns
// on the first read error, and also when the loop has already gone away so
// a full message channel never strands the goroutine.
func readPump(conn readConn, timeout time.Duration, messages chan<- protocol.Message, errs chan<- error, done <-chan struct{}) {
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case errs <- err:
			case <-done:
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(timeout))
		select {
		case messages <- msg:
		case <-done:
			return
		}
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, id domain.ConnectionID, msg protocol.Message) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}

	ctx, span := tracing.TraceSocketMessage(ctx, msg.Type, string(id))
	defer span.End()

	switch msg.Type {
	case protocol.TypeAuthenticate:
		return s.handleAuthenticate(id, msg)
	case protocol.TypeJoinOrderRoom:
		return s.handleJoinOrderRoom(id, msg)
	case protocol.TypeLeaveOrderRoom:
		return s.handleLeaveOrderRoom(id, msg)
	case protocol.TypePing:
		return s.handlePing(id, msg)
	case protocol.TypeTypingStart:
		return s.handleTypingStart(id, msg)
	case protocol.TypeTypingStop:
		return s.handleTypingStop(id, msg)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *WebSocketServer) handleAuthenticate(id domain.ConnectionID, msg protocol.Message) error {
	var payload protocol.Authenticate
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid authenticate payload: %w", err)
	}

	userID := payload.UserID
	name := payload.Name
	if s.auth != nil {
		claims, err := s.auth.ValidateToken(payload.Token)
		if err != nil {
			return fmt.Errorf("authentication rejected: %w", err)
		}
		userID = claims.UserID
		if claims.DisplayName != "" {
			name = claims.DisplayName
		}
	}
	if userID == "" {
		return fmt.Errorf("userId is required")
	}

	s.registry.Authenticate(id, userID, name)
	return nil
}

func (s *WebSocketServer) handleJoinOrderRoom(id domain.ConnectionID, msg protocol.Message) error {
	var payload protocol.JoinOrderRoom
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid join_order_room payload: %w", err)
	}
	if payload.OrderID == "" {
		return fmt.Errorf("orderId is required")
	}

	s.registry.JoinRoom(id, domain.OrderRoom(domain.OrderID(payload.OrderID)))
	return nil
}

func (s *WebSocketServer) handleLeaveOrderRoom(id domain.ConnectionID, msg protocol.Message) error {
	var payload protocol.LeaveOrderRoom
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid leave_order_room payload: %w", err)
	}
	if payload.OrderID == "" {
		return fmt.Errorf("orderId is required")
	}

	s.registry.LeaveRoom(id, domain.OrderRoom(domain.OrderID(payload.OrderID)))
	return nil
}

func (s *WebSocketServer) handlePing(id domain.ConnectionID, msg protocol.Message) error {
	var payload protocol.Ping
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("invalid ping payload: %w", err)
		}
	}

	return s.Send(id, protocol.TypePong, protocol.Pong{
		Timestamp:  payload.Timestamp,
		ServerTime: time.Now(),
	})
}

func (s *WebSocketServer) handleTypingStart(id domain.ConnectionID, msg protocol.Message) error {
	var payload protocol.TypingStart
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid typing_start payload: %w", err)
	}
	if payload.OrderID == "" {
		return fmt.Errorf("orderId is required")
	}

	if payload.UserName == "" {
		if session, ok := s.registry.Session(id); ok {
			payload.UserName = session.DisplayName
		}
	}
	s.relayToOrderRoom(id, domain.OrderID(payload.OrderID), protocol.TypeTypingStart, payload)
	return nil
}

func (s *WebSocketServer) handleTypingStop(id domain.ConnectionID, msg protocol.Message) error {
	var payload protocol.TypingStop
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid typing_stop payload: %w", err)
	}
	if payload.OrderID == "" {
		return fmt.Errorf("orderId is required")
	}

	s.relayToOrderRoom(id, domain.OrderID(payload.OrderID), protocol.TypeTypingStop, payload)
	return nil
}

// relayToOrderRoom forwards a room-scoped message to everyone in the order's
// room except the sender. Failures to individual recipients are dropped.
func (s *WebSocketServer) relayToOrderRoom(from domain.ConnectionID, orderID domain.OrderID, msgType string, payload interface{}) {
	for _, member := range s.registry.MembersOf(domain.OrderRoom(orderID)) {
		if member == from {
			continue
		}
		if err := s.Send(member, msgType, payload); err != nil {
			s.logger.Debugw("dropped typing relay",
				"connection_id", member,
				"order_id", orderID,
				"error", err,
			)
		}
	}
}

func (s *WebSocketServer) sendError(c *connection, message string) {
	c.writeJSON(s.opts.WriteTimeout, protocol.NewMessage(protocol.TypeError, protocol.Error{Message: message}))
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.ConnectionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
