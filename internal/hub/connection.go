package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendTimeout      = errors.New("egress full")
)

// Connection is one live transport session. Its owner is fixed at handshake;
// inbound frames are handled one at a time, in arrival order, by a single
// consumer goroutine.
type Connection struct {
	ID        string
	CreatedAt time.Time

	conn   *websocket.Conn
	hub    *Hub
	logger *zap.Logger

	egress  chan []byte
	ingress chan []byte

	// owned by the processFrames goroutine
	senderName string
	nameLoaded bool

	stateMu sync.RWMutex
	state   ConnState
	userID  string
	started bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newConnection(h *Hub, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(h.ctx)
	id := uuid.New().String()

	return &Connection{
		ID:        id,
		CreatedAt: time.Now(),
		conn:      conn,
		hub:       h,
		logger:    h.logger.With(zap.String("connection_id", id)),
		egress:    make(chan []byte, h.opts.SendBufSize),
		ingress:   make(chan []byte, h.opts.IngressBufSize),
		state:     StateConnecting,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// UserID is empty until the connection is authenticated.
func (c *Connection) UserID() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.userID
}

// authenticate binds the verified identity and moves to Authenticated.
func (c *Connection) authenticate(userID string) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if err := checkTransition(c.state, StateAuthenticated); err != nil {
		return err
	}
	c.state = StateAuthenticated
	c.userID = userID
	c.logger = c.logger.With(zap.String("user_id", userID))
	return nil
}

// start launches the read, process and write goroutines.
func (c *Connection) start() {
	c.stateMu.Lock()
	c.started = true
	c.stateMu.Unlock()

	c.hub.wg.Add(3)
	go func() {
		defer c.hub.wg.Done()
		c.readPump()
	}()
	go func() {
		defer c.hub.wg.Done()
		c.processFrames()
	}()
	go func() {
		defer c.hub.wg.Done()
		c.writePump()
	}()
}

// Send encodes frame and queues it for this connection only.
func (c *Connection) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *Connection) enqueue(data []byte) error {
	if c.State() == StateClosed {
		return ErrConnectionClosed
	}

	timer := time.NewTimer(c.hub.opts.SendTimeout)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case c.egress <- data:
		return nil
	case <-timer.C:
		return ErrSendTimeout
	}
}

// Close moves the connection to Closed, drops it from the registry and stops
// its goroutines. Safe to call more than once and from any goroutine.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.stateMu.Lock()
		prev := c.state
		c.state = StateClosed
		started := c.started
		c.stateMu.Unlock()

		c.cancel()
		c.hub.registry.Unregister(c)

		// once started, writePump owns the socket and closes it on exit
		if !started && c.conn != nil {
			_ = c.conn.Close()
		}

		c.logger.Debug("connection closed", zap.Stringer("previous_state", prev))
	})
}

// reject closes a connection that never authenticated, telling the peer why.
func (c *Connection) reject(code int, reason string) {
	deadline := time.Now().Add(c.hub.opts.WriteWait)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.logger.Debug("failed to write close frame", zap.Error(err))
	}
	c.Close()
}

func (c *Connection) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	c.conn.SetPongHandler(c.pongHandler)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if msgType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", zap.Int("message_type", msgType))
			continue
		}

		// blocks while the consumer is busy persisting; this connection
		// waits, others do not
		select {
		case c.ingress <- data:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) logReadError(err error) {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		c.logger.Info("client disconnected")
		return
	}

	if websocket.IsUnexpectedCloseError(err) {
		c.logger.Warn("unexpected close", zap.Error(err))
		return
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		c.logger.Info("client timed out - closing connection")
		return
	}

	if c.ctx.Err() != nil {
		return
	}
	c.logger.Warn("error reading from client", zap.Error(err))
}

func (c *Connection) processFrames() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.ingress:
			if c.State() != StateAuthenticated {
				return
			}
			c.hub.handleFrame(c, data)
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.opts.pingInterval())

	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			deadline := time.Now().Add(c.hub.opts.WriteWait)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		case data := <-c.egress:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("write error", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.opts.WriteWait)); err != nil {
				c.logger.Warn("ping error", zap.Error(err))
				c.Close()
				return
			}
		}
	}
}

func (c *Connection) pongHandler(string) error {
	return c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
}
