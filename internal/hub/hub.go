package hub

import (
	"Saathi/internal/event"
	"Saathi/internal/model"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	ErrAuthRequired = errors.New("authentication required")
	ErrInvalidToken = errors.New("invalid token")
	ErrEmptyText    = errors.New("message text is empty")
)

// Close reasons sent with code 1008 when the handshake credential is rejected
const (
	ReasonAuthRequired = "Authentication required"
	ReasonInvalidToken = "Invalid token"
	ReasonShuttingDown = "Server shutting down"
)

// Options tunes the transport. Zero fields fall back to DefaultOptions.
type Options struct {
	ShardCount     int
	SendBufSize    int
	IngressBufSize int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendTimeout    time.Duration
	PersistTimeout time.Duration
	AllowedOrigins []string
}

func DefaultOptions() Options {
	return Options{
		ShardCount:     defaultShardCount,
		SendBufSize:    256,
		IngressBufSize: 64,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendTimeout:    2 * time.Second,
		PersistTimeout: 5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ShardCount <= 0 {
		o.ShardCount = d.ShardCount
	}
	if o.SendBufSize <= 0 {
		o.SendBufSize = d.SendBufSize
	}
	if o.IngressBufSize <= 0 {
		o.IngressBufSize = d.IngressBufSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = d.SendTimeout
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = d.PersistTimeout
	}
	return o
}

// send pings to peer with this period
func (o Options) pingInterval() time.Duration {
	return (o.PongWait * 9) / 10
}

// Hub is the realtime messaging core: it authenticates connections, persists
// chat messages and routes frames to the recipients' live connections.
type Hub struct {
	registry *Registry
	ledger   Ledger
	verifier CredentialVerifier
	users    UserDirectory
	logger   *zap.Logger
	opts     Options
	clock    *MonotonicClock
	upgrader websocket.Upgrader

	startedAt time.Time
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	// lifeMu orders connection starts against Stop, so no goroutine is
	// added to wg once Stop begins waiting.
	lifeMu   sync.Mutex
	stopping bool
}

// NewHub builds a hub. users may be nil, in which case deliveries carry no
// sender name.
func NewHub(ledger Ledger, verifier CredentialVerifier, users UserDirectory, logger *zap.Logger, opts Options) *Hub {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		registry:  NewRegistry(opts.ShardCount, logger),
		ledger:    ledger,
		verifier:  verifier,
		users:     users,
		logger:    logger,
		opts:      opts,
		clock:     NewMonotonicClock(nil),
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Clock is the timestamp source for messages. REST sends share it so both
// paths stamp on one monotonic sequence.
func (h *Hub) Clock() *MonotonicClock {
	return h.clock
}

// Registry exposes the connection registry, mainly for monitoring.
func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(h.opts.AllowedOrigins, "*") || lo.Contains(h.opts.AllowedOrigins, origin)
}

// ServeWS upgrades the request and runs the handshake. The credential comes
// from the "token" query parameter because browsers cannot set headers on
// the upgrade request.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newConnection(h, conn)

	userID, err := h.authenticate(r.URL.Query().Get("token"))
	if err != nil {
		reason := ReasonInvalidToken
		if errors.Is(err, ErrAuthRequired) {
			reason = ReasonAuthRequired
		}
		c.logger.Info("rejecting connection", zap.Error(err))
		c.reject(websocket.ClosePolicyViolation, reason)
		return
	}

	if err := c.authenticate(userID); err != nil {
		c.logger.Error("failed to authenticate connection", zap.Error(err))
		c.Close()
		return
	}

	// queued before registration so it is always the first frame out
	if err := c.Send(event.NewConnected()); err != nil {
		c.logger.Warn("failed to queue connected ack", zap.Error(err))
	}

	if !h.admit(userID, c) {
		c.reject(websocket.CloseGoingAway, ReasonShuttingDown)
		return
	}
	c.logger.Info("client connected")
}

// admit registers and starts c unless Stop has already begun.
func (h *Hub) admit(userID string, c *Connection) bool {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	if h.stopping {
		return false
	}
	h.registry.Register(userID, c)
	c.start()
	return true
}

// ServeHTTP lets the hub be mounted directly as a handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeWS(w, r)
}

func (h *Hub) authenticate(token string) (string, error) {
	if token == "" {
		return "", ErrAuthRequired
	}

	userID, err := h.verifier.Verify(token)
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

func (h *Hub) handleFrame(c *Connection, data []byte) {
	f, err := event.Decode(data)
	if errors.Is(err, event.ErrUnknownType) {
		c.logger.Debug("ignoring unknown frame type", zap.String("type", f.Type))
		return
	}
	if err != nil {
		c.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch f.Type {
	case event.TypeSendMessage:
		h.handleSendMessage(c, f)
	case event.TypeTypingStart:
		h.registry.Fanout(f.ToUserID, event.NewTyping(c.UserID(), true))
	case event.TypeTypingStop:
		h.registry.Fanout(f.ToUserID, event.NewTyping(c.UserID(), false))
	}
}

// handleSendMessage persists first and only then routes. A failed append
// drops the frame: no fanout, no echo.
func (h *Hub) handleSendMessage(c *Connection, f event.Frame) {
	if strings.TrimSpace(f.Text) == "" {
		c.logger.Warn("dropping message", zap.Error(ErrEmptyText), zap.String("to_user_id", f.ToUserID))
		return
	}

	msg := &model.ChatMessage{
		SenderID:    c.UserID(),
		RecipientID: f.ToUserID,
		Text:        f.Text,
		CreatedAt:   h.clock.Now(),
	}

	// the append outlives a connection closed mid-write
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), h.opts.PersistTimeout)
	defer cancel()

	if err := h.ledger.AppendMessage(ctx, msg); err != nil {
		c.logger.Error("failed to persist message, dropping frame",
			zap.String("to_user_id", f.ToUserID),
			zap.Error(err),
		)
		return
	}

	delivered := h.registry.fanout(f.ToUserID, event.NewMessageDelivered(*msg, h.senderName(c)), c)

	if err := c.Send(event.NewMessageSent(*msg)); err != nil {
		c.logger.Debug("sender gone before echo", zap.Error(err))
	}

	c.logger.Debug("message routed",
		zap.String("message_id", msg.ID.Hex()),
		zap.String("to_user_id", f.ToUserID),
		zap.Int("delivered", delivered),
	)
}

// senderName looks up the display name of c's owner once and caches it on
// the connection. Only the connection's frame consumer calls it.
func (h *Hub) senderName(c *Connection) string {
	if h.users == nil || c.nameLoaded {
		return c.senderName
	}

	ctx, cancel := context.WithTimeout(c.ctx, h.opts.PersistTimeout)
	defer cancel()

	user, err := h.users.FindByID(ctx, c.UserID())
	if err != nil {
		// retried on the next message
		c.logger.Warn("sender name lookup failed", zap.Error(err))
		return ""
	}
	c.nameLoaded = true
	if user != nil {
		c.senderName = user.Name
	}
	return c.senderName
}

// Stop closes every live connection and waits for their goroutines.
// Connections completing their handshake afterwards are turned away.
func (h *Hub) Stop() {
	h.lifeMu.Lock()
	h.stopping = true
	h.cancel()
	h.lifeMu.Unlock()

	for _, c := range h.registry.all() {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(h.opts.WriteWait):
		h.logger.Warn("timed out waiting for connections to drain")
	}
}
