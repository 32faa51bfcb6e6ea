package agent

import (
	"Saathi/internal/auth"
	"Saathi/internal/event"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrEmptyText    = errors.New("message text is empty")
	ErrAgentClosed  = errors.New("agent closed")
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultHistoryTimeout = 10 * time.Second
)

var validate = validator.New()

// Config describes one conversation. SelfID may be left empty, in which case
// it is read from the token's userId claim.
type Config struct {
	ServerURL      string `validate:"required,url"`
	SocketRoute    string
	Token          string `validate:"required"`
	SelfID         string
	PeerID         string `validate:"required"`
	ReconnectDelay time.Duration
	HistoryTimeout time.Duration

	HTTPClient *http.Client      `validate:"-"`
	Dialer     *websocket.Dialer `validate:"-"`
	Logger     *zap.Logger       `validate:"-"`
}

// inbound is the union of the frames a client can receive. Message is a
// chat message on message frames and a plain greeting on connected.
type inbound struct {
	Type       string          `json:"type"`
	Message    json.RawMessage `json:"message"`
	FromUserID string          `json:"fromUserId"`
	IsTyping   bool            `json:"isTyping"`
}

// Agent keeps one conversation connected: it reconnects forever at a constant
// delay, refetches history after every successful connect and merges both
// sources into a single View.
type Agent struct {
	cfg     Config
	logger  *zap.Logger
	view    *View
	history *historyClient
	socket  string
	dialer  *websocket.Dialer
	backoff backoff.BackOff

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	typing  bool
	started bool
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc

	writeMu sync.Mutex
	updates chan struct{}
	wg      sync.WaitGroup
}

func New(cfg Config) (*Agent, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}

	base, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}

	if cfg.SelfID == "" {
		if cfg.SelfID, err = subjectOf(cfg.Token); err != nil {
			return nil, err
		}
	}
	if cfg.SocketRoute == "" {
		cfg.SocketRoute = "ws"
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = defaultHistoryTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.HistoryTimeout}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Agent{
		cfg: cfg,
		logger: cfg.Logger.With(
			zap.String("user_id", cfg.SelfID),
			zap.String("peer_id", cfg.PeerID),
		),
		view:    NewView(cfg.SelfID, cfg.PeerID),
		history: &historyClient{baseURL: base, token: cfg.Token, client: cfg.HTTPClient},
		socket:  socketURL(base, cfg.SocketRoute, cfg.Token),
		dialer:  cfg.Dialer,
		backoff: backoff.NewConstantBackOff(cfg.ReconnectDelay),
		updates: make(chan struct{}, 1),
	}, nil
}

// subjectOf reads the userId claim without verifying the signature; the
// server verifies it on every request.
func subjectOf(token string) (string, error) {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("read token claims: %w", err)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("read token claims: %w", auth.ErrInvalidToken)
	}
	return claims.UserID, nil
}

// Start launches the connect loop. It returns immediately; the loop runs until
// ctx is cancelled or Close is called.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started || a.closed {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run()
	}()
}

// Close stops reconnecting, drops the transport and waits for the loop.
func (a *Agent) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	cancel := a.cancel
	conn := a.conn
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	a.wg.Wait()
	a.setState(StateDisconnected)
}

func (a *Agent) run() {
	for {
		a.setState(StateConnecting)

		conn, _, err := a.dialer.DialContext(a.ctx, a.socket, nil)
		if err != nil {
			a.logger.Info("connect failed", zap.Error(err))
		} else {
			a.backoff.Reset()
			a.serve(conn)
		}

		a.setState(StateDisconnected)
		if a.ctx.Err() != nil {
			return
		}

		delay := a.backoff.NextBackOff()
		a.logger.Debug("reconnecting", zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-a.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// serve owns one transport until it fails.
func (a *Agent) serve(conn *websocket.Conn) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = conn.Close()
		return
	}
	a.conn = conn
	a.mu.Unlock()

	// unblocks readLoop when the caller's context ends
	stop := context.AfterFunc(a.ctx, func() { _ = conn.Close() })
	defer stop()

	a.setState(StateConnected)
	a.logger.Info("connected")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.refreshHistory()
	}()

	a.readLoop(conn)

	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
	}
	a.mu.Unlock()
	_ = conn.Close()
}

// refreshHistory fills anything delivered while no transport was up.
func (a *Agent) refreshHistory() {
	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.HistoryTimeout)
	defer cancel()

	msgs, err := a.history.fetch(ctx, a.cfg.PeerID)
	if err != nil {
		a.logger.Warn("history refresh failed", zap.Error(err))
		return
	}

	n := a.view.ApplyHistory(msgs)
	a.logger.Debug("history merged", zap.Int("messages", n))
	a.notify()
}

func (a *Agent) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if a.ctx.Err() == nil {
				a.logger.Info("transport lost", zap.Error(err))
			}
			return
		}
		a.dispatch(data)
	}
}

func (a *Agent) dispatch(data []byte) {
	var f inbound
	if err := json.Unmarshal(data, &f); err != nil {
		a.logger.Warn("ignoring malformed frame", zap.Error(err))
		return
	}

	switch f.Type {
	case event.TypeNewMessage, event.TypeMessageSent:
		var msg Message
		if err := json.Unmarshal(f.Message, &msg); err != nil {
			a.logger.Warn("ignoring malformed message", zap.String("type", f.Type), zap.Error(err))
			return
		}
		if a.view.ApplyLive(msg) {
			a.notify()
		}
	case event.TypeTyping:
		if f.FromUserID != a.cfg.PeerID {
			return
		}
		a.mu.Lock()
		a.typing = f.IsTyping
		a.mu.Unlock()
		a.notify()
	case event.TypeConnected:
		var greeting string
		_ = json.Unmarshal(f.Message, &greeting)
		a.logger.Debug("server ready", zap.String("greeting", greeting))
	}
}

// SendMessage transmits text to the peer and records an optimistic entry,
// returning its temporary id. It does not wait for the server's echo.
func (a *Agent) SendMessage(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	if err := a.writable(); err != nil {
		return "", err
	}

	// recorded before the write so an immediate echo finds it
	tempID := a.view.AddPending(text, time.Now())

	err := a.write(event.Frame{Type: event.TypeSendMessage, ToUserID: a.cfg.PeerID, Text: text})
	if err != nil {
		a.view.DropPending(tempID)
		return "", err
	}

	a.notify()
	return tempID, nil
}

func (a *Agent) SendTyping(isTyping bool) error {
	frameType := event.TypeTypingStop
	if isTyping {
		frameType = event.TypeTypingStart
	}
	return a.write(event.Frame{Type: frameType, ToUserID: a.cfg.PeerID})
}

func (a *Agent) writable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAgentClosed
	}
	if a.conn == nil || a.state != StateConnected {
		return ErrNotConnected
	}
	return nil
}

func (a *Agent) write(frame event.Frame) error {
	if err := a.writable(); err != nil {
		return err
	}

	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	changed := a.state != s
	a.state = s
	a.mu.Unlock()
	if changed {
		a.notify()
	}
}

func (a *Agent) notify() {
	select {
	case a.updates <- struct{}{}:
	default:
	}
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// IsTyping reports the last typing signal from the peer. It stays set until
// the peer sends typing_stop.
func (a *Agent) IsTyping() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.typing
}

// Messages returns the merged conversation in display order.
func (a *Agent) Messages() []Message {
	return a.view.Messages()
}

// Updates signals after any change to state, typing or messages. Signals
// coalesce; readers should re-query rather than count them.
func (a *Agent) Updates() <-chan struct{} {
	return a.updates
}

// SelfID is the user this agent sends as.
func (a *Agent) SelfID() string {
	return a.cfg.SelfID
}
