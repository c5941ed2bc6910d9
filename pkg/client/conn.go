package client

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arlomercer/sanctum/internal/protocol"
	"github.com/arlomercer/sanctum/internal/reliability"
)

// ConnState is the transport lifecycle visible to callers.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

var ErrMaxAttempts = errors.New("connection failed: retry budget exhausted")

type ConnConfig struct {
	URL         string
	Token       string
	MaxAttempts int           // reconnect budget, default 5
	BackoffBase time.Duration // default 1s
	BackoffCap  time.Duration // default 30s
}

// Conn manages one client websocket with automatic reconnection.
// Messages are never queued while the socket is down: Send reports
// failure immediately and callers surface it.
type Conn struct {
	cfg ConnConfig

	mu       sync.Mutex
	state    ConnState
	ws       *websocket.Conn
	manual   bool
	attempts int
	timer    *time.Timer
	lastErr  error

	OnFrame func(protocol.Frame)
	OnState func(ConnState)
	OnError func(error)
}

func NewConn(cfg ConnConfig) *Conn {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	return &Conn{cfg: cfg, state: StateDisconnected}
}

// Connect opens the socket. It is a no-op when already open or opening.
func (c *Conn) Connect() error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.manual = false
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	target, err := c.dialURL()
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return err
	}

	ws, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		err = fmt.Errorf("dial %s: %w", c.cfg.URL, err)
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		c.handleClose(-1)
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.attempts = 0
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	go c.readLoop(ws)
	return nil
}

// Disconnect closes the socket deliberately, suppressing reconnection.
// Idempotent.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.manual = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	ws := c.ws
	c.ws = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if ws != nil {
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = ws.Close()
	}
}

// Send writes one frame. Returns false, recording the error, when the
// socket is not open.
func (c *Conn) Send(frame protocol.Frame) bool {
	c.mu.Lock()
	ws := c.ws
	open := c.state == StateConnected && ws != nil
	if !open {
		c.lastErr = fmt.Errorf("send %s: socket not open", frame.Type)
		c.mu.Unlock()
		return false
	}
	_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err := ws.WriteJSON(frame)
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()
	return err == nil
}

func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastError reports the most recent transport error, if any.
func (c *Conn) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Conn) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", c.cfg.URL, err)
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			code := closeCodeOf(err)
			c.handleClose(code)
			return
		}
		frame, err := protocol.ParseFrame(data)
		if err != nil {
			log.Printf("client: dropping unparseable frame: %v", err)
			continue
		}
		if c.OnFrame != nil {
			c.OnFrame(frame)
		}
	}
}

// handleClose decides what happens after the socket drops: settle into
// disconnected for manual closes, permanent close codes and an exhausted
// retry budget, otherwise schedule a reconnect with exponential backoff.
func (c *Conn) handleClose(code int) {
	c.mu.Lock()
	c.ws = nil

	if c.manual {
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return
	}
	if code > 0 && reliability.IsPermanentCloseCode(code) {
		err := fmt.Errorf("connection closed permanently (code %d)", code)
		c.lastErr = err
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.emitError(err)
		return
	}
	if c.attempts >= c.cfg.MaxAttempts {
		c.lastErr = ErrMaxAttempts
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.emitError(ErrMaxAttempts)
		return
	}

	c.attempts++
	delay := reliability.ExponentialBackoff(c.attempts-1, c.cfg.BackoffBase, c.cfg.BackoffCap)
	c.setStateLocked(StateReconnecting)

	// Single-shot timer, always cleared before rescheduling.
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.manual {
			c.mu.Unlock()
			return
		}
		c.state = StateDisconnected // let Connect proceed
		c.mu.Unlock()
		_ = c.Connect()
	})
	c.mu.Unlock()
}

func (c *Conn) setStateLocked(s ConnState) {
	if c.state == s {
		return
	}
	c.state = s
	if c.OnState != nil {
		go c.OnState(s)
	}
}

func (c *Conn) emitError(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

func closeCodeOf(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}
