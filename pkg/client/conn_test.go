package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arlomercer/sanctum/internal/protocol"
)

// wsServer accepts client sockets and can slam the first n of them shut
// with a chosen close code.
type wsServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	closeCode   int
	closeFirstN int

	mu      sync.Mutex
	accepts int
	frames  []protocol.Frame
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{t: t}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.accepts++
	n := s.accepts
	s.mu.Unlock()

	if s.closeCode > 0 && (s.closeFirstN == 0 || n <= s.closeFirstN) {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(s.closeCode, "test close"), deadline)
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if frame, err := protocol.ParseFrame(data); err == nil {
			s.mu.Lock()
			s.frames = append(s.frames, frame)
			s.mu.Unlock()
		}
	}
}

func (s *wsServer) acceptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts
}

func (s *wsServer) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnSendFailsWhenClosed(t *testing.T) {
	c := NewConn(ConnConfig{URL: "ws://127.0.0.1:1"})
	if c.Send(protocol.Frame{Type: protocol.TypePing}) {
		t.Fatal("Send succeeded on a closed socket")
	}
	if c.LastError() == nil {
		t.Fatal("LastError is nil after rejected send")
	}
}

func TestConnConnectAndSend(t *testing.T) {
	s := newWSServer(t)
	c := NewConn(ConnConfig{URL: s.url()})
	t.Cleanup(c.Disconnect)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := c.State(); got != StateConnected {
		t.Fatalf("State = %s, want %s", got, StateConnected)
	}
	// Connect again is a no-op.
	if err := c.Connect(); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if got := s.acceptCount(); got != 1 {
		t.Fatalf("acceptCount = %d, want 1", got)
	}

	if !c.Send(protocol.Frame{Type: protocol.TypePing}) {
		t.Fatal("Send failed while connected")
	}
	waitFor(t, func() bool { return s.frameCount() == 1 }, "frame delivery")
}

func TestConnDisconnectIsIdempotentAndSuppressesReconnect(t *testing.T) {
	s := newWSServer(t)
	c := NewConn(ConnConfig{URL: s.url(), BackoffBase: 5 * time.Millisecond})

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Disconnect()
	c.Disconnect()

	if got := c.State(); got != StateDisconnected {
		t.Fatalf("State = %s, want %s", got, StateDisconnected)
	}
	time.Sleep(50 * time.Millisecond)
	if got := s.acceptCount(); got != 1 {
		t.Fatalf("acceptCount = %d after manual close, want 1 (no reconnect)", got)
	}
}

func TestConnReconnectsAfterRetryableClose(t *testing.T) {
	s := newWSServer(t)
	s.closeCode = websocket.CloseInternalServerErr
	s.closeFirstN = 1

	c := NewConn(ConnConfig{URL: s.url(), BackoffBase: 5 * time.Millisecond})
	t.Cleanup(c.Disconnect)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, func() bool { return s.acceptCount() >= 2 }, "reconnect")
	waitFor(t, func() bool { return c.State() == StateConnected }, "connected state")
	if got := c.Attempts(); got != 0 {
		t.Fatalf("Attempts = %d after successful reopen, want 0", got)
	}
}

func TestConnPermanentCloseStopsRetry(t *testing.T) {
	s := newWSServer(t)
	s.closeCode = websocket.ClosePolicyViolation

	errs := make(chan error, 1)
	c := NewConn(ConnConfig{URL: s.url(), BackoffBase: 5 * time.Millisecond})
	c.OnError = func(err error) { errs <- err }

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal error after permanent close")
	}
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("State = %s, want %s", got, StateDisconnected)
	}
	time.Sleep(50 * time.Millisecond)
	if got := s.acceptCount(); got != 1 {
		t.Fatalf("acceptCount = %d after permanent close, want 1", got)
	}
}

func TestConnMaxAttemptsIsTerminal(t *testing.T) {
	errs := make(chan error, 4)
	c := NewConn(ConnConfig{
		URL:         "ws://127.0.0.1:1", // nothing listens here
		MaxAttempts: 2,
		BackoffBase: time.Millisecond,
	})
	c.OnError = func(err error) { errs <- err }

	_ = c.Connect() // dial fails, retries burn down in the background

	deadline := time.After(3 * time.Second)
	for {
		select {
		case err := <-errs:
			if errors.Is(err, ErrMaxAttempts) {
				if got := c.State(); got != StateDisconnected {
					t.Fatalf("State = %s, want %s", got, StateDisconnected)
				}
				return
			}
		case <-deadline:
			t.Fatal("never reached ErrMaxAttempts")
		}
	}
}
