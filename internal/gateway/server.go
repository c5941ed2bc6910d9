package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arlomercer/sanctum/internal/config"
	"github.com/arlomercer/sanctum/internal/observability"
	"github.com/arlomercer/sanctum/internal/protocol"
	"github.com/arlomercer/sanctum/internal/realtime"
	"github.com/arlomercer/sanctum/internal/reliability"
	"github.com/arlomercer/sanctum/internal/session"
)

const welcomeMessage = "Welcome to Sanctum. This space is yours; speak or type when ready."

// The server pings on an interval well inside the read-idle window, so a
// client that only listens (a long spoken reply, for instance) keeps
// resetting the deadline via pong replies. Vars, overridable in tests.
var (
	readIdleTimeout = 120 * time.Second
	pingInterval    = 45 * time.Second
)

var welcomeFeatures = []string{"text_chat", "voice_chat", "realtime_proxy"}

// Upstream is the slice of the realtime client the gateway drives on
// behalf of one connection.
type Upstream interface {
	ForwardRaw(raw json.RawMessage) error
	SendTextMessage(text string) error
	SendAudioData(audioB64 string) error
	CommitAudioBuffer() error
	ClearAudioBuffer() error
	Disconnect()
}

// UpstreamHooks carries the gateway's relay callbacks into an upstream
// factory. OnError receives upstream error events separately from the
// general relay.
type UpstreamHooks struct {
	OnEvent func(eventType string, raw json.RawMessage)
	OnError func(code, message string, raw json.RawMessage)
	OnClose func(err error)
}

// UpstreamFactory builds and connects one upstream link. The returned
// Upstream must be ready for traffic.
type UpstreamFactory func(ctx context.Context, cfg config.Config, hooks UpstreamHooks) (Upstream, error)

func dialRealtime(ctx context.Context, cfg config.Config, hooks UpstreamHooks) (Upstream, error) {
	c := realtime.NewClient(realtime.Config{
		APIKey:         cfg.OpenAIAPIKey,
		URL:            cfg.RealtimeURL(),
		ConnectTimeout: cfg.ConnectTimeout,
		Session:        upstreamSessionConfig(cfg),
	})
	c.OnEvent = hooks.OnEvent
	c.OnError = hooks.OnError
	c.OnClose = hooks.OnClose
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func upstreamSessionConfig(cfg config.Config) realtime.SessionConfig {
	return realtime.SessionConfig{
		Modalities:              []string{"text", "audio"},
		Instructions:            cfg.Instructions,
		Voice:                   cfg.Voice,
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &realtime.Transcription{Model: cfg.TranscribeModel},
		TurnDetection: &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         cfg.VADThreshold,
			PrefixPaddingMS:   cfg.VADPrefixMS,
			SilenceDurationMS: cfg.VADSilenceMS,
		},
		Temperature:             cfg.Temperature,
		MaxResponseOutputTokens: cfg.MaxOutputTokens,
	}
}

type Server struct {
	cfg         config.Config
	sessions    *session.Registry
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
	newUpstream UpstreamFactory
	startedAt   time.Time

	mu      sync.Mutex
	clients map[string]Upstream
}

func New(cfg config.Config, sessions *session.Registry, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		sessions:    sessions,
		metrics:     metrics,
		newUpstream: dialRealtime,
		startedAt:   time.Now(),
		clients:     make(map[string]Upstream),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default is permissive for the demo deployment; flip
				// APP_ALLOW_ANY_ORIGIN off to pin browser clients to the
				// serving host.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/debug/latency", s.handleLatency)
	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"name":    "sanctum",
		"message": "Spiritual guidance chat relay. Connect on /ws.",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds":      int64(time.Since(s.startedAt).Seconds()),
		"active_sessions":     s.sessions.ActiveCount(),
		"upstream_configured": s.cfg.OpenAIAPIKey != "",
	})
}

func (s *Server) handleLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.RelaySnapshot())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	ownerID, authenticated, ok := s.resolveIdentity(token)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if !ok {
		log.Printf("gateway: rejecting connection with invalid token %s", redactToken(token))
		s.metrics.SessionEvents.WithLabelValues("auth_rejected").Inc()
		closeWith(conn, websocket.ClosePolicyViolation, "invalid token")
		return
	}

	connectionID := uuid.NewString()
	sess := s.sessions.Create(ownerID, connectionID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan protocol.Frame, 256)

	dialStart := time.Now()
	var firstText, firstAudio sync.Once

	hooks := UpstreamHooks{
		OnEvent: func(eventType string, raw json.RawMessage) {
			s.metrics.UpstreamEvents.WithLabelValues(eventType).Inc()
			switch eventType {
			case realtime.EventTextDelta:
				firstText.Do(func() { s.metrics.ObserveRelayStage(observability.StageFirstTextDelta, time.Since(dialStart)) })
			case realtime.EventAudioDelta:
				firstAudio.Do(func() { s.metrics.ObserveRelayStage(observability.StageFirstAudioDelta, time.Since(dialStart)) })
			}
			s.queueFrame(outbound, protocol.Frame{Type: protocol.TypeOpenAIEvent, Payload: raw})
		},
		OnError: func(code, message string, raw json.RawMessage) {
			if code == "" {
				code = "unknown"
			}
			s.metrics.UpstreamErrors.WithLabelValues(code).Inc()
			if reliability.IsRetryableUpstreamCode(code) {
				s.metrics.ObserveIndicator("upstream_error_transient")
			}
			log.Printf("gateway: upstream error for session %s (%s): %s", sess.ID, code, message)
			s.queueFrame(outbound, protocol.ErrorFrame(message, raw))
		},
		OnClose: func(err error) {
			log.Printf("gateway: upstream link lost for session %s: %v", sess.ID, err)
			cancel()
		},
	}

	up, err := s.newUpstream(ctx, s.cfg, hooks)
	if err != nil {
		log.Printf("gateway: upstream connect failed for session %s: %v", sess.ID, err)
		s.metrics.SessionEvents.WithLabelValues("upstream_failed").Inc()
		writeFrameNow(conn, protocol.ErrorFrame("Failed to reach the guidance service", nil))
		closeWith(conn, websocket.CloseInternalServerErr, "upstream unavailable")
		s.endSession(sess.ID)
		return
	}
	s.metrics.ObserveRelayStage(observability.StageUpstreamConnect, time.Since(dialStart))

	s.registerClient(sess.ID, up)
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer func() {
		s.unregisterClient(sess.ID)
		up.Disconnect()
		s.endSession(sess.ID)
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}()

	welcome, err := protocol.NewFrame(protocol.TypeWelcome, protocol.WelcomePayload{
		Message:       welcomeMessage,
		SessionID:     sess.ID,
		UserID:        ownerID,
		Authenticated: authenticated,
		Features:      welcomeFeatures,
	})
	if err == nil {
		s.queueFrame(outbound, welcome)
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		pings := time.NewTicker(pingInterval)
		defer pings.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pings.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			case frame, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(frame); err != nil {
					cancel()
					return
				}
				s.metrics.WSMessages.WithLabelValues("outbound", string(frame.Type)).Inc()
			}
		}
	}()

	// Unblock the read loop when the upstream link drops.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))

		frame, err := protocol.ParseFrame(data)
		if err != nil {
			s.queueFrame(outbound, protocol.ErrorFrame("Invalid message format", nil))
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", string(frame.Type)).Inc()
		s.dispatch(sess.ID, up, frame, outbound)

		if ctx.Err() != nil {
			break
		}
	}

	cancel()
	<-writerDone
}

// resolveIdentity maps a presented token to an owner id. An absent token
// yields an anonymous demo identity; with no configured token map any
// presented token is accepted as an opaque identity.
func (s *Server) resolveIdentity(token string) (ownerID string, authenticated, ok bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "demo-" + uuid.NewString(), false, true
	}
	if len(s.cfg.AuthTokens) == 0 {
		return "user-" + token, true, true
	}
	owner, found := s.cfg.AuthTokens[token]
	if !found {
		return "", false, false
	}
	return owner, true, true
}

func (s *Server) queueFrame(outbound chan<- protocol.Frame, frame protocol.Frame) {
	select {
	case outbound <- frame:
	default:
		// Keep websocket writes single-threaded; drop when the queue
		// is saturated.
		s.metrics.WSMessages.WithLabelValues("outbound_dropped", string(frame.Type)).Inc()
	}
}

func (s *Server) registerClient(sessionID string, up Upstream) {
	s.mu.Lock()
	s.clients[sessionID] = up
	s.mu.Unlock()
}

func (s *Server) unregisterClient(sessionID string) {
	s.mu.Lock()
	delete(s.clients, sessionID)
	s.mu.Unlock()
}

// ClientCount reports the number of live upstream links.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) endSession(sessionID string) {
	if _, err := s.sessions.End(sessionID); err == nil {
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
}

func bearerToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, found := strings.CutPrefix(auth, "Bearer "); found {
		return strings.TrimSpace(rest)
	}
	return ""
}

func redactToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

func writeFrameNow(conn *websocket.Conn, frame protocol.Frame) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteJSON(frame)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
