package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hireloop/interviewd/pkg/gateway/config"
	"github.com/hireloop/interviewd/pkg/interview/protocol"
	"github.com/hireloop/interviewd/pkg/interview/session"
	"github.com/hireloop/interviewd/pkg/interview/sessions"
	"github.com/hireloop/interviewd/pkg/interview/upstream"
	"github.com/hireloop/interviewd/pkg/store"
)

const handshakeTimeout = 5 * time.Second

// UpstreamFactory builds the per-session conversational backend. Injected so
// tests can substitute fakes.
type UpstreamFactory func(ctx context.Context, sess *store.Session) (upstream.Upstream, session.Mode, error)

// LiveHandler serves /v1/live: one websocket connection per interview,
// relayed through an orchestrator.
type LiveHandler struct {
	Config      config.Config
	Store       store.Store
	Registry    *sessions.Registry
	Decider     session.Decider
	NewUpstream UpstreamFactory
	Logger      *slog.Logger
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	if h.Config.WSMaxFrameBytes > 0 {
		conn.SetReadLimit(h.Config.WSMaxFrameBytes)
	}

	sessionID, ok := h.handshake(conn, r)
	if !ok {
		return
	}

	log := h.Logger.With("session_id", sessionID)

	sess, err := h.Store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.reject(conn, protocol.CloseSessionNotFound, "session_not_found", "no such session")
			return
		}
		log.Error("session lookup failed", "error", err)
		h.reject(conn, websocket.CloseInternalServerErr, "internal_error", "could not load session")
		return
	}

	// The connection outlives the HTTP request context once upgraded.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := newWSOut(conn, h.Config.WSWriteTimeout)

	unregister, err := h.Registry.Register(sess.ID, sessions.Handle{
		Cancel: cancel,
		Warn: func(code, message string) error {
			return out.Send(protocol.NewServerError(code, message, false))
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, sessions.ErrCapacity):
			h.reject(conn, protocol.CloseCapacity, "capacity", "interview capacity reached, try again shortly")
		case errors.Is(err, sessions.ErrDuplicate):
			h.reject(conn, protocol.CloseCapacity, "duplicate", "this session already has a live connection")
		default:
			h.reject(conn, websocket.CloseInternalServerErr, "internal_error", err.Error())
		}
		return
	}
	defer unregister()

	up, mode, err := h.NewUpstream(ctx, sess)
	if err != nil {
		log.Error("upstream connect failed", "error", err)
		h.reject(conn, websocket.CloseInternalServerErr, "upstream_error", "could not reach the interview backend")
		return
	}

	orch, err := session.New(session.Dependencies{
		Session:  sess,
		Upstream: up,
		Decider:  h.Decider,
		Store:    h.Store,
		Out:      out,
		Mode:     mode,
		Policy:   h.Config.Policy,
		Logger:   log,
	})
	if err != nil {
		_ = up.Close()
		log.Error("orchestrator init failed", "error", err)
		h.reject(conn, websocket.CloseInternalServerErr, "internal_error", "could not start session")
		return
	}

	go out.pingLoop(ctx, h.Config.WSPingInterval)
	go h.readLoop(ctx, cancel, conn, orch, out, log)

	if err := orch.Run(ctx); err != nil {
		log.Error("session run failed", "error", err)
	}
	cancel()
	out.closeWith(protocol.CloseCallEnded, "")
}

// handshake resolves the session id from the query string or, failing that,
// from a first init frame.
func (h LiveHandler) handshake(conn *websocket.Conn, r *http.Request) (string, bool) {
	if id := strings.TrimSpace(r.URL.Query().Get("session_id")); id != "" {
		return id, true
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	messageType, frame, err := conn.ReadMessage()
	if err != nil {
		h.reject(conn, websocket.ClosePolicyViolation, "bad_request", "expected an init frame")
		return "", false
	}
	if messageType != websocket.TextMessage {
		h.reject(conn, websocket.ClosePolicyViolation, "bad_request", "init frame must be JSON")
		return "", false
	}
	decoded, err := protocol.DecodeClientMessage(frame)
	if err != nil {
		h.reject(conn, websocket.ClosePolicyViolation, "bad_request", err.Error())
		return "", false
	}
	init, ok := decoded.(protocol.ClientInit)
	if !ok {
		h.reject(conn, websocket.ClosePolicyViolation, "bad_request", "first frame must be init")
		return "", false
	}
	return init.SessionID, true
}

// readLoop pumps decoded client frames into the orchestrator until the
// connection dies. Malformed frames are logged and dropped.
func (h LiveHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, orch *session.Orchestrator, out *wsOut, log *slog.Logger) {
	defer cancel()
	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("client connection closed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		decoded, err := protocol.DecodeClientMessage(frame)
		if err != nil {
			log.Warn("malformed client frame", "error", err)
			_ = out.Send(protocol.NewServerError("bad_request", err.Error(), false))
			continue
		}
		if _, isInit := decoded.(protocol.ClientInit); isInit {
			// Late init frames carry nothing new.
			continue
		}
		if !orch.Deliver(decoded) {
			return
		}
	}
}

// reject sends one explanatory error frame and closes with the given code.
// Used for failures before an orchestrator exists.
func (h LiveHandler) reject(conn *websocket.Conn, closeCode int, code, message string) {
	deadline := time.Now().Add(h.writeTimeout())
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(protocol.NewServerError(code, message, true))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, message), deadline)
}

func (h LiveHandler) writeTimeout() time.Duration {
	if h.Config.WSWriteTimeout > 0 {
		return h.Config.WSWriteTimeout
	}
	return 5 * time.Second
}

// wsOut serializes JSON writes to one websocket connection.
type wsOut struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func newWSOut(conn *websocket.Conn, writeTimeout time.Duration) *wsOut {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &wsOut{conn: conn, writeTimeout: writeTimeout}
}

func (o *wsOut) Send(msg any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout))
	return o.conn.WriteJSON(msg)
}

func (o *wsOut) pingLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(o.writeTimeout)
			if err := o.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return
			}
		}
	}
}

func (o *wsOut) closeWith(code int, reason string) {
	deadline := time.Now().Add(o.writeTimeout)
	_ = o.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
