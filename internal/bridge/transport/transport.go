// Package transport wires the hub and gateway to the outside world: a
// WebSocket endpoint at /rpc and a plain JSON health endpoint at
// /healthz. Per client it runs one reader goroutine (parses frames and
// calls into the gateway) and one writer goroutine (drains the
// session's outbound queue to the socket); either one failing tears
// down both.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/leapmux/bridged/internal/bridge/auth"
	"github.com/leapmux/bridged/internal/bridge/gateway"
	"github.com/leapmux/bridged/internal/logging"
	"github.com/leapmux/bridged/internal/metrics"
)

// closeInternalError is the WebSocket close code used when the writer
// goroutine fails to deliver a frame.
const closeInternalError = 1011

// Session is the transport's view of a registered client: the id to
// dispatch under, and the channel to drain toward the socket. Built
// from *hub.ClientSession by the Hub adapter at the call site, so this
// package never imports the hub directly.
type Session struct {
	ClientID uint64
	TraceID  string
	Outbound <-chan []byte
}

// Hub is the narrow registry interface transport depends on. traceID
// lets the HTTP access-log id (see internal/logging.TraceIDFromContext)
// become the connection's own correlation id instead of a second,
// unrelated one.
type Hub interface {
	Register(traceID string) Session
	Remove(clientID uint64)
}

// Dispatcher is the subset of the gateway's API the transport needs.
type Dispatcher interface {
	HandleText(clientID uint64, raw []byte)
	HandleBinary(clientID uint64)
	HealthSnapshot() map[string]any
}

var _ Dispatcher = (*gateway.Gateway)(nil)

// Server serves the /rpc and /healthz HTTP endpoints.
type Server struct {
	hub        Hub
	dispatcher Dispatcher
	authn      *auth.Authenticator

	// writeTimeout bounds how long a single frame write may take before
	// the writer goroutine gives up on a client.
	writeTimeout time.Duration
}

// New builds a transport Server.
func New(h Hub, dispatcher Dispatcher, authn *auth.Authenticator) *Server {
	return &Server{hub: h, dispatcher: dispatcher, authn: authn, writeTimeout: 10 * time.Second}
}

// Handler returns the complete HTTP mux: /rpc, /healthz, and /metrics
// when metricsHandler is non-nil.
func (s *Server) Handler(metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.dispatcher.HealthSnapshot())
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if s.authn != nil && !s.authn.Authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("rpc: accept failed", "error", err)
		return
	}

	traceID := logging.TraceIDFromContext(r.Context())
	session := s.hub.Register(traceID)
	metrics.WSConnectionsActive.Inc()
	slog.Debug("rpc: connected", "client_id", session.ClientID, "trace_id", session.TraceID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.writeLoop(ctx, cancel, conn, session)
	s.readLoop(ctx, cancel, conn, session)

	s.hub.Remove(session.ClientID)
	_ = conn.Close(websocket.StatusNormalClosure, "")
	metrics.WSConnectionsActive.Dec()
	slog.Debug("rpc: disconnected", "client_id", session.ClientID, "trace_id", session.TraceID)
}

// readLoop parses and dispatches frames until the socket closes, errors,
// or the writer side signals failure via ctx.
func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, session Session) {
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("rpc: read failed", "client_id", session.ClientID, "trace_id", session.TraceID, "error", err)
			}
			return
		}
		switch typ {
		case websocket.MessageText:
			s.dispatcher.HandleText(session.ClientID, data)
		case websocket.MessageBinary:
			s.dispatcher.HandleBinary(session.ClientID)
		}
	}
}

// writeLoop drains the session's outbound queue to the socket until the
// channel closes (session removed) or ctx is cancelled (reader side
// failed). A write failure here cancels ctx so the reader unwinds too.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, session Session) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-session.Outbound:
			if !ok {
				return
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, s.writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, frame)
			writeCancel()
			if err != nil {
				slog.Debug("rpc: write failed", "client_id", session.ClientID, "trace_id", session.TraceID, "error", err)
				_ = conn.Close(closeInternalError, "write failed")
				return
			}
			metrics.WSMessagesTotal.Inc()
		}
	}
}
