package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	care "github.com/villagehq/village-core/core"
	"github.com/villagehq/village-core/core/bus"
	"github.com/villagehq/village-core/core/events"
	"github.com/villagehq/village-core/core/session"
)

// Server exposes the orchestrator over websocket and HTTP. Websocket
// clients subscribe to call topics with subscribe_call messages and may
// push intake events on the same connection; the snapshot endpoint
// serves the current session document for reconciliation.
type Server struct {
	orchestrator *care.Orchestrator
	upgrader     websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// conn tracks one websocket client and its bus subscription. Outbound
// writes happen only on the subscriber's pump goroutine, so no write
// lock is needed.
type conn struct {
	socket *websocket.Conn

	mu     sync.Mutex
	sub    *bus.Subscriber
	topics map[string]struct{}
}

// NewServer wires a websocket/HTTP surface around an orchestrator.
func NewServer(orchestrator *care.Orchestrator) *Server {
	return &Server{
		orchestrator: orchestrator,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

// Handler returns the HTTP handler for the gateway, instrumented for
// tracing.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("/calls/", s.handleCalls)
	return otelhttp.NewHandler(mux, "gateway")
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	c := &conn{socket: socket, topics: make(map[string]struct{})}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.close()
	}()

	s.readPump(r.Context(), c)
}

// readPump consumes inbound websocket messages until the connection
// drops. subscribe_call requests are handled locally; everything else
// is treated as an intake event.
func (s *Server) readPump(ctx context.Context, c *conn) {
	for {
		_, raw, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket closed", "error", err.Error())
			}
			return
		}

		event, err := events.Decode(raw)
		if err != nil {
			if errors.Is(err, events.ErrUnknownEventType) {
				logger.Debug("ignoring unknown event type from client")
			} else {
				logger.Warn("dropping malformed client message", "error", err.Error())
			}
			continue
		}

		if sub, ok := event.(events.SubscribeCall); ok {
			s.subscribe(c, sub.CallID)
			continue
		}
		if err := s.orchestrator.Handle(ctx, event); err != nil {
			logger.Warn("intake event rejected",
				"type", string(event.Kind()), "error", err.Error())
		}
	}
}

// subscribe joins the connection to a call's topic. The first topic
// creates the bus subscriber; later ones extend it.
func (s *Server) subscribe(c *conn, callID string) {
	if callID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, joined := c.topics[callID]; joined {
		return
	}
	c.topics[callID] = struct{}{}
	if c.sub == nil {
		c.sub = s.orchestrator.Subscribe(c.send, callID)
		return
	}
	c.sub.Also(callID)
}

// send encodes one event onto the socket. Runs on the subscriber's
// pump goroutine; a write failure closes the connection and the read
// pump notices on its next read.
func (c *conn) send(event events.Event) {
	raw, err := events.Encode(event)
	if err != nil {
		logger.Warn("failed to encode outbound event",
			"type", string(event.Kind()), "error", err.Error())
		return
	}
	if err := c.socket.WriteMessage(websocket.TextMessage, raw); err != nil {
		c.socket.Close()
	}
}

func (c *conn) close() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
	c.socket.Close()
}

// handleCalls serves GET /calls/{id}/snapshot.
func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/calls/")
	id, action, found := strings.Cut(rest, "/")
	if !found || action != "snapshot" || id == "" {
		http.NotFound(w, r)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("session.key", id))

	snapshot, err := s.orchestrator.Snapshot(id)
	if err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			http.NotFound(w, r)
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to snapshot session")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		logger.Debug("failed to write snapshot response", "error", err.Error())
	}
}

// Close drops every live websocket connection.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[*conn]struct{})
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}
