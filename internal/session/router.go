// Package session implements the Session Router & Delivery component (C5):
// the player-to-session map, the /game-control WebSocket handler, inbound
// frame dispatch, game-status fan-out, and the delivery callback invoked by
// the polling engine.
package session

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shopmaze/invoicecore/internal/coretypes"
	"github.com/shopmaze/invoicecore/internal/gamesink"
	"github.com/shopmaze/invoicecore/internal/telemetry"
)

// InvoiceStore is the subset of the Invoice Store C5 consumes.
type InvoiceStore interface {
	Get(pn coretypes.PN) (coretypes.ProcessedInvoiceRecord, error)
}

// Registry is the subset of the Expected-Invoice Registry C5 consumes.
type Registry interface {
	Register(pn coretypes.PN, pid coretypes.PID, summary coretypes.OrderSummary, customerName, customerEmail, orderID string)
	Lookup(pn coretypes.PN) (coretypes.ExpectedInvoice, bool)
	FindByPlayer(pid coretypes.PID) (coretypes.ExpectedInvoice, bool)
}

// Router owns the player-to-session map and dispatches inbound frames.
// The forward and reverse maps are guarded by one mutex so they can never
// diverge; the game status is guarded by the same lock since broadcast and
// status update share a critical section.
type Router struct {
	mu       sync.Mutex
	forward  map[coretypes.PID]*Session
	reverse  map[*Session]coretypes.PID
	status   coretypes.GameStatus

	invoices InvoiceStore
	registry Registry
	sink     *gamesink.Dispatcher
	metrics  *telemetry.Metrics

	upgrader websocket.Upgrader

	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
}

// Config bundles the tunables normally sourced from internal/config.
type Config struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	AllowedOrigins []string
}

// New builds a Router. invoices and reg must not be nil; metrics and sink
// may be nil (a nil sink makes game_over forwarding a no-op and answers
// order frames with an order_response error).
func New(invoices InvoiceStore, reg Registry, sink *gamesink.Dispatcher, metrics *telemetry.Metrics, cfg Config) *Router {
	return &Router{
		forward:  make(map[coretypes.PID]*Session),
		reverse:  make(map[*Session]coretypes.PID),
		status:   coretypes.GameStatus{State: coretypes.GameStateStart, UpdatedAt: time.Now().UTC(), UpdatedBy: "system"},
		invoices: invoices,
		registry: reg,
		sink:     sink,
		metrics:  metrics,

		pingInterval: cfg.PingInterval,
		pongWait:     cfg.PongWait,
		writeWait:    cfg.WriteWait,

		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     buildCheckOrigin(cfg.AllowedOrigins),
		},
	}
}

func buildCheckOrigin(allowed []string) func(r *http.Request) bool {
	allow := make(map[string]bool, len(allowed))
	wildcard := false
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		allow[strings.TrimSpace(o)] = true
	}
	return func(r *http.Request) bool {
		if wildcard {
			return true
		}
		return allow[r.Header.Get("Origin")]
	}
}

// HandleWebSocket upgrades the connection and starts its read/write pumps.
func (r *Router) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	s := newSession(conn)
	slog.Info("session: connected", "conn_id", s.id)
	r.sendSession(s, welcomeFrame())
	r.sendSession(s, r.currentStatusFrame())

	go r.writePump(s)
	r.readPump(s)
}

func (r *Router) currentStatusFrame() map[string]interface{} {
	r.mu.Lock()
	status := r.status
	r.mu.Unlock()
	return gameStatusFrame(string(status.State), status.UpdatedAt.Format(time.RFC3339), status.UpdatedBy)
}

// register upserts pid -> s. If pid already had a session, only its reverse
// mapping is dropped; the old connection is left to close naturally.
func (r *Router) register(pid coretypes.PID, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.forward[pid]; ok {
		delete(r.reverse, old)
	}
	r.forward[pid] = s
	r.reverse[s] = pid

	if r.metrics != nil {
		r.metrics.SessionsConnected.Set(float64(len(r.forward)))
	}
}

// unregister removes s from both maps. Called on close/error.
func (r *Router) unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pid, ok := r.reverse[s]; ok {
		delete(r.reverse, s)
		if r.forward[pid] == s {
			delete(r.forward, pid)
		}
	}

	if r.metrics != nil {
		r.metrics.SessionsConnected.Set(float64(len(r.forward)))
	}
}

func (r *Router) pidFor(s *Session) (coretypes.PID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pid, ok := r.reverse[s]
	return pid, ok
}

func (r *Router) sessionFor(pid coretypes.PID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.forward[pid]
	return s, ok
}

// setGameState updates the game status and, in the same critical section,
// snapshots the open sessions; it then sends game_status to each of them
// outside the lock. Individual failures are ignored; those sessions are
// cleaned up on their next close.
func (r *Router) setGameState(state coretypes.GameState, updatedBy string) {
	r.mu.Lock()
	r.status = coretypes.GameStatus{State: state, UpdatedAt: time.Now().UTC(), UpdatedBy: updatedBy}
	status := r.status
	sessions := make([]*Session, 0, len(r.forward))
	for _, s := range r.forward {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	frame := gameStatusFrame(string(status.State), status.UpdatedAt.Format(time.RFC3339), status.UpdatedBy)
	for _, s := range sessions {
		r.sendSession(s, frame)
	}
}

func (r *Router) sendSession(s *Session, frame map[string]interface{}) {
	s.enqueue(frame)
	if r.metrics != nil {
		if t, ok := frame["type"].(string); ok {
			r.metrics.FramesSent.WithLabelValues(t).Inc()
		}
	}
}

// DeliverInvoiceReady is the delivery callback invoked by the polling
// engine. It resolves the target PID from the record, falling back to the
// registry when the record predates PID context, locates the live
// session, and sends invoice_ready. It never retries.
func (r *Router) DeliverInvoiceReady(record coretypes.ProcessedInvoiceRecord) bool {
	pid := record.PID
	if pid == "" {
		if entry, ok := r.registry.Lookup(record.PN); ok {
			pid = entry.PID
		}
	}

	s, ok := r.sessionFor(pid)
	if !ok {
		if r.metrics != nil {
			r.metrics.DeliveryOutcomes.WithLabelValues("no_session").Inc()
		}
		return false
	}

	r.sendSession(s, invoiceReadyFrame(
		record.PN, record.Filename, record.FileSize,
		record.ProcessedAt.Format(time.RFC3339),
		"your invoice is ready",
	))

	if r.metrics != nil {
		r.metrics.DeliveryOutcomes.WithLabelValues("delivered").Inc()
	}
	return true
}

// readPump owns the connection's read loop and dispatches every inbound
// frame. Before REGISTERED, only register is honoured.
func (r *Router) readPump(s *Session) {
	defer func() {
		r.unregister(s)
		close(s.closed)
		s.conn.Close()
		slog.Info("session: disconnected", "conn_id", s.id)
	}()

	s.conn.SetReadDeadline(time.Now().Add(r.pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(r.pongWait))
		return nil
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		r.dispatch(s, payload)
	}
}

// writePump owns every write to the socket, serializing them against the
// ping ticker. Frame sends never block other sessions.
func (r *Router) writePump(s *Session) {
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(r.writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(r.writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}
