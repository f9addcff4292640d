// Package gateway implements the Connection Lifecycle Manager: the
// WebSocket accept loop, classroom-code validation on connect, the
// read/write pumps that bridge a socket to the Message Dispatcher, and the
// disconnect teardown that keeps Session.studentsCount and the
// teacher-disconnect policy correct.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/classlingo/relay/pkg/classroom"
	"github.com/classlingo/relay/pkg/dispatcher"
	"github.com/classlingo/relay/pkg/lifecycle"
	"github.com/classlingo/relay/pkg/logger"
	"github.com/classlingo/relay/pkg/storage"
	"github.com/classlingo/relay/pkg/wsconn"
)

const sendBufferSize = 32

type errorFrame struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

type connectedFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

type closeFrame struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// Gateway upgrades incoming HTTP requests to WebSocket connections, wires
// them into the Connection Registry and Message Dispatcher, and tears them
// down on disconnect.
type Gateway struct {
	registry   *wsconn.Registry
	classroom  *classroom.Directory
	store      storage.Storage
	lifecycle  *lifecycle.Manager
	dispatcher *dispatcher.Dispatcher
	upgrader   websocket.Upgrader
	log        logger.Logger

	invalidClassroomDelay time.Duration
	writeTimeout          time.Duration

	mu       sync.Mutex
	draining bool
}

// Deps bundles the Gateway constructor's dependencies. Dispatcher is not
// included here: it binds via SetDispatcher once constructed, because the
// dispatcher's own CloseFunc is the gateway's Close method, so neither
// side can be fully built before the other exists.
type Deps struct {
	Registry              *wsconn.Registry
	Classroom             *classroom.Directory
	Store                 storage.Storage
	Lifecycle             *lifecycle.Manager
	CORSOrigins           []string
	InvalidClassroomDelay time.Duration
	Log                   logger.Logger
}

// New constructs a Gateway. Call SetDispatcher before serving traffic.
func New(d Deps) *Gateway {
	log := d.Log
	if log == nil {
		log = logger.NoOp{}
	}
	return &Gateway{
		registry:  d.Registry,
		classroom: d.Classroom,
		store:     d.Store,
		lifecycle: d.Lifecycle,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     corsCheckOrigin(d.CORSOrigins),
		},
		invalidClassroomDelay: d.InvalidClassroomDelay,
		writeTimeout:          10 * time.Second,
	}
}

// SetDispatcher binds the Message Dispatcher inbound frames are routed
// through. See the Deps comment for why this is a second construction step.
func (g *Gateway) SetDispatcher(d *dispatcher.Dispatcher) {
	g.dispatcher = d
}

func corsCheckOrigin(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(origins) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// ServeHTTP upgrades the request and handles it to completion. It never
// returns until the connection is closed, so callers run it per-connection
// (net/http already does this, one goroutine per accepted request).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.isDraining() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	socket, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("gateway: upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		code = r.URL.Query().Get("class")
	}

	var sessionID string
	if code != "" {
		entry, ok := g.classroom.GetByCode(code)
		if !ok || !g.classroom.IsValid(code) {
			g.rejectInvalidClassroom(socket)
			return
		}
		sessionID = entry.SessionID
	}

	conn := &wsconn.Conn{
		ID:             newID(),
		Socket:         socket,
		Send:           make(chan []byte, sendBufferSize),
		ClassroomCode:  code,
		SessionID:      sessionID,
		ClientSettings: map[string]interface{}{},
	}
	g.registry.Add(conn)

	g.writeDirect(conn, connectedFrame{Type: "connection", ConnectionID: conn.ID})

	go g.writePump(conn)
	g.readPump(conn)
}

// rejectInvalidClassroom handles a connect-time classroom
// code that fails validation is refused with INVALID_CLASSROOM and closed
// with code 1008, without ever entering the Connection Registry.
func (g *Gateway) rejectInvalidClassroom(socket *websocket.Conn) {
	data, err := json.Marshal(errorFrame{Type: "error", Code: "INVALID_CLASSROOM"})
	if err == nil {
		_ = socket.SetWriteDeadline(time.Now().Add(g.writeTimeout))
		_ = socket.WriteMessage(websocket.TextMessage, data)
	}
	time.Sleep(g.invalidClassroomDelay)
	_ = socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(1008, "INVALID_CLASSROOM"),
		time.Now().Add(time.Second))
	_ = socket.Close()
}

func (g *Gateway) writeDirect(conn *wsconn.Conn, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case conn.Send <- data:
	default:
		g.log.Warn("gateway: send buffer full, dropping frame", map[string]interface{}{"connectionId": conn.ID})
	}
}

// writePump drains conn.Send onto the socket until it's closed.
func (g *Gateway) writePump(conn *wsconn.Conn) {
	for data := range conn.Send {
		_ = conn.Socket.SetWriteDeadline(time.Now().Add(g.writeTimeout))
		if err := conn.Socket.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readPump blocks reading frames and routing them to the dispatcher,
// until the socket errors or closes, then tears the connection down.
func (g *Gateway) readPump(conn *wsconn.Conn) {
	defer g.teardown(conn)

	conn.Socket.SetPongHandler(func(string) error {
		g.registry.SetAlive(conn.ID, true)
		return nil
	})

	ctx := context.Background()
	for {
		_, data, err := conn.Socket.ReadMessage()
		if err != nil {
			return
		}
		g.dispatcher.Dispatch(ctx, conn, data)
	}
}

// Close implements dispatcher.CloseFunc / the handlers' CloseConn: it
// writes a close frame, then closes the socket with code, tearing the
// connection down through the usual readPump error path.
func (g *Gateway) Close(conn *wsconn.Conn, code int, reason string) {
	g.writeDirect(conn, closeFrame{Type: "close", Code: reasonCode(code), Reason: reason})
	if conn.Socket == nil {
		return
	}
	_ = conn.Socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	_ = conn.Socket.Close()
}

func reasonCode(code int) string {
	switch code {
	case 1008:
		return "POLICY_VIOLATION"
	case 1011:
		return "INTERNAL_ERROR"
	default:
		return "CLOSED"
	}
}

// teardown runs once per connection, whether it exited via the read loop
// erroring or the health monitor terminating it first (terminate() closes
// the socket, which unblocks ReadMessage here with an error either way).
func (g *Gateway) teardown(conn *wsconn.Conn) {
	g.registry.Remove(conn.ID)
	close(conn.Send)

	ctx := context.Background()
	switch conn.Role {
	case wsconn.RoleStudent:
		g.handleStudentDisconnect(ctx, conn)
	case wsconn.RoleTeacher:
		g.handleTeacherDisconnect(ctx, conn)
	}
}

// handleStudentDisconnect keeps Session.studentsCount correct:
// the count decrements only when a confirmed-counted student disconnects.
func (g *Gateway) handleStudentDisconnect(ctx context.Context, conn *wsconn.Conn) {
	if !conn.StudentCounted || conn.SessionID == "" {
		return
	}

	session, err := g.store.GetSession(ctx, conn.SessionID)
	if err != nil {
		return
	}
	if session.StudentsCount > 0 {
		session.StudentsCount--
	}
	if err := g.store.UpdateSession(ctx, session); err != nil {
		g.log.Error("gateway: failed to persist student disconnect", map[string]interface{}{
			"sessionId": conn.SessionID,
			"error":     err.Error(),
		})
	}
}

// handleTeacherDisconnect hands off to the Session Lifecycle Manager's
// disconnect policy: end immediately if the session never
// really started, otherwise leave it active for the reconnection grace
// window.
func (g *Gateway) handleTeacherDisconnect(ctx context.Context, conn *wsconn.Conn) {
	if conn.SessionID == "" {
		return
	}
	session, err := g.store.GetSession(ctx, conn.SessionID)
	if err != nil {
		return
	}
	hadTeacherID, _ := conn.ClientSettings[wsconn.HadTeacherIDSettingsKey].(bool)
	g.lifecycle.HandleTeacherDisconnect(ctx, session, hadTeacherID, time.Now())
}

// Drain stops accepting new connections and closes every registered
// socket with 1001 (Going Away), bounded by timeout. Call this during
// graceful shutdown after the HTTP listener itself has stopped accepting.
func (g *Gateway) Drain(ctx context.Context, timeout time.Duration) {
	g.mu.Lock()
	g.draining = true
	g.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for _, conn := range g.registry.All() {
		if time.Now().After(deadline) {
			break
		}
		g.Close(conn, 1001, "server shutting down")
	}
}

func (g *Gateway) isDraining() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draining
}

func newID() string {
	return uuid.NewString()
}
