// Package dispatcher implements the Message Dispatcher: inbound-frame parsing, the session-validity gate, handler lookup
// by type, and coalesced activity-timestamp updates.
package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/classlingo/relay/pkg/logger"
	"github.com/classlingo/relay/pkg/storage"
	"github.com/classlingo/relay/pkg/wsconn"
)

// activityCoalesceWindow is the "at most one update per connection per
// 30 seconds" window for {transcription, audio, settings} frames.
const activityCoalesceWindow = 30 * time.Second

// gatedBypass lists the frame types that bypass the session-validity gate: they run even on a
// connection with no session yet, or whose session has since ended.
var gatedBypass = map[string]bool{
	"register": true,
	"ping":     true,
	"pong":     true,
}

// activityTypes trigger a (coalesced) lastActivityAt bump on their session.
var activityTypes = map[string]bool{
	"transcription": true,
	"audio":         true,
	"settings":      true,
}

// Frame is the inbound JSON envelope every message carries.
type Frame struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// Handler processes one parsed frame for one connection.
type Handler func(ctx context.Context, conn *wsconn.Conn, raw json.RawMessage)

// CloseFunc closes a connection with a WebSocket close code, used to
// enforce the SESSION_EXPIRED disconnect policy.
type CloseFunc func(conn *wsconn.Conn, code int, reason string)

// Dispatcher routes inbound frames to registered handlers.
type Dispatcher struct {
	registry *wsconn.Registry
	store    storage.Storage
	handlers map[string]Handler
	log      logger.Logger

	sessionExpiredDelay time.Duration
	closeConn           CloseFunc
}

// New constructs a Dispatcher.
func New(registry *wsconn.Registry, store storage.Storage, sessionExpiredDelay time.Duration, closeConn CloseFunc, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NoOp{}
	}
	return &Dispatcher{
		registry:            registry,
		store:               store,
		handlers:            make(map[string]Handler),
		log:                 log,
		sessionExpiredDelay: sessionExpiredDelay,
		closeConn:           closeConn,
	}
}

// Register binds a handler to a frame type.
// Register binds h to frameType. The parameter is the unnamed function
// type (rather than Handler) so that *Dispatcher structurally satisfies
// handlers.Registrar without either package importing the other.
func (d *Dispatcher) Register(frameType string, h func(ctx context.Context, conn *wsconn.Conn, raw json.RawMessage)) {
	d.handlers[frameType] = Handler(h)
}

// Dispatch parses raw and routes it to the bound handler, applying the
// session-validity gate and activity-update coalescing.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *wsconn.Conn, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		d.log.Warn("dispatcher: failed to parse inbound frame", map[string]interface{}{
			"connectionId": conn.ID,
			"error":        err.Error(),
		})
		return
	}
	frame.Raw = raw

	if !gatedBypass[frame.Type] {
		if !d.sessionIsValid(ctx, conn) {
			d.sendSessionExpired(conn)
			return
		}
	}

	handler, ok := d.handlers[frame.Type]
	if !ok {
		d.log.Info("dispatcher: unknown frame type", map[string]interface{}{
			"connectionId": conn.ID,
			"type":         frame.Type,
		})
		return
	}

	if activityTypes[frame.Type] {
		d.maybeTouchActivity(ctx, conn)
	}

	handler(ctx, conn, raw)
}

// sessionIsValid loads the connection's session row and reports whether
// it exists and is active.
func (d *Dispatcher) sessionIsValid(ctx context.Context, conn *wsconn.Conn) bool {
	if conn.SessionID == "" {
		return false
	}
	session, err := d.store.GetSession(ctx, conn.SessionID)
	if err != nil {
		return false
	}
	return session.IsActive
}

type sessionExpiredFrame struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

func (d *Dispatcher) sendSessionExpired(conn *wsconn.Conn) {
	data, err := json.Marshal(sessionExpiredFrame{Type: "session_expired", Code: "SESSION_EXPIRED"})
	if err == nil {
		select {
		case conn.Send <- data:
		default:
		}
	}

	if d.closeConn == nil {
		return
	}
	go func() {
		time.Sleep(d.sessionExpiredDelay)
		d.closeConn(conn, 1008, "SESSION_EXPIRED")
	}()
}

// maybeTouchActivity updates the session's lastActivityAt, coalesced to
// at most one update per connection per 30 seconds.
func (d *Dispatcher) maybeTouchActivity(ctx context.Context, conn *wsconn.Conn) {
	now := time.Now()
	if !conn.LastActivityUpdate.IsZero() && now.Sub(conn.LastActivityUpdate) < activityCoalesceWindow {
		return
	}
	d.registry.TouchActivity(conn.ID, now)

	if conn.SessionID == "" {
		return
	}
	session, err := d.store.GetSession(ctx, conn.SessionID)
	if err != nil {
		return
	}
	session.LastActivityAt = now
	if err := d.store.UpdateSession(ctx, session); err != nil {
		d.log.Error("dispatcher: failed to persist activity update", map[string]interface{}{
			"sessionId": conn.SessionID,
			"error":     err.Error(),
		})
	}
}
