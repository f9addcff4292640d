// Package health implements the Connection Health Monitor: a periodic ping/pong sweep that terminates dead sockets.
package health

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/classlingo/relay/pkg/logger"
	"github.com/classlingo/relay/pkg/wsconn"
)

// pingFrame is the application-level heartbeat sent alongside the
// low-level WebSocket ping.
type pingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Monitor runs the periodic liveness sweep over a Registry.
type Monitor struct {
	registry *wsconn.Registry
	interval time.Duration
	log      logger.Logger

	// onDead is invoked for every connection the sweep finds dead, so the
	// caller can tear down its session bookkeeping.
	onDead func(id string)
}

// New creates a Monitor that sweeps registry every interval.
func New(registry *wsconn.Registry, interval time.Duration, onDead func(id string), log logger.Logger) *Monitor {
	if log == nil {
		log = logger.NoOp{}
	}
	return &Monitor{registry: registry, interval: interval, onDead: onDead, log: log}
}

// Start launches the sweep loop until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweepOnce()
			}
		}
	}()
}

// sweepOnce runs one sweep pass: terminate sockets that
// didn't answer the previous round's ping, and ping everyone still alive.
func (m *Monitor) sweepOnce() {
	for _, c := range m.registry.All() {
		if !c.IsAlive {
			m.terminate(c)
			continue
		}

		m.registry.SetAlive(c.ID, false)
		m.ping(c)
	}
}

func (m *Monitor) ping(c *wsconn.Conn) {
	if c.Socket != nil {
		_ = c.Socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
	}

	frame, err := json.Marshal(pingFrame{Type: "ping", Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	select {
	case c.Send <- frame:
	default:
		m.log.Warn("health monitor: send buffer full, dropping ping", map[string]interface{}{"connectionId": c.ID})
	}
}

func (m *Monitor) terminate(c *wsconn.Conn) {
	m.log.Info("health monitor: terminating unresponsive connection", map[string]interface{}{"connectionId": c.ID})
	if c.Socket != nil {
		_ = c.Socket.Close()
	}
	m.registry.Remove(c.ID)
	if m.onDead != nil {
		m.onDead(c.ID)
	}
}

// MarkAlive records that a connection sent a pong, a `ping`, or any other
// frame, satisfying the "any pong or ping/any frame" liveness rule.
func MarkAlive(registry *wsconn.Registry, id string) {
	registry.SetAlive(id, true)
}
