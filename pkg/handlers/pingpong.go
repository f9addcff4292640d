package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/classlingo/relay/pkg/health"
	"github.com/classlingo/relay/pkg/wsconn"
)

type pingInbound struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type pongOutbound struct {
	Type              string `json:"type"`
	Timestamp         int64  `json:"timestamp"`
	OriginalTimestamp int64  `json:"originalTimestamp"`
}

// Ping answers an application-level ping with a pong and marks the
// connection alive, independent of the health monitor's own probing.
func (h *Handlers) Ping(ctx context.Context, conn *wsconn.Conn, raw json.RawMessage) {
	var req pingInbound
	_ = json.Unmarshal(raw, &req)

	health.MarkAlive(h.registry, conn.ID)
	h.send(conn, pongOutbound{
		Type:              "pong",
		Timestamp:         time.Now().UnixMilli(),
		OriginalTimestamp: req.Timestamp,
	})
}

// Pong answers the health monitor's own ping probe; no reply is sent.
func (h *Handlers) Pong(ctx context.Context, conn *wsconn.Conn, raw json.RawMessage) {
	health.MarkAlive(h.registry, conn.ID)
}
