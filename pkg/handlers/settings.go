package handlers

import (
	"context"
	"encoding/json"

	"github.com/classlingo/relay/pkg/wsconn"
)

type settingsFrame struct {
	Type           string                 `json:"type"`
	TTSServiceType string                 `json:"ttsServiceType"`
	Settings       map[string]interface{} `json:"settings"`
}

type settingsAck struct {
	Type     string                 `json:"type"`
	Status   string                 `json:"status"`
	Settings map[string]interface{} `json:"settings"`
}

// Settings merges incoming client preferences into the connection's
// ClientSettings and echoes the merged result back.
func (h *Handlers) Settings(ctx context.Context, conn *wsconn.Conn, raw json.RawMessage) {
	var req settingsFrame
	if err := json.Unmarshal(raw, &req); err != nil {
		h.log.Warn("handlers: failed to parse settings frame", map[string]interface{}{"error": err.Error()})
		return
	}

	merged := make(map[string]interface{}, len(conn.ClientSettings)+len(req.Settings)+1)
	for k, v := range conn.ClientSettings {
		merged[k] = v
	}
	for k, v := range req.Settings {
		merged[k] = v
	}
	if req.TTSServiceType != "" {
		merged["ttsServiceType"] = req.TTSServiceType
	}

	h.registry.SetClientSettings(conn.ID, merged)
	h.send(conn, settingsAck{Type: "settings", Status: "success", Settings: merged})
}
