package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/classlingo/relay/pkg/models"
	"github.com/classlingo/relay/pkg/wsconn"
)

type transcriptionFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Transcription persists a teacher's recognized utterance and hands it
// to the Translation Orchestrator for fan-out to every student in the
// session.
func (h *Handlers) Transcription(ctx context.Context, conn *wsconn.Conn, raw json.RawMessage) {
	if conn.Role != wsconn.RoleTeacher {
		return
	}

	var req transcriptionFrame
	if err := json.Unmarshal(raw, &req); err != nil || req.Text == "" {
		return
	}
	if conn.SessionID == "" {
		return
	}

	startTime := time.Now()

	transcript := &models.Transcript{
		ID:        newID(),
		SessionID: conn.SessionID,
		Language:  conn.Language,
		Text:      req.Text,
		Timestamp: startTime,
	}
	if err := h.store.CreateTranscript(ctx, transcript); err != nil {
		h.log.Error("handlers: failed to persist transcript", map[string]interface{}{"error": err.Error()})
	}

	languages := h.registry.StudentLanguagesBySession(conn.SessionID)
	if len(languages) == 0 {
		return
	}

	persisted := h.orchestrator.Dispatch(ctx, conn.SessionID, req.Text, conn.Language, startTime)

	session, err := h.store.GetSession(ctx, conn.SessionID)
	if err != nil {
		return
	}
	session.TotalTranslations += persisted
	session.LastActivityAt = time.Now()
	if err := h.store.UpdateSession(ctx, session); err != nil {
		h.log.Error("handlers: failed to update session after transcription", map[string]interface{}{"error": err.Error()})
	}
}
