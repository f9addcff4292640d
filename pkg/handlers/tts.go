package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/classlingo/relay/pkg/wsconn"
)

type ttsRequestFrame struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode"`
	Voice        string `json:"voice"`
}

type speechParamsOut struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Language string `json:"languageCode"`
	AutoPlay bool   `json:"autoPlay"`
}

type ttsResponseFrame struct {
	Type           string           `json:"type"`
	Status         string           `json:"status"`
	Text           string           `json:"text"`
	LanguageCode   string           `json:"languageCode"`
	TTSServiceType string           `json:"ttsServiceType,omitempty"`
	Timestamp      int64            `json:"timestamp"`
	AudioData      string           `json:"audioData,omitempty"`
	SpeechParams   *speechParamsOut `json:"speechParams,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// TTSRequest synthesizes (or defers to browser speech for) a single
// string on behalf of a connection, independent of the transcription
// fan-out path.
func (h *Handlers) TTSRequest(ctx context.Context, conn *wsconn.Conn, raw json.RawMessage) {
	var req ttsRequestFrame
	if err := json.Unmarshal(raw, &req); err != nil || req.Text == "" || req.LanguageCode == "" {
		h.send(conn, ttsResponseFrame{Type: "tts_response", Status: "error", Error: "invalid tts_request"})
		return
	}

	useClientSpeech, _ := conn.ClientSettings["useClientSpeech"].(bool)
	ttsType, _ := conn.ClientSettings["ttsServiceType"].(string)

	resp := ttsResponseFrame{
		Type:           "tts_response",
		Status:         "success",
		Text:           req.Text,
		LanguageCode:   req.LanguageCode,
		TTSServiceType: ttsType,
		Timestamp:      time.Now().UnixMilli(),
	}

	if useClientSpeech {
		resp.SpeechParams = &speechParamsOut{Type: "browser-speech", Text: req.Text, Language: req.LanguageCode, AutoPlay: true}
	} else {
		audio := h.facade.Synthesize(ctx, req.Text, req.LanguageCode, req.Voice)
		resp.AudioData = base64.StdEncoding.EncodeToString(audio)
	}

	h.send(conn, resp)
}

// Audio is a forward-compatibility placeholder: server-side speech
// recognition over a raw audio frame is not wired into any provider
// yet, so teacher audio frames are acknowledged silently.
func (h *Handlers) Audio(ctx context.Context, conn *wsconn.Conn, raw json.RawMessage) {
	if conn.Role != wsconn.RoleTeacher {
		return
	}
}
