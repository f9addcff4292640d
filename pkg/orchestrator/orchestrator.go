// Package orchestrator implements the Translation Orchestrator: fan-out of
// one teacher transcription to every target language among a session's
// students, with per-stage latency instrumentation and per-student
// delivery retry.
package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/classlingo/relay/pkg/logger"
	"github.com/classlingo/relay/pkg/models"
	"github.com/classlingo/relay/pkg/provider"
	"github.com/classlingo/relay/pkg/storage"
	"github.com/classlingo/relay/pkg/wsconn"
)

// deliveryAttempts is the per-student send retry count.
const deliveryAttempts = 3

// LatencyComponents is the four-part latency budget recorded per
// transcription.
type LatencyComponents struct {
	Preparation time.Duration `json:"preparation"`
	Translation time.Duration `json:"translation"`
	TTS         time.Duration `json:"tts"`
	Processing  time.Duration `json:"processing"`
}

type latencyPayload struct {
	Total            int64 `json:"total"`
	ServerCompleteMs int64 `json:"serverCompleteTime"`
	Components       struct {
		Preparation int64 `json:"preparation"`
		Translation int64 `json:"translation"`
		TTS         int64 `json:"tts"`
		Processing  int64 `json:"processing"`
	} `json:"components"`
}

type speechParams struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Language string `json:"languageCode"`
	AutoPlay bool   `json:"autoPlay"`
}

type translationFrame struct {
	Type            string         `json:"type"`
	Text            string         `json:"text"`
	OriginalText    string         `json:"originalText"`
	SourceLanguage  string         `json:"sourceLanguage"`
	TargetLanguage  string         `json:"targetLanguage"`
	TTSServiceType  string         `json:"ttsServiceType,omitempty"`
	UseClientSpeech bool           `json:"useClientSpeech"`
	SpeechParams    *speechParams  `json:"speechParams,omitempty"`
	AudioData       string         `json:"audioData,omitempty"`
	Latency         latencyPayload `json:"latency"`
}

// Orchestrator wires the Translation Provider Facade, the Connection
// Registry, and the Durable Store into the per-transcription fan-out
// pipeline.
type Orchestrator struct {
	facade                    *provider.Facade
	registry                  *wsconn.Registry
	store                     storage.Storage
	log                       logger.Logger
	enableDetailedTranslation bool
}

// New constructs an Orchestrator.
func New(facade *provider.Facade, registry *wsconn.Registry, store storage.Storage, enableDetailedTranslation bool, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NoOp{}
	}
	return &Orchestrator{
		facade:                    facade,
		registry:                  registry,
		store:                     store,
		log:                       log,
		enableDetailedTranslation: enableDetailedTranslation,
	}
}

// Dispatch runs the full fan-out pipeline for one transcription: translate
// to every distinct student language, then deliver to every student
// concurrently. It returns the number of Translation rows actually
// persisted to the Durable Store, which is zero whenever detailed
// translation logging is disabled and otherwise only counts students whose
// delivery and persistence both succeeded.
func (o *Orchestrator) Dispatch(ctx context.Context, sessionID, text, sourceLanguage string, startTime time.Time) int {
	students := o.registry.StudentsBySession(sessionID)
	if len(students) == 0 {
		return 0
	}

	var components LatencyComponents
	components.Preparation = time.Since(startTime)

	targetLanguages := distinctLanguages(students)
	translationStart := time.Now()
	translations := o.translateAll(ctx, text, sourceLanguage, targetLanguages)
	components.Translation = time.Since(translationStart)

	var persisted atomic.Int64
	var wg sync.WaitGroup
	for _, student := range students {
		student := student
		lang := student.Language
		if lang == "" {
			continue
		}
		translated, ok := translations[lang]
		if !ok || translated == "" {
			translated = text
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if o.deliverToStudent(ctx, student, text, translated, sourceLanguage, lang, startTime, components) {
				persisted.Add(1)
			}
		}()
	}
	wg.Wait()
	return int(persisted.Load())
}

// translateAll calls the Translation Provider Facade once per distinct
// target language, in parallel.
func (o *Orchestrator) translateAll(ctx context.Context, text, sourceLanguage string, targets []string) map[string]string {
	type result struct {
		lang string
		text string
	}
	results := make(chan result, len(targets))

	var wg sync.WaitGroup
	for _, target := range targets {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			translated := o.facade.Translate(ctx, text, sourceLanguage, target)
			results <- result{lang: target, text: translated}
		}()
	}
	wg.Wait()
	close(results)

	out := make(map[string]string, len(targets))
	for r := range results {
		out[r.lang] = r.text
	}
	return out
}

// deliverToStudent synthesizes audio (or browser-speech marker),
// composes the `translation` frame, retries delivery up to
// deliveryAttempts times, and — if enabled — persists a Translation row.
// It reports whether a Translation row was actually persisted.
func (o *Orchestrator) deliverToStudent(ctx context.Context, student *wsconn.Conn, originalText, translatedText, sourceLanguage, targetLanguage string, startTime time.Time, components LatencyComponents) bool {
	ttsStart := time.Now()
	frame := translationFrame{
		Type:           "translation",
		Text:           translatedText,
		OriginalText:   originalText,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
	}

	if ttsType, _ := student.ClientSettings["ttsServiceType"].(string); ttsType != "" {
		frame.TTSServiceType = ttsType
	}

	if useClientSpeech, _ := student.ClientSettings["useClientSpeech"].(bool); useClientSpeech {
		frame.UseClientSpeech = true
		frame.SpeechParams = &speechParams{
			Type:     "browser-speech",
			Text:     translatedText,
			Language: targetLanguage,
			AutoPlay: true,
		}
	} else {
		audio := o.facade.Synthesize(ctx, translatedText, targetLanguage, frame.TTSServiceType)
		frame.AudioData = encodeAudio(audio)
	}
	components.TTS = time.Since(ttsStart)

	processingStart := time.Now()
	now := time.Now()
	total := now.Sub(startTime)
	components.Processing = time.Since(processingStart)

	frame.Latency.Total = total.Milliseconds()
	frame.Latency.ServerCompleteMs = now.UnixMilli()
	frame.Latency.Components.Preparation = components.Preparation.Milliseconds()
	frame.Latency.Components.Translation = components.Translation.Milliseconds()
	frame.Latency.Components.TTS = components.TTS.Milliseconds()
	frame.Latency.Components.Processing = components.Processing.Milliseconds()

	data, err := json.Marshal(frame)
	if err != nil {
		o.log.Error("orchestrator: failed to encode translation frame", map[string]interface{}{"error": err.Error()})
		return false
	}

	if !o.sendWithRetry(student, data) {
		o.log.Error("orchestrator: exhausted delivery attempts for student", map[string]interface{}{
			"connectionId": student.ID,
			"targetLanguage": targetLanguage,
		})
		return false
	}

	if !o.enableDetailedTranslation {
		return false
	}
	return o.persistTranslation(ctx, student.SessionID, sourceLanguage, targetLanguage, originalText, translatedText, components.Translation)
}

// sendWithRetry attempts to enqueue data on the student's send channel up
// to deliveryAttempts times.
func (o *Orchestrator) sendWithRetry(student *wsconn.Conn, data []byte) bool {
	for attempt := 1; attempt <= deliveryAttempts; attempt++ {
		select {
		case student.Send <- data:
			return true
		default:
			time.Sleep(time.Duration(attempt) * 5 * time.Millisecond)
		}
	}
	return false
}

func (o *Orchestrator) persistTranslation(ctx context.Context, sessionID, sourceLanguage, targetLanguage, originalText, translatedText string, latency time.Duration) bool {
	row := &models.Translation{
		ID:             newID(),
		SessionID:      sessionID,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
		OriginalText:   originalText,
		TranslatedText: translatedText,
		LatencyMs:      latency.Milliseconds(),
		Timestamp:      time.Now(),
	}
	if err := o.store.CreateTranslation(ctx, row); err != nil {
		o.log.Error("orchestrator: failed to persist translation row", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		return false
	}
	return true
}

func distinctLanguages(students []*wsconn.Conn) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range students {
		if s.Language == "" || seen[s.Language] {
			continue
		}
		seen[s.Language] = true
		out = append(out, s.Language)
	}
	return out
}

func encodeAudio(audio []byte) string {
	if len(audio) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(audio)
}

func newID() string {
	return uuid.NewString()
}
