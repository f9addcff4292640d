// Package provider implements the Translation Provider Facade: a uniform
// interface over external MT/TTS/STT backends with retry, timeouts, and
// audio caching by fingerprint.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/classlingo/relay/pkg/logger"
	"github.com/classlingo/relay/pkg/storage"
)

// ErrNoProvider is returned when a facade is constructed without a
// backing implementation for the call being made.
var ErrNoProvider = errors.New("provider: no backend configured")

// MachineTranslator turns source text in one language into target text
// in another.
type MachineTranslator interface {
	Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error)
}

// SpeechSynthesizer renders text to speech audio bytes.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, language, voice string) ([]byte, error)
}

// SpeechRecognizer transcribes audio bytes to text; present for parity
// with the `audio` frame's dormant server-side STT path, not yet wired
// into any handler.
type SpeechRecognizer interface {
	Recognize(ctx context.Context, audio []byte, language string) (string, error)
}

// Config controls retry behavior shared by every provider call.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig retries with exponential backoff...
// up to 3 attempts".
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Facade is the uniform Translation Provider Facade. A nil MT, TTS, or
// STT is tolerated: calls fall back to their degraded-mode behavior
// (passthrough for MT, silence for TTS) exactly as if every attempt had
// failed.
type Facade struct {
	mt     MachineTranslator
	tts    SpeechSynthesizer
	stt    SpeechRecognizer
	cache  *storage.AudioCache
	cfg    Config
	log    logger.Logger
	ttsVox string // default voice when the caller doesn't specify one
}

// New constructs a Facade. cache may be nil, disabling TTS-audio caching.
func New(mt MachineTranslator, tts SpeechSynthesizer, stt SpeechRecognizer, cache *storage.AudioCache, cfg Config, log logger.Logger) *Facade {
	if log == nil {
		log = logger.NoOp{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Facade{mt: mt, tts: tts, stt: stt, cache: cache, cfg: cfg, log: log, ttsVox: "default"}
}

// Translate calls the MT backend with retry; on persistent failure it
// returns the source text unchanged, since MT failure must never fail the
// surrounding handler.
func (f *Facade) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) string {
	if f.mt == nil {
		return text
	}
	if sourceLanguage == targetLanguage {
		return text
	}

	result, err := withRetry(ctx, f.cfg, func() (string, error) {
		return f.mt.Translate(ctx, text, sourceLanguage, targetLanguage)
	})
	if err != nil {
		f.log.Warn("machine translation failed, falling back to passthrough", map[string]interface{}{
			"sourceLanguage": sourceLanguage,
			"targetLanguage": targetLanguage,
			"error":          err.Error(),
		})
		return text
	}
	if result == "" {
		return text
	}
	return result
}

// Synthesize renders text to audio, consulting the audio cache first and
// populating it on a cache miss. On persistent TTS failure it returns nil
// audio.
func (f *Facade) Synthesize(ctx context.Context, text, language, voice string) []byte {
	if f.tts == nil {
		return nil
	}
	if voice == "" {
		voice = f.ttsVox
	}

	if f.cache != nil {
		fp := storage.Fingerprint(text, language, voice)
		if cached, err := f.cache.Get(ctx, fp); err == nil && cached != nil {
			return decodeCachedAudio(cached.AudioURL)
		}
	}

	audio, err := withRetry(ctx, f.cfg, func() ([]byte, error) {
		return f.tts.Synthesize(ctx, text, language, voice)
	})
	if err != nil {
		f.log.Warn("speech synthesis failed, returning empty audio", map[string]interface{}{
			"language": language,
			"error":    err.Error(),
		})
		return nil
	}

	if f.cache != nil && len(audio) > 0 {
		fp := storage.Fingerprint(text, language, voice)
		_ = f.cache.Set(ctx, fp, &storage.CachedAudio{AudioURL: encodeCachedAudio(audio), CreatedAt: time.Now().Unix()})
	}
	return audio
}

// Recognize transcribes audio via the STT backend, if configured.
func (f *Facade) Recognize(ctx context.Context, audio []byte, language string) (string, error) {
	if f.stt == nil {
		return "", ErrNoProvider
	}
	return withRetry(ctx, f.cfg, func() (string, error) {
		return f.stt.Recognize(ctx, audio, language)
	})
}

// encodeCachedAudio/decodeCachedAudio store raw TTS bytes in the cache's
// string-typed AudioURL field, the same base64 encoding the `audioData`
// field on outbound `translation`/`tts_response` frames uses.
func encodeCachedAudio(audio []byte) string {
	return base64.StdEncoding.EncodeToString(audio)
}

func decodeCachedAudio(encoded string) []byte {
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}
	return audio
}

// withRetry runs op up to cfg.MaxAttempts times with exponential backoff,
// returning the first success or the last error.
func withRetry[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	var zero T
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return zero, lastErr
}
