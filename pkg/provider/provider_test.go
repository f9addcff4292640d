package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMT struct {
	calls   int
	failFor int // fail this many calls before succeeding
	result  string
	err     error
}

func (s *stubMT) Translate(_ context.Context, text, _, _ string) (string, error) {
	s.calls++
	if s.calls <= s.failFor {
		return "", errors.New("upstream unavailable")
	}
	if s.err != nil {
		return "", s.err
	}
	if s.result != "" {
		return s.result, nil
	}
	return text, nil
}

type stubTTS struct {
	calls  int
	audio  []byte
	always error
}

func (s *stubTTS) Synthesize(_ context.Context, _, _, _ string) ([]byte, error) {
	s.calls++
	if s.always != nil {
		return nil, s.always
	}
	return s.audio, nil
}

func fastConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestTranslatePassesThroughOnIdenticalLanguages(t *testing.T) {
	f := New(&stubMT{result: "should not be used"}, nil, nil, nil, fastConfig(), nil)
	out := f.Translate(context.Background(), "hello", "en", "en")
	assert.Equal(t, "hello", out)
}

func TestTranslateRetriesThenSucceeds(t *testing.T) {
	mt := &stubMT{failFor: 2, result: "hola"}
	f := New(mt, nil, nil, nil, fastConfig(), nil)

	out := f.Translate(context.Background(), "hello", "en", "es")
	assert.Equal(t, "hola", out)
	assert.Equal(t, 3, mt.calls)
}

func TestTranslateFallsBackToPassthroughOnPersistentFailure(t *testing.T) {
	mt := &stubMT{failFor: 10}
	f := New(mt, nil, nil, nil, fastConfig(), nil)

	out := f.Translate(context.Background(), "hello", "en", "es")
	assert.Equal(t, "hello", out)
	assert.Equal(t, 3, mt.calls)
}

func TestTranslateWithNilBackendIsPassthrough(t *testing.T) {
	f := New(nil, nil, nil, nil, fastConfig(), nil)
	out := f.Translate(context.Background(), "hello", "en", "es")
	assert.Equal(t, "hello", out)
}

func TestSynthesizeReturnsEmptyOnPersistentFailure(t *testing.T) {
	tts := &stubTTS{always: errors.New("tts down")}
	f := New(nil, tts, nil, nil, fastConfig(), nil)

	audio := f.Synthesize(context.Background(), "hello", "es", "default")
	assert.Empty(t, audio)
	assert.Equal(t, 3, tts.calls)
}

func TestSynthesizeWithNilBackendReturnsNil(t *testing.T) {
	f := New(nil, nil, nil, nil, fastConfig(), nil)
	audio := f.Synthesize(context.Background(), "hello", "es", "default")
	assert.Nil(t, audio)
}

func TestRecognizeWithoutBackendReturnsErrNoProvider(t *testing.T) {
	f := New(nil, nil, nil, nil, fastConfig(), nil)
	_, err := f.Recognize(context.Background(), []byte("pcm"), "en")
	require.ErrorIs(t, err, ErrNoProvider)
}

func TestEncodeDecodeCachedAudioRoundTrips(t *testing.T) {
	original := []byte{0x01, 0x02, 0x03, 0xff}
	encoded := encodeCachedAudio(original)
	decoded := decodeCachedAudio(encoded)
	assert.Equal(t, original, decoded)
}
