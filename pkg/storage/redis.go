package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedAudio is a synthesized utterance kept in the AudioCache, keyed by
// a fingerprint of its source text, target language and voice so repeat
// utterances across students skip a redundant TTS provider call.
type CachedAudio struct {
	AudioURL  string `json:"audio_url"`
	CreatedAt int64  `json:"created_at"`
}

// AudioCache is the Translation Provider Facade's TTS result cache,
// backed by Redis so synthesized audio survives process restarts and is
// shared across relay instances.
type AudioCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAudioCache connects to Redis at addr and returns an AudioCache whose
// entries expire after ttl.
func NewAudioCache(addr string, ttl time.Duration) (*AudioCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &AudioCache{client: client, ttl: ttl}, nil
}

// Fingerprint derives a cache key from the text being synthesized, its
// target language and voice.
func Fingerprint(text, targetLanguage, voice string) string {
	h := sha256.Sum256([]byte(targetLanguage + "|" + voice + "|" + text))
	return hex.EncodeToString(h[:])
}

// Get returns the cached audio for fingerprint, or (nil, nil) on a miss.
func (c *AudioCache) Get(ctx context.Context, fingerprint string) (*CachedAudio, error) {
	data, err := c.client.Get(ctx, audioKey(fingerprint)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cached := &CachedAudio{}
	if err := json.Unmarshal(data, cached); err != nil {
		return nil, err
	}
	return cached, nil
}

// Set stores audio under fingerprint with the cache's configured TTL.
func (c *AudioCache) Set(ctx context.Context, fingerprint string, audio *CachedAudio) error {
	data, err := json.Marshal(audio)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, audioKey(fingerprint), data, c.ttl).Err()
}

// Close closes the underlying Redis client.
func (c *AudioCache) Close() error {
	return c.client.Close()
}

func audioKey(fingerprint string) string {
	return "audio:" + fingerprint
}
