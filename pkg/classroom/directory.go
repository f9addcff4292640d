// Package classroom implements the Classroom Directory: an in-memory, TTL-backed map from a 6-character classroom code to
// the session it belongs to.
package classroom

import (
	"context"
	"crypto/rand"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/classlingo/relay/pkg/logger"
)

// codeAlphabet sticks to upper-case alphanumerics
// over a base64/uuid code, matching the `^[A-Z0-9]{6}$` format classroom codes are displayed in.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const codeLength = 6

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// Entry is a live classroom-code binding.
type Entry struct {
	Code             string
	SessionID        string
	CreatedAt        time.Time
	LastActivity     time.Time
	TeacherConnected bool
	ExpiresAt        time.Time
}

// Directory is the Classroom Directory: thread-safe, in-memory, with a
// background sweep that evicts expired entries.
type Directory struct {
	mu               sync.RWMutex
	byCode           map[string]*Entry
	bySession        map[string]string // sessionID -> code
	expiration       time.Duration
	log              logger.Logger
	collisionRetries uint64
}

// New creates a Directory whose entries expire `expiration` after their
// last activity.
func New(expiration time.Duration, log logger.Logger) *Directory {
	if log == nil {
		log = logger.NoOp{}
	}
	return &Directory{
		byCode:     make(map[string]*Entry),
		bySession:  make(map[string]string),
		expiration: expiration,
		log:        log,
	}
}

// CollisionRetries reports how many times freshCode had to re-sample a
// 6-character code because it was already live, across the Directory's
// lifetime. With a 36^6 keyspace this should stay near zero outside of
// load tests; a climbing rate is a signal to widen the code alphabet or
// length.
func (d *Directory) CollisionRetries() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.collisionRetries
}

// CreateOrReuse returns the live code for sessionID, minting one if none
// exists.
func (d *Directory) CreateOrReuse(sessionID string) (string, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if code, ok := d.bySession[sessionID]; ok {
		if entry, ok := d.byCode[code]; ok {
			entry.LastActivity = now
			entry.TeacherConnected = true
			entry.ExpiresAt = now.Add(d.expiration)
			return code, nil
		}
	}

	code, err := d.freshCode()
	if err != nil {
		return "", err
	}

	d.byCode[code] = &Entry{
		Code:             code,
		SessionID:        sessionID,
		CreatedAt:        now,
		LastActivity:     now,
		TeacherConnected: true,
		ExpiresAt:        now.Add(d.expiration),
	}
	d.bySession[sessionID] = code
	return code, nil
}

// freshCode rejection-samples a random 6-char code until one is unused.
// Caller must hold d.mu.
func (d *Directory) freshCode() (string, error) {
	for attempts := 0; attempts < 100; attempts++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		if _, exists := d.byCode[code]; !exists {
			return code, nil
		}
		d.collisionRetries++
	}
	return "", fmt.Errorf("classroom: exhausted attempts to mint a unique code")
}

func randomCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

// IsValid reports whether code is well-formed, live, and unexpired. A
// successful validation refreshes the entry's LastActivity; an expired
// entry is evicted.
func (d *Directory) IsValid(code string) bool {
	if !codePattern.MatchString(code) {
		return false
	}

	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.byCode[code]
	if !ok {
		return false
	}
	if now.After(entry.ExpiresAt) {
		d.evictLocked(entry)
		return false
	}
	entry.LastActivity = now
	entry.ExpiresAt = now.Add(d.expiration)
	return true
}

// GetByCode returns the entry for code, if live.
func (d *Directory) GetByCode(code string) (*Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.byCode[code]
	if !ok {
		return nil, false
	}
	cp := *entry
	return &cp, true
}

// GetCodeBySession returns the live code bound to sessionID, if any.
func (d *Directory) GetCodeBySession(sessionID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	code, ok := d.bySession[sessionID]
	return code, ok
}

// Restore re-seats a pre-existing code to sessionID, used on teacher
// reconnect. Idempotent: restoring the same binding twice is a no-op
// beyond refreshing its expiry.
func (d *Directory) Restore(code, sessionID string) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.byCode[code]
	if !ok {
		entry = &Entry{Code: code, CreatedAt: now}
		d.byCode[code] = entry
	}
	entry.SessionID = sessionID
	entry.LastActivity = now
	entry.TeacherConnected = true
	entry.ExpiresAt = now.Add(d.expiration)
	d.bySession[sessionID] = code
}

// evictLocked removes entry from both maps. Caller must hold d.mu.
func (d *Directory) evictLocked(entry *Entry) {
	delete(d.byCode, entry.Code)
	if d.bySession[entry.SessionID] == entry.Code {
		delete(d.bySession, entry.SessionID)
	}
}

// RunSweep evicts all expired entries once, returning how many were evicted.
func (d *Directory) RunSweep() int {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	evicted := 0
	for _, entry := range d.byCode {
		if now.After(entry.ExpiresAt) {
			d.evictLocked(entry)
			evicted++
		}
	}
	return evicted
}

// StartSweeper launches the background sweep goroutine, running every
// interval until ctx is canceled.
func (d *Directory) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := d.RunSweep(); n > 0 {
					d.log.Debug("classroom directory sweep evicted entries", map[string]interface{}{"count": n})
				}
			}
		}
	}()
}
