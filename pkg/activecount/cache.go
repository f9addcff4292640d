// Package activecount implements the Active-Count Cache: a single background task that scrapes the Durable Store every
// 30 seconds so health/status endpoints never read-amplify the database.
package activecount

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/classlingo/relay/pkg/logger"
	"github.com/classlingo/relay/pkg/storage"
)

// Snapshot is the counters exposed to callers at any moment.
type Snapshot struct {
	ActiveSessions int
	TotalStudents  int
	RefreshedAt    time.Time
}

// Cache holds the latest scraped Snapshot behind an atomic pointer so
// reads never block on the refresh goroutine.
type Cache struct {
	store    storage.Storage
	interval time.Duration
	log      logger.Logger

	current atomic.Pointer[Snapshot]
	once    sync.Once
}

// New constructs a Cache. Call Start to begin the refresh loop; Get
// returns a zero Snapshot until the first refresh completes.
func New(store storage.Storage, interval time.Duration, log logger.Logger) *Cache {
	if log == nil {
		log = logger.NoOp{}
	}
	c := &Cache{store: store, interval: interval, log: log}
	c.current.Store(&Snapshot{})
	return c
}

// Start launches the refresh loop, which runs once immediately and then
// every interval, until ctx is canceled.
func (c *Cache) Start(ctx context.Context) {
	c.once.Do(func() {
		c.refresh(ctx)
		go func() {
			ticker := time.NewTicker(c.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.refresh(ctx)
				}
			}
		}()
	})
}

// Get returns the most recently scraped Snapshot.
func (c *Cache) Get() Snapshot {
	return *c.current.Load()
}

func (c *Cache) refresh(ctx context.Context) {
	sessions, err := c.store.ListActiveSessions(ctx)
	if err != nil {
		c.log.Error("activecount: failed to refresh from storage", map[string]interface{}{"error": err.Error()})
		return
	}

	snapshot := Snapshot{ActiveSessions: len(sessions), RefreshedAt: time.Now()}
	for _, s := range sessions {
		snapshot.TotalStudents += s.StudentsCount
	}
	c.current.Store(&snapshot)
}
