// Package lifecycle implements the Session Lifecycle Manager: the session
// state machine, its sweep cadence, quality classification, and
// reconnection resolution.
package lifecycle

import (
	"context"
	"time"

	"github.com/classlingo/relay/pkg/classroom"
	"github.com/classlingo/relay/pkg/logger"
	"github.com/classlingo/relay/pkg/models"
	"github.com/classlingo/relay/pkg/storage"
)

// Timing holds every duration the lifecycle manager needs, taken
// directly from internal/config.TimingConfig's field names.
type Timing struct {
	CleanupInterval           time.Duration
	EmptyTeacherTimeout       time.Duration
	AllStudentsLeftTimeout    time.Duration
	StaleSessionTimeout       time.Duration
	VeryShortSessionThreshold time.Duration
	TeacherReconnectionGrace  time.Duration
	TeacherEndedRecentWindow  time.Duration
}

// Manager runs the session state machine's sweep and classification
// logic against the Durable Store.
type Manager struct {
	store     storage.Storage
	classroom *classroom.Directory
	timing    Timing
	log       logger.Logger
}

// New constructs a Manager.
func New(store storage.Storage, directory *classroom.Directory, timing Timing, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NoOp{}
	}
	return &Manager{store: store, classroom: directory, timing: timing, log: log}
}

// Start launches the periodic sweep loop until ctx is canceled.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.timing.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RunSweep(ctx)
			}
		}
	}()
}

// RunSweep performs one cleanup pass, in this order:
// empty-teacher, then abandoned, then long-inactive.
func (m *Manager) RunSweep(ctx context.Context) {
	now := time.Now()

	sessions, err := m.store.ListActiveSessions(ctx)
	if err != nil {
		m.log.Error("lifecycle: failed to list active sessions for sweep", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, session := range sessions {
		if m.sweepEmptyTeacher(ctx, session, now) {
			continue
		}
		if m.sweepAbandoned(ctx, session, now) {
			continue
		}
		m.sweepLongInactive(ctx, session, now)
	}
}

// sweepEmptyTeacher ends sessions with studentsCount==0 that have run
// past emptyTeacherTimeout.
func (m *Manager) sweepEmptyTeacher(ctx context.Context, session *models.Session, now time.Time) bool {
	if session.StudentsCount != 0 || session.StartTime.After(now.Add(-m.timing.EmptyTeacherTimeout)) {
		return false
	}
	m.endSession(ctx, session, now, models.QualityNoStudents, "empty teacher timeout")
	return true
}

// sweepAbandoned ends sessions whose students all left and stayed gone
// past allStudentsLeftTimeout, but not yet past staleSessionTimeout
//.
func (m *Manager) sweepAbandoned(ctx context.Context, session *models.Session, now time.Time) bool {
	if session.StudentsCount == 0 {
		return false
	}
	idle := now.Sub(session.LastActivityAt)
	if idle <= m.timing.AllStudentsLeftTimeout || idle > m.timing.StaleSessionTimeout {
		return false
	}
	m.endSession(ctx, session, now, models.QualityNoActivity, "all students left and session went stale")
	return true
}

// sweepLongInactive ends any session with no activity past
// staleSessionTimeout, regardless of student count.
func (m *Manager) sweepLongInactive(ctx context.Context, session *models.Session, now time.Time) bool {
	if now.Sub(session.LastActivityAt) <= m.timing.StaleSessionTimeout {
		return false
	}
	m.endSession(ctx, session, now, models.QualityNoActivity, "long inactive")
	return true
}

// endSession ends a session and recomputes its quality from the final
// session facts, matching the quality classification table. The quality
// passed as the immediate cleanup reason is a starting point;
// Classify re-derives the authoritative verdict.
func (m *Manager) endSession(ctx context.Context, session *models.Session, now time.Time, reasonQuality models.SessionQuality, reason string) {
	session.TranscriptCount = m.transcriptCount(ctx, session.ID)
	session.End(now, reasonQuality, reason)
	session.Quality = session.Classify(now)

	if err := m.store.UpdateSession(ctx, session); err != nil {
		m.log.Error("lifecycle: failed to persist session end", map[string]interface{}{
			"sessionId": session.ID,
			"error":     err.Error(),
		})
	}
}

func (m *Manager) transcriptCount(ctx context.Context, sessionID string) int {
	count, err := m.store.CountTranscriptsBySession(ctx, sessionID)
	if err != nil {
		return 0
	}
	return count
}

// Classify recomputes a session's quality from its current facts without
// ending it, used for already-ended sessions whose quality is still
// "unknown".
func (m *Manager) Classify(ctx context.Context, session *models.Session, now time.Time) models.SessionQuality {
	session.TranscriptCount = m.transcriptCount(ctx, session.ID)
	return session.Classify(now)
}

// HandleTeacherDisconnect applies the teacher disconnect policy,
// invoked from the Connection Lifecycle Manager (C11).
func (m *Manager) HandleTeacherDisconnect(ctx context.Context, session *models.Session, hadTeacherID bool, now time.Time) {
	if session.StudentsCount == 0 && !hadTeacherID && session.Age(now) < m.timing.VeryShortSessionThreshold {
		m.endSession(ctx, session, now, models.QualityTooShort, "Teacher disconnected, session too short")
		return
	}
	// Leave active: the teacher may reconnect within the grace window.
}
