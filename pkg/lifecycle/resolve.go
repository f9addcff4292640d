package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/classlingo/relay/pkg/models"
	"github.com/classlingo/relay/pkg/storage"
)

// ResolveAction is the outcome of resolveSession.
type ResolveAction string

const (
	ActionCreate     ResolveAction = "create"
	ActionReuse      ResolveAction = "reuse"
	ActionReactivate ResolveAction = "reactivate"
)

// Resolution is the pure-function result of resolveSession:
// what to do with a registering teacher's session, and which session ID
// that applies to ("" when creating fresh).
type Resolution struct {
	Action    ResolveAction
	SessionID string
}

// resolveSession runs the teacher registration decision
// table as a pure function over already-fetched candidates, independent
// of persistence, so it is unit-testable without a store.
//
//   - active: the most recent active session for teacherId, if any.
//   - recentlyEnded: a session ended within teacherEndedRecentWindow for
//     teacherId, if teacherId was supplied and active is nil.
//   - byLanguage: an active session with the same teacherLanguage within
//     the grace period, if no teacherId was supplied at all.
func resolveSession(teacherID, language string, active, recentlyEnded, byLanguage *models.Session) Resolution {
	if teacherID != "" {
		if active != nil {
			return Resolution{Action: ActionReuse, SessionID: active.ID}
		}
		if recentlyEnded != nil {
			return Resolution{Action: ActionReactivate, SessionID: recentlyEnded.ID}
		}
		return Resolution{Action: ActionCreate}
	}

	if language != "" && byLanguage != nil {
		return Resolution{Action: ActionReuse, SessionID: byLanguage.ID}
	}

	return Resolution{Action: ActionCreate}
}

// ResolveTeacherSession runs resolveSession against the Durable Store,
// fetching exactly the candidates the pure function needs for the given
// inputs.
func (m *Manager) ResolveTeacherSession(ctx context.Context, teacherID, language string, now time.Time) (Resolution, error) {
	var active, recentlyEnded, byLanguage *models.Session

	if teacherID != "" {
		s, err := m.store.GetMostRecentActiveSessionByTeacher(ctx, teacherID)
		switch {
		case err == nil:
			active = s
		case errors.Is(err, storage.ErrNotFound):
		default:
			return Resolution{}, err
		}

		if active == nil {
			s, err := m.store.GetRecentlyEndedSessionByTeacher(ctx, teacherID, m.timing.TeacherEndedRecentWindow, now)
			switch {
			case err == nil:
				recentlyEnded = s
			case errors.Is(err, storage.ErrNotFound):
			default:
				return Resolution{}, err
			}
		}
	} else if language != "" {
		s, err := m.store.GetActiveSessionByTeacherLanguage(ctx, language, m.timing.TeacherReconnectionGrace, now)
		switch {
		case err == nil:
			byLanguage = s
		case errors.Is(err, storage.ErrNotFound):
		default:
			return Resolution{}, err
		}
	}

	return resolveSession(teacherID, language, active, recentlyEnded, byLanguage), nil
}
