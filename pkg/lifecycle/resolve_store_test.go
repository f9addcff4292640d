package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlingo/relay/pkg/models"
	"github.com/classlingo/relay/pkg/storage"
)

func testTiming() Timing {
	return Timing{
		CleanupInterval:           time.Minute,
		EmptyTeacherTimeout:       15 * time.Minute,
		AllStudentsLeftTimeout:    10 * time.Minute,
		StaleSessionTimeout:       90 * time.Minute,
		VeryShortSessionThreshold: 5 * time.Second,
		TeacherReconnectionGrace:  5 * time.Minute,
		TeacherEndedRecentWindow:  10 * time.Minute,
	}
}

func TestResolveTeacherSessionByIDActive(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	now := time.Now()

	require.NoError(t, store.CreateSession(ctx, &models.Session{
		ID: "s1", TeacherID: "t1", StartTime: now, LastActivityAt: now, IsActive: true,
	}))

	m := New(store, nil, testTiming(), nil)
	res, err := m.ResolveTeacherSession(ctx, "t1", "", now)
	require.NoError(t, err)
	assert.Equal(t, Resolution{Action: ActionReuse, SessionID: "s1"}, res)
}

func TestResolveTeacherSessionByIDReactivatesRecentlyEnded(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	now := time.Now()

	ended := now.Add(-2 * time.Minute)
	session := &models.Session{ID: "s1", TeacherID: "t1", StartTime: now.Add(-time.Hour), LastActivityAt: ended}
	session.End(ended, models.QualityReal, "teacher ended")
	require.NoError(t, store.CreateSession(ctx, session))

	m := New(store, nil, testTiming(), nil)
	res, err := m.ResolveTeacherSession(ctx, "t1", "", now)
	require.NoError(t, err)
	assert.Equal(t, Resolution{Action: ActionReactivate, SessionID: "s1"}, res)
}

func TestResolveTeacherSessionCreatesWhenNoTeacherIDOrLanguage(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()

	m := New(store, nil, testTiming(), nil)
	res, err := m.ResolveTeacherSession(ctx, "", "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, Resolution{Action: ActionCreate}, res)
}

func TestResolveTeacherSessionByLanguageWithinGrace(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	now := time.Now()

	require.NoError(t, store.CreateSession(ctx, &models.Session{
		ID: "s1", TeacherLanguage: "en-US", StartTime: now, LastActivityAt: now, IsActive: true,
	}))

	m := New(store, nil, testTiming(), nil)
	res, err := m.ResolveTeacherSession(ctx, "", "en-US", now)
	require.NoError(t, err)
	assert.Equal(t, Resolution{Action: ActionReuse, SessionID: "s1"}, res)
}
