package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlingo/relay/pkg/models"
)

func TestMemoryStorageUserLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	u := &models.User{ID: "u1", Username: "admin", Email: "admin@example.com", IsActive: true}
	require.NoError(t, u.SetPassword("hunter2"))
	require.NoError(t, s.CreateUser(ctx, u))

	assert.ErrorIs(t, s.CreateUser(ctx, u), models.ErrDuplicateUser)

	fetched, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "u1", fetched.ID)

	fetched.Email = "changed@example.com"
	require.NoError(t, s.UpdateUser(ctx, fetched))

	refetched, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "changed@example.com", refetched.Email)

	_, err = s.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorageLanguages(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	require.NoError(t, s.UpsertLanguage(ctx, &models.Language{Code: "en", Name: "English", IsActive: true}))
	require.NoError(t, s.UpsertLanguage(ctx, &models.Language{Code: "es", Name: "Spanish", IsActive: false}))

	all, err := s.ListLanguages(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.ListActiveLanguages(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "en", active[0].Code)

	require.NoError(t, s.SetLanguageActive(ctx, "es", true))
	active, err = s.ListActiveLanguages(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	assert.ErrorIs(t, s.SetLanguageActive(ctx, "xx", true), ErrNotFound)
}

func TestMemoryStorageSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	now := time.Now()
	session := &models.Session{
		ID:              "s1",
		TeacherID:       "t1",
		ClassCode:       "ABC123",
		TeacherLanguage: "en",
		StartTime:       now,
		LastActivityAt:  now,
		IsActive:        true,
		Quality:         models.QualityUnknown,
	}
	require.NoError(t, s.CreateSession(ctx, session))

	found, err := s.GetMostRecentActiveSessionByTeacher(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "s1", found.ID)

	session.End(now.Add(time.Hour), models.QualityReal, "teacher ended session")
	require.NoError(t, s.UpdateSession(ctx, session))

	_, err = s.GetMostRecentActiveSessionByTeacher(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	reloaded, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.QualityReal, reloaded.Quality)

	ended, err := s.GetRecentlyEndedSessionByTeacher(ctx, "t1", 2*time.Hour, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "s1", ended.ID)
}

func TestMemoryStorageActiveSessionByTeacherLanguage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	now := time.Now()

	require.NoError(t, s.CreateSession(ctx, &models.Session{
		ID: "s1", TeacherID: "t1", TeacherLanguage: "en-US", StartTime: now, LastActivityAt: now, IsActive: true,
	}))

	found, err := s.GetActiveSessionByTeacherLanguage(ctx, "en-US", 5*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, "s1", found.ID)

	_, err = s.GetActiveSessionByTeacherLanguage(ctx, "en-US", 5*time.Minute, now.Add(10*time.Minute))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorageTranscriptsAndTranslationsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	require.NoError(t, s.CreateTranscript(ctx, &models.Transcript{ID: "tr1", SessionID: "s1", Language: "en", Text: "hello", Timestamp: time.Now()}))
	require.NoError(t, s.CreateTranscript(ctx, &models.Transcript{ID: "tr2", SessionID: "s1", Language: "en", Text: "world", Timestamp: time.Now()}))

	transcripts, err := s.ListTranscriptsBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, transcripts, 2)

	count, err := s.CountTranscriptsBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, s.CreateTranslation(ctx, &models.Translation{
		ID: "x1", SessionID: "s1", SourceLanguage: "en", TargetLanguage: "es",
		OriginalText: "hello", TranslatedText: "hola", LatencyMs: 120, Timestamp: time.Now(),
	}))

	translations, err := s.ListTranslationsBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, translations, 1)
	assert.Equal(t, "hola", translations[0].TranslatedText)

	byLang, err := s.ListTranslationsByLanguage(ctx, "es", 10)
	require.NoError(t, err)
	require.Len(t, byLang, 1)
}

func TestMemoryStorageListSessionsPagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateSession(ctx, &models.Session{
			ID:             string(rune('a' + i)),
			TeacherID:      "t1",
			StartTime:      base.Add(time.Duration(i) * time.Minute),
			LastActivityAt: base,
		}))
	}

	page, err := s.ListSessions(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := s.ListSessions(ctx, 10, 4)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}
