// Package storage implements the Durable Store: the
// persistence boundary for users, languages, sessions, transcripts and
// translations. Two backends are provided — PostgreSQL for production and
// SQLite for constrained or offline deployments — selected by
// Config.Driver, plus an in-memory backend used by tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/classlingo/relay/pkg/models"
)

// ErrNotFound is returned by lookups that find no matching row. Backends
// translate driver-specific not-found signals (sql.ErrNoRows) into this
// sentinel so callers never import database/sql. AudioCache.Get reports a
// miss as (nil, nil) rather than ErrNotFound.
var ErrNotFound = errors.New("storage: not found")

// Storage is the Durable Store's full persistence surface.
type Storage interface {
	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	// Languages
	UpsertLanguage(ctx context.Context, lang *models.Language) error
	GetLanguageByCode(ctx context.Context, code string) (*models.Language, error)
	ListLanguages(ctx context.Context) ([]*models.Language, error)
	ListActiveLanguages(ctx context.Context) ([]*models.Language, error)
	SetLanguageActive(ctx context.Context, code string, active bool) error

	// Sessions
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error
	ListSessions(ctx context.Context, limit, offset int) ([]*models.Session, error)
	ListActiveSessions(ctx context.Context) ([]*models.Session, error)

	// GetMostRecentActiveSessionByTeacher finds the newest active session
	// for a given teacherId.
	GetMostRecentActiveSessionByTeacher(ctx context.Context, teacherID string) (*models.Session, error)

	// GetRecentlyEndedSessionByTeacher finds a session for teacherId ended
	// within the last `within` duration, for reactivation.
	GetRecentlyEndedSessionByTeacher(ctx context.Context, teacherID string, within time.Duration, now time.Time) (*models.Session, error)

	// GetActiveSessionByTeacherLanguage finds an active session with the
	// given teacherLanguage whose age is at most maxAge.
	GetActiveSessionByTeacherLanguage(ctx context.Context, teacherLanguage string, maxAge time.Duration, now time.Time) (*models.Session, error)

	// CountTranscriptsBySession is used by classification when
	// totalTranslations==0.
	CountTranscriptsBySession(ctx context.Context, sessionID string) (int, error)

	// Transcripts (append-only)
	CreateTranscript(ctx context.Context, t *models.Transcript) error
	ListTranscriptsBySession(ctx context.Context, sessionID string) ([]*models.Transcript, error)
	ListTranscriptsBySessionAndLanguage(ctx context.Context, sessionID, language string) ([]*models.Transcript, error)

	// Translations (append-only)
	CreateTranslation(ctx context.Context, t *models.Translation) error
	ListTranslationsBySession(ctx context.Context, sessionID string) ([]*models.Translation, error)
	ListTranslationsByLanguage(ctx context.Context, language string, limit int) ([]*models.Translation, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any underlying connection resources.
	Close() error
}

// Config configures a Storage backend.
type Config struct {
	Driver string // "postgres" | "sqlite"
	DSN    string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open constructs the Storage backend named by config.Driver, seeding the
// default language list (models.DefaultLanguages) on first run.
func Open(ctx context.Context, config Config) (Storage, error) {
	var (
		store Storage
		err   error
	)

	switch config.Driver {
	case "postgres":
		store, err = NewPostgresStorage(config)
	case "sqlite":
		store, err = NewSQLiteStorage(config)
	default:
		return nil, errors.New("storage: unsupported driver " + config.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := seedDefaultLanguages(ctx, store); err != nil {
		store.Close()
		return nil, err
	}

	return store, nil
}

func seedDefaultLanguages(ctx context.Context, store Storage) error {
	defaults, err := models.DefaultLanguages()
	if err != nil {
		return err
	}
	for _, lang := range defaults {
		l := lang
		if err := store.UpsertLanguage(ctx, &l); err != nil {
			return err
		}
	}
	return nil
}
