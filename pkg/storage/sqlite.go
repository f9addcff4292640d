package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/classlingo/relay/pkg/models"
)

// SQLiteStorage implements Storage using SQLite. It exists as a
// dependency-free alternative to PostgresStorage for local development,
// single-node deployments, and CI, selected by STORAGE_DRIVER=sqlite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens a SQLite-backed Storage and initializes its schema.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	dsn := config.DSN
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows only one writer; a shared in-process pool of one
	// connection avoids "database is locked" errors under concurrency.
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT NOT NULL,
		password TEXT NOT NULL,
		roles TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS languages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		teacher_id TEXT NOT NULL,
		class_code TEXT,
		teacher_language TEXT,
		student_language TEXT,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		last_activity_at DATETIME NOT NULL,
		students_count INTEGER NOT NULL DEFAULT 0,
		total_translations INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		quality TEXT NOT NULL DEFAULT 'unknown',
		quality_reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_teacher ON sessions(teacher_id, is_active);
	CREATE INDEX IF NOT EXISTS idx_sessions_start_time ON sessions(start_time);

	CREATE TABLE IF NOT EXISTS transcripts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		language TEXT NOT NULL,
		text TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id);

	CREATE TABLE IF NOT EXISTS translations (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		source_language TEXT NOT NULL,
		target_language TEXT NOT NULL,
		original_text TEXT NOT NULL,
		translated_text TEXT NOT NULL,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_translations_session ON translations(session_id);
	CREATE INDEX IF NOT EXISTS idx_translations_target_language ON translations(target_language);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStorage) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password, roles, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Email, user.Password, joinRoles(user.Roles), user.IsActive, user.CreatedAt, user.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	var roles string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password, roles, is_active, created_at, updated_at FROM users WHERE username = ?`, username,
	).Scan(&user.ID, &user.Username, &user.Email, &user.Password, &roles, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user.Roles = splitRoles(roles)
	return user, nil
}

func (s *SQLiteStorage) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET email = ?, password = ?, roles = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		user.Email, user.Password, joinRoles(user.Roles), user.IsActive, user.UpdatedAt, user.ID,
	)
	return err
}

func (s *SQLiteStorage) UpsertLanguage(ctx context.Context, lang *models.Language) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO languages (code, name, is_active) VALUES (?, ?, ?)
		 ON CONFLICT(code) DO UPDATE SET name = excluded.name`,
		lang.Code, lang.Name, lang.IsActive,
	)
	return err
}

func (s *SQLiteStorage) GetLanguageByCode(ctx context.Context, code string) (*models.Language, error) {
	lang := &models.Language{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, name, is_active FROM languages WHERE code = ?`, code,
	).Scan(&lang.ID, &lang.Code, &lang.Name, &lang.IsActive)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return lang, nil
}

func (s *SQLiteStorage) ListLanguages(ctx context.Context) ([]*models.Language, error) {
	return s.queryLanguages(ctx, `SELECT id, code, name, is_active FROM languages ORDER BY code`)
}

func (s *SQLiteStorage) ListActiveLanguages(ctx context.Context) ([]*models.Language, error) {
	return s.queryLanguages(ctx, `SELECT id, code, name, is_active FROM languages WHERE is_active = 1 ORDER BY code`)
}

func (s *SQLiteStorage) queryLanguages(ctx context.Context, query string) ([]*models.Language, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var langs []*models.Language
	for rows.Next() {
		lang := &models.Language{}
		if err := rows.Scan(&lang.ID, &lang.Code, &lang.Name, &lang.IsActive); err != nil {
			return nil, err
		}
		langs = append(langs, lang)
	}
	return langs, rows.Err()
}

func (s *SQLiteStorage) SetLanguageActive(ctx context.Context, code string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE languages SET is_active = ? WHERE code = ?`, active, code)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) CreateSession(ctx context.Context, session *models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.TeacherID, session.ClassCode, session.TeacherLanguage, session.StudentLanguage,
		session.StartTime, session.EndTime, session.LastActivityAt, session.StudentsCount, session.TotalTranslations,
		session.IsActive, session.Quality, nullableString(session.QualityReason),
	)
	return err
}

func (s *SQLiteStorage) scanSessionRow(row *sql.Row) (*models.Session, error) {
	session := &models.Session{}
	var endTime sql.NullTime
	var qualityReason sql.NullString
	err := row.Scan(&session.ID, &session.TeacherID, &session.ClassCode, &session.TeacherLanguage, &session.StudentLanguage,
		&session.StartTime, &endTime, &session.LastActivityAt, &session.StudentsCount, &session.TotalTranslations,
		&session.IsActive, &session.Quality, &qualityReason)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		session.EndTime = &endTime.Time
	}
	session.QualityReason = qualityReason.String
	return session, nil
}

func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return s.scanSessionRow(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
}

func (s *SQLiteStorage) GetMostRecentActiveSessionByTeacher(ctx context.Context, teacherID string) (*models.Session, error) {
	return s.scanSessionRow(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE teacher_id = ? AND is_active = 1 ORDER BY start_time DESC LIMIT 1`, teacherID))
}

func (s *SQLiteStorage) GetRecentlyEndedSessionByTeacher(ctx context.Context, teacherID string, within time.Duration, now time.Time) (*models.Session, error) {
	return s.scanSessionRow(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE teacher_id = ? AND is_active = 0 AND end_time >= ?
		 ORDER BY end_time DESC LIMIT 1`, teacherID, now.Add(-within)))
}

func (s *SQLiteStorage) GetActiveSessionByTeacherLanguage(ctx context.Context, teacherLanguage string, maxAge time.Duration, now time.Time) (*models.Session, error) {
	return s.scanSessionRow(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE teacher_language = ? AND is_active = 1 AND start_time >= ?
		 ORDER BY start_time DESC LIMIT 1`, teacherLanguage, now.Add(-maxAge)))
}

func (s *SQLiteStorage) UpdateSession(ctx context.Context, session *models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET class_code = ?, teacher_language = ?, student_language = ?, end_time = ?,
			last_activity_at = ?, students_count = ?, total_translations = ?, is_active = ?,
			quality = ?, quality_reason = ?
		 WHERE id = ?`,
		session.ClassCode, session.TeacherLanguage, session.StudentLanguage, session.EndTime,
		session.LastActivityAt, session.StudentsCount, session.TotalTranslations, session.IsActive,
		session.Quality, nullableString(session.QualityReason), session.ID,
	)
	return err
}

func (s *SQLiteStorage) ListSessions(ctx context.Context, limit, offset int) ([]*models.Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY start_time DESC LIMIT ? OFFSET ?`, limit, offset)
}

func (s *SQLiteStorage) ListActiveSessions(ctx context.Context) ([]*models.Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE is_active = 1`)
}

func (s *SQLiteStorage) querySessions(ctx context.Context, query string, args ...interface{}) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		var endTime sql.NullTime
		var qualityReason sql.NullString
		if err := rows.Scan(&session.ID, &session.TeacherID, &session.ClassCode, &session.TeacherLanguage, &session.StudentLanguage,
			&session.StartTime, &endTime, &session.LastActivityAt, &session.StudentsCount, &session.TotalTranslations,
			&session.IsActive, &session.Quality, &qualityReason); err != nil {
			return nil, err
		}
		if endTime.Valid {
			session.EndTime = &endTime.Time
		}
		session.QualityReason = qualityReason.String
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStorage) CountTranscriptsBySession(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcripts WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}

func (s *SQLiteStorage) CreateTranscript(ctx context.Context, t *models.Transcript) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (id, session_id, language, text, timestamp) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Language, t.Text, t.Timestamp,
	)
	return err
}

func (s *SQLiteStorage) ListTranscriptsBySession(ctx context.Context, sessionID string) ([]*models.Transcript, error) {
	return s.queryTranscripts(ctx,
		`SELECT id, session_id, language, text, timestamp FROM transcripts WHERE session_id = ? ORDER BY timestamp`, sessionID)
}

func (s *SQLiteStorage) ListTranscriptsBySessionAndLanguage(ctx context.Context, sessionID, language string) ([]*models.Transcript, error) {
	return s.queryTranscripts(ctx,
		`SELECT id, session_id, language, text, timestamp FROM transcripts WHERE session_id = ? AND language = ? ORDER BY timestamp`,
		sessionID, language)
}

func (s *SQLiteStorage) queryTranscripts(ctx context.Context, query string, args ...interface{}) ([]*models.Transcript, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Transcript
	for rows.Next() {
		t := &models.Transcript{}
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Language, &t.Text, &t.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) CreateTranslation(ctx context.Context, t *models.Translation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO translations (id, session_id, source_language, target_language, original_text, translated_text, latency_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.SourceLanguage, t.TargetLanguage, t.OriginalText, t.TranslatedText, t.LatencyMs, t.Timestamp,
	)
	return err
}

func (s *SQLiteStorage) ListTranslationsBySession(ctx context.Context, sessionID string) ([]*models.Translation, error) {
	return s.queryTranslations(ctx,
		`SELECT id, session_id, source_language, target_language, original_text, translated_text, latency_ms, timestamp
		 FROM translations WHERE session_id = ? ORDER BY timestamp`, sessionID)
}

func (s *SQLiteStorage) ListTranslationsByLanguage(ctx context.Context, language string, limit int) ([]*models.Translation, error) {
	return s.queryTranslations(ctx,
		`SELECT id, session_id, source_language, target_language, original_text, translated_text, latency_ms, timestamp
		 FROM translations WHERE target_language = ? ORDER BY timestamp DESC LIMIT ?`, language, limit)
}

func (s *SQLiteStorage) queryTranslations(ctx context.Context, query string, args ...interface{}) ([]*models.Translation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Translation
	for rows.Next() {
		t := &models.Translation{}
		if err := rows.Scan(&t.ID, &t.SessionID, &t.SourceLanguage, &t.TargetLanguage, &t.OriginalText, &t.TranslatedText, &t.LatencyMs, &t.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
