package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// registers the "postgres" sql.DB driver
	_ "github.com/lib/pq"

	"github.com/classlingo/relay/pkg/models"
)

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage opens a PostgreSQL-backed Storage and initializes its schema.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	s := &PostgresStorage{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT NOT NULL,
		password TEXT NOT NULL,
		roles TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS languages (
		id SERIAL PRIMARY KEY,
		code TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		teacher_id TEXT NOT NULL,
		class_code TEXT,
		teacher_language TEXT,
		student_language TEXT,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP,
		last_activity_at TIMESTAMP NOT NULL,
		students_count INTEGER NOT NULL DEFAULT 0,
		total_translations INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT true,
		quality TEXT NOT NULL DEFAULT 'unknown',
		quality_reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_teacher_active ON sessions(teacher_id, is_active);
	CREATE INDEX IF NOT EXISTS idx_sessions_start_time ON sessions(start_time DESC);

	CREATE TABLE IF NOT EXISTS transcripts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		language TEXT NOT NULL,
		text TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id, timestamp);

	CREATE TABLE IF NOT EXISTS translations (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		source_language TEXT NOT NULL,
		target_language TEXT NOT NULL,
		original_text TEXT NOT NULL,
		translated_text TEXT NOT NULL,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_translations_session ON translations(session_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_translations_target_language ON translations(target_language, timestamp DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStorage) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	_, err := execWithRetry(ctx, s.db,
		`INSERT INTO users (id, username, email, password, roles, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Username, user.Email, user.Password, joinRoles(user.Roles), user.IsActive, user.CreatedAt, user.UpdatedAt,
	)
	return err
}

func (s *PostgresStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	var roles string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password, roles, is_active, created_at, updated_at
		 FROM users WHERE username = $1`, username,
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

func (s *PostgresStorage) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()
	_, err := execWithRetry(ctx, s.db,
		`UPDATE users SET email = $1, password = $2, roles = $3, is_active = $4, updated_at = $5 WHERE id = $6`,
		user.Email, user.Password, joinRoles(user.Roles), user.IsActive, user.UpdatedAt, user.ID,
	)
	return err
}

func (s *PostgresStorage) UpsertLanguage(ctx context.Context, lang *models.Language) error {
	_, err := execWithRetry(ctx, s.db,
		`INSERT INTO languages (code, name, is_active) VALUES ($1, $2, $3)
		 ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name`,
		lang.Code, lang.Name, lang.IsActive,
	)
	return err
}

func (s *PostgresStorage) GetLanguageByCode(ctx context.Context, code string) (*models.Language, error) {
	lang := &models.Language{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, name, is_active FROM languages WHERE code = $1`, code,
	).Scan(&lang.ID, &lang.Code, &lang.Name, &lang.IsActive)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return lang, nil
}

func (s *PostgresStorage) ListLanguages(ctx context.Context) ([]*models.Language, error) {
	return s.queryLanguages(ctx, `SELECT id, code, name, is_active FROM languages ORDER BY code`)
}

func (s *PostgresStorage) ListActiveLanguages(ctx context.Context) ([]*models.Language, error) {
	return s.queryLanguages(ctx, `SELECT id, code, name, is_active FROM languages WHERE is_active = true ORDER BY code`)
}

func (s *PostgresStorage) queryLanguages(ctx context.Context, query string) ([]*models.Language, error) {
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

func (s *PostgresStorage) SetLanguageActive(ctx context.Context, code string, active bool) error {
	res, err := execWithRetry(ctx, s.db, `UPDATE languages SET is_active = $1 WHERE code = $2`, active, code)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const sessionColumns = `id, teacher_id, class_code, teacher_language, student_language, start_time, end_time,
	last_activity_at, students_count, total_translations, is_active, quality, quality_reason`

func (s *PostgresStorage) CreateSession(ctx context.Context, session *models.Session) error {
	_, err := execWithRetry(ctx, s.db,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		session.ID, session.TeacherID, session.ClassCode, session.TeacherLanguage, session.StudentLanguage,
		session.StartTime, session.EndTime, session.LastActivityAt, session.StudentsCount, session.TotalTranslations,
		session.IsActive, session.Quality, nullableString(session.QualityReason),
	)
	return err
}

func (s *PostgresStorage) scanSessionRow(row *sql.Row) (*models.Session, error) {
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

func (s *PostgresStorage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return s.scanSessionRow(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

func (s *PostgresStorage) GetMostRecentActiveSessionByTeacher(ctx context.Context, teacherID string) (*models.Session, error) {
	return s.scanSessionRow(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE teacher_id = $1 AND is_active = true ORDER BY start_time DESC LIMIT 1`, teacherID))
}

func (s *PostgresStorage) GetRecentlyEndedSessionByTeacher(ctx context.Context, teacherID string, within time.Duration, now time.Time) (*models.Session, error) {
	return s.scanSessionRow(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE teacher_id = $1 AND is_active = false AND end_time >= $2
		 ORDER BY end_time DESC LIMIT 1`, teacherID, now.Add(-within)))
}

func (s *PostgresStorage) GetActiveSessionByTeacherLanguage(ctx context.Context, teacherLanguage string, maxAge time.Duration, now time.Time) (*models.Session, error) {
	return s.scanSessionRow(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE teacher_language = $1 AND is_active = true AND start_time >= $2
		 ORDER BY start_time DESC LIMIT 1`, teacherLanguage, now.Add(-maxAge)))
}

func (s *PostgresStorage) UpdateSession(ctx context.Context, session *models.Session) error {
	_, err := execWithRetry(ctx, s.db,
		`UPDATE sessions SET class_code = $1, teacher_language = $2, student_language = $3, end_time = $4,
			last_activity_at = $5, students_count = $6, total_translations = $7, is_active = $8,
			quality = $9, quality_reason = $10
		 WHERE id = $11`,
		session.ClassCode, session.TeacherLanguage, session.StudentLanguage, session.EndTime,
		session.LastActivityAt, session.StudentsCount, session.TotalTranslations, session.IsActive,
		session.Quality, nullableString(session.QualityReason), session.ID,
	)
	return err
}

func (s *PostgresStorage) ListSessions(ctx context.Context, limit, offset int) ([]*models.Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY start_time DESC LIMIT $1 OFFSET $2`, limit, offset)
}

func (s *PostgresStorage) ListActiveSessions(ctx context.Context) ([]*models.Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE is_active = true`)
}

func (s *PostgresStorage) querySessions(ctx context.Context, query string, args ...interface{}) ([]*models.Session, error) {
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

func (s *PostgresStorage) CountTranscriptsBySession(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcripts WHERE session_id = $1`, sessionID).Scan(&count)
	return count, err
}

func (s *PostgresStorage) CreateTranscript(ctx context.Context, t *models.Transcript) error {
	_, err := execWithRetry(ctx, s.db,
		`INSERT INTO transcripts (id, session_id, language, text, timestamp) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.SessionID, t.Language, t.Text, t.Timestamp,
	)
	return err
}

func (s *PostgresStorage) ListTranscriptsBySession(ctx context.Context, sessionID string) ([]*models.Transcript, error) {
	return s.queryTranscripts(ctx,
		`SELECT id, session_id, language, text, timestamp FROM transcripts WHERE session_id = $1 ORDER BY timestamp`, sessionID)
}

func (s *PostgresStorage) ListTranscriptsBySessionAndLanguage(ctx context.Context, sessionID, language string) ([]*models.Transcript, error) {
	return s.queryTranscripts(ctx,
		`SELECT id, session_id, language, text, timestamp FROM transcripts WHERE session_id = $1 AND language = $2 ORDER BY timestamp`,
		sessionID, language)
}

func (s *PostgresStorage) queryTranscripts(ctx context.Context, query string, args ...interface{}) ([]*models.Transcript, error) {
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

func (s *PostgresStorage) CreateTranslation(ctx context.Context, t *models.Translation) error {
	_, err := execWithRetry(ctx, s.db,
		`INSERT INTO translations (id, session_id, source_language, target_language, original_text, translated_text, latency_ms, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.SessionID, t.SourceLanguage, t.TargetLanguage, t.OriginalText, t.TranslatedText, t.LatencyMs, t.Timestamp,
	)
	return err
}

func (s *PostgresStorage) ListTranslationsBySession(ctx context.Context, sessionID string) ([]*models.Translation, error) {
	return s.queryTranslations(ctx,
		`SELECT id, session_id, source_language, target_language, original_text, translated_text, latency_ms, timestamp
		 FROM translations WHERE session_id = $1 ORDER BY timestamp`, sessionID)
}

func (s *PostgresStorage) ListTranslationsByLanguage(ctx context.Context, language string, limit int) ([]*models.Translation, error) {
	return s.queryTranslations(ctx,
		`SELECT id, session_id, source_language, target_language, original_text, translated_text, latency_ms, timestamp
		 FROM translations WHERE target_language = $1 ORDER BY timestamp DESC LIMIT $2`, language, limit)
}

func (s *PostgresStorage) queryTranslations(ctx context.Context, query string, args ...interface{}) ([]*models.Translation, error) {
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

func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
