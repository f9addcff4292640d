package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/classlingo/relay/pkg/models"
)

// MemoryStorage is an in-process Storage implementation with no external
// dependencies, used by unit tests for components that depend on the
// Durable Store without exercising a real database driver.
type MemoryStorage struct {
	mu           sync.RWMutex
	users        map[string]*models.User
	languages    map[string]*models.Language
	sessions     map[string]*models.Session
	transcripts  map[string][]*models.Transcript
	translations map[string][]*models.Translation
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:        make(map[string]*models.User),
		languages:    make(map[string]*models.Language),
		sessions:     make(map[string]*models.Session),
		transcripts:  make(map[string][]*models.Transcript),
		translations: make(map[string][]*models.Translation),
	}
}

func (m *MemoryStorage) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[user.Username]; exists {
		return models.ErrDuplicateUser
	}
	cp := *user
	m.users[user.Username] = &cp
	return nil
}

func (m *MemoryStorage) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStorage) UpdateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Username]; !ok {
		return ErrNotFound
	}
	cp := *user
	m.users[user.Username] = &cp
	return nil
}

func (m *MemoryStorage) UpsertLanguage(_ context.Context, lang *models.Language) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.languages[lang.Code]
	if ok {
		existing.Name = lang.Name
		return nil
	}
	cp := *lang
	if cp.ID == 0 {
		cp.ID = int64(len(m.languages) + 1)
	}
	m.languages[lang.Code] = &cp
	return nil
}

func (m *MemoryStorage) GetLanguageByCode(_ context.Context, code string) (*models.Language, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.languages[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStorage) ListLanguages(_ context.Context) ([]*models.Language, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Language, 0, len(m.languages))
	for _, l := range m.languages {
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStorage) ListActiveLanguages(ctx context.Context) ([]*models.Language, error) {
	all, err := m.ListLanguages(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Language, 0, len(all))
	for _, l := range all {
		if l.IsActive {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemoryStorage) SetLanguageActive(_ context.Context, code string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.languages[code]
	if !ok {
		return ErrNotFound
	}
	l.IsActive = active
	return nil
}

func (m *MemoryStorage) CreateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryStorage) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStorage) GetMostRecentActiveSessionByTeacher(_ context.Context, teacherID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *models.Session
	for _, s := range m.sessions {
		if s.TeacherID != teacherID || !s.IsActive {
			continue
		}
		if best == nil || s.StartTime.After(best.StartTime) {
			best = s
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *MemoryStorage) GetRecentlyEndedSessionByTeacher(_ context.Context, teacherID string, within time.Duration, now time.Time) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := now.Add(-within)
	var best *models.Session
	for _, s := range m.sessions {
		if s.TeacherID != teacherID || s.IsActive || s.EndTime == nil || s.EndTime.Before(cutoff) {
			continue
		}
		if best == nil || s.EndTime.After(*best.EndTime) {
			best = s
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *MemoryStorage) GetActiveSessionByTeacherLanguage(_ context.Context, teacherLanguage string, maxAge time.Duration, now time.Time) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := now.Add(-maxAge)
	var best *models.Session
	for _, s := range m.sessions {
		if s.TeacherLanguage != teacherLanguage || !s.IsActive || s.StartTime.Before(cutoff) {
			continue
		}
		if best == nil || s.StartTime.After(best.StartTime) {
			best = s
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *MemoryStorage) UpdateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryStorage) ListSessions(_ context.Context, limit, offset int) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MemoryStorage) ListActiveSessions(_ context.Context) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Session
	for _, s := range m.sessions {
		if s.IsActive {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStorage) CountTranscriptsBySession(_ context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transcripts[sessionID]), nil
}

func (m *MemoryStorage) CreateTranscript(_ context.Context, t *models.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.transcripts[t.SessionID] = append(m.transcripts[t.SessionID], &cp)
	return nil
}

func (m *MemoryStorage) ListTranscriptsBySession(_ context.Context, sessionID string) ([]*models.Transcript, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*models.Transcript(nil), m.transcripts[sessionID]...), nil
}

func (m *MemoryStorage) ListTranscriptsBySessionAndLanguage(_ context.Context, sessionID, language string) ([]*models.Transcript, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Transcript
	for _, t := range m.transcripts[sessionID] {
		if t.Language == language {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStorage) CreateTranslation(_ context.Context, t *models.Translation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.translations[t.SessionID] = append(m.translations[t.SessionID], &cp)
	return nil
}

func (m *MemoryStorage) ListTranslationsBySession(_ context.Context, sessionID string) ([]*models.Translation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*models.Translation(nil), m.translations[sessionID]...), nil
}

func (m *MemoryStorage) ListTranslationsByLanguage(_ context.Context, language string, limit int) ([]*models.Translation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Translation
	for _, list := range m.translations {
		for _, t := range list {
			if t.TargetLanguage == language {
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStorage) Ping(context.Context) error { return nil }
func (m *MemoryStorage) Close() error               { return nil }
