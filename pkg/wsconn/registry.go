// Package wsconn implements the Connection Registry:
// thread-safe, in-memory per-socket metadata keyed by connection.
package wsconn

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HadTeacherIDSettingsKey is the ClientSettings key a teacher connection's
// register handler uses to record whether its register frame carried an
// explicit teacherId. The Connection entity has no field for it, but the gateway's
// teacher-disconnect policy needs the bit, so it rides along
// in the settings map instead of growing the struct for one caller.
const HadTeacherIDSettingsKey = "__hadTeacherID"

// Role is the registered role of a connection.
type Role string

const (
	RoleUnset   Role = "unset"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Conn is a single registered WebSocket connection and its metadata.
type Conn struct {
	ID                 string
	Socket             *websocket.Conn
	Send               chan []byte
	Role               Role
	Language           string
	SessionID          string
	ClassroomCode      string
	ClientSettings     map[string]interface{}
	IsAlive            bool
	StudentCounted     bool
	LastActivityUpdate time.Time
}

// Registry is the thread-safe Connection Registry.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Add registers a new connection.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.IsAlive = true
	r.conns[c.ID] = c
}

// Remove drops a connection from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Get returns the connection for id, if registered.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// SetRole sets the role for a connection.
func (r *Registry) SetRole(id string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.Role = role
	}
}

// SetLanguage sets the language for a connection.
func (r *Registry) SetLanguage(id string, language string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.Language = language
	}
}

// SetSessionID updates the session a connection belongs to, used when
// re-homing a student connection onto the teacher's session.
func (r *Registry) SetSessionID(id string, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.SessionID = sessionID
	}
}

// SetClassroomCode sets the classroom code a connection joined through.
func (r *Registry) SetClassroomCode(id string, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.ClassroomCode = code
	}
}

// SetClientSettings replaces a connection's client settings.
func (r *Registry) SetClientSettings(id string, settings map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.ClientSettings = settings
	}
}

// IsStudentCounted reports whether the connection has already been
// counted towards its session's studentsCount.
func (r *Registry) IsStudentCounted(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return ok && c.StudentCounted
}

// SetStudentCounted marks a connection as counted (or not).
func (r *Registry) SetStudentCounted(id string, counted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.StudentCounted = counted
	}
}

// SetAlive marks liveness, used by the Connection Health Monitor (C5).
func (r *Registry) SetAlive(id string, alive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.IsAlive = alive
	}
}

// TouchActivity records the last activity-update timestamp, used by the
// dispatcher's coalesced activity updates.
func (r *Registry) TouchActivity(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.LastActivityUpdate = at
	}
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// StudentsBySession returns every student connection belonging to sessionID.
func (r *Registry) StudentsBySession(sessionID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Conn
	for _, c := range r.conns {
		if c.Role == RoleStudent && c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	return out
}

// StudentLanguagesBySession returns the distinct set of languages among
// student connections on sessionID, used to drive MT fan-out.
func (r *Registry) StudentLanguagesBySession(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, c := range r.conns {
		if c.Role != RoleStudent || c.SessionID != sessionID || c.Language == "" {
			continue
		}
		if !seen[c.Language] {
			seen[c.Language] = true
			out = append(out, c.Language)
		}
	}
	return out
}

// CountStudents returns the number of counted student connections on
// sessionID: connections with role=student, sessionId=s, and
// studentCounted=true.
func (r *Registry) CountStudents(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.conns {
		if c.Role == RoleStudent && c.SessionID == sessionID && c.StudentCounted {
			n++
		}
	}
	return n
}
