package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/classlingo/relay/pkg/lifecycle"
	"github.com/classlingo/relay/pkg/models"
	"github.com/classlingo/relay/pkg/wsconn"
)

type registerFrame struct {
	Type          string                 `json:"type"`
	Role          string                 `json:"role"`
	LanguageCode  string                 `json:"languageCode"`
	Name          string                 `json:"name"`
	TeacherID     string                 `json:"teacherId"`
	ClassroomCode string                 `json:"classroomCode"`
	Settings      map[string]interface{} `json:"settings"`
}

type registerSuccessFrame struct {
	Type   string              `json:"type"`
	Status string              `json:"status"`
	Data   registerSuccessData `json:"data"`
}

type registerSuccessData struct {
	Role         string                 `json:"role"`
	LanguageCode string                 `json:"languageCode"`
	Settings     map[string]interface{} `json:"settings"`
}

type classroomCodeFrame struct {
	Type      string    `json:"type"`
	Code      string    `json:"code"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type errorFrame struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

type studentJoinedFrame struct {
	Type    string               `json:"type"`
	Payload studentJoinedPayload `json:"payload"`
}

type studentJoinedPayload struct {
	StudentID    string `json:"studentId"`
	Name         string `json:"name"`
	LanguageCode string `json:"languageCode"`
}

// Register records role/language/settings into
// the registry, then resolves or creates a session for a teacher, or
// joins a classroom for a student.
func (h *Handlers) Register(ctx context.Context, conn *wsconn.Conn, raw json.RawMessage) {
	var req registerFrame
	if err := json.Unmarshal(raw, &req); err != nil {
		h.log.Warn("handlers: failed to parse register frame", map[string]interface{}{
			"connectionId": conn.ID,
			"error":        err.Error(),
		})
		return
	}

	role := wsconn.Role(req.Role)
	h.registry.SetRole(conn.ID, role)
	if req.LanguageCode != "" {
		h.registry.SetLanguage(conn.ID, req.LanguageCode)
	}
	if req.Settings != nil {
		h.registry.SetClientSettings(conn.ID, req.Settings)
	}

	switch role {
	case wsconn.RoleTeacher:
		h.registerTeacher(ctx, conn, req)
	case wsconn.RoleStudent:
		h.registerStudent(ctx, conn, req)
	default:
		h.log.Warn("handlers: register with unrecognized role", map[string]interface{}{"role": req.Role})
		return
	}

	h.send(conn, registerSuccessFrame{
		Type:   "register",
		Status: "success",
		Data: registerSuccessData{
			Role:         req.Role,
			LanguageCode: req.LanguageCode,
			Settings:     req.Settings,
		},
	})
}

func (h *Handlers) registerTeacher(ctx context.Context, conn *wsconn.Conn, req registerFrame) {
	now := time.Now()
	teacherID := req.TeacherID
	if teacherID == "" {
		teacherID = newID()
	}
	h.recordHadTeacherID(conn, req.TeacherID != "")

	resolution, err := h.lifecycle.ResolveTeacherSession(ctx, req.TeacherID, req.LanguageCode, now)
	if err != nil {
		h.log.Error("handlers: failed to resolve teacher session", map[string]interface{}{"error": err.Error()})
		return
	}

	var session *models.Session
	switch resolution.Action {
	case lifecycle.ActionReuse:
		session, err = h.store.GetSession(ctx, resolution.SessionID)
	case lifecycle.ActionReactivate:
		session, err = h.store.GetSession(ctx, resolution.SessionID)
		if err == nil {
			session.Reactivate(now)
			err = h.store.UpdateSession(ctx, session)
		}
	}
	if err != nil {
		h.log.Error("handlers: failed to load resolved session", map[string]interface{}{"error": err.Error()})
		return
	}

	if session != nil {
		h.reseatTeacherConnection(ctx, conn, session, now)
	} else {
		if req.TeacherID == "" && req.LanguageCode != "" {
			h.endStaleLanguageSessions(ctx, req.LanguageCode, now)
		}
		session = h.createTeacherSession(ctx, conn, teacherID, req, now)
	}
	if session == nil {
		return
	}

	code, expiresAt := h.ensureClassroomCode(session)
	h.send(conn, classroomCodeFrame{Type: "classroom_code", Code: code, SessionID: session.ID, ExpiresAt: expiresAt})
}

// reseatTeacherConnection ends the connection's prior empty session (if
// any) and re-homes it onto session, restoring its classroom code into
// the Directory.
func (h *Handlers) reseatTeacherConnection(ctx context.Context, conn *wsconn.Conn, session *models.Session, now time.Time) {
	if conn.SessionID != "" && conn.SessionID != session.ID {
		if old, err := h.store.GetSession(ctx, conn.SessionID); err == nil && old.IsActive && old.StudentsCount == 0 {
			old.End(now, models.QualityNoStudents, "teacher reconnected to a different session")
			if err := h.store.UpdateSession(ctx, old); err != nil {
				h.log.Error("handlers: failed to end stale empty session", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	h.registry.SetSessionID(conn.ID, session.ID)
	if session.ClassCode != "" {
		h.classroom.Restore(session.ClassCode, session.ID)
		h.registry.SetClassroomCode(conn.ID, session.ClassCode)
	}
}

// endStaleLanguageSessions ends active sessions that share teacherLanguage
// but fell outside the reconnection grace period, per the
// "Older matches are ended with reason 'Teacher created new session'".
func (h *Handlers) endStaleLanguageSessions(ctx context.Context, language string, now time.Time) {
	sessions, err := h.store.ListActiveSessions(ctx)
	if err != nil {
		return
	}
	for _, s := range sessions {
		if s.TeacherLanguage != language {
			continue
		}
		s.End(now, models.QualityUnknown, "Teacher created new session")
		if err := h.store.UpdateSession(ctx, s); err != nil {
			h.log.Error("handlers: failed to end stale language session", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (h *Handlers) createTeacherSession(ctx context.Context, conn *wsconn.Conn, teacherID string, req registerFrame, now time.Time) *models.Session {
	session := &models.Session{
		ID:              newID(),
		TeacherID:       teacherID,
		TeacherLanguage: req.LanguageCode,
		StartTime:       now,
		LastActivityAt:  now,
		IsActive:        true,
		Quality:         models.QualityUnknown,
	}

	code, err := h.classroom.CreateOrReuse(session.ID)
	if err != nil {
		h.log.Error("handlers: failed to mint classroom code", map[string]interface{}{"error": err.Error()})
	}
	session.ClassCode = code

	if err := h.store.CreateSession(ctx, session); err != nil {
		h.log.Error("handlers: failed to persist new session", map[string]interface{}{"error": err.Error()})
		return nil
	}

	h.registry.SetSessionID(conn.ID, session.ID)
	h.registry.SetClassroomCode(conn.ID, code)
	return session
}

// recordHadTeacherID stashes whether the register frame carried an
// explicit teacherId, so the gateway's disconnect handling can apply the
// lifecycle manager's "no explicit teacherId and very short" rule.
func (h *Handlers) recordHadTeacherID(conn *wsconn.Conn, had bool) {
	if conn.ClientSettings == nil {
		conn.ClientSettings = map[string]interface{}{}
	}
	conn.ClientSettings[wsconn.HadTeacherIDSettingsKey] = had
	h.registry.SetClientSettings(conn.ID, conn.ClientSettings)
}

func (h *Handlers) ensureClassroomCode(session *models.Session) (string, time.Time) {
	if session.ClassCode == "" {
		if code, err := h.classroom.CreateOrReuse(session.ID); err == nil {
			session.ClassCode = code
		}
	}
	if entry, ok := h.classroom.GetByCode(session.ClassCode); ok {
		return entry.Code, entry.ExpiresAt
	}
	return session.ClassCode, time.Time{}
}

// registerStudent validates an
// optional classroom code, re-home the connection to the teacher's
// session, update student-count bookkeeping, and announce the join.
func (h *Handlers) registerStudent(ctx context.Context, conn *wsconn.Conn, req registerFrame) {
	now := time.Now()

	code := req.ClassroomCode
	if code == "" {
		code = conn.ClassroomCode
	}

	sessionID := conn.SessionID
	if code != "" {
		entry, ok := h.classroom.GetByCode(code)
		if !h.classroom.IsValid(code) || !ok {
			h.send(conn, errorFrame{Type: "error", Code: "INVALID_CLASSROOM"})
			h.scheduleClose(conn, 1008, "INVALID_CLASSROOM", h.invalidClassroomDelay)
			return
		}
		sessionID = entry.SessionID
		h.registry.SetSessionID(conn.ID, sessionID)
		h.registry.SetClassroomCode(conn.ID, code)
	}

	if sessionID == "" {
		return
	}

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		h.log.Warn("handlers: student registered against unknown session", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		return
	}

	if session.StudentsCount == 0 {
		session.StartTime = now
	}
	if !h.registry.IsStudentCounted(conn.ID) {
		session.StudentsCount++
		h.registry.SetStudentCounted(conn.ID, true)
	}
	if !session.IsActive {
		session.Reactivate(now)
	}
	if req.LanguageCode != "" {
		session.StudentLanguage = req.LanguageCode
	}
	if session.ClassCode == "" {
		session.ClassCode = code
	}
	session.LastActivityAt = now

	if err := h.store.UpdateSession(ctx, session); err != nil {
		h.log.Error("handlers: failed to persist student join", map[string]interface{}{"error": err.Error()})
		return
	}

	h.notifyTeachersStudentJoined(conn, req, sessionID)
}

func (h *Handlers) notifyTeachersStudentJoined(conn *wsconn.Conn, req registerFrame, sessionID string) {
	frame := studentJoinedFrame{
		Type: "student_joined",
		Payload: studentJoinedPayload{
			StudentID:    conn.ID,
			Name:         req.Name,
			LanguageCode: req.LanguageCode,
		},
	}
	for _, c := range h.registry.All() {
		if c.Role == wsconn.RoleTeacher && c.SessionID == sessionID {
			h.send(c, frame)
		}
	}
}

func (h *Handlers) scheduleClose(conn *wsconn.Conn, code int, reason string, delay time.Duration) {
	if h.closeConn == nil {
		return
	}
	go func() {
		time.Sleep(delay)
		h.closeConn(conn, code, reason)
	}()
}
