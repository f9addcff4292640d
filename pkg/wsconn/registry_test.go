package wsconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConn(id string) *Conn {
	return &Conn{ID: id, Send: make(chan []byte, 4)}
}

func TestAddGetRemove(t *testing.T) {
	r := New()
	r.Add(newConn("c1"))

	c, ok := r.Get("c1")
	require.True(t, ok)
	assert.True(t, c.IsAlive)

	r.Remove("c1")
	_, ok = r.Get("c1")
	assert.False(t, ok)
}

func TestSetRoleLanguageSessionClassroomCode(t *testing.T) {
	r := New()
	r.Add(newConn("c1"))

	r.SetRole("c1", RoleTeacher)
	r.SetLanguage("c1", "en-US")
	r.SetSessionID("c1", "s1")
	r.SetClassroomCode("c1", "ABC123")
	r.SetClientSettings("c1", map[string]interface{}{"useClientSpeech": true})

	c, _ := r.Get("c1")
	assert.Equal(t, RoleTeacher, c.Role)
	assert.Equal(t, "en-US", c.Language)
	assert.Equal(t, "s1", c.SessionID)
	assert.Equal(t, "ABC123", c.ClassroomCode)
	assert.Equal(t, true, c.ClientSettings["useClientSpeech"])
}

func TestStudentCountedToggle(t *testing.T) {
	r := New()
	r.Add(newConn("c1"))

	assert.False(t, r.IsStudentCounted("c1"))
	r.SetStudentCounted("c1", true)
	assert.True(t, r.IsStudentCounted("c1"))
	r.SetStudentCounted("c1", false)
	assert.False(t, r.IsStudentCounted("c1"))
}

func TestStudentsBySessionAndLanguages(t *testing.T) {
	r := New()

	teacher := newConn("t1")
	teacher.Role = RoleTeacher
	teacher.SessionID = "s1"
	r.Add(teacher)

	s1 := newConn("s1conn")
	s1.Role = RoleStudent
	s1.SessionID = "s1"
	s1.Language = "es"
	s1.StudentCounted = true
	r.Add(s1)

	s2 := newConn("s2conn")
	s2.Role = RoleStudent
	s2.SessionID = "s1"
	s2.Language = "fr"
	s2.StudentCounted = true
	r.Add(s2)

	s3 := newConn("s3conn")
	s3.Role = RoleStudent
	s3.SessionID = "other-session"
	s3.Language = "es"
	r.Add(s3)

	students := r.StudentsBySession("s1")
	assert.Len(t, students, 2)

	langs := r.StudentLanguagesBySession("s1")
	assert.ElementsMatch(t, []string{"es", "fr"}, langs)

	assert.Equal(t, 2, r.CountStudents("s1"))
}

func TestTouchActivityAndAll(t *testing.T) {
	r := New()
	r.Add(newConn("c1"))
	r.Add(newConn("c2"))

	now := time.Now()
	r.TouchActivity("c1", now)

	c, _ := r.Get("c1")
	assert.Equal(t, now, c.LastActivityUpdate)
	assert.Len(t, r.All(), 2)
}

func TestSetAliveMarksLiveness(t *testing.T) {
	r := New()
	r.Add(newConn("c1"))

	r.SetAlive("c1", false)
	c, _ := r.Get("c1")
	assert.False(t, c.IsAlive)
}
