package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classlingo/relay/pkg/models"
	"github.com/classlingo/relay/pkg/storage"
)

func (s *Server) health(c *gin.Context) {
	snapshot := s.activeCount.Get()

	dbStatus := "ok"
	if _, err := s.store.ListActiveSessions(c.Request.Context()); err != nil {
		dbStatus = "unavailable"
	}

	body := gin.H{
		"status":         "ok",
		"version":        version,
		"database":       dbStatus,
		"activeSessions": snapshot.ActiveSessions,
		// one teacher per session, so the counts mirror each other
		"activeTeachers": snapshot.ActiveSessions,
		"activeStudents": snapshot.TotalStudents,
		"uptime":         time.Since(s.startedAt).String(),
	}
	if s.classroom != nil {
		body["classroomCodeCollisionRetries"] = s.classroom.CollisionRetries()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) listLanguages(c *gin.Context) {
	langs, err := s.store.ListLanguages(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"languages": langs})
}

func (s *Server) listActiveLanguages(c *gin.Context) {
	langs, err := s.store.ListActiveLanguages(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"languages": langs})
}

func (s *Server) setLanguageStatus(c *gin.Context) {
	code := c.Param("code")
	var req struct {
		IsActive bool `json:"isActive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.SetLanguageActive(c.Request.Context(), code, req.IsActive); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "language not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code, "isActive": req.IsActive})
}

func (s *Server) createTranslation(c *gin.Context) {
	var req struct {
		SessionID      string `json:"sessionId" binding:"required"`
		SourceLanguage string `json:"sourceLanguage" binding:"required"`
		TargetLanguage string `json:"targetLanguage" binding:"required"`
		OriginalText   string `json:"originalText" binding:"required"`
		TranslatedText string `json:"translatedText" binding:"required"`
		LatencyMs      int64  `json:"latencyMs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t := &models.Translation{
		ID:             uuid.NewString(),
		SessionID:      req.SessionID,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		OriginalText:   req.OriginalText,
		TranslatedText: req.TranslatedText,
		LatencyMs:      req.LatencyMs,
		Timestamp:      time.Now(),
	}
	if err := s.store.CreateTranslation(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) listTranslationsByLanguage(c *gin.Context) {
	language := c.Param("language")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	translations, err := s.store.ListTranslationsByLanguage(c.Request.Context(), language, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"translations": translations})
}

func (s *Server) createTranscript(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
		Language  string `json:"language" binding:"required"`
		Text      string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t := &models.Transcript{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Language:  req.Language,
		Text:      req.Text,
		Timestamp: time.Now(),
	}
	if err := s.store.CreateTranscript(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) listTranscripts(c *gin.Context) {
	sessionID := c.Param("sessionId")
	language := c.Param("language")

	transcripts, err := s.store.ListTranscriptsBySessionAndLanguage(c.Request.Context(), sessionID, language)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcripts": transcripts})
}
