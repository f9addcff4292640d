// Package httpapi implements the thin HTTP surface that sits alongside the
// WebSocket gateway: language administration, translation and transcript
// lookups, and a health endpoint. It is deliberately separate from the
// core relay's connection handling, but required for operators and the
// classroom UI to function.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/classlingo/relay/pkg/activecount"
	"github.com/classlingo/relay/pkg/classroom"
	"github.com/classlingo/relay/pkg/logger"
	"github.com/classlingo/relay/pkg/security"
	"github.com/classlingo/relay/pkg/storage"
)

const version = "1.0.0"

// Server wires the Durable Store, Active-Count Cache, and admin auth
// into a gin.Engine of routes.
type Server struct {
	store       storage.Storage
	activeCount *activecount.Cache
	classroom   *classroom.Directory
	auth        *security.AuthService
	apiKeys     *security.APIKeyStore
	enableAdmin bool
	log         logger.Logger
	startedAt   time.Time
}

// Config bundles the Server constructor's dependencies.
type Config struct {
	Store          storage.Storage
	ActiveCount    *activecount.Cache
	Classroom      *classroom.Directory
	Auth           *security.AuthService
	APIKeys        *security.APIKeyStore
	EnableAdmin    bool
	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int
	Log            logger.Logger
}

// New builds a gin.Engine with every route registered, guarded by CORS
// and per-IP rate-limiting middleware.
func New(cfg Config) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = logger.NoOp{}
	}

	s := &Server{
		store:       cfg.Store,
		activeCount: cfg.ActiveCount,
		classroom:   cfg.Classroom,
		auth:        cfg.Auth,
		apiKeys:     cfg.APIKeys,
		enableAdmin: cfg.EnableAdmin,
		log:         log,
		startedAt:   time.Now(),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.CORSOrigins))
	router.Use(rateLimitMiddleware(security.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)))

	router.GET("/api/health", s.health)

	languages := router.Group("/api/languages")
	{
		languages.GET("", s.listLanguages)
		languages.GET("/active", s.listActiveLanguages)
		languages.PUT("/:code/status", s.adminGuard(), s.setLanguageStatus)
	}

	translations := router.Group("/api/translations")
	{
		translations.POST("", s.createTranslation)
		translations.GET("/:language", s.listTranslationsByLanguage)
	}

	transcripts := router.Group("/api/transcripts")
	{
		transcripts.POST("", s.createTranscript)
		transcripts.GET("/:sessionId/:language", s.listTranscripts)
	}

	return router
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		allowed := false
		for _, o := range origins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}
		if allowed {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func rateLimitMiddleware(limiter *security.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// adminGuard requires either a valid bearer JWT or, when an API key store
// is configured, a valid X-API-Key header — the latter is for operator
// scripts and service-to-service callers that would rather rotate a static
// key than run a login flow.
func (s *Server) adminGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.enableAdmin {
			c.Next()
			return
		}

		if key := c.GetHeader("X-API-Key"); key != "" && s.apiKeys != nil {
			if info, ok := s.apiKeys.ValidateKey(key); ok {
				c.Set("apiKeyUserID", info.UserID)
				c.Next()
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			c.Abort()
			return
		}

		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}
		if _, err := s.auth.ValidateToken(header[len(prefix):]); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		c.Next()
	}
}
