package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlingo/relay/pkg/activecount"
	"github.com/classlingo/relay/pkg/classroom"
	"github.com/classlingo/relay/pkg/models"
	"github.com/classlingo/relay/pkg/security"
	"github.com/classlingo/relay/pkg/storage"
)

func newTestServer(t *testing.T, enableAdmin bool) (http.Handler, storage.Storage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	cache := activecount.New(store, time.Hour, nil)
	cache.Start(context.Background())

	apiKeys := security.NewAPIKeyStore()
	apiKeys.AddKey("test-operator-key", security.APIKeyInfo{
		Key: "test-operator-key", UserID: "operator-1", Active: true, CreatedAt: time.Now(),
	})

	router := New(Config{
		Store:          store,
		ActiveCount:    cache,
		Classroom:      classroom.New(time.Hour, nil),
		Auth:           security.NewAuthService("test-secret-at-least-16-bytes", time.Hour),
		APIKeys:        apiKeys,
		EnableAdmin:    enableAdmin,
		CORSOrigins:    []string{"*"},
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	})
	return router, store
}

func doJSON(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsStatusAndCounts(t *testing.T) {
	router, store := newTestServer(t, false)
	require.NoError(t, store.CreateSession(context.Background(), &models.Session{
		ID: "s1", StartTime: time.Now(), LastActivityAt: time.Now(), IsActive: true, StudentsCount: 3,
	}))

	rec := doJSON(router, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["classroomCodeCollisionRetries"])
}

func TestListLanguages(t *testing.T) {
	router, store := newTestServer(t, false)
	require.NoError(t, store.UpsertLanguage(context.Background(), &models.Language{Code: "en", Name: "English", IsActive: true}))

	rec := doJSON(router, http.MethodGet, "/api/languages", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "English")
}

func TestSetLanguageStatusRequiresAdminWhenEnabled(t *testing.T) {
	router, store := newTestServer(t, true)
	require.NoError(t, store.UpsertLanguage(context.Background(), &models.Language{Code: "en", Name: "English", IsActive: true}))

	rec := doJSON(router, http.MethodPut, "/api/languages/en/status", map[string]interface{}{"isActive": false})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSetLanguageStatusSucceedsWithValidToken(t *testing.T) {
	router, store := newTestServer(t, true)
	require.NoError(t, store.UpsertLanguage(context.Background(), &models.Language{Code: "en", Name: "English", IsActive: true}))

	auth := security.NewAuthService("test-secret-at-least-16-bytes", time.Hour)
	token, err := auth.GenerateToken("admin1", "admin", []string{"admin"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/api/languages/en/status", bytes.NewBufferString(`{"isActive":false}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	lang, err := store.GetLanguageByCode(context.Background(), "en")
	require.NoError(t, err)
	assert.False(t, lang.IsActive)
}

func TestSetLanguageStatusSucceedsWithValidAPIKey(t *testing.T) {
	router, store := newTestServer(t, true)
	require.NoError(t, store.UpsertLanguage(context.Background(), &models.Language{Code: "en", Name: "English", IsActive: true}))

	req := httptest.NewRequest(http.MethodPut, "/api/languages/en/status", bytes.NewBufferString(`{"isActive":false}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "test-operator-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetLanguageStatusRejectsUnknownAPIKey(t *testing.T) {
	router, store := newTestServer(t, true)
	require.NoError(t, store.UpsertLanguage(context.Background(), &models.Language{Code: "en", Name: "English", IsActive: true}))

	req := httptest.NewRequest(http.MethodPut, "/api/languages/en/status", bytes.NewBufferString(`{"isActive":false}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "not-a-real-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndListTranslations(t *testing.T) {
	router, _ := newTestServer(t, false)

	rec := doJSON(router, http.MethodPost, "/api/translations", map[string]interface{}{
		"sessionId": "s1", "sourceLanguage": "en", "targetLanguage": "es",
		"originalText": "hello", "translatedText": "hola", "latencyMs": 120,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(router, http.MethodGet, "/api/translations/es?limit=10", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hola")
}

func TestCreateAndListTranscripts(t *testing.T) {
	router, _ := newTestServer(t, false)

	rec := doJSON(router, http.MethodPost, "/api/transcripts", map[string]interface{}{
		"sessionId": "s1", "language": "en", "text": "hello class",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(router, http.MethodGet, "/api/transcripts/s1/en", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello class")
}
