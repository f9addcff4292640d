package security

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRateLimiter_ConcurrentAccess tests thread safety of rate limiter
func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rps := 10
	burst := 5
	rl := NewRateLimiter(rps, burst)
	
	const numGoroutines = 100
	const numRequests = 10
	
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := make(map[string]int)
	
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("user%d", id)
			
			allowedCount := 0
			for j := 0; j < numRequests; j++ {
				if rl.Allow(key) {
					allowedCount++
				}
				// Small delay to avoid immediate requests
				time.Sleep(time.Millisecond)
			}
			
			mu.Lock()
			allowed[key] = allowedCount
			mu.Unlock()
		}(i)
	}
	
	wg.Wait()
	
	// Verify that rate limiting is working
	for key, count := range allowed {
		// Should be less than total requests due to rate limiting
		assert.Less(t, count, numRequests, "User %s should be rate limited", key)
	}
}

// TestRateLimiter_Cleanup tests the cleanup mechanism
func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	
	// Add some keys
	rl.Allow("user1")
	rl.Allow("user2")
	rl.Allow("user3")
	
	// Wait for cleanup interval (shorter in tests)
	// Note: This is hard to test without modifying the cleanup interval
	// We just verify the method exists and doesn't panic
	
	// After cleanup, should still work
	assert.True(t, rl.Allow("user4"))
}

// TestAuthService_ConcurrentTokenGeneration tests thread safety of auth service
func TestAuthService_ConcurrentTokenGeneration(t *testing.T) {
	auth := NewAuthService("this-is-a-valid-secret-key-for-testing", time.Hour)
	
	const numGoroutines = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	tokens := make(map[string]string)
	
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			userID := fmt.Sprintf("user%d", id)
			token, err := auth.GenerateToken(userID, fmt.Sprintf("user%d", id), []string{"user"})
			
			if err == nil {
				mu.Lock()
				tokens[userID] = token
				mu.Unlock()
			}
		}(i)
	}
	
	wg.Wait()
	
	// All tokens should be unique and valid
	tokenStrings := make(map[string]bool)
	for userID, token := range tokens {
		// Verify token is unique
		assert.NotEmpty(t, token)
		assert.False(t, tokenStrings[token], "Token should be unique for user %s", userID)
		tokenStrings[token] = true
		
		// Verify token is valid
		claims, err := auth.ValidateToken(token)
		assert.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
	}
}

// TestAuthService_EdgeCases tests edge cases for auth service
func TestAuthService_EdgeCases(t *testing.T) {
	auth := NewAuthService("this-is-a-valid-secret-key-for-testing", time.Hour)
	
	t.Run("Empty roles array", func(t *testing.T) {
		token, err := auth.GenerateToken("user123", "testuser", []string{})
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		
		claims, err := auth.ValidateToken(token)
		assert.NoError(t, err)
		assert.Equal(t, []string{}, claims.Roles)
	})
	
	t.Run("Nil roles array", func(t *testing.T) {
		token, err := auth.GenerateToken("user123", "testuser", nil)
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		
		claims, err := auth.ValidateToken(token)
		assert.NoError(t, err)
		assert.Nil(t, claims.Roles)
	})
	
	t.Run("Very short TTL", func(t *testing.T) {
		authShortTTL := NewAuthService("test-secret-key-16-chars", time.Nanosecond)
		token, err := authShortTTL.GenerateToken("user123", "testuser", []string{"user"})
		require.NoError(t, err)
		
		// Wait for token to expire
		time.Sleep(time.Millisecond * 10)
		
		_, err = authShortTTL.ValidateToken(token)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "expired")
	})
}

// TestRateLimiter_Wait tests the Wait method
func TestRateLimiter_Wait(t *testing.T) {
	rps := 5
	burst := 10
	rl := NewRateLimiter(rps, burst)
	
	key := "test-user"
	
	// Test Wait method - should not panic
	// We'll verify it doesn't block indefinitely by adding a timeout
	done := make(chan bool, 1)
	go func() {
		rl.Wait(key)
		done <- true
	}()
	
	select {
	case <-done:
		// Test passed - Wait completed
	case <-time.After(time.Second):
		t.Error("Wait method blocked indefinitely")
	}
}

// TestRateLimiter_KeyManagement tests internal key management
func TestRateLimiter_KeyManagement(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	
	// Test with different types of keys
	keys := []string{
		"user123",
		"ip:192.168.1.1",
		"api-key:abc123",
		"session:xyz789",
		"",
	}
	
	for _, key := range keys {
		// Should not panic with any key type
		assert.True(t, rl.Allow(key), "Should allow request for key: %s", key)
	}
}

// TestAPIKeyStore_Lifecycle tests adding, validating, and revoking a key
func TestAPIKeyStore_Lifecycle(t *testing.T) {
	store := NewAPIKeyStore()

	key, err := GenerateAPIKey()
	require.NoError(t, err)
	store.AddKey(key, APIKeyInfo{Key: key, UserID: "operator-1", Active: true, CreatedAt: time.Now()})

	info, ok := store.ValidateKey(key)
	require.True(t, ok)
	assert.Equal(t, "operator-1", info.UserID)

	store.RevokeKey(key)
	_, ok = store.ValidateKey(key)
	assert.False(t, ok)

	_, ok = store.ValidateKey("never-added")
	assert.False(t, ok)
}

// TestAPIKeyStore_ExpiredKeyIsRejected tests that a key past its ExpiresAt fails validation
func TestAPIKeyStore_ExpiredKeyIsRejected(t *testing.T) {
	store := NewAPIKeyStore()
	expired := time.Now().Add(-time.Hour)
	store.AddKey("stale-key", APIKeyInfo{Key: "stale-key", UserID: "operator-1", Active: true, ExpiresAt: &expired})

	_, ok := store.ValidateKey("stale-key")
	assert.False(t, ok)
}

// TestJWTToken_Parsing tests JWT token parsing edge cases
func TestJWTToken_Parsing(t *testing.T) {
	auth := NewAuthService("test-secret-key-16-chars", time.Hour)
	
	t.Run("Invalid token format", func(t *testing.T) {
		invalidTokens := []string{
			"",
			"invalid.token",
			"not.a.jwt.token",
			"too.many.parts.in.token.format",
		}
		
		for _, token := range invalidTokens {
			_, err := auth.ValidateToken(token)
			assert.Error(t, err)
		}
	})
	
	t.Run("Token with wrong secret", func(t *testing.T) {
		auth1 := NewAuthService("secret-key-1-16-chars", time.Hour)
		auth2 := NewAuthService("secret-key-2-16-chars", time.Hour)
		
		token, _ := auth1.GenerateToken("user123", "testuser", []string{"user"})
		_, err := auth2.ValidateToken(token)
		assert.Error(t, err)
	})
	
	t.Run("Token manipulation", func(t *testing.T) {
		token, _ := auth.GenerateToken("user123", "testuser", []string{"user"})
		
		// Try to modify token
		parts := strings.Split(token, ".")
		if len(parts) >= 3 {
			// Modify the payload
			modifiedToken := parts[0] + ".invalid." + parts[2]
			_, err := auth.ValidateToken(modifiedToken)
			assert.Error(t, err)
		}
	})
}

// TestTokenGeneration_ExtremeInputs tests token generation with extreme inputs
func TestTokenGeneration_ExtremeInputs(t *testing.T) {
	auth := NewAuthService("test-secret-key-16-chars", time.Hour)
	
	t.Run("Very long inputs", func(t *testing.T) {
		longID := strings.Repeat("a", 1000)
		longUsername := strings.Repeat("b", 1000)
		manyRoles := make([]string, 100)
		for i := range manyRoles {
			manyRoles[i] = fmt.Sprintf("role%d", i)
		}
		
		token, err := auth.GenerateToken(longID, longUsername, manyRoles)
		assert.NoError(t, err)
		assert.NotEmpty(t, token)
		
		claims, err := auth.ValidateToken(token)
		assert.NoError(t, err)
		assert.Equal(t, longID, claims.UserID)
		assert.Equal(t, longUsername, claims.Username)
		assert.Len(t, claims.Roles, 100)
	})
	
	t.Run("Special characters in inputs", func(t *testing.T) {
		specialID := "ç”¨æˆ·ðŸ”’123"
		specialUsername := "Ã±Ã¡Ã©Ã­Ã³Ãº"
		specialRoles := []string{"adminðŸ”‘", "userðŸ‘¤", "æµ‹è¯•"}
		
		token, err := auth.GenerateToken(specialID, specialUsername, specialRoles)
		assert.NoError(t, err)
		assert.NotEmpty(t, token)
		
		claims, err := auth.ValidateToken(token)
		assert.NoError(t, err)
		assert.Equal(t, specialID, claims.UserID)
		assert.Equal(t, specialUsername, claims.Username)
		assert.Equal(t, specialRoles, claims.Roles)
	})
}

// TestRateLimiter_Performance tests performance under load
func TestRateLimiter_Performance(t *testing.T) {
	rl := NewRateLimiter(1000, 100)
	
	const numKeys = 100
	const numRequests = 10
	
	start := time.Now()
	
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("user%d", i)
		for j := 0; j < numRequests; j++ {
			rl.Allow(key)
		}
	}
	
	duration := time.Since(start)
	
	// Should complete quickly even under load
	assert.Less(t, duration, time.Second, "Rate limiter should handle load efficiently")
}

// TestSecurity_ConcurrentMixedAccess tests mixed concurrent operations
func TestSecurity_ConcurrentMixedAccess(t *testing.T) {
	auth := NewAuthService("test-secret-key-16-chars", time.Hour)
	rl := NewRateLimiter(100, 10)
	
	const numGoroutines = 50
	var wg sync.WaitGroup
	
	// Concurrent token generation and rate limiting
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			
			// Generate token
			token, _ := auth.GenerateToken(fmt.Sprintf("user%d", id), fmt.Sprintf("user%d", id), []string{"user"})
			
			// Check rate limit
			key := fmt.Sprintf("user%d", id)
			if rl.Allow(key) {
				// Validate token
				if token != "" {
					auth.ValidateToken(token)
				}
			}
		}(i)
	}
	
	wg.Wait()
	// Should complete without panics or deadlocks
}

// BenchmarkAuthService_TokenGeneration benchmarks token generation
func BenchmarkAuthService_TokenGeneration(b *testing.B) {
	auth := NewAuthService("test-secret-key-16-chars", time.Hour)
	
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = auth.GenerateToken("user123", "testuser", []string{"user", "admin"})
	}
}

// BenchmarkAuthService_TokenValidation benchmarks token validation
func BenchmarkAuthService_TokenValidation(b *testing.B) {
	auth := NewAuthService("test-secret-key-16-chars", time.Hour)
	
	// Pre-generate a token
	token, _ := auth.GenerateToken("user123", "testuser", []string{"user", "admin"})
	
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = auth.ValidateToken(token)
	}
}

// BenchmarkRateLimiter_Allow benchmarks rate limiting
func BenchmarkRateLimiter_Allow(b *testing.B) {
	rl := NewRateLimiter(1000, 100)
	
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = rl.Allow("test-user")
	}
}
