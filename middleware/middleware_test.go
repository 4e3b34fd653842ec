package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"etf_dashboard/services/auth"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, secret string, userID uint, role string, ttl time.Duration) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Email: "user@example.com",
		Role:  role,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := gin.New()
	r.GET("/me", JWTAuth(testSecret), func(c *gin.Context) {
		id, err := UserIDFromContext(c)
		require.NoError(t, err)
		c.JSON(http.StatusOK, gin.H{"id": id, "email": c.GetString(ContextUserEmail)})
	})

	w := do(r, http.MethodGet, "/me", signToken(t, testSecret, 12, "user", time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":12,"email":"user@example.com"}`, w.Body.String())

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong secret", signToken(t, "other", 12, "user", time.Hour)},
		{"expired", signToken(t, testSecret, 12, "user", -time.Minute)},
		{"garbage", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, "/me", tt.token)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), `"error":"unauthorized"`)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Token abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalJWTAuth(t *testing.T) {
	r := gin.New()
	r.GET("/", OptionalJWTAuth(testSecret), func(c *gin.Context) {
		_, err := UserIDFromContext(c)
		c.String(http.StatusOK, strconv.FormatBool(err == nil))
	})

	assert.Equal(t, "false", do(r, http.MethodGet, "/", "").Body.String())
	assert.Equal(t, "false", do(r, http.MethodGet, "/", "bad").Body.String())
	assert.Equal(t, "true", do(r, http.MethodGet, "/", signToken(t, testSecret, 3, "user", time.Hour)).Body.String())
}

func TestRequireRole(t *testing.T) {
	r := gin.New()
	r.GET("/admin", JWTAuth(testSecret), RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/admin", signToken(t, testSecret, 1, "user", time.Hour)).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/admin", signToken(t, testSecret, 1, "admin", time.Hour)).Code)
}

func TestRateLimiterLocksAfterFailures(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, 15*time.Minute, 30*time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		rl.RecordAttempt("1.2.3.4", false)
	}
	allowed, remaining, _ := rl.Check("1.2.3.4")
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)

	rl.RecordAttempt("1.2.3.4", false)
	allowed, _, wait := rl.Check("1.2.3.4")
	assert.False(t, allowed)
	assert.Equal(t, 30*time.Minute, wait)

	allowed, _, _ = rl.Check("5.6.7.8")
	assert.True(t, allowed, "other IPs are unaffected")

	now = now.Add(31 * time.Minute)
	allowed, remaining, _ = rl.Check("1.2.3.4")
	assert.True(t, allowed)
	assert.Equal(t, 3, remaining)
}

func TestRateLimiterWindowAndSuccess(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, 15*time.Minute, 30*time.Minute)
	rl.now = func() time.Time { return now }

	rl.RecordAttempt("ip", false)
	rl.RecordAttempt("ip", false)
	now = now.Add(16 * time.Minute)
	rl.RecordAttempt("ip", false)
	_, remaining, _ := rl.Check("ip")
	assert.Equal(t, 2, remaining, "window restarted")

	rl.RecordAttempt("ip", true)
	_, remaining, _ = rl.Check("ip")
	assert.Equal(t, 3, remaining)

	rl.RecordAttempt("stale", false)
	now = now.Add(time.Hour)
	rl.Cleanup()
	assert.Empty(t, rl.attempts)
}

func TestStartCleanupEvictsStaleEntries(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute, time.Minute)
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	rl.RecordAttempt("1.2.3.4", false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl.StartCleanup(ctx, 5*time.Millisecond)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	assert.Eventually(t, func() bool {
		rl.mu.Lock()
		defer rl.mu.Unlock()
		return len(rl.attempts) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestLoginRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, time.Minute)
	r := gin.New()
	r.POST("/login", LoginRateLimit(rl), func(c *gin.Context) {
		if c.Query("ok") == "1" {
			c.Status(http.StatusOK)
			return
		}
		c.Status(http.StatusUnauthorized)
	})

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/login", "").Code)
	w := do(r, http.MethodPost, "/login?ok=1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	do(r, http.MethodPost, "/login", "")
	do(r, http.MethodPost, "/login", "")
	w = do(r, http.MethodPost, "/login?ok=1", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"rate_limited"`)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestIPRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(IPRateLimit(1, 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", "").Code)
	w := do(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.9.8.7:1234"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "separate bucket per IP")
}

func TestIPRateLimitDisabled(t *testing.T) {
	r := gin.New()
	r.Use(IPRateLimit(0, 0))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", "").Code)
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestID)) })

	w := do(r, http.MethodGet, "/", "")
	assert.Len(t, w.Body.String(), 36)
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dash.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggerAndMetricsPassThrough(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(), Metrics())
	r.GET("/etfs/:symbol", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/etfs/SPY", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/nothing", "").Code)
}
