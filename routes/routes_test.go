package routes

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"etf_dashboard/services/auth"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "routes-secret"

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetupRoutes(r, Dependencies{JWTSecret: secret})
	return r
}

func token(t *testing.T, role string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(1),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestRoutesRegistered(t *testing.T) {
	r := newRouter()
	have := map[string]bool{}
	for _, route := range r.Routes() {
		have[route.Method+" "+route.Path] = true
	}

	for _, want := range []string{
		"GET /metrics",
		"GET /ws/prices",
		"POST /api/v1/auth/register",
		"POST /api/v1/auth/login",
		"GET /api/v1/auth/me",
		"GET /api/v1/etfs",
		"GET /api/v1/etfs/screen",
		"GET /api/v1/etfs/screen/presets",
		"GET /api/v1/market/:symbol/quote",
		"GET /api/v1/market/:symbol/history",
		"GET /api/v1/market/:symbol/profile",
		"GET /api/v1/market/:symbol/indicators",
		"GET /api/v1/market/providers",
		"GET /api/v1/signals",
		"GET /api/v1/signals/:symbol",
		"POST /api/v1/signals/:symbol/generate",
		"POST /api/v1/portfolios",
		"GET /api/v1/portfolios/:id/valuation",
		"POST /api/v1/portfolios/:id/transactions",
		"POST /api/v1/simulations",
		"POST /api/v1/simulations/backtest",
		"POST /api/v1/simulations/:id/start",
		"POST /api/v1/simulations/:id/stop",
		"GET /api/v1/simulations/:id",
	} {
		assert.True(t, have[want], want)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r := newRouter()
	for _, path := range []string{"/api/v1/portfolios", "/api/v1/simulations", "/api/v1/auth/me"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/signals/SPY/generate", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	r := newRouter()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/signals/generate", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "user"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r := newRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
