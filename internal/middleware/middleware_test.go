package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"finpro-go/pkg/metrics"
	"finpro-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func protectedEngine(jwt *token.JWTManager) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(jwt))
	r.GET("/me", func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, claims.Username)
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	jwt := token.NewJWTManager("secret", 1)
	r := protectedEngine(jwt)
	valid, err := jwt.GenerateToken(1, "alice", "s1")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "alice", w.Body.String())
			}
		})
	}
}

func TestAuthMiddlewareRejectsForeignSignature(t *testing.T) {
	other, err := token.NewJWTManager("other-secret", 1).GenerateToken(1, "alice", "s1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	w := httptest.NewRecorder()
	protectedEngine(token.NewJWTManager("secret", 1)).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimiterPerUser(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ClaimsKey, &token.CustomClaims{Username: c.GetHeader("X-User")})
		c.Next()
	}, limiter.Middleware())
	r.POST("/chat", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/chat", nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, send("alice"))
	assert.Equal(t, http.StatusOK, send("alice"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice"))
	assert.Equal(t, http.StatusOK, send("bob"))
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(0, 1)
	r := gin.New()
	r.Use(limiter.Middleware())
	r.POST("/chat", func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRequestLoggerCountsRequestsAndKeepsBody(t *testing.T) {
	m := metrics.New()
	r := gin.New()
	r.Use(RequestLogger(m))
	r.POST("/api/v1/users/login", func(c *gin.Context) {
		b, _ := c.GetRawData()
		c.String(http.StatusOK, string(b))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/users/login", strings.NewReader(`{"password":"pw"}`)))
	assert.Equal(t, `{"password":"pw"}`, w.Body.String())
	assert.True(t, redactRequestBody("/api/v1/users/login"))
	assert.False(t, redactRequestBody("/api/v1/chat"))

	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `finpro_http_requests_total{code="200",method="POST",route="/api/v1/users/login"} 1`)
}
