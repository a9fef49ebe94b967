package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.Any("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { panic("boom") })
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 2)
	r := newRouter(rl.RateLimit())

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil)).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil)).Code)

	other := httptest.NewRequest(http.MethodGet, "/ok", nil)
	other.RemoteAddr = "198.51.100.9:5000"
	assert.Equal(t, http.StatusOK, serve(r, other).Code)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	rl.ttl = 0
	rl.GetLimiter("1.2.3.4")
	time.Sleep(time.Millisecond)
	rl.Cleanup()
	assert.Empty(t, rl.ips)
}

func TestValidateJSON(t *testing.T) {
	r := newRouter(ValidateJSON())

	req := httptest.NewRequest(http.MethodPost, "/ok", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/ok", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusUnsupportedMediaType, serve(r, req).Code)

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil)).Code)
}

func TestAdminAuth(t *testing.T) {
	r := newRouter(AdminAuth("s3cret"))

	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodPost, "/ok", nil)).Code)

	req := httptest.NewRequest(http.MethodPost, "/ok", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)

	open := newRouter(AdminAuth(""))
	assert.Equal(t, http.StatusOK, serve(open, httptest.NewRequest(http.MethodPost, "/ok", nil)).Code)
}

func TestSecurityHeaders(t *testing.T) {
	r := newRouter(SecurityHeaders())
	w := serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestAccessLogAndRecovery(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	r := newRouter(AccessLog(logger), Recovery(logger))

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil)).Code)
	assert.Equal(t, http.StatusInternalServerError, serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil)).Code)

	requests := logs.FilterMessage("request").All()
	if assert.Len(t, requests, 2) {
		assert.Equal(t, int64(200), requests[0].ContextMap()["status"])
		assert.Equal(t, int64(500), requests[1].ContextMap()["status"])
	}
	assert.Equal(t, 1, logs.FilterMessage("handler panicked").Len())
}

func TestRequestTimeout(t *testing.T) {
	r := gin.New()
	r.Use(RequestTimeout(10 * time.Millisecond))
	r.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})
	r.GET("/ws", func(c *gin.Context) {
		_, hasDeadline := c.Request.Context().Deadline()
		assert.False(t, hasDeadline)
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusRequestTimeout, serve(r, httptest.NewRequest(http.MethodGet, "/slow", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "upgrade")
	req.Header.Set("Upgrade", "websocket")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}
