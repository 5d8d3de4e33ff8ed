package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/gate"
	"github.com/aman-churiwal/gatekeeper/internal/identity"
	"github.com/aman-churiwal/gatekeeper/internal/pathmatch"
	"github.com/aman-churiwal/gatekeeper/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestGate(t *testing.T, limit int) (*gate.Gate, *identity.Codec) {
	t.Helper()

	codec, err := identity.NewCodec("middleware-secret")
	require.NoError(t, err)
	tiers, err := ratelimit.NewTierResolver(nil, ratelimit.Limits{Max: limit, Window: time.Minute})
	require.NoError(t, err)

	g, err := gate.New(gate.Options{
		Algorithm:     ratelimit.NewFixedWindow(),
		Store:         ratelimit.NewMemoryStore(),
		Tiers:         tiers,
		Skip:          pathmatch.MustNew([]string{"/health"}),
		Resolver:      identity.NewResolver(nil),
		Codec:         codec,
		BlockDuration: 10 * time.Second,
		FailOpen:      true,
		Now:           func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return g, codec
}

func serve(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.7:1234"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_SetsHeadersAndDenies(t *testing.T) {
	g, _ := newTestGate(t, 2)

	r := gin.New()
	r.Use(RateLimit(g, RateLimitOptions{}))
	r.GET("/api/items", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextIdentity))
	})

	w := serve(r, http.MethodGet, "/api/items", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "203.0.113.7", w.Body.String())
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(testNow.Add(time.Minute).Unix(), 10), w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "default", w.Header().Get("X-RateLimit-Tier"))
	assert.Empty(t, w.Header().Get("Retry-After"))

	serve(r, http.MethodGet, "/api/items", nil)
	w = serve(r, http.MethodGet, "/api/items", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "10", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"success":false,"message":"`+DefaultLimitMessage+`","statusCode":429}`, w.Body.String())
}

func TestRateLimit_CustomStatusAndSkip(t *testing.T) {
	g, _ := newTestGate(t, 0)

	r := gin.New()
	r.Use(RateLimit(g, RateLimitOptions{StatusCode: http.StatusServiceUnavailable, Message: "slow down"}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/items", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))

	w = serve(r, http.MethodGet, "/api/items", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "slow down")
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestRateLimitEndpoint_UsesDedicatedLimits(t *testing.T) {
	g, _ := newTestGate(t, 100)

	r := gin.New()
	limits := ratelimit.Limits{Max: 1, Window: time.Minute}
	r.GET("/admin/audit-logs", RateLimitEndpoint(g, "audit-logs", &limits, RateLimitOptions{}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/admin/audit-logs", nil).Code)
	w := serve(r, http.MethodGet, "/admin/audit-logs", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestID)) })

	w := serve(r, http.MethodGet, "/", nil)
	_, err := uuid.Parse(w.Body.String())
	assert.NoError(t, err)
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))

	existing := uuid.NewString()
	w = serve(r, http.MethodGet, "/", map[string]string{RequestIDHeader: existing})
	assert.Equal(t, existing, w.Body.String())

	w = serve(r, http.MethodGet, "/", map[string]string{RequestIDHeader: "<script>"})
	assert.NotEqual(t, "<script>", w.Body.String())
}

func TestRecoveryAndLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	_, codec := newTestGate(t, 1)

	r := gin.New()
	r.Use(Recovery(logger), RequestID(), Logger(logger, codec))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())

	serve(r, http.MethodGet, "/ok", nil)
	entries := logs.FilterMessage("request").FilterField(zap.Int("status", http.StatusOK)).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "203.0.xxx.xxx", entries[0].ContextMap()["client"])
}

func TestLogger_UsesResolvedIdentity(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	g, codec := newTestGate(t, 5)

	r := gin.New()
	require.NoError(t, r.SetTrustedProxies(nil))
	r.Use(Logger(logger, codec))
	r.GET("/api/items", RateLimit(g, RateLimitOptions{}), func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodGet, "/api/items", map[string]string{"X-Forwarded-For": "198.51.100.9"})

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "198.51.xxx.xxx", entries[0].ContextMap()["client"])
}

func TestCORS_AnswersPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.GET("/api/items", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodOptions, "/api/items", map[string]string{"Access-Control-Request-Method": "GET"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-RateLimit-Remaining")
}
