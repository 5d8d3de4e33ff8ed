package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/audit"
	"github.com/aman-churiwal/gatekeeper/internal/identity"
	"github.com/aman-churiwal/gatekeeper/internal/models"
	"github.com/aman-churiwal/gatekeeper/internal/ratelimit"
	"github.com/aman-churiwal/gatekeeper/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminKey = "handler-admin-key"

type adminFixture struct {
	router *gin.Engine
	store  *ratelimit.MemoryStore
	log    *audit.Log
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	codec, err := identity.NewCodec("handler-secret")
	require.NoError(t, err)

	store := ratelimit.NewMemoryStore()
	log := audit.NewLog(audit.NewMemoryStore(), codec, nil)
	esc := audit.NewEscalator(log, codec, audit.EscalatorOptions{})
	unblock := service.NewUnblockService(store, log, esc, service.AdminPolicy{
		Production: true,
		AdminKey:   adminKey,
		AllowList:  []string{"10.0.0.5"},
	}, nil)

	h := NewAdminHandler(unblock, log, identity.NewResolver(nil), nil)

	r := gin.New()
	r.GET("/admin/audit-logs", h.ListAuditLogs)
	r.GET("/admin/audit-summary", h.AuditSummary)
	r.POST("/admin/rate-limits/clear", h.ClearBlocks)

	return &adminFixture{router: r, store: store, log: log}
}

func (f *adminFixture) do(method, target, remote, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = remote
	if key != "" {
		req.Header.Set(AdminKeyHeader, key)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestClearBlocks_Authorized(t *testing.T) {
	f := newAdminFixture(t)
	require.NoError(t, f.store.Update(context.Background(), ratelimit.EntryKey{IdentityHash: "h", Endpoint: "/x"},
		func(*models.RateLimitEntry) (*models.RateLimitEntry, error) {
			return &models.RateLimitEntry{Count: 3, Blocked: true}, nil
		}))

	w := f.do(http.MethodPost, "/admin/rate-limits/clear", "10.0.0.5:9000", adminKey)
	require.Equal(t, http.StatusOK, w.Code)

	var res service.UnblockResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, int64(1), res.Cleared)
}

func TestClearBlocks_DeniedResponsesAreIndistinguishable(t *testing.T) {
	f := newAdminFixture(t)

	badKey := f.do(http.MethodPost, "/admin/rate-limits/clear", "10.0.0.5:9000", "wrong")
	badAddr := f.do(http.MethodPost, "/admin/rate-limits/clear", "203.0.113.7:9000", adminKey)

	assert.Equal(t, http.StatusForbidden, badKey.Code)
	assert.Equal(t, http.StatusForbidden, badAddr.Code)
	assert.Equal(t, badKey.Body.String(), badAddr.Body.String())
}

func TestListAuditLogs(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.log.Record(ctx, "203.0.113.7", audit.ActionRateLimitDenied, "x", false)
	}
	f.log.Record(ctx, "198.51.100.1", audit.ActionRateLimitAllowed, "x", true)

	w := f.do(http.MethodGet, "/admin/audit-logs?action=rate_limit_denied&pageSize=2&success=false", "10.0.0.5:9000", adminKey)
	require.Equal(t, http.StatusOK, w.Code)

	var page audit.Page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Entries, 2)
	assert.Equal(t, "203.0.xxx.xxx", page.Entries[0].MaskedIdentity)

	w = f.do(http.MethodGet, "/admin/audit-logs?pageSize=10000", "10.0.0.5:9000", adminKey)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, audit.MaxPageSize, page.PageSize)
}

func TestListAuditLogs_RejectsBadInputAndCallers(t *testing.T) {
	f := newAdminFixture(t)

	w := f.do(http.MethodGet, "/admin/audit-logs?from=yesterday", "10.0.0.5:9000", adminKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/admin/audit-logs", "203.0.113.7:9000", adminKey)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/audit-logs", nil)
	req.RemoteAddr = ""
	req.Header.Set(AdminKeyHeader, adminKey)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, "unknown identity")

	from := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	w = f.do(http.MethodGet, "/admin/audit-logs?from="+from, "10.0.0.5:9000", adminKey)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatus_ReportsBlockedEntries(t *testing.T) {
	f := newAdminFixture(t)
	f.router.GET("/admin/status", NewAdminHandler(
		service.NewUnblockService(f.store, f.log, nil, service.AdminPolicy{AllowList: []string{"10.0.0.5"}}, nil),
		f.log, identity.NewResolver(nil), nil,
	).Status)

	require.NoError(t, f.store.Update(context.Background(), ratelimit.EntryKey{IdentityHash: "h", Endpoint: "/x"},
		func(*models.RateLimitEntry) (*models.RateLimitEntry, error) {
			return &models.RateLimitEntry{Count: 3, Blocked: true}, nil
		}))

	w := f.do(http.MethodGet, "/admin/status", "10.0.0.5:1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["blocked_entries"])

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/admin/status", "203.0.113.7:1", "").Code)
}

func TestAuditSummary(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		f.log.Record(ctx, "203.0.113.7", audit.ActionRateLimitDenied, "x", false)
	}

	w := f.do(http.MethodGet, "/admin/audit-summary", "10.0.0.5:9000", adminKey)
	require.Equal(t, http.StatusOK, w.Code)

	var summary audit.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, int64(2), summary.Total)
	assert.InDelta(t, 100.0, summary.FailureRate, 0.001)
	require.Len(t, summary.TopDenied, 1)
	assert.Equal(t, "203.0.xxx.xxx", summary.TopDenied[0].MaskedIdentity)

	from := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	w = f.do(http.MethodGet, "/admin/audit-summary?from="+from, "10.0.0.5:9000", adminKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/admin/audit-summary", "203.0.113.7:9000", adminKey)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
