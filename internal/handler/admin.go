package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/audit"
	"github.com/aman-churiwal/gatekeeper/internal/identity"
	"github.com/aman-churiwal/gatekeeper/internal/middleware"
	"github.com/aman-churiwal/gatekeeper/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const AdminKeyHeader = "X-Admin-Key"

// Handles the admin endpoints for blocks and audit logs
type AdminHandler struct {
	unblock  *service.UnblockService
	audit    *audit.Log
	stats    *service.AuditStatsService
	resolver *identity.Resolver
	logger   *zap.Logger
}

func NewAdminHandler(unblock *service.UnblockService, auditLog *audit.Log, resolver *identity.Resolver, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		unblock:  unblock,
		audit:    auditLog,
		stats:    service.NewAuditStatsService(auditLog),
		resolver: resolver,
		logger:   logger,
	}
}

type auditLogParams struct {
	Page     int        `form:"page"`
	PageSize int        `form:"pageSize"`
	Action   string     `form:"action"`
	Identity string     `form:"identity"`
	From     *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To       *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Success  *bool      `form:"success"`
}

// Returns one page of audit rows, newest first
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	ctx := c.Request.Context()
	ident := h.callerIdentity(c)

	if err := h.unblock.AuthorizeAuditQuery(ctx, ident, c.GetHeader(AdminKeyHeader)); err != nil {
		h.forbidden(c)
		return
	}

	var params auditLogParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	page, err := h.audit.Query(ctx, audit.Query{
		Page:           params.Page,
		PageSize:       params.PageSize,
		Action:         params.Action,
		MaskedIdentity: params.Identity,
		From:           params.From,
		To:             params.To,
		Success:        params.Success,
	})
	if err != nil {
		h.logger.Error("audit log query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query audit logs"})
		return
	}

	h.audit.Record(ctx, ident, audit.ActionAuditQuery,
		fmt.Sprintf("page=%d page_size=%d returned=%d", page.Page, page.PageSize, len(page.Entries)), true)

	c.JSON(http.StatusOK, page)
}

type auditSummaryParams struct {
	From *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To   *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// Returns action counts, failure rate and the most denied identities for a time range
func (h *AdminHandler) AuditSummary(c *gin.Context) {
	ctx := c.Request.Context()
	ident := h.callerIdentity(c)

	if err := h.unblock.AuthorizeAuditQuery(ctx, ident, c.GetHeader(AdminKeyHeader)); err != nil {
		h.forbidden(c)
		return
	}

	var params auditSummaryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	summary, err := h.stats.GetSummary(ctx, params.From, params.To)
	switch {
	case errors.Is(err, service.ErrInvalidRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid time range"})
		return
	case errors.Is(err, audit.ErrSummaryUnsupported):
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Audit summary is not available for this store"})
		return
	case err != nil:
		h.logger.Error("audit summary failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to summarize audit logs"})
		return
	}

	h.audit.Record(ctx, ident, audit.ActionAuditQuery,
		fmt.Sprintf("summary from=%s to=%s", summary.From.Format(time.RFC3339), summary.To.Format(time.RFC3339)), true)

	c.JSON(http.StatusOK, summary)
}

// Clears every rate limit block
func (h *AdminHandler) ClearBlocks(c *gin.Context) {
	ctx := c.Request.Context()
	ident := h.callerIdentity(c)

	result, err := h.unblock.ClearBlocks(ctx, ident, c.GetHeader(AdminKeyHeader))
	switch {
	case errors.Is(err, service.ErrAuthorizationDenied), errors.Is(err, service.ErrInvalidIdentity):
		h.forbidden(c)
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, result)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Reports how many entries are blocked right now
func (h *AdminHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.unblock.AuthorizeAuditQuery(ctx, h.callerIdentity(c), c.GetHeader(AdminKeyHeader)); err != nil {
		h.forbidden(c)
		return
	}

	blocked, err := h.unblock.CountBlocked(ctx)
	if err != nil {
		h.logger.Error("failed to count blocked entries", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Rate limit store unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"gateway":         "running",
		"blocked_entries": blocked,
		"uptime":          time.Since(startTime).Seconds(),
		"timestamp":       time.Now().Unix(),
	})
}

func (h *AdminHandler) callerIdentity(c *gin.Context) string {
	if ident := c.GetString(middleware.ContextIdentity); ident != "" {
		return ident
	}
	return h.resolver.Resolve(c.Request)
}

// The body is identical for every denial reason
func (h *AdminHandler) forbidden(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{
		"success": false,
		"message": service.DeniedMessage,
	})
}

var startTime = time.Now()
