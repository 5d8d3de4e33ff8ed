package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/audit"
	"github.com/aman-churiwal/gatekeeper/internal/circuitbreaker"
	"github.com/aman-churiwal/gatekeeper/internal/config"
	"github.com/aman-churiwal/gatekeeper/internal/gate"
	"github.com/aman-churiwal/gatekeeper/internal/handler"
	"github.com/aman-churiwal/gatekeeper/internal/healthcheck"
	"github.com/aman-churiwal/gatekeeper/internal/identity"
	"github.com/aman-churiwal/gatekeeper/internal/metrics"
	"github.com/aman-churiwal/gatekeeper/internal/middleware"
	"github.com/aman-churiwal/gatekeeper/internal/pathmatch"
	"github.com/aman-churiwal/gatekeeper/internal/proxy"
	"github.com/aman-churiwal/gatekeeper/internal/ratelimit"
	"github.com/aman-churiwal/gatekeeper/internal/repository"
	"github.com/aman-churiwal/gatekeeper/internal/service"
	"github.com/aman-churiwal/gatekeeper/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	auditLogsEndpoint = "audit-logs"
	adminEndpoint     = "admin"
)

// Dependencies are the external connections the server may use. Postgres and
// Redis are optional unless the configured store needs them.
type Dependencies struct {
	Database *storage.Database
	Redis    *storage.RedisClient
	Registry *prometheus.Registry
}

type Server struct {
	router       *gin.Engine
	config       *config.Config
	deps         Dependencies
	logger       *zap.Logger
	gate         *gate.Gate
	auditLog     *audit.Log
	batchWriter  *audit.BatchWriter
	adminHandler *handler.AdminHandler
	health       *healthcheck.Checker
	proxy        *proxy.Proxy
	resolver     *identity.Resolver
	codec        *identity.Codec
	httpServer   *http.Server
}

func New(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router: gin.New(),
		config: cfg,
		deps:   deps,
		logger: logger,
	}

	if err := s.initializeAdmission(); err != nil {
		return nil, err
	}
	if err := s.initializeProxy(); err != nil {
		return nil, err
	}
	s.initializeHealth()

	// Setup middleware
	s.setupMiddleware()

	// Setup routes
	s.setupRoutes()

	return s, nil
}

func (s *Server) initializeAdmission() error {
	rl := s.config.RateLimit

	codec, err := identity.NewCodec(s.config.Identity.Secret)
	if err != nil {
		return err
	}
	s.codec = codec

	var keyFn identity.KeyFunc
	if s.config.Identity.JWTSecret != "" {
		keyFn = identity.BearerSubjectKeyFunc(s.config.Identity.JWTSecret)
	}
	s.resolver = identity.NewResolver(keyFn)

	collectors := metrics.New(s.deps.Registry)

	entries, err := s.entryStore(collectors)
	if err != nil {
		return err
	}

	var auditStore audit.Store = audit.NewMemoryStore()
	if s.deps.Database != nil {
		s.batchWriter = audit.NewBatchWriter(repository.NewAuditLogRepository(s.deps.Database), 1000, 100, 5*time.Second, s.logger)
		auditStore = s.batchWriter
	}
	s.auditLog = audit.NewLog(auditStore, codec, s.logger, audit.WithMetrics(collectors))

	var sink audit.Sink
	if rl.SecurityLogSinkPath != "" {
		fileSink, err := audit.NewFileSink(rl.SecurityLogSinkPath)
		if err != nil {
			return err
		}
		sink = fileSink
	}

	escalator := audit.NewEscalator(s.auditLog, codec, audit.EscalatorOptions{
		Threshold:   rl.SuspiciousThreshold,
		ResetOnHigh: rl.ResetOnHighEnabled(),
		Sink:        sink,
		Logger:      s.logger,
		Metrics:     collectors,
	})

	algorithm, err := ratelimit.NewAlgorithm(rl.Algorithm)
	if err != nil {
		return err
	}
	tiers, err := ratelimit.NewTierResolver(rl.Tiers, rl.Defaults())
	if err != nil {
		return err
	}
	skip, err := pathmatch.New(rl.SkipPaths)
	if err != nil {
		return &ratelimit.ConfigurationError{Field: "skipPaths", Reason: err.Error()}
	}

	s.gate, err = gate.New(gate.Options{
		Algorithm:     algorithm,
		Store:         entries,
		Tiers:         tiers,
		Skip:          skip,
		Resolver:      s.resolver,
		Codec:         codec,
		Audit:         s.auditLog,
		Escalator:     escalator,
		BlockDuration: rl.BlockDuration(),
		FailOpen:      rl.FailOpenEnabled(),
		AuditAllowed:  rl.AuditAllowed,
		Metrics:       collectors,
		Logger:        s.logger,
	})
	if err != nil {
		return err
	}

	unblock := service.NewUnblockService(entries, s.auditLog, escalator, service.AdminPolicy{
		Production: !s.config.IsDevelopment(),
		AdminKey:   rl.AdminKey,
		AllowList:  rl.AdminAllowList,
	}, s.logger)
	s.adminHandler = handler.NewAdminHandler(unblock, s.auditLog, s.resolver, s.logger)

	s.logger.Info("admission control ready",
		zap.String("algorithm", algorithm.Name()),
		zap.String("store", rl.Store),
		zap.Int("max", rl.Max),
		zap.Duration("window", rl.Window()),
		zap.Int("tiers", len(rl.Tiers)),
		zap.Bool("fail_open", rl.FailOpenEnabled()),
	)
	return nil
}

func (s *Server) entryStore(collectors *metrics.Collectors) (ratelimit.EntryStore, error) {
	rl := s.config.RateLimit

	var backend ratelimit.EntryStore
	switch rl.Store {
	case config.StorePostgres:
		if s.deps.Database == nil {
			return nil, errors.New("postgres store selected but no database connection was provided")
		}
		backend = repository.NewRateLimitRepository(s.deps.Database)
	case config.StoreRedis:
		if s.deps.Redis == nil {
			return nil, errors.New("redis store selected but no redis connection was provided")
		}
		backend = repository.NewRateLimitRedisRepository(s.deps.Redis, s.config.Redis.Prefix, entryTTL(rl))
	default:
		return ratelimit.NewMemoryStore(), nil
	}

	return circuitbreaker.NewStore(backend, circuitbreaker.Config{
		MaxFailures: rl.StoreBreakerFailures,
		Timeout:     time.Duration(rl.StoreBreakerCooldownMs) * time.Millisecond,
		OnStateChange: func(from, to circuitbreaker.State) {
			s.logger.Warn("rate limit store circuit changed state",
				zap.String("store", rl.Store),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
			collectors.ObserveStoreCircuit(int(to))
		},
	}), nil
}

// entryTTL keeps redis entries for twice the longest window or block, whichever is larger.
func entryTTL(rl config.RateLimitConfig) time.Duration {
	longest := max(rl.Window(), rl.BlockDuration())
	for _, tier := range rl.Tiers {
		if tier.WindowMs != nil {
			longest = max(longest, time.Duration(*tier.WindowMs)*time.Millisecond)
		}
	}
	return 2 * longest
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger, s.codec))
	s.router.Use(middleware.CORS())
}

func (s *Server) setupRoutes() {
	rl := s.config.RateLimit
	limitOpts := middleware.RateLimitOptions{StatusCode: rl.StatusCode, Message: rl.Message}

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})))

	auditLimits := ratelimit.Limits{Max: rl.AuditQueryMax, Window: rl.Window()}
	if auditLimits.Max == 0 {
		auditLimits.Max = rl.Max
	}

	adminLimits := ratelimit.Limits{Max: rl.AdminMax, Window: rl.Window()}
	if adminLimits.Max == 0 {
		adminLimits.Max = rl.Max
	}
	adminLimit := middleware.RateLimitEndpoint(s.gate, adminEndpoint, &adminLimits, limitOpts)

	admin := s.router.Group("/admin")
	{
		admin.GET("/status", adminLimit, s.adminHandler.Status)
		admin.GET("/audit-logs",
			middleware.RateLimitEndpoint(s.gate, auditLogsEndpoint, &auditLimits, limitOpts),
			s.adminHandler.ListAuditLogs,
		)
		admin.GET("/audit-summary",
			middleware.RateLimitEndpoint(s.gate, auditLogsEndpoint, &auditLimits, limitOpts),
			s.adminHandler.AuditSummary,
		)
		admin.POST("/rate-limits/clear", adminLimit, s.adminHandler.ClearBlocks)
	}

	api := s.router.Group("/api")
	api.Use(middleware.RateLimit(s.gate, limitOpts))
	{
		api.GET("/whoami", s.whoami)
	}

	if s.proxy != nil {
		upstream := s.router.Group(s.config.Upstream.Prefix)
		upstream.Use(middleware.RateLimit(s.gate, limitOpts))
		upstream.Any("/*path", s.proxy.Handle)
	}
}

func (s *Server) whoami(c *gin.Context) {
	ident := c.GetString(middleware.ContextIdentity)
	c.JSON(http.StatusOK, gin.H{
		"identity": s.codec.Mask(ident),
	})
}

func (s *Server) initializeProxy() error {
	up := s.config.Upstream
	if len(up.Targets) == 0 {
		return nil
	}

	p, err := proxy.New(proxy.Config{
		Targets:  up.Targets,
		Strategy: up.Strategy,
		CircuitBreaker: circuitbreaker.Config{
			MaxFailures: up.BreakerFailures,
			Timeout:     time.Duration(up.BreakerCooldownMs) * time.Millisecond,
		},
		Logger: s.logger,
	})
	if err != nil {
		return err
	}
	s.proxy = p
	return nil
}

func (s *Server) initializeHealth() {
	s.health = healthcheck.NewChecker(healthcheck.Config{Logger: s.logger})

	if s.deps.Redis != nil {
		s.health.Register("redis", s.deps.Redis.Ping)
	}
	if s.deps.Database != nil {
		s.health.Register("database", s.deps.Database.Ping)
	}
	if s.proxy != nil {
		s.health.Register("upstream", s.proxy.Ping)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	s.health.CheckAll(c.Request.Context())

	checks := gin.H{}
	for _, status := range s.health.GetAllStatus() {
		checks[status.Target] = status.IsHealthy
	}

	overall := s.health.OverallHealth()
	statusCode := http.StatusOK
	if overall != healthcheck.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overall.String(),
		"service":   "gatekeeper",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	s.health.Start()

	s.logger.Info("starting gatekeeper",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server, then flushes queued audit rows.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.health.Stop()

	var errs []error
	if s.httpServer != nil {
		errs = append(errs, s.httpServer.Shutdown(ctx))
	}
	if s.batchWriter != nil {
		errs = append(errs, s.batchWriter.Close(ctx))
	}

	return errors.Join(errs...)
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

func (s *Server) AuditLog() *audit.Log {
	return s.auditLog
}
