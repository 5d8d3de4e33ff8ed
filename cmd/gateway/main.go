package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/config"
	"github.com/aman-churiwal/gatekeeper/internal/server"
	"github.com/aman-churiwal/gatekeeper/internal/storage"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	// Load env if it exists
	_ = godotenv.Load()

	cfg, err := config.Load("config.json")
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	deps := server.Dependencies{Registry: prometheus.NewRegistry()}
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.Database.DSN != "" {
		db, err := storage.NewPostgres(cfg.Database.DSN)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		if err := db.AutoMigrate(); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
		deps.Database = db
		logger.Info("connected to database")
	}

	if cfg.RateLimit.Store == config.StoreRedis {
		redis, err := storage.NewRedis(
			cfg.Redis.GetRedisAddr(),
			cfg.Redis.Password,
			cfg.Redis.DB,
		)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redis.Close()

		deps.Redis = redis
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.GetRedisAddr()))
	}

	srv, err := server.New(cfg, deps, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return
	}

	logger.Info("server exited")
}

func newLogger(cfg *config.Config) *zap.Logger {
	build := zap.NewProduction
	if cfg.IsDevelopment() {
		build = zap.NewDevelopment
	}

	logger, err := build()
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}
	return logger
}
