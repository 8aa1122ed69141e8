// Package main is the entry point for the datapipe service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flexinfer/datapipe/internal/api"
	"github.com/flexinfer/datapipe/internal/config"
	"github.com/flexinfer/datapipe/internal/engine"
	"github.com/flexinfer/datapipe/internal/pipeline"
	"github.com/flexinfer/datapipe/internal/resultstore"
	"github.com/flexinfer/datapipe/internal/storage"
	"github.com/flexinfer/datapipe/internal/tracing"
	"github.com/flexinfer/datapipe/internal/transform"
	"github.com/flexinfer/datapipe/internal/validator"
	"github.com/flexinfer/datapipe/pkg/types"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting datapipe",
		slog.String("port", cfg.Port),
		slog.String("engine", cfg.EngineType),
		slog.String("log_level", cfg.LogLevel),
	)

	// Initialize tracing
	tp, err := tracing.Init(context.Background(), &tracing.Config{
		ServiceName:    "datapipe",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.TracingEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     1.0,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize ResultStore based on configuration
	var store resultstore.Store
	switch cfg.ResultStoreType {
	case "redis":
		redisCfg := &resultstore.RedisConfig{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.ResultStoreTTL,
		}
		redisStore, err := resultstore.NewRedisStore(redisCfg)
		if err != nil {
			logger.Error("failed to connect to Redis, falling back to memory store", "error", err)
			store = resultstore.NewMemoryStore(&resultstore.Config{
				EventMaxLen: cfg.EventMaxLen,
				TTL:         cfg.ResultStoreTTL,
			})
		} else {
			store = redisStore
			logger.Info("using Redis resultstore", slog.String("url", cfg.RedisURL))
		}
	default:
		store = resultstore.NewMemoryStore(&resultstore.Config{
			EventMaxLen: cfg.EventMaxLen,
			TTL:         cfg.ResultStoreTTL,
		})
		logger.Info("using in-memory resultstore")
	}
	defer store.Close()

	// Engines are constructed per pipeline's declared backend; the
	// warehouse connection is only opened when a pipeline asks for it.
	whCfg := engine.DefaultWarehouseConfig()
	whCfg.DSN = cfg.WarehouseDSN
	whCfg.PingTimeout = cfg.PingTimeout
	engines := engine.NewSelector(whCfg)
	defer engines.Close()

	// Storage connections: local filesystem always, S3 when configured
	conns := []storage.Connection{
		storage.NewFSConnection("local", cfg.DataDir),
	}
	if cfg.S3Bucket != "" {
		s3conn, err := storage.NewS3Connection("s3", &storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			UseSSL:          cfg.S3UseSSL,
			PathPrefix:      cfg.S3Prefix,
		})
		if err != nil {
			logger.Error("failed to configure S3 connection", "error", err)
			os.Exit(1)
		}
		conns = append(conns, s3conn)
		logger.Info("S3 connection configured", slog.String("bucket", cfg.S3Bucket))
	}
	registry := storage.NewRegistry(conns...)

	// Transform registry; programmatic transforms register here
	transforms := transform.NewRegistry()

	// Load pipeline definitions and build the manager
	manager := pipeline.NewManager(logger)
	pipelineCfgs, err := config.LoadPipelines(cfg.PipelinesPath)
	if err != nil {
		logger.Warn("no pipeline definitions loaded", "error", err,
			slog.String("path", cfg.PipelinesPath))
		pipelineCfgs = nil
	}
	for i := range pipelineCfgs {
		pcfg := pipelineCfgs[i]
		if pcfg.Engine == "" {
			pcfg.Engine = types.EngineType(cfg.EngineType)
		}
		eng, err := engines.Get(pcfg.Engine)
		if err != nil {
			logger.Error("failed to construct engine", "error", err,
				slog.String("pipeline", pcfg.Name),
				slog.String("engine", string(pcfg.Engine)))
			os.Exit(1)
		}
		p, err := pipeline.New(&pcfg, eng, registry, transforms,
			pipeline.WithStore(store),
			pipeline.WithLogger(logger),
		)
		if err != nil {
			logger.Error("invalid pipeline definition", "error", err,
				slog.String("pipeline", pcfg.Name))
			os.Exit(1)
		}
		if err := manager.Register(p); err != nil {
			logger.Error("failed to register pipeline", "error", err)
			os.Exit(1)
		}
		logger.Info("pipeline registered",
			slog.String("pipeline", pcfg.Name),
			slog.String("engine", string(pcfg.Engine)),
			slog.Int("nodes", len(pcfg.Nodes)),
		)
	}

	// Initialize validator
	v, err := validator.New()
	if err != nil {
		logger.Error("failed to create validator", "error", err)
		os.Exit(1)
	}

	// Initialize API handlers
	handlers := api.NewHandlers(manager, store, transforms, v, cfg, logger)
	server := api.NewServer(handlers)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := tp.Shutdown(ctx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
