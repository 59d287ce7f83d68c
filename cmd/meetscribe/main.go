package main

import (
	"context"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/jo-hoe/meetscribe/internal/asr"
	appcfg "github.com/jo-hoe/meetscribe/internal/config"
	"github.com/jo-hoe/meetscribe/internal/diarize"
	"github.com/jo-hoe/meetscribe/internal/jobs"
	"github.com/jo-hoe/meetscribe/internal/media"
	"github.com/jo-hoe/meetscribe/internal/pipeline"
	"github.com/jo-hoe/meetscribe/internal/progress"
	"github.com/jo-hoe/meetscribe/internal/server"
	"github.com/jo-hoe/meetscribe/internal/storage"
)

func main() {
	// Load config first so the logger honors the configured level
	cfg, err := appcfg.Load("")
	if err != nil {
		bootstrap := slog.New(slog.NewTextHandler(os.Stdout, nil))
		bootstrap.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	// Store
	var store jobs.Store
	switch cfg.Store.Driver {
	case "sqlite":
		store, err = jobs.NewSQLiteStore(cfg.Store.DatabasePath)
		if err != nil {
			logger.Error("sqlite open", "err", err)
			os.Exit(1)
		}
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPass,
			DB:       cfg.Store.RedisDB,
		})
		store = jobs.NewRedisStore(client)
	case "memory":
		store = jobs.NewMemoryStore()
	default:
		logger.Error("unsupported store driver", "driver", cfg.Store.Driver)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	// Artifact layout
	layout := storage.NewLayout(cfg.Server.StorageDir)
	if err := layout.EnsureDirs(); err != nil {
		logger.Error("prepare storage dirs", "err", err)
		os.Exit(1)
	}

	// External services
	transcoder := media.NewFFmpeg(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)
	asrClient := asr.NewWhisperClient(cfg.ASR.BaseURL, cfg.ASR.APIKey, cfg.ASR.Model, safeInt64(cfg.ASR.MaxUploadSize))
	diarizer := diarize.NewHTTPClient(cfg.Diarization.BaseURL, cfg.Diarization.Token)

	registry := progress.NewRegistry()
	orchestrator := pipeline.NewOrchestrator(logger, store, transcoder, asrClient, diarizer, registry, layout)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// HTTP server
	svc := &server.Service{
		Log:          logger,
		Cfg:          cfg,
		Store:        store,
		Orchestrator: orchestrator,
		Registry:     registry,
		Layout:       layout,
		Lifetime:     rootCtx,
	}
	httpSrv := server.NewHTTPServer(svc)

	// Run server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	logger.Info("server stopped")
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func safeInt64(u appcfg.ByteSize) int64 {
	if u > appcfg.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}
