package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"imgopt/internal/cache"
	"imgopt/internal/config"
	httphandlers "imgopt/internal/http"
	"imgopt/internal/image_renderer"
	"imgopt/internal/logger"
	"imgopt/internal/optimizer"
	"imgopt/internal/origin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	shutdownVips := image_renderer.Startup(cfg.VipsConcurrency, cfg.VipsMaxCacheMB, log)
	defer shutdownVips()

	log.Info("Starting image optimizer",
		zap.Int("port", cfg.Port),
		zap.String("env", cfg.AppEnv),
		zap.String("cache_dir", cfg.CacheDir),
	)

	memory := cache.NewMemory(cfg.MemoryCacheEntries, cfg.MemoryCacheTTL, log)
	disk, err := cache.NewDisk(cfg.CacheDir, log)
	if err != nil {
		log.Fatal("Failed to initialize disk cache", zap.Error(err))
	}

	pipeline := optimizer.New(
		memory,
		disk,
		origin.NewHTTPFetcher(cfg.FetchTimeout, cfg.MaxSourceBytes),
		image_renderer.New(cfg.VipsConcurrency, log),
		optimizer.Options{
			Limits: optimizer.Limits{
				MaxWidth:       cfg.MaxWidth,
				DefaultQuality: cfg.DefaultQuality,
			},
			Coalesce: cfg.CoalesceRequests,
		},
		log,
	)

	handlers := httphandlers.New(cfg, log, pipeline)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.Router(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Image optimizer running", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}
