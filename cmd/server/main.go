package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/api"
	"offline-sync-service/internal/config"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/remote"
	"offline-sync-service/internal/store"
	"offline-sync-service/internal/sync"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	// Load Config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting Offline Sync Service",
		zap.String("local_store", cfg.LocalStore.Type),
		zap.String("remote", cfg.Remote.Type),
		zap.Bool("offline", cfg.Sync.Offline),
	)

	ctx := context.Background()

	schemas, err := sync.TableSchemas(cfg.Sync)
	if err != nil {
		logger.Log.Fatal("Invalid table configuration", zap.Error(err))
	}

	// Init Local Store
	localStore, err := store.Open(cfg.LocalStore)
	if err != nil {
		logger.Log.Fatal("Failed to open local store", zap.Error(err))
	}

	// Init Remote
	backend, remoteCloser, err := remote.Open(ctx, cfg.Remote, schemas)
	if err != nil {
		logger.Log.Fatal("Failed to init remote backend", zap.Error(err))
	}
	defer remoteCloser.Close()

	// Init Sync Manager
	syncManager, err := sync.NewManager(ctx, cfg, localStore, backend)
	if err != nil {
		logger.Log.Fatal("Failed to init sync manager", zap.Error(err))
	}
	defer syncManager.Close()

	scheduler := sync.NewScheduler(cfg.Scheduler, syncManager)
	if err := scheduler.Start(); err != nil {
		logger.Log.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	if cfg.Sync.Realtime {
		if err := syncManager.Start(); err != nil {
			logger.Log.Error("Failed to start realtime sync", zap.Error(err))
		}
	}

	// Init API
	handler := api.NewHandler(syncManager, cfg.Server)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	syncManager.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}
