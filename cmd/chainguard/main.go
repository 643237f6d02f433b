package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/temi0x/chainguard/internal/api"
	"github.com/temi0x/chainguard/internal/compute"
	"github.com/temi0x/chainguard/internal/config"
	"github.com/temi0x/chainguard/internal/events"
	"github.com/temi0x/chainguard/internal/oracle"
	"github.com/temi0x/chainguard/internal/storage"
	"github.com/temi0x/chainguard/internal/upkeep"
	"github.com/temi0x/chainguard/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Compute provider
	var provider compute.Provider
	switch cfg.Provider.Mode {
	case "gateway":
		provider = compute.NewGatewayProvider(compute.GatewayConfig{
			URL:           cfg.Provider.GatewayURL,
			APIKey:        cfg.Provider.GatewayAPIKey,
			CallbackURL:   cfg.Provider.CallbackURL,
			SubmitTimeout: cfg.Provider.SubmitTimeout,
		}, zapLogger)
	default:
		provider = compute.NewSimulatedProvider(cfg.Provider.SimulatedLatency, zapLogger)
	}
	zapLogger.Info("compute provider ready", zap.String("mode", cfg.Provider.Mode))

	// Optional Redis event fan-out
	var publisher events.Publisher
	if cfg.Redis.Enabled {
		redisPub, err := events.NewRedisPublisher(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err != nil {
			zapLogger.Fatal("Failed to connect event publisher", zap.Error(err))
		}
		defer redisPub.Close()
		publisher = redisPub
	}
	bus := events.NewBus(zapLogger, publisher)

	// Record store
	var store oracle.Store
	if cfg.Storage.Path != "" {
		recordStore, err := storage.Open(cfg.Storage.Path, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to open record store", zap.Error(err))
		}
		store = recordStore
	}

	// Assessment program override
	program := ""
	if cfg.Oracle.ProgramFile != "" {
		src, err := os.ReadFile(cfg.Oracle.ProgramFile)
		if err != nil {
			zapLogger.Fatal("Failed to read assessment program", zap.Error(err))
		}
		program = string(src)
	}

	registry := oracle.NewRegistry(zapLogger, provider, store, bus, oracle.Config{
		Program:      program,
		LegacyDecode: cfg.Oracle.LegacyDecode,
		PendingTTL:   cfg.Oracle.PendingTTL,
	})
	if err := registry.Load(context.Background()); err != nil {
		zapLogger.Fatal("Failed to load risk records", zap.Error(err))
	}

	// Staleness monitor
	var monitor *upkeep.Monitor
	if cfg.Upkeep.Enabled {
		monitor = upkeep.NewMonitor(zapLogger, registry, upkeep.Config{
			Interval:  cfg.Upkeep.Interval,
			Staleness: cfg.Upkeep.Staleness,
			MaxBatch:  cfg.Upkeep.MaxBatch,
		})
		if err := monitor.Start(); err != nil {
			zapLogger.Fatal("Failed to start staleness monitor", zap.Error(err))
		}
	}

	// HTTP API
	apiServer := api.NewServer(zapLogger, registry, bus, api.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("API server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("API server shutdown failed", zap.Error(err))
	}

	if monitor != nil {
		if err := monitor.Stop(); err != nil {
			zapLogger.Error("Failed to stop staleness monitor", zap.Error(err))
		}
	}

	zapLogger.Info("Server exited properly")
}
