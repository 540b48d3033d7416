package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sessiondb/internal/config"
	"sessiondb/internal/database"
	"sessiondb/internal/httpapi"
	"sessiondb/internal/telemetry"
	"sessiondb/pkg/logger"
)

func main() {
	// Aceita o caminho do arquivo de configuração como argumento
	// Se não fornecido, usa string vazia (busca automática)
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	configResult, err := config.LoadConfigWithPath(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	config.Init()
	config.SetOnce(configResult.Config, configResult.ConfigPath)

	if err := logger.InitFromConfig(config.GetCfg()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	if configResult.ConfigPath != "" {
		logger.Info("Using config file: %s", configResult.ConfigPath)
	}

	cfg := config.GetCfg()
	telemetry.InitializeTelemetry(cfg.Metrics.Enabled)

	openCtx, cancelOpen := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout.Duration+5*time.Second)
	db, err := database.Open(openCtx, cfg)
	cancelOpen()
	if err != nil {
		logger.Error("Failed to open database: %v", err)
		os.Exit(1)
	}

	api := httpapi.NewAPI(db, httpapi.WithSessionLimits(cfg.HTTP.MaxSessions, cfg.HTTP.SessionTTL.Duration))

	stop, err := httpapi.Start(api.Router(), cfg.HTTP.ListenHost, cfg.HTTP.ListenPort)
	if err != nil {
		logger.Error("Failed to start HTTP server: %v", err)
		_ = db.TerminatePool(context.Background())
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("sessiondb started (%s backend, eviction window %s). Press Ctrl+C to stop.", db.Driver(), cfg.Session.EvictionWindow.Duration)

	<-sigChan
	logger.Info("Shutting down server...")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.TerminatePool(ctx); err != nil {
		logger.Error("Error terminating pool: %v", err)
	}
	logger.Info("Server stopped")
}
