package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binance-grid-bot-go/internal/binance"
	"binance-grid-bot-go/internal/config"
	"binance-grid-bot-go/internal/database"
	"binance-grid-bot-go/internal/grid"
	"binance-grid-bot-go/internal/logger"
	"binance-grid-bot-go/internal/store"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	if cfg.Binance.ApiKey == "" || cfg.Binance.SecretKey == "" {
		log.Fatal("Missing Binance API credentials; set BINANCE_APIKEY and BINANCE_SECRETKEY")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize Binance REST client and probe connectivity. The server
	// time endpoint doubles as the clock-sync source for signed requests.
	restClient := binance.NewRestClient(&cfg.Binance, log)
	if _, err := restClient.GetServerTime(); err != nil {
		log.Fatal("Failed to connect to Binance API", zap.Error(err))
	}
	log.Info("Successfully connected to Binance API.")

	st := store.NewStore(db)
	coordinator := grid.NewCoordinator(log, &cfg.Strategy, restClient, st)
	engine := grid.NewEngine(log, &cfg, restClient, st, coordinator)
	monitor := grid.NewMonitor(log, &cfg, restClient, st, coordinator, engine)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Operator HTTP surface
	apiServer := grid.NewAPIServer(cfg.Server.Port, engine, st, restClient, log)
	apiServer.Start()

	// The reinvestment monitor runs for the process lifetime.
	monitor.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
