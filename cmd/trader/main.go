package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"signal-trade-bot-go/internal/advisor"
	"signal-trade-bot-go/internal/config"
	"signal-trade-bot-go/internal/credential"
	"signal-trade-bot-go/internal/database"
	"signal-trade-bot-go/internal/keyedlock"
	"signal-trade-bot-go/internal/logger"
	"signal-trade-bot-go/internal/market"
	"signal-trade-bot-go/internal/profit"
	"signal-trade-bot-go/internal/reconciler"
	"signal-trade-bot-go/internal/risk"
	"signal-trade-bot-go/internal/server"
	"signal-trade-bot-go/internal/store"
	"signal-trade-bot-go/internal/trader"
	"signal-trade-bot-go/internal/venue"
)

func main() {
	// A .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	stores := store.New(db)
	gateway := market.NewHTTPGateway(time.Duration(cfg.Venue.TimeoutSeconds)*time.Second, log)
	credentials := credential.NewStoreProvider(stores.Credentials, cfg.Credential.EncryptionKey)

	var reviewer advisor.Reviewer
	if cfg.Advisor.Enabled {
		reviewer = advisor.NewClient(cfg.Advisor.BaseURL, cfg.Advisor.APIKey, cfg.Advisor.Model,
			time.Duration(cfg.Venue.TimeoutSeconds)*time.Second, log)
		log.Info("Advisory filter enabled", zap.String("model", cfg.Advisor.Model))
	}

	clientCfg := venue.ClientConfig{
		RecvWindow:     cfg.Venue.RecvWindow,
		Timeout:        time.Duration(cfg.Venue.TimeoutSeconds) * time.Second,
		RateLimit:      cfg.Venue.RateLimit,
		RateLimitBurst: cfg.Venue.RateLimitBurst,
	}

	gate := risk.NewGate(stores.Trades, stores.Positions, gateway, reviewer, log)
	profitEngine := profit.NewEngine(stores.Billing, stores.Profiles, cfg.Profit.FeeRate, cfg.Profit.ReferralRates, log)

	// One lock set for the whole pipeline: strategy ticks and position
	// closes must exclude each other across the engine and the reconciler.
	locks := keyedlock.New()
	rec := reconciler.New(stores.Positions, stores.Trades, credentials, venue.NewClient, clientCfg, profitEngine, locks, log)

	engine := trader.NewEngine(
		stores, gateway, gate, credentials, venue.NewClient, clientCfg,
		rec, profitEngine, locks, time.Duration(cfg.Trading.TickInterval)*time.Second, log,
	)

	apiServer := server.New(engine, cfg.Server.Port, log)
	apiServer.Start()

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	engine.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
