package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swapramp/internal/chain"
	"swapramp/internal/config"
	"swapramp/internal/db"
	"swapramp/internal/orchestrator"
	"swapramp/internal/processor"
	"swapramp/internal/quote"
	"swapramp/internal/rates"
	"swapramp/internal/recon"
	"swapramp/internal/store"
	"swapramp/internal/wallet"

	"go.uber.org/zap"
)

func main() {
	cfgStore, err := config.Open("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	cfg := cfgStore.Current()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	st := store.New(pool)
	chainClient, err := chain.NewMultiClient(cfg.Chain.RPCEndpoints, cfg.Chain.ChainID, cfg.Wallet.PrivateKey, 3)
	if err != nil {
		logger.Fatal("chain client init failed", zap.Error(err))
	}

	oracle := rates.NewOracleFromConfig(cfg, st, logger)
	quotes := quote.NewClient(cfg.Venue.BaseURL, cfg.Venue.APIKey, time.Duration(cfg.Venue.TimeoutSeconds)*time.Second)
	proc := processor.NewClient(cfg.Processor.BaseURL, cfg.Processor.APIKey, cfg.Processor.WebhookSecret)
	tracker := wallet.NewTracker(st, chainClient, cfgStore, logger)
	orch := orchestrator.New(st, oracle, quotes, tracker, proc, cfgStore, logger)
	reconJob := recon.NewJob(st, proc, chainClient, cfgStore, logger)

	wsEndpoint := cfg.Chain.WSEndpoint
	if wsEndpoint == "" && len(cfg.Chain.RPCEndpoints) > 0 {
		wsEndpoint = chain.DefaultWSEndpoint(cfg.Chain.RPCEndpoints[0])
	}

	go orch.Run(ctx)
	go tracker.Run(ctx)
	go tracker.RunHeadListener(ctx, wsEndpoint)
	go reconJob.Run(ctx)

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			if err := cfgStore.Reload(); err != nil {
				logger.Error("config reload failed", zap.Error(err))
				continue
			}
			logger.Info("config reloaded")
		}
	}()

	logger.Info("worker started", zap.Int64("chain", cfg.Chain.ChainID))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()
}
