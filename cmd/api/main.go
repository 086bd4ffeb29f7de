package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swapramp/internal/chain"
	"swapramp/internal/config"
	"swapramp/internal/db"
	internalhttp "swapramp/internal/http"
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

	ctx := context.Background()
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

	h := internalhttp.NewHandler(orch, proc, chainClient, reconJob, cfgStore, logger)
	srv := internalhttp.NewServer(h)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

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

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
