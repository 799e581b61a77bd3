package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HORNET-Storage/hornets-relay-core/lib/config"
	"github.com/HORNET-Storage/hornets-relay-core/lib/events"
	"github.com/HORNET-Storage/hornets-relay-core/lib/expiration"
	"github.com/HORNET-Storage/hornets-relay-core/lib/logging"
	"github.com/HORNET-Storage/hornets-relay-core/lib/relay"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
	ws "github.com/HORNET-Storage/hornets-relay-core/lib/transports/websocket"
	"github.com/HORNET-Storage/hornets-relay-core/lib/types"
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	if err := logging.InitLogger(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger := logging.GetLogger()
	defer logger.Close()

	cfg, err := config.GetConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	repo, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to open %s event store: %v", cfg.Storage.Driver, err)
	}

	r := relay.New(repo, relay.Options{
		Domain: cfg.Relay.Domain,
		Logger: logger,
		Limits: events.Limits{
			CreatedAtUpperLimit: cfg.Limits.CreatedAtUpperLimit,
			CreatedAtLowerLimit: cfg.Limits.CreatedAtLowerLimit,
			MinPowDifficulty:    cfg.Limits.MinPowDifficulty,
		},
		MaxSubscriptionsPerClient: cfg.Limits.MaxSubscriptionsPerClient,
		FilterResultTTL:           config.FilterResultTTL(cfg),
		EventHandlingResultTTL:    config.EventHandlingResultTTL(cfg),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if purger, ok := repo.(stores.ExpiredEventPurger); ok && cfg.Expiration.SweepIntervalSeconds > 0 {
		interval := time.Duration(cfg.Expiration.SweepIntervalSeconds) * time.Second
		expiration.NewManager(purger, interval, logger).Start(ctx)
		logger.Infof("Expiration sweeper running every %s", interval)
	}

	config.WatchConfig(func(updated *types.Config) {
		logger.Info("Configuration file changed, restart to apply relay settings", map[string]interface{}{
			"driver": updated.Storage.Driver,
			"domain": updated.Relay.Domain,
		})
	})

	app := ws.BuildServer(r, ws.NewRelayInfo(cfg.Relay, cfg.Limits, r), logger)
	address := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)

	go func() {
		logger.Info("Relay listening", map[string]interface{}{
			"address": address,
			"driver":  cfg.Storage.Driver,
			"auth":    r.AuthEnabled(),
			"search":  r.IsSearchSupported(),
		})
		if err := ws.StartServer(app, address); err != nil {
			logger.Errorf("Websocket server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down relay")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Errorf("Error shutting down websocket server: %v", err)
	}
	if err := r.Close(); err != nil {
		logger.Errorf("Error closing relay: %v", err)
	}
}
