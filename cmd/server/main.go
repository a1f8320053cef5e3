package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"timebank/internal/config"
	"timebank/internal/db"
	"timebank/internal/gateway"
	"timebank/internal/handlers"
	"timebank/internal/logging"
	"timebank/internal/metrics/prometheus"
	"timebank/internal/models"
	"timebank/internal/notify"
	"timebank/internal/services"
	"timebank/internal/store"
	"timebank/internal/websocket"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	logger, err := logging.NewLoggerFromEnv()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	registry := prom.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := prometheus.NewCollector("timebank")
	if err := collector.Register(registry); err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	users := store.NewUserStore(database)
	accounts := store.NewAccountStore(database)
	entries := store.NewEntryStore(database)
	outbox := store.NewOutboxStore(database)
	admin := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database).WithRetryObserver(collector.RecordTxRetry)

	cardConfig := gateway.DefaultCardConfig()
	cardConfig.Timeout = cfg.GatewayTimeout
	gateways := gateway.NewRegistry()
	gateways.Register(models.MethodWallet, gateway.WalletGateway{})
	gateways.Register(models.MethodAdminCredit, gateway.AdminCreditGateway{})
	gateways.Register(models.MethodExternalManual, gateway.ManualGateway{})
	gateways.Register(models.MethodCard, gateway.NewCardGateway(gateway.MockCardNetwork{Now: time.Now}, cardConfig, collector, logger))
	fees := gateway.FeePolicy{CardFee: cfg.CardProcessingFee, FeeAccountID: cfg.FeeAccountID}

	ledger := services.NewLedgerService(txRunner, accounts, entries, outbox, audit, gateways, fees, collector, logger)
	hub := websocket.NewHub(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, ctx := errgroup.WithContext(ctx)

	var publisher notify.Publisher = hub
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		publisher = notify.NewRedisPublisher(client, cfg.RedisChannel)
		relay := notify.NewRedisRelay(client, cfg.RedisChannel, hub, logger)
		group.Go(func() error { return relay.Run(ctx) })
	}
	dispatcher := notify.NewDispatcher(outbox, publisher, notify.DispatcherConfig{
		PollEvery: cfg.OutboxPollEvery,
		BatchSize: cfg.OutboxBatchSize,
	}, collector, logger)
	group.Go(func() error { return dispatcher.Run(ctx) })

	handler := handlers.New(txRunner, cfg, users, accounts, admin, audit, ledger, hub, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), logger)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	group.Go(func() error {
		logger.Info("timebank API listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", zap.Error(err))
	}
}
