package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trade-gateway/internal/api"
	"trade-gateway/internal/balance"
	"trade-gateway/internal/engine"
	"trade-gateway/internal/monitor"
	"trade-gateway/internal/order"
	"trade-gateway/internal/reconciliation"
	"trade-gateway/internal/risk"
	"trade-gateway/pkg/config"
	"trade-gateway/pkg/db"
	"trade-gateway/pkg/exchanges/aster"
	"trade-gateway/pkg/logger"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	// `trade-gateway token <subject> [ttl]` prints a bearer token for the API.
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := printToken(cfg, os.Args[2:]); err != nil {
			zl.Fatal("issue token", zap.Error(err))
		}
		return
	}

	if err := run(cfg, zl); err != nil {
		zl.Fatal("trade gateway stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	client := aster.NewClient(aster.Config{
		APIKey:              cfg.AsterAPIKey,
		APISecret:           cfg.AsterAPISecret,
		Testnet:             cfg.AsterTestnet,
		BaseURL:             cfg.AsterBaseURL,
		RecvWindow:          cfg.RecvWindowMs,
		Timeout:             cfg.HTTPTimeout,
		RequestsPerSecond:   cfg.RequestsPerSecond,
		ClockResyncInterval: cfg.ClockResyncInterval,
	}, zl)
	client.Start(ctx)
	if cfg.AsterAPIKey == "" || cfg.AsterAPISecret == "" {
		zl.Warn("ASTER_API_KEY/ASTER_API_SECRET not set; only public market endpoints will work")
	}

	filters := aster.NewFilterCache(client, zl)
	orders := order.NewService(client, order.NewNormalizer(filters), zl)

	balances := balance.NewManager(client, cfg.QuoteAsset, cfg.BalanceMaxAge, zl)
	if cfg.BalanceSyncInterval > 0 {
		balances.Start(ctx, cfg.BalanceSyncInterval)
	}

	reconciler := reconciliation.NewService(client, database.Journal(), cfg.ReconcileInterval, zl)
	reconciler.Start(ctx)

	gate := risk.NewGate(cfg.Risk, zl)
	metrics := monitor.NewSystemMetrics()

	svc := engine.NewImpl(engine.Config{
		Gate:     gate,
		Orders:   orders,
		Balances: balances,
		Market:   client,
		Rules:    filters,
		Journal:  database.Journal(),
		Metrics:  metrics,
		Logger:   zl,
		Meta: engine.SystemStatus{
			Venue:   "asterdex-futures",
			Testnet: cfg.AsterTestnet,
			Version: version,
		},
	})

	server := api.NewServer(svc, api.Options{
		JWTSecret:      cfg.JWTSecret,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit:      cfg.APIRateLimit,
		RateBurst:      cfg.APIRateBurst,
	}, zl)
	if cfg.JWTSecret == "" {
		zl.Warn("JWT_SECRET not set; API is unauthenticated")
	}

	httpServer := server.HTTPServer(":" + cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		zl.Info("trade gateway listening",
			zap.String("addr", httpServer.Addr),
			zap.Bool("testnet", cfg.AsterTestnet),
			zap.String("version", version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		zl.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	// Requests in flight may be placing orders; give them time to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown", zap.Error(err))
	}
	stats := gate.DailyStats()
	zl.Info("trade gateway stopped",
		zap.Int("trades_today", stats.TradesCount),
		zap.Uint64("orders_placed", metrics.GetSnapshot().OrdersPlaced))
	return nil
}

func printToken(cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: trade-gateway token <subject> [ttl]")
	}
	ttl := 24 * time.Hour
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("ttl: %w", err)
		}
		ttl = d
	}
	token, err := api.IssueToken(args[0], cfg.JWTSecret, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
