package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/mandiflow/produce-backend/api/routes"
	"github.com/mandiflow/produce-backend/internal/audit"
	"github.com/mandiflow/produce-backend/internal/customers"
	"github.com/mandiflow/produce-backend/internal/ledger"
	"github.com/mandiflow/produce-backend/internal/orders"
	"github.com/mandiflow/produce-backend/internal/products"
	"github.com/mandiflow/produce-backend/internal/rates"
	"github.com/mandiflow/produce-backend/internal/sequence"
	"github.com/mandiflow/produce-backend/internal/status"
	"github.com/mandiflow/produce-backend/pkg/config"
	"github.com/mandiflow/produce-backend/pkg/db"
	"github.com/mandiflow/produce-backend/pkg/logger"
	"github.com/mandiflow/produce-backend/pkg/redis"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "produce-api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "produce-api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	auditSink, err := audit.NewSink(dbClient.DB(), cfg.Audit.BufferSize, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create audit sink", err)
		os.Exit(1)
	}
	defer auditSink.Close()

	ratesSvc, err := rates.NewService(rates.NewRepository(dbClient.DB()), redisClient, cfg.Redis.MarketRateTTL, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create rates service", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(orders.Deps{
		Repo:            orders.NewRepository(dbClient.DB()),
		Tx:              dbClient,
		Customers:       customers.NewRepository(dbClient.DB()),
		Products:        products.NewRepository(dbClient.DB()),
		Rates:           ratesSvc,
		Ledger:          ledgerSvc,
		Sequence:        sequence.NewGenerator(dbClient.DB()),
		Machine:         status.NewMachine(),
		Audit:           auditSink,
		Logger:          logg,
		MaxLineQuantity: decimal.NewFromFloat(cfg.Orders.MaxLineQuantity),
		PriceTrailLimit: cfg.Orders.PriceTrailEntries,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, ordersSvc, ledgerSvc),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "server shutdown failed", err)
		}
	}
}
