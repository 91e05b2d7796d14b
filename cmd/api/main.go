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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/apmatch-backend/api/routes"
	"github.com/angelmondragon/apmatch-backend/internal/gateway"
	"github.com/angelmondragon/apmatch-backend/internal/ingestion"
	"github.com/angelmondragon/apmatch-backend/internal/invoices"
	"github.com/angelmondragon/apmatch-backend/internal/matching"
	"github.com/angelmondragon/apmatch-backend/internal/payments"
	"github.com/angelmondragon/apmatch-backend/internal/purchaseorders"
	"github.com/angelmondragon/apmatch-backend/internal/vendors"
	stripewebhook "github.com/angelmondragon/apmatch-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/apmatch-backend/pkg/auth/session"
	"github.com/angelmondragon/apmatch-backend/pkg/config"
	"github.com/angelmondragon/apmatch-backend/pkg/db"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
	"github.com/angelmondragon/apmatch-backend/pkg/metrics"
	"github.com/angelmondragon/apmatch-backend/pkg/migrate"
	"github.com/angelmondragon/apmatch-backend/pkg/redis"
	"github.com/angelmondragon/apmatch-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
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

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}
	paymentGateway, err := gateway.NewStripeGateway(stripeClient)
	requireService(logg, "payment gateway", err)

	revocations, err := session.NewRevocations(redisClient, cfg.JWT.TokenTTL())
	requireService(logg, "token revocations", err)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	conn := dbClient.DB()
	invoiceRepo := invoices.NewRepository(conn)
	poRepo := purchaseorders.NewRepository(conn)
	vendorRepo := vendors.NewRepository(conn)
	paymentRepo := payments.NewRepository(conn)

	invoiceService, err := invoices.NewService(invoiceRepo, dbClient)
	requireService(logg, "invoices", err)
	poService, err := purchaseorders.NewService(poRepo)
	requireService(logg, "purchase orders", err)
	vendorService, err := vendors.NewService(vendorRepo, dbClient, logg)
	requireService(logg, "vendors", err)

	matchDefaults := matching.Options{
		AmountTolerance:  cfg.Matching.Amount(),
		PercentTolerance: cfg.Matching.Percent(),
	}
	matchService, err := matching.NewService(matching.ServiceParams{
		Invoices:       invoiceRepo,
		PurchaseOrders: poRepo,
		Tx:             dbClient,
		Logger:         logg,
		Metrics:        metrics.NewMatchingMetrics(registry),
		Defaults:       &matchDefaults,
	})
	requireService(logg, "matching", err)

	ingestService, err := ingestion.NewService(ingestion.ServiceParams{
		Invoices: invoiceRepo,
		Vendors:  vendorRepo,
		Matcher:  matchService,
		Tx:       dbClient,
		Logger:   logg,
	})
	requireService(logg, "ingestion", err)

	paymentService, err := payments.NewService(payments.ServiceParams{
		Invoices: invoiceRepo,
		Payments: paymentRepo,
		Gateway:  paymentGateway,
		Tx:       dbClient,
		Logger:   logg,
		Metrics:  metrics.NewPaymentMetrics(registry),
	})
	requireService(logg, "payments", err)

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Payments: paymentService,
		Logger:   logg,
	})
	requireService(logg, "stripe webhooks", err)
	eventDedup, err := stripewebhook.NewEventDedup(redisClient, "stripe-webhook", cfg.Idempotency.WebhookTTL)
	requireService(logg, "stripe event dedup", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			DB:                   dbClient,
			Redis:                redisClient,
			Idempotency:          redisClient,
			Revocations:          revocations,
			Gatherer:             registry,
			HTTPMetrics:          metrics.NewHTTPMetrics(registry),
			Invoices:             invoiceService,
			PurchaseOrders:       poService,
			Vendors:              vendorService,
			Matching:             matchService,
			Ingestion:            ingestService,
			Payments:             paymentService,
			Stripe:               stripeClient,
			StripeWebhookService: webhookService,
			StripeEventDedup:     eventDedup,
		}),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server stopped")
	}
}

func requireService(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+name+" service", err)
	os.Exit(1)
}
