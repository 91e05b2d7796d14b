package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/apmatch-backend/internal/cron"
	"github.com/angelmondragon/apmatch-backend/internal/gateway"
	"github.com/angelmondragon/apmatch-backend/internal/invoices"
	"github.com/angelmondragon/apmatch-backend/internal/payments"
	"github.com/angelmondragon/apmatch-backend/pkg/config"
	"github.com/angelmondragon/apmatch-backend/pkg/db"
	"github.com/angelmondragon/apmatch-backend/pkg/instance"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
	"github.com/angelmondragon/apmatch-backend/pkg/metrics"
	"github.com/angelmondragon/apmatch-backend/pkg/migrate"
	"github.com/angelmondragon/apmatch-backend/pkg/redis"
	"github.com/angelmondragon/apmatch-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		Invoices: invoices.NewRepository(dbClient.DB()),
		Payments: payments.NewRepository(dbClient.DB()),
		Gateway:  paymentGateway,
		Tx:       dbClient,
		Logger:   logg,
		Metrics:  metrics.NewPaymentMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewPaymentReconcileJob(cron.PaymentReconcileJobParams{
		Logger:     logg,
		Payments:   paymentService,
		StaleAfter: cfg.Reconcile.StaleAfter,
		Limit:      cfg.Reconcile.Limit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Reconcile.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(reconcileJob)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:       logg,
		Registry:     registry,
		Lock:         lock,
		Metrics:      metricsCollector,
		Interval:     cfg.Reconcile.Interval,
		CycleTimeout: cycleTimeout(cfg.Reconcile.LockTTL),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("cron-worker:%s", env)
}

// cycleTimeout leaves a margin under the lock TTL for the release round trip.
func cycleTimeout(lockTTL time.Duration) time.Duration {
	if margin := lockTTL / 10; margin > 0 {
		return lockTTL - margin
	}
	return lockTTL
}
