package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/angelmondragon/apmatch-backend/internal/gateway"
	"github.com/angelmondragon/apmatch-backend/internal/ingestion"
	"github.com/angelmondragon/apmatch-backend/internal/invoices"
	"github.com/angelmondragon/apmatch-backend/internal/matching"
	"github.com/angelmondragon/apmatch-backend/internal/payments"
	"github.com/angelmondragon/apmatch-backend/internal/purchaseorders"
	"github.com/angelmondragon/apmatch-backend/internal/vendors"
	"github.com/angelmondragon/apmatch-backend/pkg/config"
	"github.com/angelmondragon/apmatch-backend/pkg/db"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
	"github.com/angelmondragon/apmatch-backend/pkg/redis"
	"github.com/angelmondragon/apmatch-backend/pkg/stripe"
)

// environment is what the commands need from the process. Tests swap both.
type environment struct {
	loadConfig func() (*config.Config, error)
	out        io.Writer
}

func (e *environment) config() (*config.Config, *logger.Logger, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "invoicectl",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Output:      os.Stderr,
	})
	return cfg, logg, nil
}

// services holds the engines a command runs against. close releases the
// connections opened for them.
type services struct {
	cfg       *config.Config
	logg      *logger.Logger
	matching  matching.Service
	ingestion ingestion.Service
	payments  payments.Service
	closers   []func() error
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logg.Error(context.Background(), "close failed", err)
		}
	}
}

// openServices connects to the database and, when withPayments is set, to
// Stripe.
func (e *environment) openServices(ctx context.Context, withPayments bool) (*services, error) {
	cfg, logg, err := e.config()
	if err != nil {
		return nil, err
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	svc := &services{cfg: cfg, logg: logg, closers: []func() error{dbClient.Close}}

	conn := dbClient.DB()
	invoiceRepo := invoices.NewRepository(conn)
	defaults := matching.Options{AmountTolerance: cfg.Matching.Amount(), PercentTolerance: cfg.Matching.Percent()}
	svc.matching, err = matching.NewService(matching.ServiceParams{
		Invoices:       invoiceRepo,
		PurchaseOrders: purchaseorders.NewRepository(conn),
		Tx:             dbClient,
		Logger:         logg,
		Defaults:       &defaults,
	})
	if err != nil {
		svc.close()
		return nil, err
	}
	svc.ingestion, err = ingestion.NewService(ingestion.ServiceParams{
		Invoices: invoiceRepo,
		Vendors:  vendors.NewRepository(conn),
		Matcher:  svc.matching,
		Tx:       dbClient,
		Logger:   logg,
	})
	if err != nil {
		svc.close()
		return nil, err
	}

	if !withPayments {
		return svc, nil
	}

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		svc.close()
		return nil, fmt.Errorf("stripe client: %w", err)
	}
	gw, err := gateway.NewStripeGateway(stripeClient)
	if err != nil {
		svc.close()
		return nil, err
	}
	svc.payments, err = payments.NewService(payments.ServiceParams{
		Invoices: invoiceRepo,
		Payments: payments.NewRepository(conn),
		Gateway:  gw,
		Tx:       dbClient,
		Logger:   logg,
	})
	if err != nil {
		svc.close()
		return nil, err
	}
	return svc, nil
}

func (e *environment) openRedis(ctx context.Context) (*config.Config, *redis.Client, error) {
	cfg, logg, err := e.config()
	if err != nil {
		return nil, nil, err
	}
	client, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return cfg, client, nil
}
