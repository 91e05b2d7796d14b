package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/apmatch-backend/internal/payments"
	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
	"go.uber.org/multierr"
)

const (
	defaultReconcileLimit      = 250
	defaultReconcileStaleAfter = 30 * time.Minute
)

type paymentConfirmer interface {
	ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]models.Payment, error)
	Confirm(ctx context.Context, paymentIntentID string) (*payments.ConfirmResult, error)
}

// PaymentReconcileJobParams configures the sweep over payments whose
// confirmation never arrived.
type PaymentReconcileJobParams struct {
	Logger     *logger.Logger
	Payments   paymentConfirmer
	StaleAfter time.Duration
	Limit      int
}

func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultReconcileStaleAfter
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &paymentReconcileJob{
		logg:       params.Logger,
		payments:   params.Payments,
		staleAfter: staleAfter,
		limit:      limit,
	}, nil
}

type paymentReconcileJob struct {
	logg       *logger.Logger
	payments   paymentConfirmer
	staleAfter time.Duration
	limit      int
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

// Run confirms every stale payment against the processor. One failing
// payment does not stop the others; the combined error is returned.
func (j *paymentReconcileJob) Run(ctx context.Context) error {
	stale, err := j.payments.ListStale(ctx, j.staleAfter, j.limit)
	if err != nil {
		return fmt.Errorf("list stale payments: %w", err)
	}

	var errs error
	changed := 0
	for _, payment := range stale {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if payment.PaymentIntentID == nil {
			continue
		}
		result, err := j.payments.Confirm(ctx, *payment.PaymentIntentID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
			continue
		}
		if result.Changed {
			changed++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(stale),
		"changed":    changed,
		"failed":     len(multierr.Errors(errs)),
	}), "payment reconcile sweep complete")
	return errs
}
