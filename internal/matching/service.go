package matching

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/apmatch-backend/internal/invoices"
	"github.com/angelmondragon/apmatch-backend/internal/purchaseorders"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
	"github.com/angelmondragon/apmatch-backend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Result describes a successful match.
type Result struct {
	InvoiceID       uuid.UUID       `json:"invoice_id"`
	PurchaseOrderID uuid.UUID       `json:"purchase_order_id"`
	PONumber        string          `json:"po_number"`
	Difference      decimal.Decimal `json:"difference"`
	Confidence      float64         `json:"confidence"`
}

// Service matches invoices against open purchase orders.
type Service interface {
	// Match returns nil when the invoice is missing, not eligible, or no
	// purchase order falls inside the tolerances.
	Match(ctx context.Context, invoiceID uuid.UUID, opts ...Option) (*Result, error)
}

type ServiceParams struct {
	Invoices       invoices.Repository
	PurchaseOrders purchaseorders.Repository
	Tx             txRunner
	Logger         *logger.Logger
	Metrics        *metrics.MatchingMetrics
	Defaults       *Options
}

type service struct {
	invoices invoices.Repository
	pos      purchaseorders.Repository
	tx       txRunner
	logg     *logger.Logger
	metrics  *metrics.MatchingMetrics
	defaults Options
}

func NewService(params ServiceParams) (Service, error) {
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoices repository required")
	}
	if params.PurchaseOrders == nil {
		return nil, fmt.Errorf("purchase order repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	defaults := DefaultOptions()
	if params.Defaults != nil {
		defaults = *params.Defaults
	}
	if defaults.AmountTolerance.IsNegative() || defaults.PercentTolerance.IsNegative() {
		return nil, fmt.Errorf("tolerances must not be negative")
	}
	return &service{
		invoices: params.Invoices,
		pos:      params.PurchaseOrders,
		tx:       params.Tx,
		logg:     params.Logger,
		metrics:  params.Metrics,
		defaults: defaults,
	}, nil
}

func (s *service) Match(ctx context.Context, invoiceID uuid.UUID, opts ...Option) (*Result, error) {
	options := s.defaults
	for _, opt := range opts {
		opt(&options)
	}
	if options.AmountTolerance.IsNegative() || options.PercentTolerance.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tolerances must not be negative")
	}

	ctx = s.logg.WithInvoiceID(ctx, invoiceID.String())

	var result *Result
	outcome := metrics.MatchOutcomeUnmatched
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		invoiceRepo := s.invoices.WithTx(tx)
		invoice, err := invoiceRepo.LockByID(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("lock invoice: %w", err)
		}
		if invoice == nil || !eligible(invoice.Status) {
			outcome = metrics.MatchOutcomeSkipped
			return nil
		}
		poNumber := ""
		if invoice.PONumber != nil {
			poNumber = strings.TrimSpace(*invoice.PONumber)
		}
		if poNumber == "" || !invoice.TotalAmount.Valid {
			outcome = metrics.MatchOutcomeSkipped
			return nil
		}

		candidates, err := s.pos.WithTx(tx).FindOpenByNumber(ctx, poNumber)
		if err != nil {
			return fmt.Errorf("load purchase orders: %w", err)
		}
		decision, ok := Select(invoice, candidates, options)
		if !ok {
			return nil
		}

		applied, err := invoiceRepo.ApplyMatch(ctx, invoice.ID, decision.PurchaseOrder.ID, decision.Confidence)
		if err != nil {
			return fmt.Errorf("apply match: %w", err)
		}
		if !applied {
			outcome = metrics.MatchOutcomeSkipped
			return nil
		}
		outcome = metrics.MatchOutcomeMatched
		result = &Result{
			InvoiceID:       invoice.ID,
			PurchaseOrderID: decision.PurchaseOrder.ID,
			PONumber:        decision.PurchaseOrder.PONumber,
			Difference:      decision.Difference,
			Confidence:      decision.Confidence,
		}
		return nil
	})
	if err != nil {
		s.metrics.Observe(metrics.MatchOutcomeError)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "match invoice")
	}
	s.metrics.Observe(outcome)

	if result != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"purchase_order_id": result.PurchaseOrderID.String(),
			"confidence":        result.Confidence,
		})
		s.logg.Info(ctx, "invoice matched")
	} else {
		s.logg.Debug(ctx, "invoice not matched")
	}
	return result, nil
}

// vendor_mismatch stays put until an operator fixes it, and anything already
// reserved or paid is never rewritten.
func eligible(status enums.InvoiceStatus) bool {
	return status.IsMatchable()
}
