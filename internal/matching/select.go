package matching

import (
	"bytes"
	"strings"

	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Options holds the amount tolerances. A candidate is accepted when its
// difference is within either bound.
type Options struct {
	AmountTolerance  decimal.Decimal
	PercentTolerance decimal.Decimal
}

// Option overrides a tolerance for one call.
type Option func(*Options)

// DefaultOptions admits a difference of one currency unit or two percent.
func DefaultOptions() Options {
	return Options{
		AmountTolerance:  decimal.NewFromInt(1),
		PercentTolerance: decimal.RequireFromString("0.02"),
	}
}

func WithAmountTolerance(v decimal.Decimal) Option {
	return func(o *Options) { o.AmountTolerance = v }
}

func WithPercentTolerance(v decimal.Decimal) Option {
	return func(o *Options) { o.PercentTolerance = v }
}

// Decision is the accepted candidate for an invoice.
type Decision struct {
	PurchaseOrder models.PurchaseOrder
	Difference    decimal.Decimal
	Confidence    float64
}

// Compatible rejects a purchase order whose currency or vendor contradicts
// the invoice. Missing values on either side never reject.
func Compatible(invoice *models.Invoice, po *models.PurchaseOrder) bool {
	if invoice.Currency != nil && po.Currency != nil {
		left := strings.TrimSpace(*invoice.Currency)
		right := strings.TrimSpace(*po.Currency)
		if left != "" && right != "" && !strings.EqualFold(left, right) {
			return false
		}
	}
	if invoice.VendorID != nil && po.VendorID != nil && *invoice.VendorID != *po.VendorID {
		return false
	}
	return true
}

// Best picks the compatible candidate closest in amount to the invoice total.
// Equal differences go to the lowest purchase order id, so input order never
// changes the result.
func Best(invoice *models.Invoice, candidates []models.PurchaseOrder) (*models.PurchaseOrder, decimal.Decimal, bool) {
	if !invoice.TotalAmount.Valid {
		return nil, decimal.Zero, false
	}
	total := invoice.TotalAmount.Decimal

	var (
		best     *models.PurchaseOrder
		bestDiff decimal.Decimal
	)
	for i := range candidates {
		po := &candidates[i]
		if !po.TotalAmount.Valid || !Compatible(invoice, po) {
			continue
		}
		diff := total.Sub(po.TotalAmount.Decimal).Abs()
		if best == nil || diff.LessThan(bestDiff) ||
			(diff.Equal(bestDiff) && bytes.Compare(po.ID[:], best.ID[:]) < 0) {
			best = po
			bestDiff = diff
		}
	}
	if best == nil {
		return nil, decimal.Zero, false
	}
	return best, bestDiff, true
}

// WithinTolerance applies the flat and percentage bounds as a union.
func WithinTolerance(total, diff decimal.Decimal, opts Options) bool {
	if diff.LessThanOrEqual(opts.AmountTolerance) {
		return true
	}
	return diff.LessThanOrEqual(total.Abs().Mul(opts.PercentTolerance))
}

// Confidence scales the difference against the invoice total, clamped to [0, 1].
func Confidence(total, diff decimal.Decimal) float64 {
	base := decimal.Max(one, total.Abs())
	ratio := decimal.Min(one, diff.Div(base))
	score := decimal.Max(decimal.Zero, one.Sub(ratio))
	value, _ := score.Float64()
	return value
}

// Select runs candidate filtering, nearest-amount selection and the
// tolerance check in one step.
func Select(invoice *models.Invoice, candidates []models.PurchaseOrder, opts Options) (*Decision, bool) {
	po, diff, ok := Best(invoice, candidates)
	if !ok {
		return nil, false
	}
	total := invoice.TotalAmount.Decimal
	if !WithinTolerance(total, diff, opts) {
		return nil, false
	}
	return &Decision{
		PurchaseOrder: *po,
		Difference:    diff,
		Confidence:    Confidence(total, diff),
	}, true
}
