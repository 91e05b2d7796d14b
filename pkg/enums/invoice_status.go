package enums

import "fmt"

// InvoiceStatus tracks where an invoice sits in the reconciliation and payment lifecycle.
type InvoiceStatus string

const (
	InvoiceStatusUnmatched       InvoiceStatus = "unmatched"
	InvoiceStatusNeedsReview     InvoiceStatus = "needs_review"
	InvoiceStatusVendorMismatch  InvoiceStatus = "vendor_mismatch"
	InvoiceStatusMatchedAuto     InvoiceStatus = "matched_auto"
	InvoiceStatusReadyForPayment InvoiceStatus = "ready_for_payment"
	InvoiceStatusPaymentPending  InvoiceStatus = "payment_pending"
	InvoiceStatusPaid            InvoiceStatus = "paid"
)

var validInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusUnmatched,
	InvoiceStatusNeedsReview,
	InvoiceStatusVendorMismatch,
	InvoiceStatusMatchedAuto,
	InvoiceStatusReadyForPayment,
	InvoiceStatusPaymentPending,
	InvoiceStatusPaid,
}

// PayableInvoiceStatuses may be reserved by a new payment.
var PayableInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusMatchedAuto,
	InvoiceStatusReadyForPayment,
}

// MatchableInvoiceStatuses may be (re)written by the matching engine.
var MatchableInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusUnmatched,
	InvoiceStatusNeedsReview,
	InvoiceStatusMatchedAuto,
}

// ExceptionInvoiceStatuses need operator attention.
var ExceptionInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusUnmatched,
	InvoiceStatusVendorMismatch,
	InvoiceStatusNeedsReview,
}

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusUnmatched: {
		InvoiceStatusVendorMismatch,
		InvoiceStatusMatchedAuto,
		InvoiceStatusReadyForPayment,
	},
	InvoiceStatusNeedsReview: {
		InvoiceStatusMatchedAuto,
		InvoiceStatusReadyForPayment,
	},
	InvoiceStatusVendorMismatch: {
		InvoiceStatusReadyForPayment,
	},
	InvoiceStatusMatchedAuto: {
		InvoiceStatusMatchedAuto,
		InvoiceStatusReadyForPayment,
		InvoiceStatusPaymentPending,
	},
	InvoiceStatusReadyForPayment: {
		InvoiceStatusPaymentPending,
	},
	InvoiceStatusPaymentPending: {
		InvoiceStatusPaid,
		InvoiceStatusMatchedAuto,
		InvoiceStatusReadyForPayment,
	},
}

// String implements fmt.Stringer.
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known InvoiceStatus.
func (s InvoiceStatus) IsValid() bool {
	return containsInvoiceStatus(validInvoiceStatuses, s)
}

// IsPayable reports whether a payment may reserve an invoice in this status.
func (s InvoiceStatus) IsPayable() bool {
	return containsInvoiceStatus(PayableInvoiceStatuses, s)
}

// IsMatchable reports whether the matching engine may write an invoice in this status.
func (s InvoiceStatus) IsMatchable() bool {
	return containsInvoiceStatus(MatchableInvoiceStatuses, s)
}

// CanTransitionInvoice reports whether from -> to is a legal invoice transition.
func CanTransitionInvoice(from, to InvoiceStatus) bool {
	return containsInvoiceStatus(invoiceTransitions[from], to)
}

// ParseInvoiceStatus converts raw input into an InvoiceStatus.
func ParseInvoiceStatus(value string) (InvoiceStatus, error) {
	for _, candidate := range validInvoiceStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice status %q", value)
}

func containsInvoiceStatus(list []InvoiceStatus, s InvoiceStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}
