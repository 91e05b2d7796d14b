package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntentStatus is the processor-side state of a payment intent.
type IntentStatus string

const (
	IntentStatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentStatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentStatusRequiresAction        IntentStatus = "requires_action"
	IntentStatusProcessing            IntentStatus = "processing"
	IntentStatusRequiresCapture       IntentStatus = "requires_capture"
	IntentStatusCanceled              IntentStatus = "canceled"
	IntentStatusSucceeded             IntentStatus = "succeeded"
)

// Failed reports whether the intent will never collect funds as is.
func (s IntentStatus) Failed() bool {
	return s == IntentStatusCanceled || s == IntentStatusRequiresPaymentMethod
}

// Metadata keys attached to every intent.
const (
	MetadataInvoiceIDs    = "invoice_ids"
	MetadataPaymentID     = "payment_id"
	MetadataCustomerEmail = "customer_email"
)

// IntentRequest describes a new payment intent.
type IntentRequest struct {
	AmountMinor    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
	ReceiptEmail   string
	SaveMethod     bool
}

// Intent is the subset of the processor's payment intent the engine reads.
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	AmountMinor  int64
	Currency     string
	Metadata     map[string]string
}

// Gateway is the only path to the payment processor.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
}

// IdempotencyKey derives the processor idempotency key for one logical
// payment request. Invoice order does not matter.
func IdempotencyKey(invoiceIDs []uuid.UUID, email string, amount decimal.Decimal, currency string) string {
	ids := make([]string, 0, len(invoiceIDs))
	for _, id := range invoiceIDs {
		ids = append(ids, id.String())
	}
	sort.Strings(ids)

	raw := strings.Join(ids, "|") + "|" + email + "|" + amount.StringFixed(2) + "|" + strings.ToLower(currency)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// AttemptKey suffixes the base key once earlier attempts for the same request
// have failed, so a retry after failure gets a fresh intent.
func AttemptKey(base string, failedAttempts int64) string {
	if failedAttempts <= 0 {
		return base
	}
	return fmt.Sprintf("%s:%d", base, failedAttempts)
}

var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

// MinorUnits converts an amount to the processor's integer representation.
func MinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("amount must not be negative")
	}
	scaled := amount
	if _, ok := zeroDecimalCurrencies[strings.ToLower(currency)]; !ok {
		scaled = amount.Shift(2)
	}
	rounded := scaled.Round(0)
	if !rounded.IsInteger() || rounded.GreaterThan(decimal.NewFromInt(99999999)) {
		return 0, fmt.Errorf("amount %s out of range", amount.StringFixed(2))
	}
	return rounded.IntPart(), nil
}
