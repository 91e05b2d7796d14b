package payments

import (
	"github.com/angelmondragon/apmatch-backend/internal/gateway"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Customer identifies who is paying.
type Customer struct {
	Email string
	Name  string
}

// CreateInput starts a payment over a set of invoices.
type CreateInput struct {
	InvoiceIDs []uuid.UUID
	Customer   Customer
	Currency   string
	SaveMethod bool
}

// CreateResult is returned to the caller so the client can confirm the
// intent with the processor.
type CreateResult struct {
	PaymentID       uuid.UUID       `json:"payment_id"`
	ClientSecret    string          `json:"client_secret"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	InvoiceIDs      []uuid.UUID     `json:"invoice_ids"`
}

// ConfirmResult reports the processor status and the payment's linked
// invoices. Changed is false when nothing was written.
type ConfirmResult struct {
	PaymentID       uuid.UUID            `json:"payment_id"`
	PaymentIntentID string               `json:"payment_intent_id"`
	IntentStatus    gateway.IntentStatus `json:"status"`
	PaymentStatus   enums.PaymentStatus  `json:"payment_status"`
	InvoiceIDs      []uuid.UUID          `json:"invoice_ids"`
	Changed         bool                 `json:"changed"`
	// CollectedAfterRelease is set when the processor charged an intent whose
	// invoices were already released. The money needs a manual refund or
	// reassignment.
	CollectedAfterRelease bool `json:"collected_after_release,omitempty"`
}
