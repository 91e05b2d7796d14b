package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/apmatch-backend/pkg/enums"
)

// Payment is one attempt to collect the combined total of a set of invoices.
// Failed payments are kept for audit.
type Payment struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency        string              `gorm:"column:currency;not null"`
	CustomerEmail   string              `gorm:"column:customer_email;not null"`
	CustomerName    *string             `gorm:"column:customer_name"`
	PaymentIntentID *string             `gorm:"column:payment_intent_id"`
	IdempotencyKey  string              `gorm:"column:idempotency_key;not null"`
	Status          enums.PaymentStatus `gorm:"column:status;not null;default:'requires_confirmation'"`
	SaveMethod      bool                `gorm:"column:save_method;not null;default:false"`
	FailureReason   *string             `gorm:"column:failure_reason"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	Links           []PaymentInvoice    `gorm:"foreignKey:PaymentID;references:ID"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = enums.PaymentStatusRequiresConfirmation
	}
	return nil
}

// InvoiceIDs returns the linked invoice ids in link order.
func (p *Payment) InvoiceIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.Links))
	for _, link := range p.Links {
		ids = append(ids, link.InvoiceID)
	}
	return ids
}

// PaymentInvoice links a payment to an invoice and remembers the status to
// restore when the payment does not go through.
type PaymentInvoice struct {
	PaymentID      uuid.UUID           `gorm:"column:payment_id;type:uuid;primaryKey"`
	InvoiceID      uuid.UUID           `gorm:"column:invoice_id;type:uuid;primaryKey"`
	AmountApplied  decimal.Decimal     `gorm:"column:amount_applied;type:numeric(12,2);not null"`
	PreviousStatus enums.InvoiceStatus `gorm:"column:previous_status;not null"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (PaymentInvoice) TableName() string { return "payment_invoices" }
