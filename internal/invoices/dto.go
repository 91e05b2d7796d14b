package invoices

import (
	"time"

	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultPayableLimit   = 200
	DefaultExceptionLimit = 100
	MaxListLimit          = 1000
	DefaultStatsDays      = 30
)

// PayableFilter narrows the payable invoice list.
type PayableFilter struct {
	VendorID *uuid.UUID
	Currency string
	Limit    int
}

// ExceptionFilter narrows the exception invoice list. Status must be one of
// the exception statuses when set.
type ExceptionFilter struct {
	VendorID *uuid.UUID
	Status   *enums.InvoiceStatus
	Limit    int
}

// Summary is the list projection of an invoice joined with its vendor.
type Summary struct {
	ID            uuid.UUID           `gorm:"column:id" json:"id"`
	InvoiceNumber *string             `gorm:"column:invoice_number" json:"invoice_number,omitempty"`
	InvoiceDate   *time.Time          `gorm:"column:invoice_date" json:"invoice_date,omitempty"`
	DueDate       *time.Time          `gorm:"column:due_date" json:"due_date,omitempty"`
	VendorID      *uuid.UUID          `gorm:"column:vendor_id" json:"vendor_id,omitempty"`
	VendorName    *string             `gorm:"column:vendor_name" json:"vendor_name,omitempty"`
	SupplierName  *string             `gorm:"column:supplier_name" json:"supplier_name,omitempty"`
	TotalAmount   decimal.NullDecimal `gorm:"column:total_amount" json:"total_amount"`
	Currency      *string             `gorm:"column:currency" json:"currency,omitempty"`
	Status        enums.InvoiceStatus `gorm:"column:status" json:"status"`
	PONumber      *string             `gorm:"column:po_number" json:"po_number,omitempty"`
	CreatedAt     time.Time           `gorm:"column:created_at" json:"created_at"`
}

// DisplayVendor prefers the resolved vendor name over the extracted supplier.
func (s Summary) DisplayVendor() string {
	if s.VendorName != nil && *s.VendorName != "" {
		return *s.VendorName
	}
	if s.SupplierName != nil && *s.SupplierName != "" {
		return *s.SupplierName
	}
	return "Unknown Vendor"
}

// Stats aggregates invoice throughput over a window.
type Stats struct {
	Since             time.Time       `json:"since"`
	InvoicesProcessed int64           `json:"invoices_processed"`
	AmountProcessed   decimal.Decimal `json:"amount_processed"`
	ExceptionInvoices int64           `json:"exception_invoices"`
	MatchedInvoices   int64           `json:"matched_invoices"`
	AutoMatchRate     float64         `json:"auto_match_rate"`
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
