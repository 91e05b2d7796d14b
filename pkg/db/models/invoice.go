package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/apmatch-backend/pkg/enums"
)

// Invoice is one extracted vendor invoice and its reconciliation state.
type Invoice struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	VendorID            *uuid.UUID          `gorm:"column:vendor_id;type:uuid"`
	SupplierName        *string             `gorm:"column:supplier_name"`
	SupplierEmail       *string             `gorm:"column:supplier_email"`
	SupplierTaxID       *string             `gorm:"column:supplier_tax_id"`
	SupplierAddress     *string             `gorm:"column:supplier_address"`
	InvoiceNumber       *string             `gorm:"column:invoice_number"`
	InvoiceDate         *time.Time          `gorm:"column:invoice_date;type:date"`
	DueDate             *time.Time          `gorm:"column:due_date;type:date"`
	Currency            *string             `gorm:"column:currency"`
	PaymentTerms        *string             `gorm:"column:payment_terms"`
	SubtotalAmount      decimal.NullDecimal `gorm:"column:subtotal_amount;type:numeric(12,2)"`
	TaxAmount           decimal.NullDecimal `gorm:"column:tax_amount;type:numeric(12,2)"`
	ShippingAmount      decimal.NullDecimal `gorm:"column:shipping_amount;type:numeric(12,2)"`
	DiscountAmount      decimal.NullDecimal `gorm:"column:discount_amount;type:numeric(12,2)"`
	TotalAmount         decimal.NullDecimal `gorm:"column:total_amount;type:numeric(12,2)"`
	PONumber            *string             `gorm:"column:po_number"`
	MatchedPOID         *uuid.UUID          `gorm:"column:matched_po_id;type:uuid"`
	Confidence          *float64            `gorm:"column:confidence"`
	Status              enums.InvoiceStatus `gorm:"column:status;not null;default:'unmatched'"`
	RemittanceReference *string             `gorm:"column:remittance_reference"`
	SourceRef           *string             `gorm:"column:source_ref"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	Lines               []InvoiceLine       `gorm:"foreignKey:InvoiceID;references:ID"`
}

func (Invoice) TableName() string { return "invoices" }

func (i *Invoice) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.Status == "" {
		i.Status = enums.InvoiceStatusUnmatched
	}
	return nil
}

// InvoiceLine is one extracted line item.
type InvoiceLine struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	InvoiceID     uuid.UUID           `gorm:"column:invoice_id;type:uuid;not null"`
	LineNumber    int                 `gorm:"column:line_number;not null"`
	SKU           *string             `gorm:"column:sku"`
	Description   *string             `gorm:"column:description"`
	Quantity      decimal.NullDecimal `gorm:"column:quantity;type:numeric(12,3)"`
	UnitOfMeasure *string             `gorm:"column:unit_of_measure"`
	UnitPrice     decimal.NullDecimal `gorm:"column:unit_price;type:numeric(12,2)"`
	LineTotal     decimal.NullDecimal `gorm:"column:line_total;type:numeric(12,2)"`
	TaxRate       decimal.NullDecimal `gorm:"column:tax_rate;type:numeric(6,4)"`
	TaxCode       *string             `gorm:"column:tax_code"`
	PONumber      *string             `gorm:"column:po_number"`
	POLineNumber  *int                `gorm:"column:po_line_number"`
}

func (InvoiceLine) TableName() string { return "invoice_lines" }

func (l *InvoiceLine) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
