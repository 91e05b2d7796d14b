package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/apmatch-backend/pkg/enums"
)

// PurchaseOrder is a procurement commitment invoices are matched against.
// PONumber is only unique per vendor.
type PurchaseOrder struct {
	ID          uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	PONumber    string                    `gorm:"column:po_number;not null"`
	VendorID    *uuid.UUID                `gorm:"column:vendor_id;type:uuid"`
	Currency    *string                   `gorm:"column:currency"`
	TotalAmount decimal.NullDecimal       `gorm:"column:total_amount;type:numeric(12,2)"`
	Status      enums.PurchaseOrderStatus `gorm:"column:status;not null;default:'open'"`
	CreatedAt   time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
	Lines       []PurchaseOrderLine       `gorm:"foreignKey:POID;references:ID"`
}

func (PurchaseOrder) TableName() string { return "purchase_orders" }

func (p *PurchaseOrder) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = enums.PurchaseOrderStatusOpen
	}
	return nil
}

type PurchaseOrderLine struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	POID        uuid.UUID           `gorm:"column:po_id;type:uuid;not null"`
	LineNumber  int                 `gorm:"column:line_number;not null"`
	SKU         *string             `gorm:"column:sku"`
	Description *string             `gorm:"column:description"`
	Quantity    decimal.NullDecimal `gorm:"column:quantity;type:numeric(12,3)"`
	UnitPrice   decimal.NullDecimal `gorm:"column:unit_price;type:numeric(12,2)"`
	LineTotal   decimal.NullDecimal `gorm:"column:line_total;type:numeric(12,2)"`
}

func (PurchaseOrderLine) TableName() string { return "purchase_order_lines" }

func (l *PurchaseOrderLine) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
