package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Vendor is a supplier invoices are billed from.
type Vendor struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name        string    `gorm:"column:name;not null"`
	TaxID       *string   `gorm:"column:tax_id"`
	Address     *string   `gorm:"column:address"`
	ContactInfo *string   `gorm:"column:contact_info"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Vendor) TableName() string { return "vendors" }

func (v *Vendor) BeforeCreate(*gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}
