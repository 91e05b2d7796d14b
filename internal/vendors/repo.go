package vendors

import (
	"context"
	"strings"
	"time"

	pkgdb "github.com/angelmondragon/apmatch-backend/pkg/db"
	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists vendors. Find methods return nil when nothing matches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, vendor *models.Vendor) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	FindByTaxID(ctx context.Context, taxID string) (*models.Vendor, error)
	FindByName(ctx context.Context, name string) (*models.Vendor, error)
	List(ctx context.Context, recentSince time.Time) ([]Summary, error)
	LockInvoices(ctx context.Context, id uuid.UUID) ([]models.Invoice, error)
	Purge(ctx context.Context, id uuid.UUID) (*PurgeResult, error)
}

// Summary is the vendor list projection.
type Summary struct {
	ID             uuid.UUID `gorm:"column:id" json:"id"`
	Name           string    `gorm:"column:name" json:"name"`
	TaxID          *string   `gorm:"column:tax_id" json:"tax_id,omitempty"`
	ContactInfo    *string   `gorm:"column:contact_info" json:"contact_info,omitempty"`
	OpenPOs        int64     `gorm:"column:open_pos" json:"open_pos"`
	RecentInvoices int64     `gorm:"column:recent_invoices" json:"recent_invoices"`
}

// Active reports whether the vendor sent invoices inside the recent window.
func (s Summary) Active() bool {
	return s.RecentInvoices > 0
}

// PurgeResult counts the rows removed per table.
type PurgeResult struct {
	PaymentLinks       int64 `json:"payment_links_deleted"`
	InvoiceLines       int64 `json:"invoice_lines_deleted"`
	Invoices           int64 `json:"invoices_deleted"`
	PurchaseOrderLines int64 `json:"po_lines_deleted"`
	PurchaseOrders     int64 `json:"purchase_orders_deleted"`
	Vendors            int64 `json:"vendors_deleted"`
}

type repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, vendor *models.Vendor) error {
	return r.db.WithContext(ctx).Create(vendor).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByTaxID(ctx context.Context, taxID string) (*models.Vendor, error) {
	return r.first(r.db.WithContext(ctx).Where("tax_id = ?", strings.TrimSpace(taxID)))
}

func (r *repository) FindByName(ctx context.Context, name string) (*models.Vendor, error) {
	return r.first(r.db.WithContext(ctx).Where("LOWER(name) = ?", strings.ToLower(strings.TrimSpace(name))))
}

func (r *repository) first(query *gorm.DB) (*models.Vendor, error) {
	var vendor models.Vendor
	err := query.Order("created_at ASC").Order("id ASC").Take(&vendor).Error
	if pkgdb.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

func (r *repository) List(ctx context.Context, recentSince time.Time) ([]Summary, error) {
	var rows []Summary
	err := r.db.WithContext(ctx).Raw(`
SELECT v.id, v.name, v.tax_id, v.contact_info,
  (SELECT COUNT(*) FROM purchase_orders p WHERE p.vendor_id = v.id AND p.status IN ?) AS open_pos,
  (SELECT COUNT(*) FROM invoices i WHERE i.vendor_id = v.id AND i.created_at >= ?) AS recent_invoices
FROM vendors v
ORDER BY v.name ASC, v.id ASC`, enums.OpenPurchaseOrderStatuses, recentSince).Scan(&rows).Error
	return rows, err
}

// LockInvoices locks the vendor's invoice rows in id order, the same order
// payment creation locks them in. A row being reserved by a payment is
// returned with its committed status once that transaction finishes.
func (r *repository) LockInvoices(ctx context.Context, id uuid.UUID) ([]models.Invoice, error) {
	var rows []models.Invoice
	err := pkgdb.ForUpdate(r.db.WithContext(ctx)).
		Select("id", "status").
		Where("vendor_id = ?", id).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Purge removes the vendor with its invoices, purchase orders and payment
// links. Payment rows themselves are kept.
func (r *repository) Purge(ctx context.Context, id uuid.UUID) (*PurgeResult, error) {
	conn := r.db.WithContext(ctx)
	result := &PurgeResult{}

	steps := []struct {
		sql    string
		target *int64
	}{
		{`DELETE FROM payment_invoices WHERE invoice_id IN (SELECT id FROM invoices WHERE vendor_id = ?)`, &result.PaymentLinks},
		{`DELETE FROM invoice_lines WHERE invoice_id IN (SELECT id FROM invoices WHERE vendor_id = ?)`, &result.InvoiceLines},
		{`DELETE FROM invoices WHERE vendor_id = ?`, &result.Invoices},
		{`DELETE FROM purchase_order_lines WHERE po_id IN (SELECT id FROM purchase_orders WHERE vendor_id = ?)`, &result.PurchaseOrderLines},
		{`DELETE FROM purchase_orders WHERE vendor_id = ?`, &result.PurchaseOrders},
		{`DELETE FROM vendors WHERE id = ?`, &result.Vendors},
	}
	for _, step := range steps {
		res := conn.Exec(step.sql, id)
		if res.Error != nil {
			return nil, res.Error
		}
		*step.target = res.RowsAffected
	}
	return result, nil
}
