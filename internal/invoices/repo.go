package invoices

import (
	"context"
	"strings"
	"time"

	pkgdb "github.com/angelmondragon/apmatch-backend/pkg/db"
	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an invoice repository around the shared connection.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("line_number ASC")
		}).
		First(&invoice, "id = ?", id).Error
	if pkgdb.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := pkgdb.ForUpdate(r.db.WithContext(ctx)).
		Where("id = ?", id).
		Take(&invoice).Error
	if pkgdb.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// LockByIDs locks the rows in id order so overlapping callers queue instead of
// deadlocking. Missing ids are simply absent from the result.
func (r *repository) LockByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Invoice, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Invoice
	err := pkgdb.ForUpdate(r.db.WithContext(ctx)).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ApplyMatch(ctx context.Context, id, poID uuid.UUID, confidence float64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status IN ?", id, enums.MatchableInvoiceStatuses).
		Updates(map[string]any{
			"matched_po_id": poID,
			"status":        enums.InvoiceStatusMatchedAuto,
			"confidence":    confidence,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from []enums.InvoiceStatus, to enums.InvoiceStatus) (bool, error) {
	affected, err := r.UpdateStatuses(ctx, []uuid.UUID{id}, from, to)
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// UpdateStatuses moves only the rows whose current status is still in from.
func (r *repository) UpdateStatuses(ctx context.Context, ids []uuid.UUID, from []enums.InvoiceStatus, to enums.InvoiceStatus) (int64, error) {
	if len(ids) == 0 || len(from) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id IN ? AND status IN ?", ids, from).
		Update("status", to)
	return res.RowsAffected, res.Error
}

func (r *repository) ListPayable(ctx context.Context, filter PayableFilter) ([]Summary, error) {
	query := r.summaryQuery(ctx).
		Where("i.status IN ?", enums.PayableInvoiceStatuses)
	if filter.VendorID != nil {
		query = query.Where("i.vendor_id = ?", *filter.VendorID)
	}
	if currency := strings.TrimSpace(filter.Currency); currency != "" {
		query = query.Where("UPPER(i.currency) = ?", strings.ToUpper(currency))
	}

	var rows []Summary
	err := query.Limit(clampLimit(filter.Limit, DefaultPayableLimit)).Scan(&rows).Error
	return rows, err
}

func (r *repository) ListExceptions(ctx context.Context, filter ExceptionFilter) ([]Summary, error) {
	query := r.summaryQuery(ctx)
	if filter.Status != nil {
		query = query.Where("i.status = ?", *filter.Status)
	} else {
		query = query.Where("i.status IN ?", enums.ExceptionInvoiceStatuses)
	}
	if filter.VendorID != nil {
		query = query.Where("i.vendor_id = ?", *filter.VendorID)
	}

	var rows []Summary
	err := query.Limit(clampLimit(filter.Limit, DefaultExceptionLimit)).Scan(&rows).Error
	return rows, err
}

func (r *repository) summaryQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("invoices AS i").
		Select(`i.id, i.invoice_number, i.invoice_date, i.due_date, i.vendor_id,
			v.name AS vendor_name, i.supplier_name, i.total_amount, i.currency,
			i.status, i.po_number, i.created_at`).
		Joins("LEFT JOIN vendors v ON v.id = i.vendor_id").
		Order("i.created_at DESC").
		Order("i.id DESC")
}

func (r *repository) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{Since: since, AmountProcessed: decimal.Zero}
	window := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.Invoice{}).Where("created_at >= ?", since)
	}

	if err := window().Count(&stats.InvoicesProcessed).Error; err != nil {
		return nil, err
	}

	var amount decimal.NullDecimal
	if err := window().Select("COALESCE(SUM(total_amount), 0)").Row().Scan(&amount); err != nil {
		return nil, err
	}
	if amount.Valid {
		stats.AmountProcessed = amount.Decimal.Round(2)
	}

	if err := window().Where("status IN ?", enums.ExceptionInvoiceStatuses).Count(&stats.ExceptionInvoices).Error; err != nil {
		return nil, err
	}
	if err := window().Where("matched_po_id IS NOT NULL").Count(&stats.MatchedInvoices).Error; err != nil {
		return nil, err
	}
	if stats.InvoicesProcessed > 0 {
		stats.AutoMatchRate = float64(stats.MatchedInvoices) / float64(stats.InvoicesProcessed)
	}
	return stats, nil
}

func (r *repository) CountByVendor(ctx context.Context, vendorID uuid.UUID, statuses []enums.InvoiceStatus) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Invoice{}).Where("vendor_id = ?", vendorID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}
