package purchaseorders

import (
	"context"

	pkgdb "github.com/angelmondragon/apmatch-backend/pkg/db"
	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository reads purchase orders. Purchase orders are written by the
// procurement import and are never mutated by matching.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, po *models.PurchaseOrder) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PurchaseOrder, error)
	FindOpenByNumber(ctx context.Context, poNumber string) ([]models.PurchaseOrder, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a purchase order repository.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, po *models.PurchaseOrder) error {
	return r.db.WithContext(ctx).Create(po).Error
}

// FindByID returns nil when the purchase order does not exist.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PurchaseOrder, error) {
	var po models.PurchaseOrder
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("line_number ASC")
		}).
		First(&po, "id = ?", id).Error
	if pkgdb.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &po, nil
}

// FindOpenByNumber returns open or partially received purchase orders with
// the given number across every vendor, ordered by id.
func (r *repository) FindOpenByNumber(ctx context.Context, poNumber string) ([]models.PurchaseOrder, error) {
	var rows []models.PurchaseOrder
	err := r.db.WithContext(ctx).
		Where("po_number = ? AND status IN ?", poNumber, enums.OpenPurchaseOrderStatuses).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
