package payments

import (
	"context"
	"time"

	pkgdb "github.com/angelmondragon/apmatch-backend/pkg/db"
	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists payments and their invoice links. Find and Lock return
// nil when nothing matches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	SetIntentID(ctx context.Context, paymentID uuid.UUID, intentID string) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	LockByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	CountByIdempotencyKey(ctx context.Context, key string, status enums.PaymentStatus) (int64, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus, failureReason *string) (bool, error)
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error)
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

// Create inserts the payment together with its links.
func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) SetIntentID(ctx context.Context, paymentID uuid.UUID, intentID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Update("payment_intent_id", intentID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.load(ctx, r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	return r.load(ctx, r.db.WithContext(ctx).Where("payment_intent_id = ?", intentID))
}

// LockByIntentID locks the payment row; links are read without a lock since
// they never change after creation.
func (r *repository) LockByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	return r.load(ctx, pkgdb.ForUpdate(r.db.WithContext(ctx)).Where("payment_intent_id = ?", intentID))
}

func (r *repository) load(ctx context.Context, query *gorm.DB) (*models.Payment, error) {
	var payment models.Payment
	err := query.Take(&payment).Error
	if pkgdb.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Where("payment_id = ?", payment.ID).
		Order("invoice_id ASC").
		Find(&payment.Links).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) CountByIdempotencyKey(ctx context.Context, key string, status enums.PaymentStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("idempotency_key = ? AND status = ?", key, status).
		Count(&count).Error
	return count, err
}

// UpdateStatus moves the payment only while it is still in from.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus, failureReason *string) (bool, error) {
	updates := map[string]any{"status": to}
	if failureReason != nil {
		updates["failure_reason"] = *failureReason
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListStale returns payments still awaiting confirmation that were created
// before the cutoff and already carry an intent id, oldest first.
func (r *repository) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_intent_id IS NOT NULL AND created_at < ?", enums.PaymentStatusRequiresConfirmation, createdBefore).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
