package invoices

import (
	"context"
	"time"

	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for invoices and their lines.
// Find and Lock return nil without an error when the invoice does not exist.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	LockByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Invoice, error)
	ApplyMatch(ctx context.Context, id, poID uuid.UUID, confidence float64) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from []enums.InvoiceStatus, to enums.InvoiceStatus) (bool, error)
	UpdateStatuses(ctx context.Context, ids []uuid.UUID, from []enums.InvoiceStatus, to enums.InvoiceStatus) (int64, error)
	ListPayable(ctx context.Context, filter PayableFilter) ([]Summary, error)
	ListExceptions(ctx context.Context, filter ExceptionFilter) ([]Summary, error)
	Stats(ctx context.Context, since time.Time) (*Stats, error)
	CountByVendor(ctx context.Context, vendorID uuid.UUID, statuses []enums.InvoiceStatus) (int64, error)
}
