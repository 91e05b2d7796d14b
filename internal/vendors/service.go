package vendors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const recentWindow = 30 * 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CreateInput holds the operator supplied vendor fields.
type CreateInput struct {
	Name        string
	TaxID       string
	Address     string
	ContactInfo string
}

// Service manages vendor records.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	List(ctx context.Context) ([]Summary, error)
	Create(ctx context.Context, input CreateInput) (*models.Vendor, error)
	Purge(ctx context.Context, id uuid.UUID) (*PurgeResult, error)
}

type service struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo Repository, tx txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("vendors repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, logg: logg, now: time.Now}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	vendor, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load vendor")
	}
	if vendor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "vendor not found")
	}
	return vendor, nil
}

func (s *service) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.repo.List(ctx, s.now().UTC().Add(-recentWindow))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list vendors")
	}
	return rows, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Vendor, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor name is required")
	}
	vendor := &models.Vendor{
		Name:        name,
		TaxID:       optional(strings.TrimSpace(input.TaxID)),
		Address:     optional(strings.TrimSpace(input.Address)),
		ContactInfo: optional(strings.TrimSpace(input.ContactInfo)),
	}
	if err := s.repo.Create(ctx, vendor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create vendor")
	}
	return vendor, nil
}

// Purge deletes the vendor and everything billed under it. It is refused
// while a payment is still holding one of the vendor's invoices.
func (s *service) Purge(ctx context.Context, id uuid.UUID) (*PurgeResult, error) {
	var result *PurgeResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		vendor, err := repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load vendor")
		}
		if vendor == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "vendor not found")
		}

		locked, err := repo.LockInvoices(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock vendor invoices")
		}
		var pending int
		for _, inv := range locked {
			if inv.Status == enums.InvoiceStatusPaymentPending {
				pending++
			}
		}
		if pending > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "vendor has invoices with a payment in progress").
				WithDetails(map[string]any{"payment_pending": pending})
		}

		result, err = repo.Purge(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "purge vendor")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"vendor_id":        id.String(),
		"invoices_deleted": result.Invoices,
		"pos_deleted":      result.PurchaseOrders,
	})
	s.logg.Info(ctx, "vendor purged")
	return result, nil
}
