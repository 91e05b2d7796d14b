package invoices

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes invoice reads and the operator approval transition.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ListPayable(ctx context.Context, filter PayableFilter) ([]Summary, error)
	ListExceptions(ctx context.Context, filter ExceptionFilter) ([]Summary, error)
	Stats(ctx context.Context, days int) (*Stats, error)
	Approve(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
}

type service struct {
	repo Repository
	tx   txRunner
	now  func() time.Time
}

// NewService wires the invoice service.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("invoices repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, now: time.Now}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice")
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

func (s *service) ListPayable(ctx context.Context, filter PayableFilter) ([]Summary, error) {
	rows, err := s.repo.ListPayable(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payable invoices")
	}
	return rows, nil
}

func (s *service) ListExceptions(ctx context.Context, filter ExceptionFilter) ([]Summary, error) {
	if filter.Status != nil {
		allowed := false
		for _, status := range enums.ExceptionInvoiceStatuses {
			if status == *filter.Status {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "status is not an exception status")
		}
	}
	rows, err := s.repo.ListExceptions(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list exception invoices")
	}
	return rows, nil
}

func (s *service) Stats(ctx context.Context, days int) (*Stats, error) {
	if days <= 0 {
		days = DefaultStatsDays
	}
	since := s.now().UTC().AddDate(0, 0, -days)
	stats, err := s.repo.Stats(ctx, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice stats")
	}
	return stats, nil
}

// Approve is the manual fix path: it moves an invoice to ready_for_payment.
// Approving an invoice that is already ready is a no-op.
func (s *service) Approve(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var approved *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := repo.LockByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock invoice")
		}
		if invoice == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		}
		if invoice.Status == enums.InvoiceStatusReadyForPayment {
			approved = invoice
			return nil
		}
		if !enums.CanTransitionInvoice(invoice.Status, enums.InvoiceStatusReadyForPayment) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "invoice cannot be approved").
				WithDetails(map[string]any{"status": invoice.Status})
		}

		ok, err := repo.UpdateStatus(ctx, id, []enums.InvoiceStatus{invoice.Status}, enums.InvoiceStatusReadyForPayment)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "approve invoice")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "invoice changed while approving")
		}
		invoice.Status = enums.InvoiceStatusReadyForPayment
		approved = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}
