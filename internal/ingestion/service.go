// Package ingestion stores extracted invoices and hands them to the matcher.
package ingestion

import (
	"context"
	"fmt"

	"github.com/angelmondragon/apmatch-backend/internal/invoices"
	"github.com/angelmondragon/apmatch-backend/internal/matching"
	"github.com/angelmondragon/apmatch-backend/internal/vendors"
	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Outcome reports what happened to one document.
type Outcome struct {
	InvoiceID     uuid.UUID           `json:"invoice_id"`
	VendorID      *uuid.UUID          `json:"vendor_id,omitempty"`
	VendorCreated bool                `json:"vendor_created"`
	Status        enums.InvoiceStatus `json:"status"`
	Match         *matching.Result    `json:"match,omitempty"`
}

// Item is one entry of a batch.
type Item struct {
	Document Document
	Options  Options
}

// BatchResult pairs a batch entry with its outcome or error.
type BatchResult struct {
	Index   int
	Outcome *Outcome
	Err     error
}

type Service interface {
	Ingest(ctx context.Context, doc Document, opts Options) (*Outcome, error)
	// IngestBatch keeps going past failed documents. The returned error
	// combines every per-document failure.
	IngestBatch(ctx context.Context, items []Item) ([]BatchResult, error)
}

type ServiceParams struct {
	Invoices invoices.Repository
	Vendors  vendors.Repository
	Matcher  matching.Service
	Tx       txRunner
	Logger   *logger.Logger
}

type service struct {
	invoices invoices.Repository
	vendors  vendors.Repository
	matcher  matching.Service
	tx       txRunner
	logg     *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoices repository required")
	}
	if params.Vendors == nil {
		return nil, fmt.Errorf("vendors repository required")
	}
	if params.Matcher == nil {
		return nil, fmt.Errorf("matching service required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		invoices: params.Invoices,
		vendors:  params.Vendors,
		matcher:  params.Matcher,
		tx:       params.Tx,
		logg:     params.Logger,
	}, nil
}

// Ingest persists the invoice with its lines and then tries to match it.
// A failed match is logged and leaves the stored invoice for a later retry.
func (s *service) Ingest(ctx context.Context, doc Document, opts Options) (*Outcome, error) {
	invoice := doc.invoice(opts)
	hint := vendors.Hint{
		Name:    doc.SupplierName,
		TaxID:   doc.SupplierTaxID,
		Address: doc.SupplierAddress,
		Contact: opts.SupplierEmail,
	}

	outcome := &Outcome{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		vendorRepo := s.vendors.WithTx(tx)

		var vendor *models.Vendor
		if opts.VendorOverrideID != nil {
			found, err := vendorRepo.FindByID(ctx, *opts.VendorOverrideID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load vendor")
			}
			if found == nil {
				return pkgerrors.New(pkgerrors.CodeValidation, "vendor override not found").
					WithDetails(map[string]any{"vendor_id": opts.VendorOverrideID.String()})
			}
			vendor = found
			if vendors.Mismatch(vendor, hint) {
				invoice.Status = enums.InvoiceStatusVendorMismatch
			}
		} else {
			resolved, created, err := vendors.Resolve(ctx, vendorRepo, hint)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve vendor")
			}
			vendor = resolved
			outcome.VendorCreated = created
		}
		if vendor != nil {
			invoice.VendorID = &vendor.ID
		}

		if err := s.invoices.WithTx(tx).Create(ctx, invoice); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert invoice")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome.InvoiceID = invoice.ID
	outcome.VendorID = invoice.VendorID
	outcome.Status = invoice.Status

	ctx = s.logg.WithInvoiceID(ctx, invoice.ID.String())
	s.logg.Info(s.logg.WithField(ctx, "status", string(invoice.Status)), "invoice ingested")

	result, err := s.matcher.Match(ctx, invoice.ID)
	if err != nil {
		s.logg.Error(ctx, "invoice match failed", err)
		return outcome, nil
	}
	if result == nil {
		s.logg.Info(ctx, "invoice not matched")
		return outcome, nil
	}
	outcome.Match = result
	outcome.Status = enums.InvoiceStatusMatchedAuto
	return outcome, nil
}

func (s *service) IngestBatch(ctx context.Context, items []Item) ([]BatchResult, error) {
	results := make([]BatchResult, 0, len(items))
	var errs error
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		outcome, err := s.Ingest(ctx, item.Document, item.Options)
		if err != nil {
			s.logg.Error(s.logg.WithField(ctx, "document_index", i), "invoice ingestion failed", err)
			errs = multierr.Append(errs, fmt.Errorf("document %d: %w", i, err))
		}
		results = append(results, BatchResult{Index: i, Outcome: outcome, Err: err})
	}
	return results, errs
}
