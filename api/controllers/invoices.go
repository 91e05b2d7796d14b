package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/apmatch-backend/api/responses"
	"github.com/angelmondragon/apmatch-backend/api/validators"
	"github.com/angelmondragon/apmatch-backend/internal/ingestion"
	"github.com/angelmondragon/apmatch-backend/internal/invoices"
	"github.com/angelmondragon/apmatch-backend/internal/matching"
	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
)

const maxStatsDays = 365

type invoiceLineResponse struct {
	LineNumber    int                 `json:"line_number"`
	SKU           *string             `json:"sku,omitempty"`
	Description   *string             `json:"description,omitempty"`
	Quantity      decimal.NullDecimal `json:"quantity"`
	UnitOfMeasure *string             `json:"unit_of_measure,omitempty"`
	UnitPrice     decimal.NullDecimal `json:"unit_price"`
	LineTotal     decimal.NullDecimal `json:"line_total"`
	TaxRate       decimal.NullDecimal `json:"tax_rate"`
	TaxCode       *string             `json:"tax_code,omitempty"`
	PONumber      *string             `json:"po_number,omitempty"`
	POLineNumber  *int                `json:"po_line_number,omitempty"`
}

type invoiceResponse struct {
	ID                  uuid.UUID             `json:"id"`
	VendorID            *uuid.UUID            `json:"vendor_id,omitempty"`
	SupplierName        *string               `json:"supplier_name,omitempty"`
	SupplierEmail       *string               `json:"supplier_email,omitempty"`
	SupplierTaxID       *string               `json:"supplier_tax_id,omitempty"`
	InvoiceNumber       *string               `json:"invoice_number,omitempty"`
	InvoiceDate         *time.Time            `json:"invoice_date,omitempty"`
	DueDate             *time.Time            `json:"due_date,omitempty"`
	Currency            *string               `json:"currency,omitempty"`
	PaymentTerms        *string               `json:"payment_terms,omitempty"`
	SubtotalAmount      decimal.NullDecimal   `json:"subtotal_amount"`
	TaxAmount           decimal.NullDecimal   `json:"tax_amount"`
	TotalAmount         decimal.NullDecimal   `json:"total_amount"`
	PONumber            *string               `json:"po_number,omitempty"`
	MatchedPOID         *uuid.UUID            `json:"matched_po_id,omitempty"`
	Confidence          *float64              `json:"confidence,omitempty"`
	Status              enums.InvoiceStatus   `json:"status"`
	RemittanceReference *string               `json:"remittance_reference,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
	Lines               []invoiceLineResponse `json:"lines"`
}

func invoiceResponseFromModel(m *models.Invoice) invoiceResponse {
	lines := make([]invoiceLineResponse, 0, len(m.Lines))
	for _, l := range m.Lines {
		lines = append(lines, invoiceLineResponse{
			LineNumber:    l.LineNumber,
			SKU:           l.SKU,
			Description:   l.Description,
			Quantity:      l.Quantity,
			UnitOfMeasure: l.UnitOfMeasure,
			UnitPrice:     l.UnitPrice,
			LineTotal:     l.LineTotal,
			TaxRate:       l.TaxRate,
			TaxCode:       l.TaxCode,
			PONumber:      l.PONumber,
			POLineNumber:  l.POLineNumber,
		})
	}
	return invoiceResponse{
		ID:                  m.ID,
		VendorID:            m.VendorID,
		SupplierName:        m.SupplierName,
		SupplierEmail:       m.SupplierEmail,
		SupplierTaxID:       m.SupplierTaxID,
		InvoiceNumber:       m.InvoiceNumber,
		InvoiceDate:         m.InvoiceDate,
		DueDate:             m.DueDate,
		Currency:            m.Currency,
		PaymentTerms:        m.PaymentTerms,
		SubtotalAmount:      m.SubtotalAmount,
		TaxAmount:           m.TaxAmount,
		TotalAmount:         m.TotalAmount,
		PONumber:            m.PONumber,
		MatchedPOID:         m.MatchedPOID,
		Confidence:          m.Confidence,
		Status:              m.Status,
		RemittanceReference: m.RemittanceReference,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
		Lines:               lines,
	}
}

// InvoiceDetail returns one invoice with its lines.
func InvoiceDetail(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoice, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoiceResponseFromModel(invoice))
	}
}

type matchResponse struct {
	Matched bool             `json:"matched"`
	Match   *matching.Result `json:"match,omitempty"`
}

// InvoiceMatch runs the matching engine for one invoice. Optional
// amount_tolerance and percent_tolerance query values override the defaults.
func InvoiceMatch(svc matching.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "matching service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var opts []matching.Option
		if v, ok, err := validators.ParseQueryDecimal(r, "amount_tolerance"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		} else if ok {
			opts = append(opts, matching.WithAmountTolerance(v))
		}
		if v, ok, err := validators.ParseQueryDecimal(r, "percent_tolerance"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		} else if ok {
			opts = append(opts, matching.WithPercentTolerance(v))
		}

		if logg != nil {
			r = r.WithContext(logg.WithInvoiceID(r.Context(), id.String()))
		}
		result, err := svc.Match(r.Context(), id, opts...)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, matchResponse{Matched: result != nil, Match: result})
	}
}

// InvoiceApprove moves an exception invoice to ready_for_payment.
func InvoiceApprove(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoice, err := svc.Approve(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoiceResponseFromModel(invoice))
	}
}

// InvoicePayable lists invoices that can be paid.
func InvoicePayable(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}
		vendorID, err := validators.ParseQueryUUID(r, "vendor_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", invoices.DefaultPayableLimit, 1, invoices.MaxListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		currency, err := validators.ParseQueryCurrency(r, "currency")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListPayable(r.Context(), invoices.PayableFilter{
			VendorID: vendorID,
			Currency: currency.String(),
			Limit:    limit,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summaryResponses(rows))
	}
}

// InvoiceExceptions lists invoices waiting on an operator.
func InvoiceExceptions(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}
		vendorID, err := validators.ParseQueryUUID(r, "vendor_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", invoices.DefaultExceptionLimit, 1, invoices.MaxListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter := invoices.ExceptionFilter{VendorID: vendorID, Limit: limit}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseInvoiceStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			filter.Status = &status
		}
		rows, err := svc.ListExceptions(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summaryResponses(rows))
	}
}

// InvoiceStats returns the dashboard counters for the last N days.
func InvoiceStats(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}
		days, err := validators.ParseQueryInt(r, "days", invoices.DefaultStatsDays, 1, maxStatsDays)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stats, err := svc.Stats(r.Context(), days)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

type ingestRequest struct {
	Document      ingestion.Document `json:"document"`
	VendorID      string             `json:"vendor_id"`
	SupplierEmail string             `json:"supplier_email" validate:"omitempty,email"`
	SourceRef     string             `json:"source_ref" validate:"max=512"`
}

func (r ingestRequest) toOptions() (ingestion.Options, error) {
	opts := ingestion.Options{
		SupplierEmail: strings.TrimSpace(r.SupplierEmail),
		SourceRef:     strings.TrimSpace(r.SourceRef),
	}
	if raw := strings.TrimSpace(r.VendorID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return ingestion.Options{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid vendor_id")
		}
		opts.VendorOverrideID = &id
	}
	return opts, nil
}

// InvoiceIngest persists one extracted invoice document and matches it.
func InvoiceIngest(svc ingestion.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ingestion service unavailable"))
			return
		}
		var payload ingestRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		opts, err := payload.toOptions()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome, err := svc.Ingest(r.Context(), payload.Document, opts)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, outcome)
	}
}

type invoiceSummaryResponse struct {
	invoices.Summary
	Vendor string `json:"vendor"`
}

func summaryResponses(rows []invoices.Summary) []invoiceSummaryResponse {
	out := make([]invoiceSummaryResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, invoiceSummaryResponse{Summary: row, Vendor: row.DisplayVendor()})
	}
	return out
}
