package ingestion

import (
	"strings"
	"time"

	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Document is the field set extracted from one invoice file.
type Document struct {
	SupplierName        string              `json:"supplier_name"`
	SupplierTaxID       string              `json:"supplier_tax_id"`
	SupplierAddress     string              `json:"supplier_address"`
	InvoiceNumber       string              `json:"invoice_number"`
	InvoiceDate         string              `json:"invoice_date"`
	DueDate             string              `json:"due_date"`
	Currency            string              `json:"currency"`
	PaymentTerms        string              `json:"payment_terms"`
	SubtotalAmount      decimal.NullDecimal `json:"subtotal_amount"`
	TaxAmount           decimal.NullDecimal `json:"tax_amount"`
	ShippingAmount      decimal.NullDecimal `json:"shipping_amount"`
	DiscountAmount      decimal.NullDecimal `json:"discount_amount"`
	TotalAmount         decimal.NullDecimal `json:"total_amount"`
	PONumber            string              `json:"po_number"`
	RemittanceReference string              `json:"remittance_reference"`
	Lines               []Line              `json:"lines"`
}

type Line struct {
	LineNumber    int                 `json:"line_number"`
	Description   string              `json:"description"`
	SKU           string              `json:"sku"`
	Quantity      decimal.NullDecimal `json:"quantity"`
	UnitOfMeasure string              `json:"unit_of_measure"`
	UnitPrice     decimal.NullDecimal `json:"unit_price"`
	LineTotal     decimal.NullDecimal `json:"line_total"`
	TaxRate       decimal.NullDecimal `json:"tax_rate"`
	TaxCode       string              `json:"tax_code"`
	PONumber      string              `json:"po_number"`
	POLineNumber  *int                `json:"po_line_number"`
}

// Options carries the context the document arrived with.
type Options struct {
	VendorOverrideID *uuid.UUID
	SupplierEmail    string
	SourceRef        string
}

func (d Document) invoice(opts Options) *models.Invoice {
	inv := &models.Invoice{
		SupplierName:        optional(d.SupplierName),
		SupplierEmail:       optional(opts.SupplierEmail),
		SupplierTaxID:       optional(d.SupplierTaxID),
		SupplierAddress:     optional(d.SupplierAddress),
		InvoiceNumber:       optional(d.InvoiceNumber),
		InvoiceDate:         parseDate(d.InvoiceDate),
		DueDate:             parseDate(d.DueDate),
		PaymentTerms:        optional(d.PaymentTerms),
		SubtotalAmount:      d.SubtotalAmount,
		TaxAmount:           d.TaxAmount,
		ShippingAmount:      d.ShippingAmount,
		DiscountAmount:      d.DiscountAmount,
		TotalAmount:         d.TotalAmount,
		PONumber:            optional(d.PONumber),
		RemittanceReference: optional(d.RemittanceReference),
		SourceRef:           optional(opts.SourceRef),
		Status:              enums.InvoiceStatusUnmatched,
	}
	if currency := enums.NormalizeCurrency(d.Currency); currency.IsValid() {
		value := currency.String()
		inv.Currency = &value
	}

	inv.Lines = make([]models.InvoiceLine, 0, len(d.Lines))
	for i, line := range d.Lines {
		number := line.LineNumber
		if number <= 0 {
			number = i + 1
		}
		inv.Lines = append(inv.Lines, models.InvoiceLine{
			LineNumber:    number,
			SKU:           optional(line.SKU),
			Description:   optional(line.Description),
			Quantity:      line.Quantity,
			UnitOfMeasure: optional(line.UnitOfMeasure),
			UnitPrice:     line.UnitPrice,
			LineTotal:     line.LineTotal,
			TaxRate:       line.TaxRate,
			TaxCode:       optional(line.TaxCode),
			PONumber:      optional(line.PONumber),
			POLineNumber:  line.POLineNumber,
		})
	}
	return inv
}

// Unparseable dates are dropped rather than failing the document.
func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil
	}
	return &parsed
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
