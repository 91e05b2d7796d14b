package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/apmatch-backend/api/responses"
	"github.com/angelmondragon/apmatch-backend/api/validators"
	"github.com/angelmondragon/apmatch-backend/internal/purchaseorders"
	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
)

type purchaseOrderLineResponse struct {
	LineNumber  int                 `json:"line_number"`
	SKU         *string             `json:"sku,omitempty"`
	Description *string             `json:"description,omitempty"`
	Quantity    decimal.NullDecimal `json:"quantity"`
	UnitPrice   decimal.NullDecimal `json:"unit_price"`
	LineTotal   decimal.NullDecimal `json:"line_total"`
}

type purchaseOrderResponse struct {
	ID          uuid.UUID                   `json:"id"`
	PONumber    string                      `json:"po_number"`
	VendorID    *uuid.UUID                  `json:"vendor_id,omitempty"`
	Currency    *string                     `json:"currency,omitempty"`
	TotalAmount decimal.NullDecimal         `json:"total_amount"`
	Status      enums.PurchaseOrderStatus   `json:"status"`
	CreatedAt   time.Time                   `json:"created_at"`
	Lines       []purchaseOrderLineResponse `json:"lines"`
}

func purchaseOrderResponseFromModel(m *models.PurchaseOrder) purchaseOrderResponse {
	lines := make([]purchaseOrderLineResponse, 0, len(m.Lines))
	for _, l := range m.Lines {
		lines = append(lines, purchaseOrderLineResponse{
			LineNumber:  l.LineNumber,
			SKU:         l.SKU,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			LineTotal:   l.LineTotal,
		})
	}
	return purchaseOrderResponse{
		ID:          m.ID,
		PONumber:    m.PONumber,
		VendorID:    m.VendorID,
		Currency:    m.Currency,
		TotalAmount: m.TotalAmount,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
		Lines:       lines,
	}
}

func PurchaseOrderDetail(svc purchaseorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchase order service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "poId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		po, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, purchaseOrderResponseFromModel(po))
	}
}
