package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/apmatch-backend/api/responses"
	"github.com/angelmondragon/apmatch-backend/api/validators"
	"github.com/angelmondragon/apmatch-backend/internal/vendors"
	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
)

type vendorCreateRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	TaxID       string `json:"tax_id" validate:"max=64"`
	Address     string `json:"address" validate:"max=1024"`
	ContactInfo string `json:"contact_info" validate:"max=1024"`
}

type vendorResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	TaxID       *string   `json:"tax_id,omitempty"`
	Address     *string   `json:"address,omitempty"`
	ContactInfo *string   `json:"contact_info,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func vendorResponseFromModel(m *models.Vendor) vendorResponse {
	return vendorResponse{
		ID:          m.ID,
		Name:        m.Name,
		TaxID:       m.TaxID,
		Address:     m.Address,
		ContactInfo: m.ContactInfo,
		CreatedAt:   m.CreatedAt,
	}
}

type vendorSummaryResponse struct {
	vendors.Summary
	Active bool `json:"active"`
}

func VendorList(svc vendors.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "vendor service unavailable"))
			return
		}
		rows, err := svc.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]vendorSummaryResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, vendorSummaryResponse{Summary: row, Active: row.Active()})
		}
		responses.WriteSuccess(w, out)
	}
}

func VendorDetail(svc vendors.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "vendor service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "vendorId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		vendor, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, vendorResponseFromModel(vendor))
	}
}

func VendorCreate(svc vendors.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "vendor service unavailable"))
			return
		}
		var payload vendorCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		vendor, err := svc.Create(r.Context(), vendors.CreateInput{
			Name:        payload.Name,
			TaxID:       payload.TaxID,
			Address:     payload.Address,
			ContactInfo: payload.ContactInfo,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, vendorResponseFromModel(vendor))
	}
}

// VendorPurge deletes a vendor together with its invoices and purchase orders.
func VendorPurge(svc vendors.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "vendor service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "vendorId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Purge(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
