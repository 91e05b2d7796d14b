package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/apmatch-backend/api/responses"
	"github.com/angelmondragon/apmatch-backend/api/validators"
	"github.com/angelmondragon/apmatch-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
)

const maxInvoicesPerPayment = 100

type paymentIntentRequest struct {
	InvoiceIDs    []string `json:"invoice_ids" validate:"required,min=1,max=100,dive,required"`
	CustomerEmail string   `json:"customer_email" validate:"required,email"`
	CustomerName  string   `json:"customer_name" validate:"max=255"`
	Currency      string   `json:"currency" validate:"omitempty,len=3"`
	SaveMethod    bool     `json:"save_payment_method"`
}

func (r paymentIntentRequest) toInput() (payments.CreateInput, error) {
	if len(r.InvoiceIDs) > maxInvoicesPerPayment {
		return payments.CreateInput{}, pkgerrors.New(pkgerrors.CodeValidation, "too many invoices")
	}
	ids := make([]uuid.UUID, 0, len(r.InvoiceIDs))
	for _, raw := range r.InvoiceIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return payments.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid invoice id").
				WithDetails(map[string]any{"invoice_id": raw})
		}
		ids = append(ids, id)
	}
	return payments.CreateInput{
		InvoiceIDs: ids,
		Customer: payments.Customer{
			Email: strings.TrimSpace(r.CustomerEmail),
			Name:  strings.TrimSpace(r.CustomerName),
		},
		Currency:   strings.TrimSpace(r.Currency),
		SaveMethod: r.SaveMethod,
	}, nil
}

// PaymentIntentCreate starts a payment over a batch of invoices.
func PaymentIntentCreate(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		var payload paymentIntentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// PaymentIntentConfirm re-reads the intent from the processor and applies
// its status.
func PaymentIntentConfirm(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return paymentIntentAction(svc, logg, func(r *http.Request, intentID string) (*payments.ConfirmResult, error) {
		return svc.Confirm(r.Context(), intentID)
	})
}

// PaymentIntentCancel reverts the payment's invoices to their prior statuses.
func PaymentIntentCancel(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return paymentIntentAction(svc, logg, func(r *http.Request, intentID string) (*payments.ConfirmResult, error) {
		return svc.Cancel(r.Context(), intentID)
	})
}

func paymentIntentAction(svc payments.Service, logg *logger.Logger, action func(*http.Request, string) (*payments.ConfirmResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		intentID, err := validators.ParseTokenParam(r, "intentId", 255)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			r = r.WithContext(logg.WithPaymentIntentID(r.Context(), intentID))
		}
		result, err := action(r, intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
