// Package stripewebhook applies Stripe payment intent events. Events only
// trigger a confirm; the intent is always re-read from Stripe.
package stripewebhook

import (
	"context"
	"strings"

	"github.com/angelmondragon/apmatch-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
	"github.com/stripe/stripe-go/v84"
)

type paymentConfirmer interface {
	Confirm(ctx context.Context, paymentIntentID string) (*payments.ConfirmResult, error)
}

type ServiceParams struct {
	Payments paymentConfirmer
	Logger   *logger.Logger
}

type Service struct {
	payments paymentConfirmer
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{payments: params.Payments, logg: params.Logger}, nil
}

// HandleEvent confirms the payment behind a payment intent event. Other
// event types and intents this system never created are acknowledged and
// ignored.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded,
		stripe.EventTypePaymentIntentPaymentFailed,
		stripe.EventTypePaymentIntentCanceled:
	default:
		return nil
	}

	intentID := strings.TrimSpace(event.GetObjectValue("id"))
	if intentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": string(event.Type),
		"payment_intent_id": intentID,
	})

	result, err := s.payments.Confirm(ctx, intentID)
	if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		s.logg.Warn(ctx, "ignoring event for unknown payment intent")
		return nil
	}
	if err != nil {
		return err
	}
	if result.CollectedAfterRelease {
		s.logg.Warn(ctx, "stripe.intent_collected_after_release")
	}
	if result.Changed {
		s.logg.Info(ctx, "payment updated from stripe event")
	}
	return nil
}
