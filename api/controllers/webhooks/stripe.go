package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/apmatch-backend/api/responses"
	stripewebhook "github.com/angelmondragon/apmatch-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
)

// Stripe caps event payloads well below this.
const maxEventBytes = 512 << 10

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

// EventDedup is satisfied by *stripewebhook.EventDedup.
type EventDedup interface {
	Claim(ctx context.Context, eventID string) (stripewebhook.ClaimState, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type signingSecretSource interface {
	SigningSecret() string
}

// StripeWebhook verifies the Stripe-Signature header and hands payment intent
// events to svc once per event id. Any non-2xx reply makes Stripe redeliver,
// so only failures worth retrying are reported as errors; permanent ones are
// logged and acknowledged.
func StripeWebhook(svc StripeWebhookService, secrets signingSecretSource, dedup EventDedup, logg *logger.Logger) http.HandlerFunc {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || secrets == nil || dedup == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConfiguration, "stripe webhooks not configured"))
			return
		}

		signature := r.Header.Get("Stripe-Signature")
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Stripe-Signature header required"))
			return
		}
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read event payload"))
			return
		}
		event, err := webhook.ConstructEventWithOptions(payload, signature, secrets.SigningSecret(), webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid stripe signature"))
			return
		}
		ctx = logg.WithFields(ctx, map[string]any{
			"stripe_event_id":   event.ID,
			"stripe_event_type": string(event.Type),
		})

		state, err := dedup.Claim(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim stripe event"))
			return
		}
		switch state {
		case stripewebhook.ClaimDone:
			logg.Debug(ctx, "stripe.event_duplicate")
			responses.WriteSuccess(w, nil)
			return
		case stripewebhook.ClaimInFlight:
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "event is being processed"))
			return
		}

		handleErr := svc.HandleEvent(ctx, &event)
		// finish the claim even if Stripe has hung up on us
		bookkeeping := context.WithoutCancel(ctx)
		if handleErr != nil && pkgerrors.Retryable(handleErr) {
			if err := dedup.Release(bookkeeping, event.ID); err != nil {
				logg.Error(ctx, "stripe.event_release_failed", err)
			}
			responses.WriteError(ctx, logg, w, handleErr)
			return
		}
		if handleErr != nil {
			logg.Error(ctx, "stripe.event_dropped", handleErr)
		}
		if err := dedup.Complete(bookkeeping, event.ID); err != nil {
			logg.Error(ctx, "stripe.event_complete_failed", err)
		}
		if handleErr == nil {
			logg.Info(ctx, "stripe.event_applied")
		}
		responses.WriteSuccess(w, nil)
	}
}
