package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	pkgstripe "github.com/angelmondragon/apmatch-backend/pkg/stripe"
)

type intentsAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGateway talks to Stripe payment intents.
type StripeGateway struct {
	intents intentsAPI
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway binds the adapter to the process Stripe client.
func NewStripeGateway(client *pkgstripe.Client) (*StripeGateway, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "stripe client required")
	}
	return &StripeGateway{intents: client.PaymentIntents()}, nil
}

func newStripeGateway(intents intentsAPI) *StripeGateway {
	return &StripeGateway{intents: intents}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if req.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency is required")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	if email := strings.TrimSpace(req.ReceiptEmail); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	if req.SaveMethod {
		params.SetupFutureUsage = stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession))
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, wrapStripeError(err, "create payment intent")
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.intents.Get(intentID, params)
	if err != nil {
		return nil, wrapStripeError(err, "retrieve payment intent")
	}
	return toIntent(pi), nil
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	if pi == nil {
		return nil
	}
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       IntentStatus(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}

func wrapStripeError(err error, action string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == 404 || stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown payment intent")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s: %s", action, stripeErr.Msg))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}

var _ intentsAPI = (*paymentintent.Client)(nil)
