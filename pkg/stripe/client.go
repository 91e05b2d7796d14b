// Package stripe owns the process-wide Stripe credentials and HTTP backend.
package stripe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	"github.com/angelmondragon/apmatch-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
)

// Mode is the Stripe account mode a key belongs to.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"

	defaultTimeout = 20 * time.Second
)

type Client struct {
	apiKey        string
	mode          Mode
	signingSecret string
	backend       stripe.Backend
}

// NewClient checks the Stripe settings and builds a backend with the
// configured timeout and network retries. Retried requests reuse the
// idempotency key, so a retry never creates a second intent.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := parseMode(cfg.Env)
	if err != nil {
		return nil, err
	}
	apiKey, signingSecret := strings.TrimSpace(cfg.APIKey), strings.TrimSpace(cfg.Secret)
	switch {
	case apiKey == "":
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "stripe api key is required")
	case signingSecret == "":
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "stripe webhook secret is required")
	case !keyMatchesMode(apiKey, mode):
		return nil, pkgerrors.Newf(pkgerrors.CodeConfiguration, "stripe %s mode needs an sk_%s or rk_%s key", mode, mode, mode)
	case cfg.MaxRetries < 0:
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "stripe max retries must not be negative")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(cfg.MaxRetries),
	}
	if logg != nil {
		backendCfg.LeveledLogger = &leveledLogger{ctx: logg.WithField(ctx, "component", "stripe"), logg: logg}
		logg.Info(logg.WithFields(ctx, map[string]any{
			"stripe_mode":    string(mode),
			"stripe_retries": cfg.MaxRetries,
			"stripe_timeout": timeout.String(),
		}), "stripe.configured")
	}

	return &Client{
		apiKey:        apiKey,
		mode:          mode,
		signingSecret: signingSecret,
		backend:       stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
	}, nil
}

// PaymentIntents is a payment intent API bound to this client's key.
func (c *Client) PaymentIntents() *paymentintent.Client {
	if c == nil {
		return nil
	}
	return &paymentintent.Client{B: c.backend, Key: c.apiKey}
}

// Environment is the account mode, "test" or "live".
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return string(c.mode)
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func parseMode(raw string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return ModeTest, nil
	case ModeTest, ModeLive:
		return mode, nil
	default:
		return "", pkgerrors.Newf(pkgerrors.CodeConfiguration, "stripe environment must be %q or %q, got %q", ModeTest, ModeLive, raw)
	}
}

// keyMatchesMode accepts secret (sk_) and restricted (rk_) keys.
func keyMatchesMode(key string, mode Mode) bool {
	return strings.HasPrefix(key, "sk_"+string(mode)+"_") || strings.HasPrefix(key, "rk_"+string(mode)+"_")
}

// leveledLogger routes stripe-go's own logging into the service logger.
type leveledLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

func (l *leveledLogger) Debugf(format string, v ...any) {
	l.logg.Debug(l.ctx, fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Infof(format string, v ...any) {
	l.logg.Debug(l.ctx, fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Warnf(format string, v ...any) {
	l.logg.Warn(l.ctx, fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Errorf(format string, v ...any) {
	l.logg.Error(l.ctx, fmt.Sprintf(format, v...), nil)
}
