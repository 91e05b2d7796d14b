package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/apmatch-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/apmatch-backend/api/controllers/webhooks"
	"github.com/angelmondragon/apmatch-backend/api/middleware"
	"github.com/angelmondragon/apmatch-backend/internal/ingestion"
	"github.com/angelmondragon/apmatch-backend/internal/invoices"
	"github.com/angelmondragon/apmatch-backend/internal/matching"
	"github.com/angelmondragon/apmatch-backend/internal/payments"
	"github.com/angelmondragon/apmatch-backend/internal/purchaseorders"
	"github.com/angelmondragon/apmatch-backend/internal/vendors"
	"github.com/angelmondragon/apmatch-backend/pkg/auth/session"
	"github.com/angelmondragon/apmatch-backend/pkg/config"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
	"github.com/angelmondragon/apmatch-backend/pkg/metrics"
	"github.com/angelmondragon/apmatch-backend/pkg/redis"
	"github.com/angelmondragon/apmatch-backend/pkg/stripe"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries everything the API routes are wired to. Nil services make
// their handlers answer with an internal error instead of panicking.
type Deps struct {
	DB          pinger
	Redis       pinger
	Idempotency redis.IdempotencyStore
	Revocations session.RevocationChecker
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics

	Invoices       invoices.Service
	PurchaseOrders purchaseorders.Service
	Vendors        vendors.Service
	Matching       matching.Service
	Ingestion      ingestion.Service
	Payments       payments.Service

	Stripe               *stripe.Client
	StripeWebhookService webhookcontrollers.StripeWebhookService
	StripeEventDedup     webhookcontrollers.EventDedup
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{Timeout: 10 * time.Second}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		var client interface{ SigningSecret() string }
		if deps.Stripe != nil {
			client = deps.Stripe
		}
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhookService, client, deps.StripeEventDedup, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Revocations, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, cfg.Idempotency.ResponseTTL, logg))

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/payable", controllers.InvoicePayable(deps.Invoices, logg))
			r.Get("/exceptions", controllers.InvoiceExceptions(deps.Invoices, logg))
			r.Get("/stats", controllers.InvoiceStats(deps.Invoices, logg))
			r.Get("/{invoiceId}", controllers.InvoiceDetail(deps.Invoices, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireMutation(logg))
				r.Post("/ingest", controllers.InvoiceIngest(deps.Ingestion, logg))
				r.Post("/{invoiceId}/match", controllers.InvoiceMatch(deps.Matching, logg))
				r.Post("/{invoiceId}/approve", controllers.InvoiceApprove(deps.Invoices, logg))
			})
		})

		r.Get("/purchase-orders/{poId}", controllers.PurchaseOrderDetail(deps.PurchaseOrders, logg))

		r.Route("/vendors", func(r chi.Router) {
			r.Get("/", controllers.VendorList(deps.Vendors, logg))
			r.Get("/{vendorId}", controllers.VendorDetail(deps.Vendors, logg))
			r.With(middleware.RequireMutation(logg)).Post("/", controllers.VendorCreate(deps.Vendors, logg))
			r.With(middleware.RequireRole(logg, enums.OperatorRoleAdmin)).Delete("/{vendorId}", controllers.VendorPurge(deps.Vendors, logg))
		})

		r.Route("/payments/intents", func(r chi.Router) {
			r.Use(middleware.RequireMutation(logg))
			r.Post("/", controllers.PaymentIntentCreate(deps.Payments, logg))
			r.Post("/{intentId}/confirm", controllers.PaymentIntentConfirm(deps.Payments, logg))
			r.Post("/{intentId}/cancel", controllers.PaymentIntentCancel(deps.Payments, logg))
		})
	})

	return r
}
