package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/apmatch-backend/internal/gateway"
	"github.com/angelmondragon/apmatch-backend/internal/invoices"
	pkgdb "github.com/angelmondragon/apmatch-backend/pkg/db"
	"github.com/angelmondragon/apmatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
	"github.com/angelmondragon/apmatch-backend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeGateway struct {
	mu          sync.Mutex
	intents     map[string]*gateway.Intent
	byKey       map[string]string
	requests    []gateway.IntentRequest
	createErr   error
	retrieveErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: map[string]*gateway.Intent{}, byKey: map[string]string{}}
}

func (f *fakeGateway) CreateIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	if id, ok := f.byKey[req.IdempotencyKey]; ok {
		copied := *f.intents[id]
		return &copied, nil
	}
	id := fmt.Sprintf("pi_%d", len(f.intents)+1)
	intent := &gateway.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       gateway.IntentStatusRequiresPaymentMethod,
		AmountMinor:  req.AmountMinor,
		Currency:     req.Currency,
		Metadata:     req.Metadata,
	}
	f.intents[id] = intent
	f.byKey[req.IdempotencyKey] = id
	copied := *intent
	return &copied, nil
}

func (f *fakeGateway) RetrieveIntent(ctx context.Context, id string) (*gateway.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	intent, ok := f.intents[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment intent")
	}
	copied := *intent
	return &copied, nil
}

func (f *fakeGateway) setStatus(id string, status gateway.IntentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[id].Status = status
}

func (f *fakeGateway) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.intents)
}

type paymentFixture struct {
	db  *gorm.DB
	gw  *fakeGateway
	reg *prometheus.Registry
	svc Service
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	db := dbtest.Open(t)
	gw := newFakeGateway()
	reg := prometheus.NewRegistry()
	svc, err := NewService(ServiceParams{
		Invoices: invoices.NewRepository(db),
		Payments: NewRepository(db),
		Gateway:  gw,
		Tx:       pkgdb.Wrap(db),
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Metrics:  metrics.NewPaymentMetrics(reg),
	})
	require.NoError(t, err)
	return &paymentFixture{db: db, gw: gw, reg: reg, svc: svc}
}

func (f *paymentFixture) invoice(t *testing.T, status enums.InvoiceStatus, total, currency string) uuid.UUID {
	t.Helper()
	inv := &models.Invoice{Status: status}
	if total != "" {
		inv.TotalAmount = decimal.NewNullDecimal(decimal.RequireFromString(total))
	}
	if currency != "" {
		inv.Currency = &currency
	}
	require.NoError(t, f.db.Create(inv).Error)
	return inv.ID
}

func (f *paymentFixture) status(t *testing.T, id uuid.UUID) enums.InvoiceStatus {
	t.Helper()
	var inv models.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", id).Error)
	return inv.Status
}

func (f *paymentFixture) paymentCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.Payment{}).Count(&count).Error)
	return count
}

func (f *paymentFixture) transitions(t *testing.T, transition string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "apmatch_payments_transitions_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "transition" && label.GetValue() == transition {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func createInput(ids ...uuid.UUID) CreateInput {
	return CreateInput{InvoiceIDs: ids, Customer: Customer{Email: "ap@example.com", Name: "Accounts Payable"}}
}

func TestCreateReservesInvoicesAndOpensIntent(t *testing.T) {
	f := newPaymentFixture(t)
	a := f.invoice(t, enums.InvoiceStatusMatchedAuto, "100.00", "USD")
	b := f.invoice(t, enums.InvoiceStatusReadyForPayment, "50.50", "usd")

	result, err := f.svc.Create(context.Background(), createInput(b, a))
	require.NoError(t, err)
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("150.50")))
	assert.Equal(t, "usd", result.Currency)
	assert.Equal(t, "pi_1", result.PaymentIntentID)
	assert.Equal(t, "pi_1_secret", result.ClientSecret)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, result.InvoiceIDs)

	assert.Equal(t, enums.InvoiceStatusPaymentPending, f.status(t, a))
	assert.Equal(t, enums.InvoiceStatusPaymentPending, f.status(t, b))

	require.Len(t, f.gw.requests, 1)
	req := f.gw.requests[0]
	assert.EqualValues(t, 15050, req.AmountMinor)
	assert.Equal(t, "usd", req.Currency)
	assert.Equal(t, gateway.IdempotencyKey([]uuid.UUID{a, b}, "ap@example.com", decimal.RequireFromString("150.50"), "usd"), req.IdempotencyKey)
	assert.Equal(t, result.PaymentID.String(), req.Metadata[gateway.MetadataPaymentID])
	assert.Equal(t, "ap@example.com", req.Metadata[gateway.MetadataCustomerEmail])
	assert.Contains(t, req.Metadata[gateway.MetadataInvoiceIDs], a.String())

	payment, err := NewRepository(f.db).FindByIntentID(context.Background(), "pi_1")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, result.PaymentID, payment.ID)
	assert.Equal(t, enums.PaymentStatusRequiresConfirmation, payment.Status)
	assert.Equal(t, "USD", payment.Currency)
	require.Len(t, payment.Links, 2)
	sum := decimal.Zero
	previous := map[uuid.UUID]enums.InvoiceStatus{}
	for _, link := range payment.Links {
		sum = sum.Add(link.AmountApplied)
		previous[link.InvoiceID] = link.PreviousStatus
	}
	assert.True(t, sum.Equal(payment.Amount))
	assert.Equal(t, enums.InvoiceStatusMatchedAuto, previous[a])
	assert.Equal(t, enums.InvoiceStatusReadyForPayment, previous[b])
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newPaymentFixture(t)
	a := f.invoice(t, enums.InvoiceStatusMatchedAuto, "10.00", "USD")

	cases := map[string]CreateInput{
		"empty ids":      createInput(),
		"duplicate ids":  createInput(a, a),
		"nil id":         createInput(uuid.Nil),
		"missing email":  {InvoiceIDs: []uuid.UUID{a}},
		"bad currency":   {InvoiceIDs: []uuid.UUID{a}, Customer: Customer{Email: "x@example.com"}, Currency: "dollars"},
		"unknown id":     createInput(a, uuid.New()),
		"mixed currency": {InvoiceIDs: []uuid.UUID{a}, Customer: Customer{Email: "x@example.com"}, Currency: "EUR"},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), input)
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			assert.Equal(t, enums.InvoiceStatusMatchedAuto, f.status(t, a))
		})
	}
	assert.Zero(t, f.paymentCount(t))
	assert.Zero(t, f.gw.createCount())
}

func TestCreateRejectsMixedInvoiceCurrencies(t *testing.T) {
	f := newPaymentFixture(t)
	usd := f.invoice(t, enums.InvoiceStatusMatchedAuto, "10.00", "USD")
	eur := f.invoice(t, enums.InvoiceStatusReadyForPayment, "10.00", "EUR")

	_, err := f.svc.Create(context.Background(), createInput(usd, eur))
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	assert.Equal(t, enums.InvoiceStatusMatchedAuto, f.status(t, usd))
	assert.Equal(t, enums.InvoiceStatusReadyForPayment, f.status(t, eur))
	assert.Zero(t, f.paymentCount(t))
}

func TestCreateDefaultsToUSD(t *testing.T) {
	f := newPaymentFixture(t)
	a := f.invoice(t, enums.InvoiceStatusMatchedAuto, "10.00", "")

	result, err := f.svc.Create(context.Background(), createInput(a))
	require.NoError(t, err)
	assert.Equal(t, "usd", result.Currency)
}

func TestCreateStatusChecks(t *testing.T) {
	f := newPaymentFixture(t)
	eligible := f.invoice(t, enums.InvoiceStatusMatchedAuto, "10.00", "USD")
	paid := f.invoice(t, enums.InvoiceStatusPaid, "10.00", "USD")
	pending := f.invoice(t, enums.InvoiceStatusPaymentPending, "10.00", "USD")
	unmatched := f.invoice(t, enums.InvoiceStatusUnmatched, "10.00", "USD")
	noTotal := f.invoice(t, enums.InvoiceStatusReadyForPayment, "", "USD")

	_, err := f.svc.Create(context.Background(), createInput(eligible, paid))
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict for paid invoice, got %v", err)
	}
	_, err = f.svc.Create(context.Background(), createInput(eligible, pending))
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict for pending invoice, got %v", err)
	}
	_, err = f.svc.Create(context.Background(), createInput(eligible, unmatched))
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for unmatched invoice, got %v", err)
	}
	_, err = f.svc.Create(context.Background(), createInput(eligible, noTotal))
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for missing total, got %v", err)
	}

	assert.Equal(t, enums.InvoiceStatusMatchedAuto, f.status(t, eligible))
	assert.Zero(t, f.paymentCount(t))
}

func TestCreateGatewayFailureRollsBack(t *testing.T) {
	f := newPaymentFixture(t)
	a := f.invoice(t, enums.InvoiceStatusMatchedAuto, "10.00", "USD")
	f.gw.createErr = errors.New("connection reset")

	_, err := f.svc.Create(context.Background(), createInput(a))
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	assert.Equal(t, enums.InvoiceStatusMatchedAuto, f.status(t, a))
	assert.Zero(t, f.paymentCount(t))

	f.gw.createErr = nil
	result, err := f.svc.Create(context.Background(), createInput(a))
	require.NoError(t, err)

	require.Len(t, f.gw.requests, 2)
	assert.Equal(t, f.gw.requests[0].IdempotencyKey, f.gw.requests[1].IdempotencyKey)
	assert.Equal(t, f.gw.requests[0].Metadata[gateway.MetadataPaymentID], result.PaymentID.String())
}

// The sqlite pool holds one connection, so the two creates run one after the
// other and this covers the status re-check under the lock. Row lock contention
// is covered by TestPostgresConcurrentCreatesReserveOnce (-tags integration).
func TestConcurrentCreatesOnOverlappingInvoices(t *testing.T) {
	f := newPaymentFixture(t)
	a := f.invoice(t, enums.InvoiceStatusMatchedAuto, "10.00", "USD")
	shared := f.invoice(t, enums.InvoiceStatusMatchedAuto, "20.00", "USD")
	c := f.invoice(t, enums.InvoiceStatusReadyForPayment, "30.00", "USD")

	inputs := []CreateInput{createInput(a, shared), createInput(shared, c)}
	errs := make([]error, len(inputs))
	var wg sync.WaitGroup
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Create(context.Background(), inputs[i])
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			t.Fatalf("expected conflict for the losing create, got %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	assert.EqualValues(t, 1, f.paymentCount(t))
	assert.Equal(t, 1, f.gw.createCount())
	assert.Equal(t, enums.InvoiceStatusPaymentPending, f.status(t, shared))

	if errs[0] == nil {
		assert.Equal(t, enums.InvoiceStatusPaymentPending, f.status(t, a))
		assert.Equal(t, enums.InvoiceStatusReadyForPayment, f.status(t, c))
	} else {
		assert.Equal(t, enums.InvoiceStatusMatchedAuto, f.status(t, a))
		assert.Equal(t, enums.InvoiceStatusPaymentPending, f.status(t, c))
	}
}

func TestCancelRestoresPreviousStatuses(t *testing.T) {
	f := newPaymentFixture(t)
	a := f.invoice(t, enums.InvoiceStatusMatchedAuto, "10.00", "USD")
	b := f.invoice(t, enums.InvoiceStatusReadyForPayment, "15.00", "USD")

	created, err := f.svc.Create(context.Background(), createInput(a, b))
	require.NoError(t, err)

	result, err := f.svc.Cancel(context.Background(), created.PaymentIntentID)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, enums.PaymentStatusFailed, result.PaymentStatus)
	assert.Equal(t, enums.InvoiceStatusMatchedAuto, f.status(t, a))
	assert.Equal(t, enums.InvoiceStatusReadyForPayment, f.status(t, b))

	payment, err := NewRepository(f.db).FindByID(context.Background(), created.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, payment.Status)
	require.NotNil(t, payment.FailureReason)
	assert.Equal(t, reasonCanceledByOperator, *payment.FailureReason)

	again, err := f.svc.Cancel(context.Background(), created.PaymentIntentID)
	require.NoError(t, err)
	assert.False(t, again.Changed)
}

func TestRetryAfterFailedPaymentOpensFreshIntent(t *testing.T) {
	f := newPaymentFixture(t)
	a := f.invoice(t, enums.InvoiceStatusMatchedAuto, "10.00", "USD")

	first, err := f.svc.Create(context.Background(), createInput(a))
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), first.PaymentIntentID)
	require.NoError(t, err)

	second, err := f.svc.Create(context.Background(), createInput(a))
	require.NoError(t, err)
	assert.NotEqual(t, first.PaymentIntentID, second.PaymentIntentID)
	assert.NotEqual(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, f.gw.requests[0].IdempotencyKey+":1", f.gw.requests[1].IdempotencyKey)
	assert.EqualValues(t, 2, f.paymentCount(t))
}

func TestConfirmFlagsChargeAfterCancel(t *testing.T) {
	f := newPaymentFixture(t)
	a := f.invoice(t, enums.InvoiceStatusMatchedAuto, "10.00", "USD")

	created, err := f.svc.Create(context.Background(), createInput(a))
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), created.PaymentIntentID)
	require.NoError(t, err)

	f.gw.setStatus(created.PaymentIntentID, gateway.IntentStatusSucceeded)
	result, err := f.svc.Confirm(context.Background(), created.PaymentIntentID)
	require.NoError(t, err)
	assert.True(t, result.CollectedAfterRelease)
	assert.False(t, result.Changed)
	assert.Equal(t, enums.PaymentStatusFailed, result.PaymentStatus)
	assert.Equal(t, enums.InvoiceStatusMatchedAuto, f.status(t, a))
	assert.Equal(t, 1.0, f.transitions(t, metrics.PaymentCollectedAfterRelease))
	assert.Equal(t, 1.0, f.transitions(t, metrics.PaymentCanceled))
}

func TestConfirmSucceededIsIdempotent(t *testing.T) {
	f := newPaymentFixture(t)
	a := f.invoice(t, enums.InvoiceStatusMatchedAuto, "10.00", "USD")
	b := f.invoice(t, enums.InvoiceStatusReadyForPayment, "5.00", "USD")

	created, err := f.svc.Create(context.Background(), createInput(a, b))
	require.NoError(t, err)
	f.gw.setStatus(created.PaymentIntentID, gateway.IntentStatusSucceeded)

	first, err := f.svc.Confirm(context.Background(), created.PaymentIntentID)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, gateway.IntentStatusSucceeded, first.IntentStatus)
	assert.Equal(t, enums.PaymentStatusSucceeded, first.PaymentStatus)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, first.InvoiceIDs)

	second, err := f.svc.Confirm(context.Background(), created.PaymentIntentID)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, enums.PaymentStatusSucceeded, second.PaymentStatus)

	assert.Equal(t, enums.InvoiceStatusPaid, f.status(t, a))
	assert.Equal(t, enums.InvoiceStatusPaid, f.status(t, b))
	assert.EqualValues(t, 1, f.paymentCount(t))

	var links int64
	require.NoError(t, f.db.Model(&models.PaymentInvoice{}).Count(&links).Error)
	assert.EqualValues(t, 2, links)

	_, err = f.svc.Cancel(context.Background(), created.PaymentIntentID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict cancelling a succeeded payment, got %v", err)
	}
}

func TestConfirmFailureRevertsAndPendingIsNoOp(t *testing.T) {
	f := newPaymentFixture(t)
	a := f.invoice(t, enums.InvoiceStatusReadyForPayment, "10.00", "USD")

	created, err := f.svc.Create(context.Background(), createInput(a))
	require.NoError(t, err)

	f.gw.setStatus(created.PaymentIntentID, gateway.IntentStatusProcessing)
	pending, err := f.svc.Confirm(context.Background(), created.PaymentIntentID)
	require.NoError(t, err)
	assert.False(t, pending.Changed)
	assert.Equal(t, gateway.IntentStatusProcessing, pending.IntentStatus)
	assert.Equal(t, enums.InvoiceStatusPaymentPending, f.status(t, a))

	f.gw.setStatus(created.PaymentIntentID, gateway.IntentStatusRequiresPaymentMethod)
	failed, err := f.svc.Confirm(context.Background(), created.PaymentIntentID)
	require.NoError(t, err)
	assert.True(t, failed.Changed)
	assert.Equal(t, enums.PaymentStatusFailed, failed.PaymentStatus)
	assert.Equal(t, enums.InvoiceStatusReadyForPayment, f.status(t, a))

	payment, err := NewRepository(f.db).FindByID(context.Background(), created.PaymentID)
	require.NoError(t, err)
	require.NotNil(t, payment.FailureReason)
	assert.Equal(t, "requires_payment_method", *payment.FailureReason)
}

func TestConfirmUnknownIntent(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.Confirm(context.Background(), "pi_missing")
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	f.gw.intents["pi_orphan"] = &gateway.Intent{ID: "pi_orphan", Status: gateway.IntentStatusSucceeded}
	_, err = f.svc.Confirm(context.Background(), "pi_orphan")
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for intent without payment, got %v", err)
	}

	_, err = f.svc.Cancel(context.Background(), "pi_orphan")
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error cancelling unknown intent, got %v", err)
	}

	_, err = f.svc.Confirm(context.Background(), "  ")
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for blank intent id, got %v", err)
	}
}

func TestConfirmGatewayErrorLeavesStateAlone(t *testing.T) {
	f := newPaymentFixture(t)
	a := f.invoice(t, enums.InvoiceStatusMatchedAuto, "10.00", "USD")
	created, err := f.svc.Create(context.Background(), createInput(a))
	require.NoError(t, err)

	f.gw.retrieveErr = errors.New("timeout")
	_, err = f.svc.Confirm(context.Background(), created.PaymentIntentID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	assert.Equal(t, enums.InvoiceStatusPaymentPending, f.status(t, a))
}

func TestListStale(t *testing.T) {
	f := newPaymentFixture(t)
	a := f.invoice(t, enums.InvoiceStatusMatchedAuto, "10.00", "USD")
	created, err := f.svc.Create(context.Background(), createInput(a))
	require.NoError(t, err)

	rows, err := f.svc.ListStale(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, f.db.Model(&models.Payment{}).
		Where("id = ?", created.PaymentID).
		Update("created_at", time.Now().UTC().Add(-2*time.Hour)).Error)

	rows, err = f.svc.ListStale(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, created.PaymentID, rows[0].ID)
}

func TestNewServiceRequiresGateway(t *testing.T) {
	db := dbtest.Open(t)
	_, err := NewService(ServiceParams{
		Invoices: invoices.NewRepository(db),
		Payments: NewRepository(db),
		Tx:       pkgdb.Wrap(db),
		Logger:   logger.New(logger.Options{Output: io.Discard}),
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
