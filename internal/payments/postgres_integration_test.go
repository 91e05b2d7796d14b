//go:build integration

package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/apmatch-backend/internal/gateway"
	"github.com/angelmondragon/apmatch-backend/internal/invoices"
	"github.com/angelmondragon/apmatch-backend/internal/vendors"
	pkgdb "github.com/angelmondragon/apmatch-backend/pkg/db"
	"github.com/angelmondragon/apmatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
)

// holdingGateway parks CreateIntent until released, keeping the creating
// transaction open with its invoice rows locked.
type holdingGateway struct {
	*fakeGateway
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *holdingGateway) CreateIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	g.once.Do(func() { close(g.reached) })
	<-g.release
	return g.fakeGateway.CreateIntent(ctx, req)
}

func newPostgresService(t *testing.T, client *pkgdb.Client, gw gateway.Gateway) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Invoices: invoices.NewRepository(client.DB()),
		Payments: NewRepository(client.DB()),
		Gateway:  gw,
		Tx:       client,
		Logger:   logger.Nop(),
	})
	require.NoError(t, err)
	return svc
}

func seedInvoice(t *testing.T, client *pkgdb.Client, vendorID *uuid.UUID, status enums.InvoiceStatus, total string) uuid.UUID {
	t.Helper()
	currency := "USD"
	inv := &models.Invoice{
		VendorID:    vendorID,
		Status:      status,
		Currency:    &currency,
		TotalAmount: decimal.NewNullDecimal(decimal.RequireFromString(total)),
	}
	require.NoError(t, client.DB().Create(inv).Error)
	return inv.ID
}

func TestPostgresConcurrentCreatesReserveOnce(t *testing.T) {
	client := dbtest.OpenPostgres(t)

	for round := 0; round < 10; round++ {
		gw := newFakeGateway()
		svc := newPostgresService(t, client, gw)
		a := seedInvoice(t, client, nil, enums.InvoiceStatusMatchedAuto, "10.00")
		shared := seedInvoice(t, client, nil, enums.InvoiceStatusMatchedAuto, "20.00")
		c := seedInvoice(t, client, nil, enums.InvoiceStatusReadyForPayment, "30.00")

		inputs := []CreateInput{createInput(a, shared), createInput(c, shared)}
		errs := make([]error, len(inputs))
		var wg sync.WaitGroup
		for i := range inputs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.Create(context.Background(), inputs[i])
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "round %d: %v", round, err)
		}
		require.Equal(t, 1, succeeded, "round %d", round)
		require.Equal(t, 1, gw.createCount(), "round %d", round)
	}
}

func TestPostgresPurgeWaitsForPaymentReservation(t *testing.T) {
	client := dbtest.OpenPostgres(t)
	ctx := context.Background()

	vendorSvc, err := vendors.NewService(vendors.NewRepository(client.DB()), client, logger.Nop())
	require.NoError(t, err)
	vendor, err := vendorSvc.Create(ctx, vendors.CreateInput{Name: "Acme Supply"})
	require.NoError(t, err)
	invoiceID := seedInvoice(t, client, &vendor.ID, enums.InvoiceStatusMatchedAuto, "10.00")

	gw := &holdingGateway{fakeGateway: newFakeGateway(), reached: make(chan struct{}), release: make(chan struct{})}
	svc := newPostgresService(t, client, gw)

	createErr := make(chan error, 1)
	go func() {
		_, err := svc.Create(ctx, createInput(invoiceID))
		createErr <- err
	}()
	<-gw.reached

	purgeErr := make(chan error, 1)
	go func() {
		_, err := vendorSvc.Purge(ctx, vendor.ID)
		purgeErr <- err
	}()

	select {
	case err := <-purgeErr:
		t.Fatalf("purge finished while the invoice was being reserved: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
	close(gw.release)

	require.NoError(t, <-createErr)
	err = <-purgeErr
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "expected conflict, got %v", err)

	var links int64
	require.NoError(t, client.DB().Model(&models.PaymentInvoice{}).Where("invoice_id = ?", invoiceID).Count(&links).Error)
	assert.EqualValues(t, 1, links)

	var inv models.Invoice
	require.NoError(t, client.DB().First(&inv, "id = ?", invoiceID).Error)
	assert.Equal(t, enums.InvoiceStatusPaymentPending, inv.Status)
}
