package invoices

import (
	"context"
	"testing"

	pkgdb "github.com/angelmondragon/apmatch-backend/pkg/db"
	"github.com/angelmondragon/apmatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (Service, *pkgdb.Client) {
	t.Helper()
	client := pkgdb.Wrap(dbtest.Open(t))
	svc, err := NewService(NewRepository(client.DB()), client)
	require.NoError(t, err)
	return svc, client
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(nil, nil); err == nil {
		t.Fatalf("expected error for missing repository")
	}
}

func TestApproveMovesExceptionToReady(t *testing.T) {
	svc, client := newTestService(t)
	inv := newInvoice(t, client.DB(), enums.InvoiceStatusVendorMismatch, "10.00", "USD")

	approved, err := svc.Approve(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusReadyForPayment, approved.Status)

	again, err := svc.Approve(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusReadyForPayment, again.Status)
}

func TestApproveRejectsPaidInvoice(t *testing.T) {
	svc, client := newTestService(t)
	inv := newInvoice(t, client.DB(), enums.InvoiceStatusPaid, "10.00", "USD")

	_, err := svc.Approve(context.Background(), inv.ID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestApproveMissingInvoice(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Approve(context.Background(), uuid.New())
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetMissingInvoice(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), uuid.New())
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListExceptionsRejectsNonExceptionStatus(t *testing.T) {
	svc, _ := newTestService(t)
	paid := enums.InvoiceStatusPaid
	_, err := svc.ListExceptions(context.Background(), ExceptionFilter{Status: &paid})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStatsCountsWindow(t *testing.T) {
	svc, client := newTestService(t)
	db := client.DB()

	matched := newInvoice(t, db, enums.InvoiceStatusMatchedAuto, "100.00", "USD")
	require.NoError(t, db.Exec("UPDATE invoices SET matched_po_id = ? WHERE id = ?", uuid.New(), matched.ID).Error)
	newInvoice(t, db, enums.InvoiceStatusUnmatched, "50.50", "USD")

	stats, err := svc.Stats(context.Background(), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.InvoicesProcessed)
	assert.EqualValues(t, 1, stats.ExceptionInvoices)
	assert.EqualValues(t, 1, stats.MatchedInvoices)
	assert.Equal(t, "150.50", stats.AmountProcessed.StringFixed(2))
	assert.InDelta(t, 0.5, stats.AutoMatchRate, 1e-9)
}
