package vendors

import (
	"context"
	"io"
	"testing"

	pkgdb "github.com/angelmondragon/apmatch-backend/pkg/db"
	"github.com/angelmondragon/apmatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func strPtr(v string) *string { return &v }

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	svc, err := NewService(NewRepository(db), pkgdb.Wrap(db), logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	require.NoError(t, err)
	return svc, db
}

func TestResolvePrefersTaxIDThenName(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	byTax := &models.Vendor{Name: "Globex", TaxID: strPtr("TAX-1")}
	byName := &models.Vendor{Name: "Acme Supply"}
	require.NoError(t, repo.Create(ctx, byTax))
	require.NoError(t, repo.Create(ctx, byName))

	vendor, created, err := Resolve(ctx, repo, Hint{Name: "Acme Supply", TaxID: " TAX-1 "})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, byTax.ID, vendor.ID)

	vendor, created, err = Resolve(ctx, repo, Hint{Name: "acme supply"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, byName.ID, vendor.ID)
}

func TestResolveCreatesUnknownVendor(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	vendor, created, err := Resolve(ctx, repo, Hint{Name: "Initech", TaxID: "TAX-9", Contact: "ap@initech.test"})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "Initech", vendor.Name)
	require.NotNil(t, vendor.ContactInfo)
	assert.Equal(t, "ap@initech.test", *vendor.ContactInfo)

	found, err := repo.FindByTaxID(ctx, "TAX-9")
	require.NoError(t, err)
	assert.Equal(t, vendor.ID, found.ID)
}

func TestResolveWithoutIdentityReturnsNil(t *testing.T) {
	db := dbtest.Open(t)
	vendor, created, err := Resolve(context.Background(), NewRepository(db), Hint{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, vendor)
}

func TestMismatch(t *testing.T) {
	vendor := &models.Vendor{Name: "Acme Supply", TaxID: strPtr("TAX-1")}

	cases := []struct {
		name string
		hint Hint
		want bool
	}{
		{"same tax id", Hint{TaxID: "TAX-1"}, false},
		{"same tax id and name", Hint{TaxID: "TAX-1", Name: "acme supply"}, false},
		{"same tax id other name", Hint{TaxID: "TAX-1", Name: "Other"}, true},
		{"different tax id same name", Hint{TaxID: "TAX-2", Name: "Acme Supply"}, true},
		{"name only same", Hint{Name: "ACME SUPPLY"}, false},
		{"name only different", Hint{Name: "Globex"}, true},
		{"empty hint", Hint{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Mismatch(vendor, tc.hint); got != tc.want {
				t.Fatalf("Mismatch() = %v, want %v", got, tc.want)
			}
		})
	}

	noTax := &models.Vendor{Name: "Acme Supply"}
	if !Mismatch(noTax, Hint{TaxID: "TAX-2", Name: "Globex"}) {
		t.Fatalf("expected name mismatch when vendor has no tax id")
	}
}

func TestPurgeDeletesVendorData(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	vendor, err := svc.Create(ctx, CreateInput{Name: "Acme Supply"})
	require.NoError(t, err)

	invoice := &models.Invoice{
		VendorID:    &vendor.ID,
		Status:      enums.InvoiceStatusPaid,
		TotalAmount: decimal.NewNullDecimal(decimal.NewFromInt(10)),
		Lines:       []models.InvoiceLine{{LineNumber: 1}, {LineNumber: 2}},
	}
	require.NoError(t, db.Create(invoice).Error)
	po := &models.PurchaseOrder{PONumber: "PO-1", VendorID: &vendor.ID, Lines: []models.PurchaseOrderLine{{LineNumber: 1}}}
	require.NoError(t, db.Create(po).Error)
	payment := &models.Payment{Amount: decimal.NewFromInt(10), Currency: "USD", CustomerEmail: "ap@example.com", IdempotencyKey: "k"}
	require.NoError(t, db.Create(payment).Error)
	require.NoError(t, db.Create(&models.PaymentInvoice{
		PaymentID:      payment.ID,
		InvoiceID:      invoice.ID,
		AmountApplied:  decimal.NewFromInt(10),
		PreviousStatus: enums.InvoiceStatusMatchedAuto,
	}).Error)

	result, err := svc.Purge(ctx, vendor.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.PaymentLinks)
	assert.EqualValues(t, 2, result.InvoiceLines)
	assert.EqualValues(t, 1, result.Invoices)
	assert.EqualValues(t, 1, result.PurchaseOrderLines)
	assert.EqualValues(t, 1, result.PurchaseOrders)
	assert.EqualValues(t, 1, result.Vendors)

	var payments int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&payments).Error)
	assert.EqualValues(t, 1, payments)

	_, err = svc.Get(ctx, vendor.ID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found after purge, got %v", err)
	}
}

func TestPurgeRefusedWhilePaymentPending(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	vendor, err := svc.Create(ctx, CreateInput{Name: "Acme Supply"})
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Invoice{VendorID: &vendor.ID, Status: enums.InvoiceStatusPaymentPending}).Error)

	_, err = svc.Purge(ctx, vendor.ID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	_, err = svc.Get(ctx, vendor.ID)
	require.NoError(t, err)
}

// reservingRepository commits a concurrent payment reservation while the purge
// waits on the vendor's invoice locks.
type reservingRepository struct {
	Repository
	db        *gorm.DB
	invoiceID uuid.UUID
	calls     *[]string
}

func (r *reservingRepository) WithTx(tx *gorm.DB) Repository {
	return &reservingRepository{Repository: r.Repository.WithTx(tx), db: tx, invoiceID: r.invoiceID, calls: r.calls}
}

func (r *reservingRepository) LockInvoices(ctx context.Context, id uuid.UUID) ([]models.Invoice, error) {
	*r.calls = append(*r.calls, "lock")
	err := r.db.Model(&models.Invoice{}).
		Where("id = ?", r.invoiceID).
		Update("status", enums.InvoiceStatusPaymentPending).Error
	if err != nil {
		return nil, err
	}
	return r.Repository.LockInvoices(ctx, id)
}

func (r *reservingRepository) Purge(ctx context.Context, id uuid.UUID) (*PurgeResult, error) {
	*r.calls = append(*r.calls, "purge")
	return r.Repository.Purge(ctx, id)
}

func TestPurgeChecksPendingOnLockedRows(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	base := NewRepository(db)

	vendor := &models.Vendor{Name: "Acme Supply"}
	require.NoError(t, base.Create(ctx, vendor))
	invoice := &models.Invoice{VendorID: &vendor.ID, Status: enums.InvoiceStatusMatchedAuto}
	require.NoError(t, db.Create(invoice).Error)

	var calls []string
	repo := &reservingRepository{Repository: base, db: db, invoiceID: invoice.ID, calls: &calls}
	svc, err := NewService(repo, pkgdb.Wrap(db), logger.Nop())
	require.NoError(t, err)

	_, err = svc.Purge(ctx, vendor.ID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	assert.Equal(t, []string{"lock"}, calls)

	var remaining int64
	require.NoError(t, db.Model(&models.Invoice{}).Where("id = ?", invoice.ID).Count(&remaining).Error)
	assert.EqualValues(t, 1, remaining)
}

func TestLockInvoicesScopesToVendorInIDOrder(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	repo := NewRepository(db)

	vendor := &models.Vendor{Name: "Acme Supply"}
	other := &models.Vendor{Name: "Globex"}
	require.NoError(t, repo.Create(ctx, vendor))
	require.NoError(t, repo.Create(ctx, other))
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&models.Invoice{VendorID: &vendor.ID}).Error)
	}
	require.NoError(t, db.Create(&models.Invoice{VendorID: &other.ID}).Error)

	rows, err := repo.LockInvoices(ctx, vendor.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i := 1; i < len(rows); i++ {
		assert.Less(t, rows[i-1].ID.String(), rows[i].ID.String())
	}
	assert.Equal(t, enums.InvoiceStatusUnmatched, rows[0].Status)
}

func TestPurgeMissingVendor(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Purge(context.Background(), uuid.New())
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateRequiresName(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create(context.Background(), CreateInput{Name: "  "})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListCountsOpenPurchaseOrders(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	vendor, err := svc.Create(ctx, CreateInput{Name: "Acme Supply"})
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.PurchaseOrder{PONumber: "PO-1", VendorID: &vendor.ID}).Error)
	require.NoError(t, db.Create(&models.PurchaseOrder{PONumber: "PO-2", VendorID: &vendor.ID, Status: enums.PurchaseOrderStatusClosed}).Error)
	require.NoError(t, db.Create(&models.Invoice{VendorID: &vendor.ID}).Error)

	rows, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0].OpenPOs)
	assert.EqualValues(t, 1, rows[0].RecentInvoices)
	assert.True(t, rows[0].Active())
}
