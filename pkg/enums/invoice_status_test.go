package enums

import "testing"

func TestCanTransitionInvoice(t *testing.T) {
	cases := []struct {
		from, to InvoiceStatus
		want     bool
	}{
		{InvoiceStatusUnmatched, InvoiceStatusMatchedAuto, true},
		{InvoiceStatusUnmatched, InvoiceStatusVendorMismatch, true},
		{InvoiceStatusVendorMismatch, InvoiceStatusMatchedAuto, false},
		{InvoiceStatusMatchedAuto, InvoiceStatusPaymentPending, true},
		{InvoiceStatusReadyForPayment, InvoiceStatusPaymentPending, true},
		{InvoiceStatusUnmatched, InvoiceStatusPaymentPending, false},
		{InvoiceStatusPaymentPending, InvoiceStatusPaid, true},
		{InvoiceStatusPaymentPending, InvoiceStatusReadyForPayment, true},
		{InvoiceStatusPaymentPending, InvoiceStatusUnmatched, false},
		{InvoiceStatusPaid, InvoiceStatusPaymentPending, false},
		{InvoiceStatusPaid, InvoiceStatusMatchedAuto, false},
	}
	for _, tc := range cases {
		if got := CanTransitionInvoice(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestInvoiceStatusSets(t *testing.T) {
	if !InvoiceStatusMatchedAuto.IsPayable() || !InvoiceStatusReadyForPayment.IsPayable() {
		t.Fatal("matched and ready invoices must be payable")
	}
	if InvoiceStatusPaymentPending.IsPayable() || InvoiceStatusPaid.IsPayable() {
		t.Fatal("pending and paid invoices must not be payable")
	}
	if InvoiceStatusVendorMismatch.IsMatchable() || InvoiceStatusPaymentPending.IsMatchable() {
		t.Fatal("mismatched and pending invoices must not be matchable")
	}
	if _, err := ParseInvoiceStatus("bogus"); err == nil {
		t.Fatal("expected parse error")
	}
	if s, err := ParseInvoiceStatus("paid"); err != nil || s != InvoiceStatusPaid {
		t.Fatalf("unexpected parse result %q %v", s, err)
	}
}

func TestNormalizeCurrency(t *testing.T) {
	if got := NormalizeCurrency(" usd "); got != CurrencyUSD {
		t.Fatalf("expected USD got %q", got)
	}
	if got := NormalizeCurrency(""); got != "" {
		t.Fatalf("expected empty got %q", got)
	}
	if _, err := ParseCurrency("us"); err == nil {
		t.Fatal("expected invalid currency")
	}
	if CurrencyEUR.Lower() != "eur" {
		t.Fatal("expected lower-case code")
	}
}
