package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/apmatch-backend/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestInvoiceMigrationContainsStatusGuard(t *testing.T) {
	content := readMigration(t, "*_create_invoices.sql")
	checks := []string{
		"CREATE TABLE IF NOT EXISTS invoices",
		"matched_po_id uuid REFERENCES purchase_orders(id)",
		"'vendor_mismatch', 'matched_auto', 'ready_for_payment', 'payment_pending', 'paid'",
		"FOREIGN KEY (invoice_id) REFERENCES invoices(id) ON DELETE CASCADE",
		"DROP TABLE IF EXISTS invoices",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestPaymentMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_payments.sql")
	checks := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS payments_intent_key",
		"PRIMARY KEY (payment_id, invoice_id)",
		"CHECK (previous_status IN ('matched_auto', 'ready_for_payment'))",
		"DROP TABLE IF EXISTS payment_invoices",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file found for %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
