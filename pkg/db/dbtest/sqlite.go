// Package dbtest opens throwaway sqlite databases carrying the invoice,
// purchase order and payment tables for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS vendors (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  tax_id TEXT,
  address TEXT,
  contact_info TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS purchase_orders (
  id TEXT PRIMARY KEY,
  po_number TEXT NOT NULL,
  vendor_id TEXT,
  currency TEXT,
  total_amount TEXT,
  status TEXT NOT NULL DEFAULT 'open',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS purchase_order_lines (
  id TEXT PRIMARY KEY,
  po_id TEXT NOT NULL,
  line_number INTEGER NOT NULL,
  sku TEXT,
  description TEXT,
  quantity TEXT,
  unit_price TEXT,
  line_total TEXT
);`,
	`CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY,
  vendor_id TEXT,
  supplier_name TEXT,
  supplier_email TEXT,
  supplier_tax_id TEXT,
  supplier_address TEXT,
  invoice_number TEXT,
  invoice_date DATETIME,
  due_date DATETIME,
  currency TEXT,
  payment_terms TEXT,
  subtotal_amount TEXT,
  tax_amount TEXT,
  shipping_amount TEXT,
  discount_amount TEXT,
  total_amount TEXT,
  po_number TEXT,
  matched_po_id TEXT,
  confidence REAL,
  status TEXT NOT NULL DEFAULT 'unmatched',
  remittance_reference TEXT,
  source_ref TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS invoice_lines (
  id TEXT PRIMARY KEY,
  invoice_id TEXT NOT NULL,
  line_number INTEGER NOT NULL,
  sku TEXT,
  description TEXT,
  quantity TEXT,
  unit_of_measure TEXT,
  unit_price TEXT,
  line_total TEXT,
  tax_rate TEXT,
  tax_code TEXT,
  po_number TEXT,
  po_line_number INTEGER
);`,
	`CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL,
  customer_email TEXT NOT NULL,
  customer_name TEXT,
  payment_intent_id TEXT UNIQUE,
  idempotency_key TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'requires_confirmation',
  save_method INTEGER NOT NULL DEFAULT 0,
  failure_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS payment_invoices (
  payment_id TEXT NOT NULL,
  invoice_id TEXT NOT NULL,
  amount_applied TEXT NOT NULL,
  previous_status TEXT NOT NULL,
  created_at DATETIME,
  PRIMARY KEY (payment_id, invoice_id)
);`,
}

// Open returns a private in-memory database with the full schema applied.
// The pool is pinned to one connection, so a second transaction blocks until
// the first one finishes, standing in for the row locks postgres would take.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}
