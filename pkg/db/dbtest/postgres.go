//go:build integration

package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/apmatch-backend/pkg/config"
	pkgdb "github.com/angelmondragon/apmatch-backend/pkg/db"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
	"github.com/angelmondragon/apmatch-backend/pkg/migrate"
)

// PostgresDSNEnv names the database integration tests run against. The
// database is migrated up and its tables are emptied after every test.
const PostgresDSNEnv = "APMATCH_TEST_DATABASE_DSN"

const truncateAll = `TRUNCATE payment_invoices, payments, invoice_lines, invoices,
  purchase_order_lines, purchase_orders, vendors`

// OpenPostgres connects to the database named by PostgresDSNEnv, skipping the
// test when it is unset. Unlike Open, the pool allows concurrent transactions
// and row locks are real.
func OpenPostgres(t *testing.T) *pkgdb.Client {
	t.Helper()

	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}

	ctx := context.Background()
	client, err := pkgdb.New(ctx, config.DBConfig{
		DSN:          dsn,
		MaxOpenConns: 8,
		LockTimeout:  5 * time.Second,
	}, logger.Nop())
	require.NoError(t, err)

	sqlDB, err := client.DB().DB()
	require.NoError(t, err)
	require.NoError(t, migrate.Run(ctx, sqlDB, "", "up"))
	require.NoError(t, client.DB().Exec(truncateAll).Error)

	t.Cleanup(func() {
		_ = client.DB().Exec(truncateAll).Error
		_ = client.Close()
	})
	return client
}
