package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// SQLSTATE codes the services react to.
const (
	sqlStateUniqueViolation  = "23505"
	sqlStateLockNotAvailable = "55P03"
)

// sqlState digs the SQLSTATE and constraint out of either postgres driver.
func sqlState(err error) (code, constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	return "", "", false
}

// IsUniqueViolation covers postgres and the sqlite databases used in tests.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if code, _, ok := sqlState(err); ok {
		return code == sqlStateUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ConstraintName is the violated constraint, when the driver reports one.
func ConstraintName(err error) string {
	_, constraint, _ := sqlState(err)
	return constraint
}

// IsLockTimeout reports a statement cancelled by lock_timeout, which WithTx
// sets on every postgres transaction.
func IsLockTimeout(err error) bool {
	code, _, ok := sqlState(err)
	return ok && code == sqlStateLockNotAvailable
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
