package errors

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PGDetails is what postgres reported about a failed statement.
type PGDetails struct {
	Code       string `json:"code"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

// ErrorDump flattens an error chain for structured logs.
type ErrorDump struct {
	Message   string     `json:"message"`
	Code      Code       `json:"code,omitempty"`
	Retryable bool       `json:"retryable"`
	Timeout   bool       `json:"timeout,omitempty"`
	Chain     []string   `json:"chain,omitempty"`
	Postgres  *PGDetails `json:"postgres,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		Message:   err.Error(),
		Code:      CodeInternal,
		Retryable: Retryable(err),
		Timeout:   stdErrors.Is(err, context.DeadlineExceeded),
		Postgres:  postgresDetails(err),
	}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", e))
	}
	return d
}

// Fields returns the dump as log fields. Postgres values are only present
// when the chain holds a driver error.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":           d.Message,
		"error_code":      d.Code,
		"error_chain":     d.Chain,
		"error_retryable": d.Retryable,
	}
	if d.Timeout {
		fields["error_timeout"] = true
	}
	if pg := d.Postgres; pg != nil {
		fields["pg_code"] = pg.Code
		fields["pg_constraint"] = pg.Constraint
		fields["pg_table"] = pg.Table
		fields["pg_detail"] = pg.Detail
	}
	return fields
}

func postgresDetails(err error) *PGDetails {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return &PGDetails{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return &PGDetails{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}
