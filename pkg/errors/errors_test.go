package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusConflict, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusBadGateway, publicMsg: "payment gateway unavailable", retryable: true, detailsOK: true},
		{code: CodeConfiguration, status: http.StatusInternalServerError, publicMsg: "service misconfigured"},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsCodeWalksWrappedChain(t *testing.T) {
	inner := New(CodeConflict, "invoice already pending")
	outer := fmt.Errorf("create payment: %w", inner)
	if !IsCode(outer, CodeConflict) {
		t.Fatalf("expected conflict code through wrapping")
	}
	if IsCode(outer, CodeValidation) {
		t.Fatalf("did not expect validation code")
	}
	if IsCode(stdErrors.New("plain"), CodeConflict) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(nil) {
		t.Fatalf("nil is not retryable")
	}
	if Retryable(New(CodeValidation, "bad")) {
		t.Fatalf("validation errors are final")
	}
	if !Retryable(fmt.Errorf("gateway: %w", New(CodeDependency, "timeout"))) {
		t.Fatalf("dependency errors are retryable")
	}
	if !Retryable(stdErrors.New("plain")) {
		t.Fatalf("untyped errors are treated as internal")
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	err := Wrap(CodeDependency, stdErrors.New("connection reset"), "create intent")
	if got := err.Error(); got != "DEPENDENCY_ERROR: create intent: connection reset" {
		t.Fatalf("unexpected error string %q", got)
	}
	if got := New(CodeNotFound, "invoice not found").Error(); got != "NOT_FOUND: invoice not found" {
		t.Fatalf("unexpected error string %q", got)
	}
}

func TestDumpCapturesPostgresAndTimeout(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "payments_payment_intent_id_key", TableName: "payments"}
	dump := Dump(Wrap(CodeConflict, pgErr, "insert payment"))
	if dump.Code != CodeConflict || dump.Retryable {
		t.Fatalf("unexpected code or retryable flag: %+v", dump)
	}
	if dump.Postgres == nil || dump.Postgres.Constraint != "payments_payment_intent_id_key" {
		t.Fatalf("expected postgres details, got %+v", dump.Postgres)
	}
	fields := dump.Fields()
	if fields["pg_code"] != "23505" || fields["pg_table"] != "payments" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if len(dump.Chain) != 2 {
		t.Fatalf("expected two links in chain, got %v", dump.Chain)
	}

	timeout := Dump(fmt.Errorf("retrieve intent: %w", context.DeadlineExceeded))
	if !timeout.Timeout || timeout.Code != CodeInternal {
		t.Fatalf("expected untyped timeout dump, got %+v", timeout)
	}
	if _, ok := timeout.Fields()["pg_code"]; ok {
		t.Fatalf("pg fields must be absent without a driver error")
	}
	if empty := Dump(nil); empty.Message != "" || empty.Chain != nil || empty.Postgres != nil {
		t.Fatalf("nil error dumps to zero value, got %+v", empty)
	}
}
