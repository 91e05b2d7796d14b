package middleware

import (
	"context"

	"github.com/angelmondragon/apmatch-backend/pkg/enums"
)

// Operator is the authenticated caller behind a request.
type Operator struct {
	ID      string
	Role    enums.OperatorRole
	TokenID string
}

type operatorKey struct{}

// WithOperator stores op on ctx, as Auth does once the token checks out.
func WithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, op)
}

// OperatorFromContext returns the caller; ok is false on routes without Auth.
func OperatorFromContext(ctx context.Context) (op Operator, ok bool) {
	if ctx == nil {
		return Operator{}, false
	}
	op, ok = ctx.Value(operatorKey{}).(Operator)
	return op, ok
}
