package middleware

import (
	"net/http"
	"slices"

	"github.com/angelmondragon/apmatch-backend/api/responses"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
)

// RequireRole admits only the listed operator roles.
func RequireRole(logg *logger.Logger, roles ...enums.OperatorRole) func(http.Handler) http.Handler {
	return requireOperator(logg, func(role enums.OperatorRole) bool {
		return slices.Contains(roles, role)
	})
}

// RequireMutation keeps viewers read-only.
func RequireMutation(logg *logger.Logger) func(http.Handler) http.Handler {
	return requireOperator(logg, enums.OperatorRole.CanMutate)
}

func requireOperator(logg *logger.Logger, allowed func(enums.OperatorRole) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, ok := OperatorFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "operator required"))
				return
			}
			if !allowed(op.Role) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeForbidden, "role %s may not perform this action", op.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
