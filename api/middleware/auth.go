package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/apmatch-backend/api/responses"
	pkgauth "github.com/angelmondragon/apmatch-backend/pkg/auth"
	"github.com/angelmondragon/apmatch-backend/pkg/auth/session"
	"github.com/angelmondragon/apmatch-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
)

// Auth requires an operator bearer token. A nil revocation checker skips
// the denylist lookup.
func Auth(cfg config.JWTConfig, revocations session.RevocationChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := bearerToken(r)
			if !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "bearer token required"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, raw)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, pkgauth.ErrTokenExpired) {
					msg = "token expired"
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg))
				return
			}
			if revocations != nil {
				revoked, err := revocations.IsRevoked(ctx, claims.ID)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check token revocation"))
					return
				}
				if revoked {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "token revoked"))
					return
				}
			}

			operatorID := claims.OperatorID.String()
			ctx = WithOperator(ctx, Operator{ID: operatorID, Role: claims.Role, TokenID: claims.ID})
			ctx = logg.WithOperatorID(ctx, operatorID)
			ctx = logg.WithField(ctx, "operator_role", claims.Role.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
