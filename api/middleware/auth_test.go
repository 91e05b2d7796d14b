package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/apmatch-backend/pkg/auth"
	"github.com/angelmondragon/apmatch-backend/pkg/config"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	"github.com/google/uuid"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(testJWT, stubRevocations{}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(testJWT, stubRevocations{}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthAllowsValidToken(t *testing.T) {
	operatorID := uuid.New()
	token := mintTestToken(t, operatorID, enums.OperatorRoleOperator, "jti-ok")

	var captured Operator
	handler := Auth(testJWT, stubRevocations{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = OperatorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	want := Operator{ID: operatorID.String(), Role: enums.OperatorRoleOperator, TokenID: "jti-ok"}
	if captured != want {
		t.Fatalf("expected %+v got %+v", want, captured)
	}
}

func TestAuthRejectsRevokedToken(t *testing.T) {
	token := mintTestToken(t, uuid.New(), enums.OperatorRoleAdmin, "jti-revoked")
	handler := Auth(testJWT, stubRevocations{revoked: map[string]bool{"jti-revoked": true}}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRevocationLookupFailure(t *testing.T) {
	token := mintTestToken(t, uuid.New(), enums.OperatorRoleViewer, "")
	handler := Auth(testJWT, stubRevocations{err: errors.New("redis down")}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", resp.Code)
	}
}

func TestRequireMutationBlocksViewer(t *testing.T) {
	handler := RequireMutation(nil)(okHandler())

	for role, want := range map[enums.OperatorRole]int{
		enums.OperatorRoleViewer:   http.StatusForbidden,
		enums.OperatorRoleOperator: http.StatusOK,
		enums.OperatorRoleAdmin:    http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithOperator(req.Context(), Operator{ID: uuid.NewString(), Role: role}))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != want {
			t.Fatalf("%s: expected %d got %d", role, want, resp.Code)
		}
	}
}

func TestAuthReportsExpiredTokens(t *testing.T) {
	token, err := auth.MintAccessToken(testJWT, time.Now().Add(-2*time.Hour), auth.AccessTokenPayload{OperatorID: uuid.New(), Role: enums.OperatorRoleOperator})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	handler := Auth(testJWT, nil, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "token expired") {
		t.Fatalf("expected expiry message, got %s", resp.Body.String())
	}
}

func TestAuthRequiresBearerScheme(t *testing.T) {
	token := mintTestToken(t, uuid.New(), enums.OperatorRoleOperator, "")
	handler := Auth(testJWT, nil, nil)(okHandler())

	for _, header := range []string{token, "Basic " + token, "Bearer   "} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%q: expected 401 got %d", header, resp.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("scheme is case-insensitive, got %d", resp.Code)
	}
}

func TestRequireRoleAdminOnly(t *testing.T) {
	handler := RequireRole(nil, enums.OperatorRoleAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without operator got %d", resp.Code)
	}

	for role, want := range map[enums.OperatorRole]int{
		enums.OperatorRoleOperator: http.StatusForbidden,
		enums.OperatorRoleAdmin:    http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodDelete, "/", nil)
		req = req.WithContext(WithOperator(req.Context(), Operator{ID: "op", Role: role}))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != want {
			t.Fatalf("%s: expected %d got %d", role, want, resp.Code)
		}
	}
}

func mintTestToken(t *testing.T, operatorID uuid.UUID, role enums.OperatorRole, jti string) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWT, time.Now(), auth.AccessTokenPayload{
		OperatorID: operatorID,
		Email:      "ap@example.com",
		Role:       role,
		JTI:        jti,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

type stubRevocations struct {
	revoked map[string]bool
	err     error
}

func (s stubRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.revoked[tokenID], nil
}
