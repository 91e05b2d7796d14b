package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
)

func fieldError(message, field string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, message).WithDetails(map[string]any{"field": field})
}

func query(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// ParseUUIDParam reads a chi URL parameter as a UUID.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, fieldError("path parameter required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid id").WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

// ParseTokenParam reads an opaque processor id such as a payment intent id.
// Only letters, digits and underscores are accepted.
func ParseTokenParam(r *http.Request, name string, maxLen int) (string, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return "", fieldError("path parameter required", name)
	}
	if maxLen > 0 && len(raw) > maxLen {
		return "", fieldError("path parameter too long", name)
	}
	for _, c := range raw {
		if c != '_' && (c < '0' || c > '9') && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return "", fieldError("path parameter has invalid characters", name)
		}
	}
	return raw, nil
}

func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := query(r, key)
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fieldError("query parameter must be numeric", key)
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").
			WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParseQueryBool treats a missing value as defaultVal.
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	switch strings.ToLower(query(r, key)) {
	case "":
		return defaultVal, nil
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no":
		return false, nil
	}
	return false, fieldError("query parameter must be a boolean", key)
}

// ParseQueryUUID returns nil when the parameter is absent.
func ParseQueryUUID(r *http.Request, key string) (*uuid.UUID, error) {
	raw := query(r, key)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+key).WithDetails(map[string]any{"field": key})
	}
	return &id, nil
}

// ParseQueryDecimal reads a non-negative amount. ok is false when absent.
func ParseQueryDecimal(r *http.Request, key string) (value decimal.Decimal, ok bool, err error) {
	raw := query(r, key)
	if raw == "" {
		return decimal.Zero, false, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || v.IsNegative() {
		return decimal.Zero, false, fieldError("query parameter must be a non-negative number", key)
	}
	return v, true, nil
}

// ParseQueryCurrency returns "" when the parameter is absent.
func ParseQueryCurrency(r *http.Request, key string) (enums.Currency, error) {
	raw := query(r, key)
	if raw == "" {
		return "", nil
	}
	c, err := enums.ParseCurrency(raw)
	if err != nil {
		return "", fieldError("query parameter must be a 3-letter currency code", key)
	}
	return c, nil
}
