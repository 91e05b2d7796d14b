package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/apmatch-backend/pkg/config"
)

// Clock skew tolerated between the minting host and this one.
const clockLeeway = 30 * time.Second

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

func signingKey(cfg config.JWTConfig) ([]byte, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("jwt issuer is required")
	}
	return []byte(cfg.Secret), nil
}

// MintAccessToken signs an HS256 operator token that expires cfg.TokenTTL()
// after now. A blank JTI gets a random one so the token can be revoked.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	key, err := signingKey(cfg)
	if err != nil {
		return "", err
	}
	switch {
	case payload.OperatorID == uuid.Nil:
		return "", errors.New("operator id is required")
	case !payload.Role.IsValid():
		return "", fmt.Errorf("invalid operator role %q", payload.Role)
	}
	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	now = now.UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessTokenClaims{
		OperatorID: payload.OperatorID,
		Email:      strings.TrimSpace(payload.Email),
		Role:       payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    cfg.Issuer,
			Subject:   payload.OperatorID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TokenTTL())),
		},
	})
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign operator token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer and lifetime. Failures wrap
// ErrTokenExpired or ErrTokenInvalid.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	key, err := signingKey(cfg)
	if err != nil {
		return nil, err
	}
	claims := &AccessTokenClaims{}
	_, err = jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockLeeway),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	switch {
	case claims.ID == "":
		return nil, fmt.Errorf("%w: missing jti", ErrTokenInvalid)
	case !claims.Role.IsValid():
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	case claims.Subject != claims.OperatorID.String():
		return nil, fmt.Errorf("%w: subject does not match operator", ErrTokenInvalid)
	}
	return claims, nil
}
