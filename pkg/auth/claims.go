package auth

import (
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting an operator JWT.
type AccessTokenPayload struct {
	OperatorID uuid.UUID
	Email      string
	Role       enums.OperatorRole
	JTI        string
}

// AccessTokenClaims represents the typed JWT issued to back-office operators.
type AccessTokenClaims struct {
	OperatorID uuid.UUID          `json:"operator_id"`
	Email      string             `json:"email,omitempty"`
	Role       enums.OperatorRole `json:"role"`
	jwt.RegisteredClaims
}
