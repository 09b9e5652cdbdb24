package auth

import (
	"time"

	"labdesk-backend/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 24 * time.Hour

type JWTCustomClaims struct {
	OperatorID uint                `json:"operator_id"`
	Name       string              `json:"name"`
	Email      string              `json:"email"`
	Role       models.OperatorRole `json:"role"`
	jwt.RegisteredClaims
}

func GenerateToken(secret string, op *models.Operator) (string, error) {
	now := time.Now()
	claims := &JWTCustomClaims{
		OperatorID: op.ID,
		Name:       op.Name,
		Email:      op.Email,
		Role:       op.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
