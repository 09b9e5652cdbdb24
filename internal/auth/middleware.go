package auth

import (
	"fmt"
	"strings"

	"labdesk-backend/internal/audit"
	"labdesk-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	CtxOperatorIDKey   = "operator_id"
	CtxOperatorRoleKey = "operator_role"
)

// JWTMiddleware checks the bearer token and puts the operator in Locals and,
// as the audit actor, in the request's user context.
func JWTMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Authorization header missing")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return fiber.NewError(fiber.StatusUnauthorized, "Authorization must be 'Bearer <token>'")
		}

		token, err := jwt.ParseWithClaims(parts[1], &JWTCustomClaims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired token")
		}

		claims, ok := token.Claims.(*JWTCustomClaims)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "Token could not be decoded")
		}

		c.Locals(CtxOperatorIDKey, claims.OperatorID)
		c.Locals(CtxOperatorRoleKey, claims.Role)

		id := claims.OperatorID
		c.SetUserContext(audit.WithActor(c.UserContext(), audit.Actor{OperatorID: &id, Name: claims.Name}))

		return c.Next()
	}
}

func RequireRole(allowedRoles ...models.OperatorRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, ok := c.Locals(CtxOperatorRoleKey).(models.OperatorRole)
		if !ok {
			return fiber.NewError(fiber.StatusForbidden, "Operator role missing")
		}

		for _, r := range allowedRoles {
			if r == role {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "Not allowed for this role")
	}
}
