package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"labdesk-backend/internal/apperr"
	"labdesk-backend/internal/audit"
	"labdesk-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 8

var (
	ErrAdminExists = apperr.New(apperr.KindConflict, "admin_exists", "an admin already exists")
	ErrEmailTaken  = apperr.New(apperr.KindConflict, "email_taken", "email is already registered")
)

type RegisterOperatorRequest struct {
	Name     string              `json:"name"`
	Email    string              `json:"email"`
	Password string              `json:"password"`
	Role     models.OperatorRole `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func operatorJSON(op *models.Operator) fiber.Map {
	return fiber.Map{
		"id":    op.ID,
		"name":  op.Name,
		"email": op.Email,
		"role":  op.Role,
	}
}

// CreateOperator hashes the password and stores the operator together with
// its audit row.
func CreateOperator(ctx context.Context, db *gorm.DB, name, email, password string, role models.OperatorRole) (*models.Operator, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" || email == "" || password == "" {
		return nil, apperr.New(apperr.KindValidation, "missing_fields", "name, email and password are required")
	}
	if len(password) < minPasswordLength {
		return nil, apperr.New(apperr.KindValidation, "weak_password",
			fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if role != models.RoleAdmin && role != models.RoleDesk {
		return nil, apperr.New(apperr.KindValidation, "invalid_role", "role must be admin or desk")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	op := models.Operator{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Operator{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return apperr.Store(err)
		}
		if count > 0 {
			return ErrEmailTaken
		}
		if err := tx.Create(&op).Error; err != nil {
			return apperr.Store(err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  "operator",
			EntityID:    op.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("Operator %s (%s) created", op.Email, op.Role),
			After:       operatorJSON(&op),
		})
	})
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// POST /api/auth/register-admin
// Only allowed while no admin exists.
func RegisterAdminHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body RegisterOperatorRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		var count int64
		if err := db.Model(&models.Operator{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
			return apperr.Store(err)
		}
		if count > 0 {
			return ErrAdminExists
		}

		op, err := CreateOperator(c.UserContext(), db, body.Name, body.Email, body.Password, models.RoleAdmin)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(operatorJSON(op))
	}
}

// POST /api/operators (admin)
func CreateOperatorHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body RegisterOperatorRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.Role == "" {
			body.Role = models.RoleDesk
		}

		op, err := CreateOperator(c.UserContext(), db, body.Name, body.Email, body.Password, body.Role)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(operatorJSON(op))
	}
}

// POST /api/auth/login
func LoginHandler(db *gorm.DB, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body LoginRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		email := strings.TrimSpace(strings.ToLower(body.Email))

		var op models.Operator
		if err := db.WithContext(c.UserContext()).Where("email = ?", email).First(&op).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusUnauthorized, "Wrong email or password")
			}
			return apperr.Store(err)
		}

		if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(body.Password)); err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Wrong email or password")
		}

		token, err := GenerateToken(secret, &op)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Token could not be created")
		}

		return c.JSON(fiber.Map{
			"token":    token,
			"operator": operatorJSON(&op),
		})
	}
}

// GET /api/auth/me
func MeHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := c.Locals(CtxOperatorIDKey).(uint)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "Not authenticated")
		}

		var op models.Operator
		if err := db.WithContext(c.UserContext()).First(&op, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusUnauthorized, "Operator no longer exists")
			}
			return apperr.Store(err)
		}
		return c.JSON(operatorJSON(&op))
	}
}
