package users

import (
	"context"
	"fmt"
	"strings"

	"labdesk-backend/internal/apperr"
	"labdesk-backend/internal/audit"
	"labdesk-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CreateUserRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

func Register(ctx context.Context, db *gorm.DB, name, role string) (*models.User, error) {
	name = strings.TrimSpace(name)
	role = strings.TrimSpace(role)
	if name == "" || role == "" {
		return nil, apperr.New(apperr.KindValidation, "invalid_user", "name and role are required")
	}

	u := models.User{Name: name, Role: role}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&u).Error; err != nil {
			return apperr.Store(err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  "user",
			EntityID:    u.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("User registered: %s (%s)", u.Name, u.Role),
			After:       u,
		})
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// POST /api/users
func CreateUserHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		u, err := Register(c.UserContext(), db, body.Name, body.Role)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(u)
	}
}

// GET /api/users
func ListUsersHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		order := "id DESC"
		if c.Query("sort") == "name" {
			order = "name"
		}

		var list []models.User
		if err := db.WithContext(c.UserContext()).Order(order).Find(&list).Error; err != nil {
			return apperr.Store(err)
		}
		return c.JSON(list)
	}
}
