package inventory

import (
	"labdesk-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type MaterialResponse struct {
	ID          uint                  `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Quantity    int                   `json:"quantity"`
	Status      models.MaterialStatus `json:"status"`
	CreatedAt   string                `json:"created_at"`
}

type CreateMaterialRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Quantity    int                   `json:"quantity"`
	Status      models.MaterialStatus `json:"status"` // optional, defaults to available
}

func toMaterialResponse(m models.Material) MaterialResponse {
	return MaterialResponse{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Quantity:    m.Quantity,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

// GET /api/materials?in_stock=true
func ListMaterialsHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		materials, err := ListMaterials(c.UserContext(), db, c.QueryBool("in_stock", false))
		if err != nil {
			return err
		}

		res := make([]MaterialResponse, 0, len(materials))
		for _, m := range materials {
			res = append(res, toMaterialResponse(m))
		}
		return c.JSON(res)
	}
}

// GET /api/materials/:id
func GetMaterialHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := c.ParamsInt("id")
		if err != nil || id <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid material id")
		}

		m, err := GetMaterial(c.UserContext(), db, uint(id))
		if err != nil {
			return err
		}
		return c.JSON(toMaterialResponse(*m))
	}
}

// POST /api/materials (admin only)
func CreateMaterialHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateMaterialRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		m, err := RegisterMaterial(c.UserContext(), db, RegisterMaterialInput{
			Name:        body.Name,
			Description: body.Description,
			Quantity:    body.Quantity,
			Status:      body.Status,
		})
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(toMaterialResponse(*m))
	}
}
