package audit

import (
	"labdesk-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AuditLogResponse struct {
	ID           uint               `json:"id"`
	CreatedAt    string             `json:"created_at"`
	OperatorID   *uint              `json:"operator_id"`
	OperatorName string             `json:"operator_name"`
	EntityType   string             `json:"entity_type"`
	EntityID     uint               `json:"entity_id"`
	Action       models.AuditAction `json:"action"`
	Description  string             `json:"description"`
}

// GET /api/audit-logs?entity_type=loan&entity_id=1&operator_id=2&limit=50
func ListAuditLogsHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		f := ListFilter{
			EntityType: c.Query("entity_type"),
			EntityID:   queryID(c, "entity_id"),
			OperatorID: queryID(c, "operator_id"),
			Limit:      c.QueryInt("limit", 100),
		}

		logs, err := List(c.UserContext(), db, f)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list audit logs")
		}

		resp := make([]AuditLogResponse, 0, len(logs))
		for _, l := range logs {
			resp = append(resp, AuditLogResponse{
				ID:           l.ID,
				CreatedAt:    l.CreatedAt.Format("2006-01-02 15:04:05"),
				OperatorID:   l.OperatorID,
				OperatorName: l.OperatorName,
				EntityType:   l.EntityType,
				EntityID:     l.EntityID,
				Action:       l.Action,
				Description:  l.Description,
			})
		}
		return c.JSON(resp)
	}
}

func queryID(c *fiber.Ctx, key string) uint {
	if v := c.QueryInt(key, 0); v > 0 {
		return uint(v)
	}
	return 0
}
