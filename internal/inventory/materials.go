package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"labdesk-backend/internal/apperr"
	"labdesk-backend/internal/audit"
	"labdesk-backend/internal/models"

	"gorm.io/gorm"
)

type RegisterMaterialInput struct {
	Name        string
	Description string
	Quantity    int
	Status      models.MaterialStatus
}

var validStatuses = map[models.MaterialStatus]bool{
	models.MaterialAvailable: true,
	models.MaterialDamaged:   true,
	models.MaterialRetired:   true,
}

// RegisterMaterial adds a material with its initial stock.
func RegisterMaterial(ctx context.Context, db *gorm.DB, in RegisterMaterialInput) (*models.Material, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Status == "" {
		in.Status = models.MaterialAvailable
	}

	if in.Name == "" {
		return nil, apperr.New(apperr.KindValidation, "invalid_material", "name is required")
	}
	if in.Quantity < 0 {
		return nil, apperr.New(apperr.KindValidation, "invalid_material", "quantity cannot be negative")
	}
	if !validStatuses[in.Status] {
		return nil, apperr.New(apperr.KindValidation, "invalid_material",
			fmt.Sprintf("status must be one of available, damaged, retired (got %q)", in.Status))
	}

	m := models.Material{
		Name:        in.Name,
		Description: in.Description,
		Quantity:    in.Quantity,
		Status:      in.Status,
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&m).Error; err != nil {
			return apperr.Store(err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  "material",
			EntityID:    m.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("Material registered: %s (%d units)", m.Name, m.Quantity),
			After:       m,
		})
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMaterials returns materials newest first; inStockOnly keeps those with
// quantity > 0 ordered by name, as offered on the loan form.
func ListMaterials(ctx context.Context, db *gorm.DB, inStockOnly bool) ([]models.Material, error) {
	q := db.WithContext(ctx).Model(&models.Material{})
	if inStockOnly {
		q = q.Where("quantity > 0").Order("name")
	} else {
		q = q.Order("id DESC")
	}

	var materials []models.Material
	if err := q.Find(&materials).Error; err != nil {
		return nil, apperr.Store(err)
	}
	return materials, nil
}

func GetMaterial(ctx context.Context, db *gorm.DB, id uint) (*models.Material, error) {
	var m models.Material
	err := db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMaterialNotFound.WithMessage(fmt.Sprintf("material %d does not exist", id))
	}
	if err != nil {
		return nil, apperr.Store(err)
	}
	return &m, nil
}
