package inventory

import (
	"errors"
	"fmt"

	"labdesk-backend/internal/apperr"
	"labdesk-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidQuantity   = apperr.New(apperr.KindValidation, "invalid_quantity", "quantity must be greater than 0")
	ErrMaterialNotFound  = apperr.New(apperr.KindNotFound, "material_not_found", "material does not exist")
	ErrInsufficientStock = apperr.New(apperr.KindConflict, "insufficient_stock", "not enough stock for this loan")
)

// Reserve takes quantity units of a material out of stock. It must run
// inside the caller's transaction: the material row is locked for the rest
// of it, and the decrement is guarded so stock can never go below zero even
// where the driver ignores FOR UPDATE.
func Reserve(tx *gorm.DB, materialID uint, quantity int) (*models.Material, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	var m models.Material
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, materialID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMaterialNotFound.WithMessage(fmt.Sprintf("material %d does not exist", materialID))
	}
	if err != nil {
		return nil, apperr.Store(err)
	}

	if m.Quantity < quantity {
		return nil, ErrInsufficientStock.WithMessage(
			fmt.Sprintf("not enough stock of %q: available %d, requested %d", m.Name, m.Quantity, quantity))
	}

	res := tx.Model(&models.Material{}).
		Where("id = ? AND quantity >= ?", materialID, quantity).
		Update("quantity", gorm.Expr("quantity - ?", quantity))
	if res.Error != nil {
		return nil, apperr.Store(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrInsufficientStock
	}

	m.Quantity -= quantity
	return &m, nil
}

// Release puts quantity units back on the shelf. Callers pass the amount
// originally reserved and make sure they release it only once.
func Release(tx *gorm.DB, materialID uint, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	res := tx.Model(&models.Material{}).
		Where("id = ?", materialID).
		Update("quantity", gorm.Expr("quantity + ?", quantity))
	if res.Error != nil {
		return apperr.Store(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMaterialNotFound.WithMessage(fmt.Sprintf("material %d does not exist", materialID))
	}
	return nil
}
