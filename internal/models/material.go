package models

import "time"

type MaterialStatus string

const (
	MaterialAvailable MaterialStatus = "available"
	MaterialDamaged   MaterialStatus = "damaged"
	MaterialRetired   MaterialStatus = "retired"
)

// Material: a lab item kept at the desk. Quantity is the stock currently on
// the shelf; loans take from it and returns put it back.
type Material struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"size:120;not null" json:"name"`
	Description string         `gorm:"size:255" json:"description"`
	Quantity    int            `gorm:"not null;check:chk_materials_quantity,quantity >= 0" json:"quantity"`
	Status      MaterialStatus `gorm:"size:20;not null" json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
