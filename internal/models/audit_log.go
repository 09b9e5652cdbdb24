package models

import "time"

type AuditAction string

const (
	AuditActionCreate  AuditAction = "create"
	AuditActionReturn  AuditAction = "return"
	AuditActionCapture AuditAction = "capture"
	AuditActionRepair  AuditAction = "reconcile"
)

type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Nil when the change came from a background job.
	OperatorID   *uint  `json:"operator_id"`
	OperatorName string `gorm:"size:100" json:"operator_name"`

	// "material", "user", "loan", "fine_payment"
	EntityType string `gorm:"size:50;index" json:"entity_type"`
	EntityID   uint   `gorm:"index" json:"entity_id"`

	Action      AuditAction `gorm:"size:20" json:"action"`
	Description string      `gorm:"size:255" json:"description"`

	// State after the change, as JSON
	AfterData string `gorm:"type:text" json:"after_data"`
}
