package models

import "time"

type OperatorRole string

const (
	RoleAdmin OperatorRole = "admin"
	RoleDesk  OperatorRole = "desk"
)

// Operator: desk staff account allowed to use the API.
type Operator struct {
	ID           uint         `gorm:"primaryKey"`
	Name         string       `gorm:"size:100;not null"`
	Email        string       `gorm:"size:100;uniqueIndex;not null"`
	PasswordHash string       `gorm:"size:255;not null"`
	Role         OperatorRole `gorm:"size:20;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
