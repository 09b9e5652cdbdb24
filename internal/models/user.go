package models

import "time"

// User: a borrower (student, professor, lab assistant). Loans and fines point
// at users; users do not log in.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Role      string    `gorm:"size:50;not null" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
