package models

import "time"

type LoanStatus string

const (
	LoanActive   LoanStatus = "Active"
	LoanReturned LoanStatus = "Returned"
)

type Loan struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"index;not null" json:"user_id"`
	User       User       `json:"-"`
	MaterialID uint       `gorm:"index;not null" json:"material_id"`
	Material   Material   `json:"-"`
	Quantity   int        `gorm:"not null;check:chk_loans_quantity,quantity > 0" json:"quantity"`
	Status     LoanStatus `gorm:"size:20;not null;index" json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}

// LoanReturn is written once, in the same transaction that flips the loan
// to Returned; the unique loan_id backs that up at the schema level.
type LoanReturn struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	LoanID     uint      `gorm:"uniqueIndex;not null" json:"loan_id"`
	Loan       Loan      `json:"-"`
	ReturnedAt time.Time `gorm:"not null" json:"returned_at"`
	Notes      *string   `gorm:"size:255" json:"notes"`
}
