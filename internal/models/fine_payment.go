package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type FineReason string

const (
	FineLate FineReason = "late"
	FineLost FineReason = "lost"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

// FinePayment tracks a fine through the PayPal order/capture lifecycle.
type FinePayment struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	UserID            uint            `gorm:"index;not null" json:"user_id"`
	User              User            `json:"-"`
	LoanID            *uint           `gorm:"index" json:"loan_id"`
	Loan              *Loan           `json:"-"`
	Reason            FineReason      `gorm:"size:20;not null" json:"reason"`
	Description       string          `gorm:"size:255" json:"description"`
	Amount            decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	Currency          string          `gorm:"size:10;not null" json:"currency"`
	Status            PaymentStatus   `gorm:"size:20;not null;index" json:"status"`
	ExternalOrderID   string          `gorm:"size:64;uniqueIndex;not null" json:"external_order_id"`
	ExternalCaptureID *string         `gorm:"size:64" json:"external_capture_id"`
	IdempotencyKey    string          `gorm:"size:64;uniqueIndex;not null" json:"idempotency_key"`
	CreatedAt         time.Time       `json:"created_at"`
	PaidAt            *time.Time      `json:"paid_at"`
	ReconcileAttempts int             `gorm:"not null;default:0" json:"reconcile_attempts"`
	LastReconciledAt  *time.Time      `gorm:"index" json:"last_reconciled_at"`
}
