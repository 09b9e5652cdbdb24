// Package payment runs the fine-payment lifecycle against PayPal: an order
// is created and recorded as PENDING, and a capture turns it PAID.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"labdesk-backend/internal/apperr"
	"labdesk-backend/internal/audit"
	"labdesk-backend/internal/events"
	"labdesk-backend/internal/metrics"
	"labdesk-backend/internal/models"
	"labdesk-backend/internal/paypal"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidReason   = apperr.New(apperr.KindValidation, "invalid_reason", "reason must be late or lost")
	ErrInvalidAmount   = apperr.New(apperr.KindValidation, "invalid_amount", "amount must be greater than zero")
	ErrInvalidCurrency = apperr.New(apperr.KindValidation, "invalid_currency", "currency must be a 3-letter code")
	ErrInvalidKey      = apperr.New(apperr.KindValidation, "invalid_idempotency_key", "idempotency key is too long")
	ErrKeyReused       = apperr.New(apperr.KindConflict, "idempotency_key_reused", "idempotency key was used for a different fine")
	ErrMissingOrderID  = apperr.New(apperr.KindValidation, "missing_order_id", "order id is required")
	ErrUnknownOrder    = apperr.New(apperr.KindValidation, "unknown_order", "order does not carry fine metadata")
	ErrUserNotFound    = apperr.New(apperr.KindNotFound, "user_not_found", "user does not exist")
	ErrLoanNotFound    = apperr.New(apperr.KindNotFound, "loan_not_found", "loan does not exist")
	ErrGatewayAuth     = apperr.New(apperr.KindGatewayAuth, "gateway_auth", "could not authenticate with PayPal")
	ErrGatewayRejected = apperr.New(apperr.KindGatewayRejected, "gateway_rejected", "PayPal rejected the request")
)

const (
	maxKeyLength       = 64
	orderStatusDone    = "COMPLETED"
	customIDPrefix     = "fine"
	defaultDescription = "Sin descripcion"
)

// Gateway is the subset of the PayPal client the orchestrator needs.
type Gateway interface {
	CreateOrder(ctx context.Context, in paypal.CreateOrderRequest) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
}

type Config struct {
	Currency  string
	BrandName string
}

// UnrecordedOrderError means PayPal accepted an order that could not be
// stored locally. The order id is what Reconcile needs to repair it.
type UnrecordedOrderError struct {
	OrderID string
	Err     error
}

func (e *UnrecordedOrderError) Error() string {
	return fmt.Sprintf("order %s accepted by PayPal but not recorded: %v", e.OrderID, e.Err)
}

func (e *UnrecordedOrderError) Unwrap() error { return e.Err }

type Service struct {
	db      *gorm.DB
	gateway Gateway
	cfg     Config
	events  events.Publisher
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewService(db *gorm.DB, gw Gateway, cfg Config, pub events.Publisher, m *metrics.Metrics, log *zap.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "MXN"
	}
	return &Service{
		db:      db,
		gateway: gw,
		cfg:     cfg,
		events:  pub,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Configured reports whether the gateway has credentials. Gateways that
// cannot tell are assumed to be configured.
func (s *Service) Configured() bool {
	if c, ok := s.gateway.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return s.gateway != nil
}

type CreatePaymentInput struct {
	UserID         uint
	LoanID         *uint
	Reason         string
	Description    string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// CreatePayment opens a PayPal order for a fine and records it as PENDING.
// A repeated idempotency key returns the row already recorded for it
// without calling PayPal.
func (s *Service) CreatePayment(ctx context.Context, in CreatePaymentInput) (*models.FinePayment, error) {
	reason, err := NormalizeReason(in.Reason)
	if err != nil {
		return nil, err
	}
	amount := in.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	currency, err := s.normalizeCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > maxKeyLength {
		return nil, ErrInvalidKey
	}
	if key == "" {
		key = uuid.NewString()
	} else if existing, err := s.findByKey(ctx, key); err != nil {
		return nil, err
	} else if existing != nil {
		if !sameFine(existing, in.UserID, in.LoanID, reason, amount, currency) {
			s.log.Warn("Idempotency key reused for a different fine",
				zap.String("idempotency_key", key),
				zap.Uint("payment_id", existing.ID),
			)
			return nil, ErrKeyReused
		}
		s.log.Info("Fine payment replayed",
			zap.String("idempotency_key", key),
			zap.Uint("payment_id", existing.ID),
		)
		return existing, nil
	}

	db := s.db.WithContext(ctx)
	if err := db.Select("id").First(&models.User{}, in.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound.WithMessage(fmt.Sprintf("user %d does not exist", in.UserID))
		}
		return nil, apperr.Store(err)
	}
	if in.LoanID != nil {
		if err := db.Select("id").First(&models.Loan{}, *in.LoanID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrLoanNotFound.WithMessage(fmt.Sprintf("loan %d does not exist", *in.LoanID))
			}
			return nil, apperr.Store(err)
		}
	}

	description := strings.TrimSpace(in.Description)
	start := time.Now()
	order, err := s.gateway.CreateOrder(ctx, paypal.CreateOrderRequest{
		RequestID:   key,
		Amount:      paypal.Amount{CurrencyCode: currency, Value: amount.StringFixed(2)},
		Description: orderDescription(reason, description),
		CustomID:    customID(in.UserID, in.LoanID, reason),
		BrandName:   s.cfg.BrandName,
	})
	s.metrics.ObserveGateway("create_order", start, err)
	if err != nil {
		s.log.Warn("PayPal order not created", zap.Uint("user_id", in.UserID), zap.Error(err))
		return nil, gatewayError(err)
	}

	payment := models.FinePayment{
		UserID:          in.UserID,
		LoanID:          in.LoanID,
		Reason:          reason,
		Description:     description,
		Amount:          amount,
		Currency:        currency,
		Status:          models.PaymentPending,
		ExternalOrderID: order.ID,
		IdempotencyKey:  key,
		CreatedAt:       s.now(),
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  "fine_payment",
			EntityID:    payment.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("Fine of %s %s for user %d (%s)", amount.StringFixed(2), currency, in.UserID, reason),
			After:       payment,
		})
	})
	if err != nil {
		// A concurrent request with the same key may have won the insert;
		// PayPal answered both with the same order.
		if existing, ferr := s.findByKey(ctx, key); ferr == nil && existing != nil && existing.ExternalOrderID == order.ID {
			return existing, nil
		}
		s.log.Error("PayPal order accepted but not recorded",
			zap.String("order_id", order.ID),
			zap.Uint("user_id", in.UserID),
			zap.String("idempotency_key", key),
			zap.Error(err),
		)
		return nil, apperr.Wrap(apperr.KindStore, "payment_not_recorded",
			fmt.Sprintf("PayPal order %s was created but could not be recorded", order.ID),
			&UnrecordedOrderError{OrderID: order.ID, Err: err})
	}

	s.metrics.PaymentCreated()
	s.log.Info("Fine payment created",
		zap.Uint("payment_id", payment.ID),
		zap.String("order_id", payment.ExternalOrderID),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("currency", payment.Currency),
	)
	events.Notify(ctx, s.events, s.log, events.EventPaymentCreated, paymentPayload(&payment))

	return &payment, nil
}

// sameFine reports whether a stored payment was created for the same fine.
func sameFine(p *models.FinePayment, userID uint, loanID *uint, reason models.FineReason, amount decimal.Decimal, currency string) bool {
	if p.UserID != userID || p.Reason != reason || p.Currency != currency || !p.Amount.Equal(amount) {
		return false
	}
	if p.LoanID == nil || loanID == nil {
		return p.LoanID == nil && loanID == nil
	}
	return *p.LoanID == *loanID
}

type CaptureResult struct {
	PaymentID *uint   `json:"payment_id"`
	OrderID   string  `json:"order_id"`
	CaptureID *string `json:"capture_id"`
	Recorded  bool    `json:"recorded"`
}

// CapturePayment captures the order at PayPal and marks the matching
// PENDING row PAID. When no PENDING row matches, the capture still counts
// as done: Recorded is false and Reconcile can rebuild the row later.
func (s *Service) CapturePayment(ctx context.Context, orderID string) (*CaptureResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, ErrMissingOrderID
	}

	start := time.Now()
	order, err := s.gateway.CaptureOrder(ctx, orderID)
	s.metrics.ObserveGateway("capture_order", start, err)
	if err != nil {
		s.log.Warn("PayPal capture failed", zap.String("order_id", orderID), zap.Error(err))
		return nil, gatewayError(err)
	}

	result := &CaptureResult{OrderID: orderID, CaptureID: order.CaptureID()}
	var payment models.FinePayment

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := markPaid(tx, orderID, result.CaptureID, s.now(), &payment)
		if err != nil || !found {
			return err
		}
		result.Recorded = true
		result.PaymentID = &payment.ID
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  "fine_payment",
			EntityID:    payment.ID,
			Action:      models.AuditActionCapture,
			Description: fmt.Sprintf("Order %s captured", orderID),
			After:       payment,
		})
	})
	if err != nil {
		s.log.Error("PayPal capture succeeded but payment not updated",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return nil, apperr.Store(err)
	}

	s.metrics.PaymentCaptured(result.Recorded)
	if !result.Recorded {
		s.log.Warn("Captured order has no pending payment", zap.String("order_id", orderID))
		return result, nil
	}

	s.log.Info("Fine payment captured",
		zap.Uint("payment_id", payment.ID),
		zap.String("order_id", orderID),
	)
	events.Notify(ctx, s.events, s.log, events.EventPaymentPaid, paymentPayload(&payment))
	return result, nil
}

// markPaid flips the PENDING row with the given order id to PAID and loads
// it into dst. found is false when there is no such PENDING row.
func markPaid(tx *gorm.DB, orderID string, captureID *string, paidAt time.Time, dst *models.FinePayment) (found bool, err error) {
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_order_id = ? AND status = ?", orderID, models.PaymentPending).
		First(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	res := tx.Model(&models.FinePayment{}).
		Where("id = ? AND status = ?", dst.ID, models.PaymentPending).
		Updates(map[string]interface{}{
			"status":              models.PaymentPaid,
			"external_capture_id": captureID,
			"paid_at":             paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	dst.Status = models.PaymentPaid
	dst.ExternalCaptureID = captureID
	dst.PaidAt = &paidAt
	return true, nil
}

func (s *Service) findByKey(ctx context.Context, key string) (*models.FinePayment, error) {
	var p models.FinePayment
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store(err)
	}
	return &p, nil
}

func (s *Service) normalizeCurrency(raw string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(raw))
	if c == "" {
		c = strings.ToUpper(s.cfg.Currency)
	}
	if len(c) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return c, nil
}

// NormalizeReason accepts late and lost in any case, plus the Spanish
// aliases atraso and perdida.
func NormalizeReason(raw string) (models.FineReason, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "late", "atraso":
		return models.FineLate, nil
	case "lost", "perdida", "pérdida":
		return models.FineLost, nil
	default:
		return "", ErrInvalidReason
	}
}

func orderDescription(reason models.FineReason, description string) string {
	if description == "" {
		description = defaultDescription
	}
	return fmt.Sprintf("Multa por %s: %s", reason, description)
}

func customID(userID uint, loanID *uint, reason models.FineReason) string {
	var loan uint
	if loanID != nil {
		loan = *loanID
	}
	return fmt.Sprintf("%s:%d:%d:%s", customIDPrefix, userID, loan, reason)
}

func gatewayError(err error) error {
	if errors.Is(err, paypal.ErrAuth) || errors.Is(err, paypal.ErrNotConfigured) {
		return apperr.Wrap(ErrGatewayAuth.Kind, ErrGatewayAuth.Code, ErrGatewayAuth.Message, err)
	}
	var apiErr *paypal.APIError
	if errors.As(err, &apiErr) {
		return apperr.Wrap(ErrGatewayRejected.Kind, ErrGatewayRejected.Code, apiErr.Message, err)
	}
	return apperr.Wrap(ErrGatewayRejected.Kind, ErrGatewayRejected.Code, ErrGatewayRejected.Message, err)
}

func paymentPayload(p *models.FinePayment) map[string]interface{} {
	return map[string]interface{}{
		"payment_id": p.ID,
		"user_id":    p.UserID,
		"order_id":   p.ExternalOrderID,
		"amount":     p.Amount.StringFixed(2),
		"currency":   p.Currency,
		"status":     p.Status,
	}
}

// PaymentView is a fine payment joined with its user's name.
type PaymentView struct {
	ID                uint                 `json:"id"`
	UserID            uint                 `json:"user_id"`
	UserName          string               `json:"user_name"`
	LoanID            *uint                `json:"loan_id"`
	Reason            models.FineReason    `json:"reason"`
	Description       string               `json:"description"`
	Amount            decimal.Decimal      `json:"amount"`
	Currency          string               `json:"currency"`
	Status            models.PaymentStatus `json:"status"`
	ExternalOrderID   string               `json:"external_order_id"`
	ExternalCaptureID *string              `json:"external_capture_id"`
	CreatedAt         time.Time            `json:"created_at"`
	PaidAt            *time.Time           `json:"paid_at"`
}

func (s *Service) ListPayments(ctx context.Context, status models.PaymentStatus) ([]PaymentView, error) {
	q := s.db.WithContext(ctx).
		Table("fine_payments AS p").
		Select("p.id, p.user_id, u.name AS user_name, p.loan_id, p.reason, p.description, p.amount, p.currency, " +
			"p.status, p.external_order_id, p.external_capture_id, p.created_at, p.paid_at").
		Joins("JOIN users u ON u.id = p.user_id")
	if status != "" {
		q = q.Where("p.status = ?", status)
	}

	var views []PaymentView
	if err := q.Order("p.id DESC").Scan(&views).Error; err != nil {
		return nil, apperr.Store(err)
	}
	return views, nil
}
