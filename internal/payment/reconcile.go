package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"labdesk-backend/internal/apperr"
	"labdesk-backend/internal/audit"
	"labdesk-backend/internal/events"
	"labdesk-backend/internal/models"
	"labdesk-backend/internal/paypal"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ReconcileAction string

const (
	ReconcileCreated   ReconcileAction = "created"
	ReconcilePromoted  ReconcileAction = "promoted"
	ReconcileUnchanged ReconcileAction = "unchanged"
)

type ReconcileResult struct {
	Action  ReconcileAction     `json:"action"`
	Payment *models.FinePayment `json:"payment"`
}

// Reconcile brings the local row for orderID in line with PayPal. A
// missing row is rebuilt from the order's custom_id, amount and currency;
// a PENDING row is promoted to PAID once PayPal reports the order
// COMPLETED with a capture.
func (s *Service) Reconcile(ctx context.Context, orderID string) (*ReconcileResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, ErrMissingOrderID
	}

	start := time.Now()
	order, err := s.gateway.GetOrder(ctx, orderID)
	s.metrics.ObserveGateway("get_order", start, err)
	if err != nil {
		return nil, gatewayError(err)
	}
	captureID := order.CaptureID()
	captured := order.Status == orderStatusDone && captureID != nil

	var result ReconcileResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.FinePayment
		err := tx.Where("external_order_id = ?", orderID).First(&existing).Error
		switch {
		case err == nil:
			if existing.Status != models.PaymentPending || !captured {
				result = ReconcileResult{Action: ReconcileUnchanged, Payment: &existing}
				return nil
			}
			found, err := markPaid(tx, orderID, captureID, s.now(), &existing)
			if err != nil {
				return apperr.Store(err)
			}
			if !found {
				result = ReconcileResult{Action: ReconcileUnchanged, Payment: &existing}
				return nil
			}
			result = ReconcileResult{Action: ReconcilePromoted, Payment: &existing}
		case errors.Is(err, gorm.ErrRecordNotFound):
			rebuilt, err := s.rebuild(tx, order, captured)
			if err != nil {
				return err
			}
			result = ReconcileResult{Action: ReconcileCreated, Payment: rebuilt}
		default:
			return apperr.Store(err)
		}

		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  "fine_payment",
			EntityID:    result.Payment.ID,
			Action:      models.AuditActionRepair,
			Description: fmt.Sprintf("Order %s reconciled (%s)", orderID, result.Action),
			After:       result.Payment,
		})
	})
	if err != nil {
		s.log.Error("Reconcile failed", zap.String("order_id", orderID), zap.Error(err))
		return nil, err
	}

	if result.Action != ReconcileUnchanged {
		s.metrics.PaymentReconciled()
		s.log.Info("Fine payment reconciled",
			zap.String("order_id", orderID),
			zap.String("action", string(result.Action)),
			zap.String("status", string(result.Payment.Status)),
		)
		payload := paymentPayload(result.Payment)
		payload["action"] = string(result.Action)
		events.Notify(ctx, s.events, s.log, events.EventPaymentReconciled, payload)
	}
	return &result, nil
}

func (s *Service) rebuild(tx *gorm.DB, order *paypal.Order, paid bool) (*models.FinePayment, error) {
	unit := order.FirstUnit()
	meta, ok := parseCustomID(unit.CustomID)
	if !ok || unit.Amount == nil {
		return nil, ErrUnknownOrder.WithMessage(fmt.Sprintf("order %s does not carry fine metadata", order.ID))
	}
	amount, err := decimal.NewFromString(unit.Amount.Value)
	if err != nil || !amount.IsPositive() {
		return nil, ErrUnknownOrder.WithMessage(fmt.Sprintf("order %s has an unreadable amount", order.ID))
	}

	if err := tx.Select("id").First(&models.User{}, meta.userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound.WithMessage(fmt.Sprintf("user %d does not exist", meta.userID))
		}
		return nil, apperr.Store(err)
	}
	if meta.loanID != nil {
		err := tx.Select("id").First(&models.Loan{}, *meta.loanID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("Reconciled order references unknown loan",
				zap.String("order_id", order.ID),
				zap.Uint("loan_id", *meta.loanID),
			)
			meta.loanID = nil
		} else if err != nil {
			return nil, apperr.Store(err)
		}
	}

	p := models.FinePayment{
		UserID:          meta.userID,
		LoanID:          meta.loanID,
		Reason:          meta.reason,
		Description:     rebuiltDescription(unit.Description, meta.reason),
		Amount:          amount.Round(2),
		Currency:        strings.ToUpper(unit.Amount.CurrencyCode),
		Status:          models.PaymentPending,
		ExternalOrderID: order.ID,
		IdempotencyKey:  "reconciled:" + order.ID,
		CreatedAt:       s.now(),
	}
	if paid {
		now := s.now()
		p.Status = models.PaymentPaid
		p.ExternalCaptureID = order.CaptureID()
		p.PaidAt = &now
	}

	if err := tx.Create(&p).Error; err != nil {
		return nil, apperr.Store(err)
	}
	return &p, nil
}

type fineMeta struct {
	userID uint
	loanID *uint
	reason models.FineReason
}

// parseCustomID reads "fine:<user>:<loan|0>:<reason>".
func parseCustomID(raw string) (fineMeta, bool) {
	parts := strings.Split(raw, ":")
	if len(parts) != 4 || parts[0] != customIDPrefix {
		return fineMeta{}, false
	}
	user, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || user == 0 {
		return fineMeta{}, false
	}
	loan, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return fineMeta{}, false
	}
	reason, err := NormalizeReason(parts[3])
	if err != nil {
		return fineMeta{}, false
	}

	meta := fineMeta{userID: uint(user), reason: reason}
	if loan != 0 {
		id := uint(loan)
		meta.loanID = &id
	}
	return meta, true
}

// rebuiltDescription strips the "Multa por <reason>: " prefix the order
// description was built with.
func rebuiltDescription(orderDesc string, reason models.FineReason) string {
	d := strings.TrimPrefix(orderDesc, fmt.Sprintf("Multa por %s: ", reason))
	if d == defaultDescription {
		return ""
	}
	return d
}

// PendingOlderThan lists order ids of PENDING payments created before
// cutoff. Rows never looked at by the reconciler come first, then the ones
// it visited longest ago, so rows that never settle cannot hold the batch.
func (s *Service) PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.FinePayment{}).
		Where("status = ? AND created_at < ?", models.PaymentPending, cutoff).
		Order("last_reconciled_at IS NOT NULL, last_reconciled_at ASC, created_at ASC").
		Limit(limit).
		Pluck("external_order_id", &ids).Error
	if err != nil {
		return nil, apperr.Store(err)
	}
	return ids, nil
}

// touchReconciled records a reconciler visit on a row that is still PENDING.
func (s *Service) touchReconciled(ctx context.Context, orderID string) error {
	err := s.db.WithContext(ctx).
		Model(&models.FinePayment{}).
		Where("external_order_id = ? AND status = ?", orderID, models.PaymentPending).
		Updates(map[string]interface{}{
			"reconcile_attempts": gorm.Expr("reconcile_attempts + 1"),
			"last_reconciled_at": s.now(),
		}).Error
	if err != nil {
		return apperr.Store(err)
	}
	return nil
}
