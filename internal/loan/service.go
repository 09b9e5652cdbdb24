package loan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"labdesk-backend/internal/apperr"
	"labdesk-backend/internal/audit"
	"labdesk-backend/internal/events"
	"labdesk-backend/internal/inventory"
	"labdesk-backend/internal/metrics"
	"labdesk-backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidQuantity = inventory.ErrInvalidQuantity
	ErrUserNotFound    = apperr.New(apperr.KindNotFound, "user_not_found", "user does not exist")
	ErrLoanNotFound    = apperr.New(apperr.KindNotFound, "loan_not_found", "loan does not exist")
	ErrAlreadyReturned = apperr.New(apperr.KindConflict, "already_returned", "loan was already returned")
)

// Service drives the loan lifecycle: Active on creation, Returned once.
// Every operation runs in its own transaction and keeps no state between
// calls.
type Service struct {
	db      *gorm.DB
	events  events.Publisher
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewService(db *gorm.DB, pub events.Publisher, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{
		db:      db,
		events:  pub,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

type CreateLoanInput struct {
	UserID     uint
	MaterialID uint
	Quantity   int
}

// CreateLoan reserves stock and records an Active loan; both happen in one
// transaction or not at all.
func (s *Service) CreateLoan(ctx context.Context, in CreateLoanInput) (*models.Loan, error) {
	if in.Quantity <= 0 {
		s.metrics.LoanRejected(ErrInvalidQuantity.Code)
		return nil, ErrInvalidQuantity
	}

	loan := models.Loan{
		UserID:     in.UserID,
		MaterialID: in.MaterialID,
		Quantity:   in.Quantity,
		Status:     models.LoanActive,
		CreatedAt:  s.now(),
	}
	var material *models.Material

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Select("id").First(&user, in.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound.WithMessage(fmt.Sprintf("user %d does not exist", in.UserID))
			}
			return apperr.Store(err)
		}

		var err error
		material, err = inventory.Reserve(tx, in.MaterialID, in.Quantity)
		if err != nil {
			return err
		}

		if err := tx.Create(&loan).Error; err != nil {
			return apperr.Store(err)
		}

		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  "loan",
			EntityID:    loan.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("Loan of %d x %s to user %d", loan.Quantity, material.Name, loan.UserID),
			After:       loan,
		})
	})
	if err != nil {
		s.reject("create", err)
		return nil, err
	}

	s.metrics.LoanCreated()
	s.log.Info("Loan created",
		zap.Uint("loan_id", loan.ID),
		zap.Uint("user_id", loan.UserID),
		zap.Uint("material_id", loan.MaterialID),
		zap.Int("quantity", loan.Quantity),
		zap.Int("stock_left", material.Quantity),
	)
	events.Notify(ctx, s.events, s.log, events.EventLoanCreated, map[string]interface{}{
		"loan_id":     loan.ID,
		"user_id":     loan.UserID,
		"material_id": loan.MaterialID,
		"quantity":    loan.Quantity,
	})

	return &loan, nil
}

// ReturnLoan closes an Active loan: it writes the return record, flips the
// status and puts the loaned quantity back in stock, all in one transaction.
// A second return of the same loan fails with ErrAlreadyReturned and
// touches nothing.
func (s *Service) ReturnLoan(ctx context.Context, loanID uint, notes *string) (*models.LoanReturn, error) {
	if notes != nil {
		trimmed := strings.TrimSpace(*notes)
		if trimmed == "" {
			notes = nil
		} else {
			notes = &trimmed
		}
	}

	var ret models.LoanReturn
	var loan models.Loan

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&loan, loanID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLoanNotFound.WithMessage(fmt.Sprintf("loan %d does not exist", loanID))
		}
		if err != nil {
			return apperr.Store(err)
		}
		if loan.Status == models.LoanReturned {
			return ErrAlreadyReturned.WithMessage(fmt.Sprintf("loan %d was already returned", loanID))
		}

		ret = models.LoanReturn{
			LoanID:     loan.ID,
			ReturnedAt: s.now(),
			Notes:      notes,
		}
		if err := tx.Create(&ret).Error; err != nil {
			return apperr.Store(err)
		}

		res := tx.Model(&models.Loan{}).
			Where("id = ? AND status = ?", loan.ID, models.LoanActive).
			Update("status", models.LoanReturned)
		if res.Error != nil {
			return apperr.Store(res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyReturned
		}
		loan.Status = models.LoanReturned

		if err := inventory.Release(tx, loan.MaterialID, loan.Quantity); err != nil {
			return err
		}

		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  "loan",
			EntityID:    loan.ID,
			Action:      models.AuditActionReturn,
			Description: fmt.Sprintf("Loan %d returned, %d units back in stock", loan.ID, loan.Quantity),
			After:       ret,
		})
	})
	if err != nil {
		s.reject("return", err)
		return nil, err
	}

	s.metrics.LoanReturned()
	s.log.Info("Loan returned",
		zap.Uint("loan_id", loan.ID),
		zap.Uint("material_id", loan.MaterialID),
		zap.Int("quantity", loan.Quantity),
	)
	events.Notify(ctx, s.events, s.log, events.EventLoanReturned, map[string]interface{}{
		"loan_id":     loan.ID,
		"material_id": loan.MaterialID,
		"quantity":    loan.Quantity,
		"returned_at": ret.ReturnedAt.UTC().Format(time.RFC3339),
	})

	return &ret, nil
}

func (s *Service) reject(op string, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind != apperr.KindStore {
		s.metrics.LoanRejected(ae.Code)
		s.log.Info("Loan operation rejected", zap.String("op", op), zap.String("code", ae.Code))
		return
	}
	s.log.Error("Loan operation failed", zap.String("op", op), zap.Error(err))
}

// LoanView is a loan joined with its user and material names.
type LoanView struct {
	ID           uint              `json:"id"`
	UserID       uint              `json:"user_id"`
	UserName     string            `json:"user_name"`
	MaterialID   uint              `json:"material_id"`
	MaterialName string            `json:"material_name"`
	Quantity     int               `json:"quantity"`
	Status       models.LoanStatus `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
}

func (s *Service) ListLoans(ctx context.Context, status models.LoanStatus) ([]LoanView, error) {
	q := s.db.WithContext(ctx).
		Table("loans AS l").
		Select("l.id, l.user_id, u.name AS user_name, l.material_id, m.name AS material_name, l.quantity, l.status, l.created_at").
		Joins("JOIN users u ON u.id = l.user_id").
		Joins("JOIN materials m ON m.id = l.material_id")
	if status != "" {
		q = q.Where("l.status = ?", status)
	}

	var views []LoanView
	if err := q.Order("l.id DESC").Scan(&views).Error; err != nil {
		return nil, apperr.Store(err)
	}
	return views, nil
}
