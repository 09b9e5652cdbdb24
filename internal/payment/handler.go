package payment

import (
	"labdesk-backend/internal/apperr"
	"labdesk-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

var ErrNotConfigured = apperr.New(apperr.KindUnavailable, "paypal_not_configured", "PayPal is not configured")

type CreatePaymentRequest struct {
	UserID         uint            `json:"user_id"`
	LoanID         *uint           `json:"loan_id"`
	Reason         string          `json:"reason"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type CreatePaymentResponse struct {
	PaymentID       uint                 `json:"payment_id"`
	ExternalOrderID string               `json:"external_order_id"`
	Status          models.PaymentStatus `json:"status"`
	Amount          string               `json:"amount"`
	Currency        string               `json:"currency"`
}

func requireGateway(svc *Service) error {
	if !svc.Configured() {
		return ErrNotConfigured
	}
	return nil
}

// POST /api/payments/orders
// The idempotency key may come in the body or the Idempotency-Key header.
func CreatePaymentHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := requireGateway(svc); err != nil {
			return err
		}

		var body CreatePaymentRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.UserID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "user_id is required")
		}
		if body.LoanID != nil && *body.LoanID == 0 {
			body.LoanID = nil
		}
		if body.IdempotencyKey == "" {
			body.IdempotencyKey = c.Get("Idempotency-Key")
		}

		p, err := svc.CreatePayment(c.UserContext(), CreatePaymentInput{
			UserID:         body.UserID,
			LoanID:         body.LoanID,
			Reason:         body.Reason,
			Description:    body.Description,
			Amount:         body.Amount,
			Currency:       body.Currency,
			IdempotencyKey: body.IdempotencyKey,
		})
		if err != nil {
			return err
		}

		return c.Status(fiber.StatusCreated).JSON(CreatePaymentResponse{
			PaymentID:       p.ID,
			ExternalOrderID: p.ExternalOrderID,
			Status:          p.Status,
			Amount:          p.Amount.StringFixed(2),
			Currency:        p.Currency,
		})
	}
}

// POST /api/payments/orders/:order_id/capture
func CapturePaymentHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := requireGateway(svc); err != nil {
			return err
		}

		res, err := svc.CapturePayment(c.UserContext(), c.Params("order_id"))
		if err != nil {
			return err
		}
		return c.JSON(res)
	}
}

// POST /api/payments/orders/:order_id/reconcile
func ReconcilePaymentHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := requireGateway(svc); err != nil {
			return err
		}

		res, err := svc.Reconcile(c.UserContext(), c.Params("order_id"))
		if err != nil {
			return err
		}
		return c.JSON(res)
	}
}

// GET /api/payments?status=PENDING
func ListPaymentsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := models.PaymentStatus(c.Query("status"))
		if status != "" && status != models.PaymentPending && status != models.PaymentPaid {
			return fiber.NewError(fiber.StatusBadRequest, "status must be PENDING or PAID")
		}

		payments, err := svc.ListPayments(c.UserContext(), status)
		if err != nil {
			return err
		}
		if payments == nil {
			payments = []PaymentView{}
		}
		return c.JSON(payments)
	}
}

type CheckoutConfig struct {
	ClientID   string `json:"client_id"`
	Currency   string `json:"currency"`
	Mode       string `json:"mode"`
	Configured bool   `json:"configured"`
}

// GET /api/payments/config
// Public values a checkout page needs to load the PayPal SDK.
func CheckoutConfigHandler(svc *Service, clientID, mode string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(CheckoutConfig{
			ClientID:   clientID,
			Currency:   svc.cfg.Currency,
			Mode:       mode,
			Configured: svc.Configured(),
		})
	}
}
