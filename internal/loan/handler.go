package loan

import (
	"labdesk-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

type CreateLoanRequest struct {
	UserID     uint `json:"user_id"`
	MaterialID uint `json:"material_id"`
	Quantity   int  `json:"quantity"`
}

type ReturnLoanRequest struct {
	Notes *string `json:"notes"`
}

type LoanResponse struct {
	ID         uint              `json:"id"`
	UserID     uint              `json:"user_id"`
	MaterialID uint              `json:"material_id"`
	Quantity   int               `json:"quantity"`
	Status     models.LoanStatus `json:"status"`
	CreatedAt  string            `json:"created_at"`
}

type ReturnResponse struct {
	ID         uint    `json:"id"`
	LoanID     uint    `json:"loan_id"`
	ReturnedAt string  `json:"returned_at"`
	Notes      *string `json:"notes"`
}

// POST /api/loans
func CreateLoanHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateLoanRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid form data")
		}
		if body.UserID == 0 || body.MaterialID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "user_id and material_id are required")
		}

		loan, err := svc.CreateLoan(c.UserContext(), CreateLoanInput{
			UserID:     body.UserID,
			MaterialID: body.MaterialID,
			Quantity:   body.Quantity,
		})
		if err != nil {
			return err
		}

		return c.Status(fiber.StatusCreated).JSON(LoanResponse{
			ID:         loan.ID,
			UserID:     loan.UserID,
			MaterialID: loan.MaterialID,
			Quantity:   loan.Quantity,
			Status:     loan.Status,
			CreatedAt:  loan.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
}

// POST /api/loans/:id/return
func ReturnLoanHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := c.ParamsInt("id")
		if err != nil || id <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid loan id")
		}

		var body ReturnLoanRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
			}
		}

		ret, err := svc.ReturnLoan(c.UserContext(), uint(id), body.Notes)
		if err != nil {
			return err
		}

		return c.JSON(ReturnResponse{
			ID:         ret.ID,
			LoanID:     ret.LoanID,
			ReturnedAt: ret.ReturnedAt.Format("2006-01-02 15:04:05"),
			Notes:      ret.Notes,
		})
	}
}

// GET /api/loans?status=Active
func ListLoansHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := models.LoanStatus(c.Query("status"))
		if status != "" && status != models.LoanActive && status != models.LoanReturned {
			return fiber.NewError(fiber.StatusBadRequest, "status must be Active or Returned")
		}

		loans, err := svc.ListLoans(c.UserContext(), status)
		if err != nil {
			return err
		}
		if loans == nil {
			loans = []LoanView{}
		}
		return c.JSON(loans)
	}
}
