package server

import (
	"errors"
	"strings"

	"labdesk-backend/internal/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// ErrorHandler writes every failure as an ErrorResponse. Classified errors
// take their status from their kind; fiber errors keep their own status.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			status := apperr.HTTPStatus(ae.Kind)
			if status >= fiber.StatusInternalServerError {
				log.Error("Request failed",
					zap.String("method", c.Method()),
					zap.String("path", c.Path()),
					zap.String("code", ae.Code),
					zap.Error(err),
				)
			}
			return c.Status(status).JSON(ErrorResponse{Code: ae.Code, Error: ae.Message})
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(ErrorResponse{Code: statusCode(fe.Code), Error: fe.Message})
		}

		log.Error("Unexpected error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Code:  "internal_error",
			Error: "Unexpected server error",
		})
	}
}

// statusCode turns 404 into "not_found", 401 into "unauthorized" and so on.
func statusCode(status int) string {
	return strings.ReplaceAll(strings.ToLower(utils.StatusMessage(status)), " ", "_")
}
