package server

import (
	"errors"
	"time"

	"labdesk-backend/internal/apperr"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request after it was handled.
func RequestLogger(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = errorStatus(err)
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		if status >= fiber.StatusInternalServerError {
			log.Warn("HTTP request", fields...)
		} else {
			log.Info("HTTP request", fields...)
		}
		return err
	}
}

func errorStatus(err error) int {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return apperr.HTTPStatus(ae.Kind)
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}
