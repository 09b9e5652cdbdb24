// Package server assembles the Fiber application: middleware, routes and
// the error envelope.
package server

import (
	"strings"

	"labdesk-backend/internal/audit"
	"labdesk-backend/internal/auth"
	"labdesk-backend/internal/config"
	"labdesk-backend/internal/dashboard"
	"labdesk-backend/internal/database"
	"labdesk-backend/internal/inventory"
	"labdesk-backend/internal/loan"
	"labdesk-backend/internal/models"
	"labdesk-backend/internal/payment"
	"labdesk-backend/internal/users"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Deps struct {
	Config   *config.Config
	DB       *gorm.DB
	Loans    *loan.Service
	Payments *payment.Service
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
	// Events is asked for its health when it can tell.
	Events interface{}
}

func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      d.Config.ServiceName,
		ErrorHandler: ErrorHandler(d.Log),
	})

	app.Use(recover.New())
	app.Use(RequestLogger(d.Log))

	corsOrigins := strings.Split(d.Config.CORSOrigins, ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(corsOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
		AllowMethods: "GET,POST,OPTIONS",
	}))

	app.Get("/healthz", healthHandler(d))
	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api")

	// Public auth
	api.Post("/auth/register-admin", auth.RegisterAdminHandler(d.DB))
	api.Post("/auth/login", auth.LoginHandler(d.DB, d.Config.JWTSecret))

	protected := api.Group("", auth.JWTMiddleware(d.Config.JWTSecret))
	admin := auth.RequireRole(models.RoleAdmin)

	protected.Get("/auth/me", auth.MeHandler(d.DB))
	protected.Post("/operators", admin, auth.CreateOperatorHandler(d.DB))

	// Materials
	protected.Get("/materials", inventory.ListMaterialsHandler(d.DB))
	protected.Get("/materials/:id", inventory.GetMaterialHandler(d.DB))
	protected.Post("/materials", admin, inventory.CreateMaterialHandler(d.DB))

	// Borrowers
	protected.Get("/users", users.ListUsersHandler(d.DB))
	protected.Post("/users", users.CreateUserHandler(d.DB))

	// Loans
	protected.Get("/loans", loan.ListLoansHandler(d.Loans))
	protected.Post("/loans", loan.CreateLoanHandler(d.Loans))
	protected.Post("/loans/:id/return", loan.ReturnLoanHandler(d.Loans))

	// Fine payments
	protected.Get("/payments", payment.ListPaymentsHandler(d.Payments))
	protected.Get("/payments/config", payment.CheckoutConfigHandler(d.Payments, d.Config.PayPal.ClientID, d.Config.PayPal.Mode))
	protected.Post("/payments/orders", payment.CreatePaymentHandler(d.Payments))
	protected.Post("/payments/orders/:order_id/capture", payment.CapturePaymentHandler(d.Payments))
	protected.Post("/payments/orders/:order_id/reconcile", payment.ReconcilePaymentHandler(d.Payments))

	// Dashboard
	protected.Get("/dashboard/activity", dashboard.ActivityChartHandler(d.DB, d.Config.PayPal.Currency))

	// Audit logs
	protected.Get("/audit-logs", audit.ListAuditLogsHandler(d.DB))

	return app
}

func healthHandler(d Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		body := fiber.Map{"ok": true, "database": "up"}
		status := fiber.StatusOK
		if err := database.Ping(c.UserContext(), d.DB); err != nil {
			d.Log.Warn("Health check: database down", zap.Error(err))
			body["ok"] = false
			body["database"] = "down"
			status = fiber.StatusServiceUnavailable
		}
		if h, ok := d.Events.(interface{ IsHealthy() bool }); ok {
			body["events"] = "up"
			if !h.IsHealthy() {
				body["events"] = "down"
			}
		}
		if d.Payments != nil {
			body["paypal_configured"] = d.Payments.Configured()
		}
		return c.Status(status).JSON(body)
	}
}
