package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"labdesk-backend/internal/config"
	"labdesk-backend/internal/database"
	"labdesk-backend/internal/events"
	"labdesk-backend/internal/loan"
	"labdesk-backend/internal/logger"
	"labdesk-backend/internal/metrics"
	"labdesk-backend/internal/payment"
	"labdesk-backend/internal/paypal"
	"labdesk-backend/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn("Config warning", zap.String("detail", w))
	}
	if err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	db, err := database.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() { _ = database.Close(db) }()

	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}
	log.Info("Database ready")

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.RabbitMQURL, log)
		if err != nil {
			log.Warn("Event publishing disabled: RabbitMQ unreachable", zap.Error(err))
		} else {
			publisher = amqpPub
			defer func() { _ = amqpPub.Close() }()
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	gateway := paypal.NewClient(paypal.Config{
		Mode:         cfg.PayPal.Mode,
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		BaseURL:      cfg.PayPal.BaseURL,
		Timeout:      cfg.PayPal.Timeout,
	})
	if !gateway.Configured() {
		log.Warn("PayPal credentials missing, payment endpoints will answer 500")
	}

	loans := loan.NewService(db, publisher, m, log)
	payments := payment.NewService(db, gateway, payment.Config{
		Currency:  cfg.PayPal.Currency,
		BrandName: cfg.PayPal.BrandName,
	}, publisher, m, log)

	app := server.NewApp(server.Deps{
		Config:   cfg,
		DB:       db,
		Loans:    loans,
		Payments: payments,
		Gatherer: reg,
		Log:      log,
		Events:   publisher,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if gateway.Configured() {
		go payment.NewReconciler(payments, cfg.ReconcileInterval, cfg.ReconcileGrace, log).Run(ctx)
	}

	go func() {
		log.Info("Server listening", zap.String("port", cfg.HTTPPort))
		if err := app.Listen(":" + cfg.HTTPPort); err != nil {
			log.Error("Server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
}
