package payment

import (
	"context"
	"time"

	"labdesk-backend/internal/audit"

	"go.uber.org/zap"
)

const reconcileBatch = 50

// Reconciler periodically reconciles PENDING payments that stayed pending
// longer than Grace, which covers captures whose local update was lost.
type Reconciler struct {
	svc      *Service
	interval time.Duration
	grace    time.Duration
	log      *zap.Logger
}

func NewReconciler(svc *Service, interval, grace time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{svc: svc, interval: interval, grace: grace, log: log}
}

// Run blocks until ctx is done. An interval of zero disables the worker.
func (r *Reconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.log.Info("Payment reconciler disabled")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("Payment reconciler started",
		zap.Duration("interval", r.interval),
		zap.Duration("grace", r.grace),
	)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("Payment reconciler stopped")
			return
		case <-ticker.C:
			r.Check(ctx)
		}
	}
}

// Check runs one reconciliation pass and returns how many payments changed.
func (r *Reconciler) Check(ctx context.Context) int {
	ctx = audit.WithActor(ctx, audit.SystemActor)

	ids, err := r.svc.PendingOlderThan(ctx, r.svc.now().Add(-r.grace), reconcileBatch)
	if err != nil {
		r.log.Error("Reconciler could not list pending payments", zap.Error(err))
		return 0
	}

	changed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		res, err := r.svc.Reconcile(ctx, id)
		if terr := r.svc.touchReconciled(ctx, id); terr != nil {
			r.log.Error("Could not record reconcile attempt", zap.String("order_id", id), zap.Error(terr))
		}
		if err != nil {
			r.log.Warn("Reconcile skipped", zap.String("order_id", id), zap.Error(err))
			continue
		}
		if res.Action != ReconcileUnchanged {
			changed++
		}
	}
	if len(ids) > 0 {
		r.log.Info("Reconciler pass finished", zap.Int("pending", len(ids)), zap.Int("changed", changed))
	}
	return changed
}
