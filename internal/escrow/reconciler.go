package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/congo-pay/escrowpay/internal/idempotency"
	"github.com/congo-pay/escrowpay/internal/logging"
	"github.com/congo-pay/escrowpay/internal/metrics"
)

const (
	DefaultReconcileSchedule = "@every 2m"
	defaultBatchSize         = 100
	maxBatchesPerRun         = 20
	// settleGrace keeps the repair sweep away from redemptions that are
	// still settling in the request path.
	settleGrace = time.Minute
)

// Summary counts what one reconciler sweep did.
type Summary struct {
	Expired int
	Settled int
	Failed  int
	Purged  int64
}

// Reconciler expires overdue active records, returning funds to senders, and
// repairs terminal records whose ledger posting never committed.
type Reconciler struct {
	svc      *Service
	schedule string
	batch    int
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewReconciler builds a reconciler over svc. An empty schedule uses
// DefaultReconcileSchedule.
func NewReconciler(svc *Service, schedule string, batch int, logger *slog.Logger) *Reconciler {
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Reconciler{svc: svc, schedule: schedule, batch: batch, logger: logging.Component(logger, "reconciler")}
}

// Start schedules sweeps. Overlapping runs are skipped and a panicking run
// is recovered and logged.
func (r *Reconciler) Start() error {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(r.logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	if _, err := c.AddFunc(r.schedule, r.run); err != nil {
		return fmt.Errorf("schedule reconciler %q: %w", r.schedule, err)
	}
	r.cron = c
	c.Start()
	r.logger.Info("reconciler started", slog.String("schedule", r.schedule), slog.Int("batch", r.batch))
	return nil
}

// Stop halts scheduling and waits for a running sweep up to ctx.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	sum, err := r.RunOnce(ctx)
	if err != nil {
		metrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
		r.logger.Error("reconcile run failed", slog.Any("error", err))
		return
	}
	metrics.ReconcileRunsTotal.WithLabelValues("ok").Inc()
	if sum.Expired+sum.Settled+sum.Failed > 0 || sum.Purged > 0 {
		r.logger.Info("reconcile run completed",
			slog.Int("expired", sum.Expired),
			slog.Int("settled", sum.Settled),
			slog.Int("failed", sum.Failed),
			slog.Int64("purged", sum.Purged))
	}
}

// RunOnce performs a single sweep.
func (r *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	if err := r.expireOverdue(ctx, &sum); err != nil {
		return sum, err
	}
	if err := r.repairUnsettled(ctx, &sum); err != nil {
		return sum, err
	}
	if p, ok := r.svc.idem.(idempotency.Purger); ok {
		n, err := p.Purge(ctx)
		if err != nil {
			r.logger.Warn("idempotency purge failed", slog.Any("error", err))
		}
		sum.Purged = n
	}
	return sum, nil
}

func (r *Reconciler) expireOverdue(ctx context.Context, sum *Summary) error {
	for i := 0; i < maxBatchesPerRun; i++ {
		recs, err := r.svc.store.ListExpired(ctx, r.svc.now(), r.batch)
		if err != nil {
			return fmt.Errorf("list expired: %w", err)
		}
		progressed := false
		for _, rec := range recs {
			_, err := r.svc.expire(ctx, rec, "reconciler")
			switch {
			case err == nil:
				sum.Expired++
				progressed = true
				metrics.ReconcileRecordsTotal.WithLabelValues("expire", "ok").Inc()
			case errors.Is(err, ErrAlreadyResolved):
				// Redeemed or cancelled between listing and transition.
				progressed = true
				metrics.ReconcileRecordsTotal.WithLabelValues("expire", "lost").Inc()
			default:
				sum.Failed++
				metrics.ReconcileRecordsTotal.WithLabelValues("expire", "error").Inc()
				r.logger.Warn("expire record failed", slog.String("record_id", rec.ID), slog.Any("error", err))
			}
		}
		if len(recs) < r.batch || !progressed {
			return nil
		}
	}
	return nil
}

func (r *Reconciler) repairUnsettled(ctx context.Context, sum *Summary) error {
	recs, err := r.svc.store.ListUnsettled(ctx, r.svc.now().Add(-settleGrace), r.batch)
	if err != nil {
		return fmt.Errorf("list unsettled: %w", err)
	}
	for _, rec := range recs {
		rec := rec
		if err := r.svc.settle(ctx, &rec); err != nil {
			sum.Failed++
			metrics.ReconcileRecordsTotal.WithLabelValues("settle", "error").Inc()
			r.logger.Warn("settle record failed", slog.String("record_id", rec.ID), slog.Any("error", err))
			continue
		}
		switch rec.Status {
		case StatusRedeemed:
			r.svc.afterRedeem(ctx, rec, r.svc.redeemVenue(ctx, rec))
		case StatusExpired:
			r.svc.dispatchRefund(ctx, rec)
		}
		sum.Settled++
		metrics.ReconcileRecordsTotal.WithLabelValues("settle", "ok").Inc()
		r.logger.Info("repaired unsettled record", slog.String("record_id", rec.ID), slog.String("status", string(rec.Status)))
	}
	return nil
}
