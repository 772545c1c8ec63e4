package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/congo-pay/escrowpay/internal/metrics"
)

const defaultSendTimeout = 10 * time.Second

// Dispatcher sends notifications in the background. Dispatch never blocks
// the caller and a failed delivery is only logged.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDispatcher wraps notifier.
func NewDispatcher(notifier Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{notifier: notifier, logger: logger, timeout: defaultSendTimeout}
}

// Dispatch queues message for delivery.
func (d *Dispatcher) Dispatch(message Message) {
	if d == nil || d.notifier == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notification panic", slog.Any("panic", r), slog.String("record_id", message.RecordID))
				metrics.SideEffectsTotal.WithLabelValues("notification", "panic").Inc()
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Send(ctx, message); err != nil {
			d.logger.Warn("notification delivery failed",
				slog.String("kind", message.Kind),
				slog.String("record_id", message.RecordID),
				slog.Any("error", err))
			metrics.SideEffectsTotal.WithLabelValues("notification", "failed").Inc()
			return
		}
		metrics.SideEffectsTotal.WithLabelValues("notification", "sent").Inc()
	}()
}

// Wait blocks until queued deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
