package routes

import (
	"context"
	"errors"

	"github.com/congo-pay/escrowpay/internal/escrow"
	"github.com/congo-pay/escrowpay/internal/notification"
	"github.com/congo-pay/escrowpay/internal/payout"
)

// Background holds the work that outlives a single request: the expiry
// reconciler and the in-flight notification and payout side effects.
type Background struct {
	Reconciler *escrow.Reconciler
	Dispatcher *notification.Dispatcher
	Settler    *payout.Settler
	closers    []func()
}

// Start schedules the reconciler.
func (b *Background) Start() error {
	return b.Reconciler.Start()
}

// Shutdown stops the reconciler, drains side effects and releases broker
// connections.
func (b *Background) Shutdown(ctx context.Context) error {
	err := errors.Join(
		b.Reconciler.Stop(ctx),
		b.Dispatcher.Wait(ctx),
		b.Settler.Wait(ctx),
	)
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	return err
}
