package escrow

import (
	"context"
	"time"
)

// Store persists escrow records. Transition is the single conditional
// update shared by redemption, expiry and cancellation: it applies t only
// if the record is still in t.From and reports whether it did.
type Store interface {
	Insert(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, error)
	// GetByCode prefers the active record holding code, falling back to the
	// most recent resolved one.
	GetByCode(ctx context.Context, code string) (Record, error)
	Transition(ctx context.Context, id string, t Transition) (Record, bool, error)
	MarkSettled(ctx context.Context, id string, at time.Time) error
	ListExpired(ctx context.Context, before time.Time, limit int) ([]Record, error)
	ListUnsettled(ctx context.Context, before time.Time, limit int) ([]Record, error)
	ListBySender(ctx context.Context, senderID string, limit int) ([]Record, error)
	ListByClaimants(ctx context.Context, claimantIDs []string, limit int) ([]Record, error)
}
