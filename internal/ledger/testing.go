package ledger

import (
	"context"

	"github.com/google/uuid"
)

// SeedBalance is a test helper that funds an account's available balance
// through a card-in posting, creating the accounts involved when missing.
func SeedBalance(l *Ledger, code string, amount int64) {
	ctx := context.Background()
	if err := l.EnsureSystemAccount(ctx, CardSuspenseAccountCode); err != nil {
		panic(err)
	}
	if err := l.EnsureAccount(ctx, code); err != nil {
		panic(err)
	}
	if _, err := l.CardIn(ctx, code, "seed-"+uuid.NewString(), amount); err != nil {
		panic(err)
	}
}
