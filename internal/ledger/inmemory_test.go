package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func mustBalance(t *testing.T, l *Ledger, code string) Balance {
	t.Helper()
	bal, err := l.Balance(context.Background(), code)
	if err != nil {
		t.Fatalf("balance %s: %v", code, err)
	}
	return bal
}

func TestInMemoryLedger_HoldAndReleaseConservesTotal(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "wallet:a", 10_000)
	if err := l.EnsureAccount(ctx, "wallet:b"); err != nil {
		t.Fatalf("ensure account b: %v", err)
	}

	if _, err := l.MoveAvailableToEscrow(ctx, Move{From: "wallet:a", To: "wallet:a", Amount: 4_000, Reason: "escrow_hold", Reference: "rec-1"}); err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	a := mustBalance(t, l, "wallet:a")
	if a.Available != 6_000 || a.Escrow != 4_000 {
		t.Fatalf("unexpected balances after hold: %+v", a)
	}

	if _, err := l.MoveEscrowToAvailable(ctx, Move{From: "wallet:a", To: "wallet:b", Amount: 4_000, Reason: "escrow_redeem", Reference: "rec-1"}); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	a = mustBalance(t, l, "wallet:a")
	b := mustBalance(t, l, "wallet:b")
	if a.Escrow != 0 || b.Available != 4_000 {
		t.Fatalf("unexpected balances after release: a=%+v b=%+v", a, b)
	}
	if total := a.Available + a.Escrow + b.Available + b.Escrow; total != 10_000 {
		t.Fatalf("ledger not balanced, total=%d", total)
	}
}

func TestInMemoryLedger_DuplicateTransaction(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "wallet:a", 5_000)

	move := Move{From: "wallet:a", To: "wallet:a", Amount: 500, Reason: "escrow_hold", Reference: "dup"}
	first, err := l.MoveAvailableToEscrow(ctx, move)
	if err != nil {
		t.Fatalf("initial hold failed: %v", err)
	}
	second, err := l.MoveAvailableToEscrow(ctx, move)
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if second.TransactionID != first.TransactionID {
		t.Fatalf("duplicate should report original transaction %s, got %s", first.TransactionID, second.TransactionID)
	}
	if a := mustBalance(t, l, "wallet:a"); a.Escrow != 500 {
		t.Fatalf("duplicate posting changed escrow: %d", a.Escrow)
	}
}

func TestInMemoryLedger_SameReferenceDifferentReason(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "wallet:a", 1_000)

	if _, err := l.MoveAvailableToEscrow(ctx, Move{From: "wallet:a", To: "wallet:a", Amount: 1_000, Reason: "escrow_hold", Reference: "rec-9"}); err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if _, err := l.MoveEscrowToAvailable(ctx, Move{From: "wallet:a", To: "wallet:a", Amount: 1_000, Reason: "escrow_cancel", Reference: "rec-9"}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if a := mustBalance(t, l, "wallet:a"); a.Available != 1_000 || a.Escrow != 0 {
		t.Fatalf("unexpected balances: %+v", a)
	}
}

func TestInMemoryLedger_InsufficientFunds(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "wallet:a", 100)

	_, err := l.MoveAvailableToEscrow(ctx, Move{From: "wallet:a", To: "wallet:a", Amount: 101, Reason: "escrow_hold", Reference: "too-much"})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if a := mustBalance(t, l, "wallet:a"); a.Available != 100 || a.Escrow != 0 {
		t.Fatalf("failed posting must not change balances: %+v", a)
	}

	_, err = l.MoveEscrowToAvailable(ctx, Move{From: "wallet:a", To: "wallet:a", Amount: 1, Reason: "escrow_cancel", Reference: "empty"})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient escrow, got %v", err)
	}
}

func TestInMemoryLedger_ConcurrentHolds(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "wallet:a", 5_000)

	const workers = 20
	const amount = int64(500)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.MoveAvailableToEscrow(ctx, Move{From: "wallet:a", To: "wallet:a", Amount: amount, Reason: "escrow_hold", Reference: fmt.Sprintf("tx-%d", i)})
			switch {
			case err == nil:
				mu.Lock()
				accepted++
				mu.Unlock()
			case errors.Is(err, ErrInsufficientFunds):
			default:
				t.Errorf("hold %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if accepted != 10 {
		t.Fatalf("expected exactly 10 holds to fit, got %d", accepted)
	}
	a := mustBalance(t, l, "wallet:a")
	if a.Available != 0 || a.Escrow != 5_000 {
		t.Fatalf("ledger not balanced after concurrency: %+v", a)
	}
}

func TestInMemoryLedger_PayoutSplitsCommission(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "wallet:a", 5_000)
	if err := l.EnsureAccount(ctx, "wallet:venue"); err != nil {
		t.Fatalf("ensure venue: %v", err)
	}
	if err := l.EnsureSystemAccount(ctx, "platform:commission"); err != nil {
		t.Fatalf("ensure commission: %v", err)
	}
	if _, err := l.MoveAvailableToEscrow(ctx, Move{From: "wallet:a", To: "wallet:a", Amount: 4_000, Reason: "escrow_hold", Reference: "rec-1"}); err != nil {
		t.Fatalf("hold failed: %v", err)
	}

	_, err := l.MoveEscrowToExternalPayout(ctx, PayoutMove{
		From:              "wallet:a",
		Venue:             "wallet:venue",
		CommissionAccount: "platform:commission",
		Amount:            4_000,
		Commission:        200,
		Reason:            "escrow_redeem",
		Reference:         "rec-1",
	})
	if err != nil {
		t.Fatalf("payout failed: %v", err)
	}

	a := mustBalance(t, l, "wallet:a")
	v := mustBalance(t, l, "wallet:venue")
	c := mustBalance(t, l, "platform:commission")
	if a.Escrow != 0 || v.Payout != 3_800 || c.Available != 200 {
		t.Fatalf("unexpected split: sender=%+v venue=%+v commission=%+v", a, v, c)
	}
	if v.Available != 0 {
		t.Fatalf("payout must not touch venue available balance: %+v", v)
	}
}

func TestInMemoryLedger_PayoutRejectsCommissionAboveAmount(t *testing.T) {
	l := NewInMemory()
	_, err := l.MoveEscrowToExternalPayout(context.Background(), PayoutMove{
		From: "wallet:a", Venue: "wallet:v", CommissionAccount: "platform:commission",
		Amount: 100, Commission: 101, Reason: "escrow_redeem", Reference: "x",
	})
	if !errors.Is(err, ErrInvalidPosting) {
		t.Fatalf("expected invalid posting, got %v", err)
	}
}

func TestInMemoryLedger_CardInAndOut(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.EnsureAccount(ctx, "wallet:a")
	l.EnsureSystemAccount(ctx, CardSuspenseAccountCode)

	if _, err := l.CardIn(ctx, "wallet:a", "client-card-in", 2_000); err != nil {
		t.Fatalf("card in failed: %v", err)
	}
	if _, err := l.CardIn(ctx, "wallet:a", "client-card-in", 2_000); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate card in error, got %v", err)
	}
	if _, err := l.CardOut(ctx, "wallet:a", "client-card-out", 1_500); err != nil {
		t.Fatalf("card out failed: %v", err)
	}
	if _, err := l.CardOut(ctx, "wallet:a", "client-card-out-2", 10_000); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	if a := mustBalance(t, l, "wallet:a"); a.Available != 500 {
		t.Fatalf("expected wallet balance 500, got %d", a.Available)
	}
	if s := mustBalance(t, l, CardSuspenseAccountCode); s.Available != -500 {
		t.Fatalf("expected suspense -500, got %d", s.Available)
	}
}

func TestInMemoryLedger_UnknownAccount(t *testing.T) {
	l := NewInMemory()
	_, err := l.MoveAvailableToEscrow(context.Background(), Move{From: "wallet:ghost", To: "wallet:ghost", Amount: 1, Reason: "escrow_hold", Reference: "r"})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestInMemoryLedger_EntriesAudit(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "wallet:a", 1_000)
	if _, err := l.MoveAvailableToEscrow(ctx, Move{From: "wallet:a", To: "wallet:a", Amount: 300, Reason: "escrow_hold", Reference: "rec-1"}); err != nil {
		t.Fatalf("hold failed: %v", err)
	}

	entries, err := l.Entries(ctx, "wallet:a", 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	// seed credit + hold debit + hold credit
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	if sum != 1_000 {
		t.Fatalf("entries should sum to funded amount, got %d", sum)
	}
}
