package wallet

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/congo-pay/escrowpay/internal/ledger"
)

func TestServiceCreateAndBalance(t *testing.T) {
	repo := NewMemoryRepository()
	led := ledger.NewInMemory()
	svc := NewService(repo, led)

	ctx := context.Background()
	ownerID := uuid.NewString()
	wallet, err := svc.Create(ctx, CreateInput{OwnerID: ownerID, Currency: "XAF"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	fetched, err := svc.Get(ctx, wallet.ID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if fetched.ID != wallet.ID || fetched.OwnerID != ownerID {
		t.Fatalf("expected wallet ID %s, got %s", wallet.ID, fetched.ID)
	}

	ledger.SeedBalance(led, wallet.AccountCode, 2_500)

	balance, err := svc.Balance(ctx, wallet.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Available != 2_500 || balance.Escrow != 0 {
		t.Fatalf("expected available 2500 and no escrow, got %+v", balance)
	}
}

func TestServiceCreateRejectsSecondWalletForOwner(t *testing.T) {
	svc := NewService(NewMemoryRepository(), ledger.NewInMemory())
	ctx := context.Background()
	ownerID := uuid.NewString()

	if _, err := svc.Create(ctx, CreateInput{OwnerID: ownerID}); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{OwnerID: ownerID}); err != ErrWalletExists {
		t.Fatalf("expected ErrWalletExists, got %v", err)
	}
}

func TestServiceEnsureForOwnerConverges(t *testing.T) {
	svc := NewService(NewMemoryRepository(), ledger.NewInMemory())
	ctx := context.Background()
	ownerID := uuid.NewString()

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := svc.EnsureForOwner(ctx, ownerID)
			if err != nil {
				t.Errorf("ensure %d: %v", i, err)
				return
			}
			ids[i] = w.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("expected one wallet, got %s and %s", ids[0], ids[i])
		}
	}
	if w, _ := svc.GetByOwner(ctx, ownerID); w.Currency != defaultCurrency {
		t.Fatalf("expected default currency, got %q", w.Currency)
	}
}
