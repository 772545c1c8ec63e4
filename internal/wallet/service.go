package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/escrowpay/internal/ledger"
)

const (
	statusActive    = "active"
	defaultCurrency = "XAF"
)

// Service exposes wallet operations backed by the ledger.
type Service struct {
	repo     Repository
	ledger   *ledger.Ledger
	currency string
}

// NewService builds a wallet service instance.
func NewService(repo Repository, l *ledger.Ledger) *Service {
	return &Service{repo: repo, ledger: l, currency: defaultCurrency}
}

// WithCurrency sets the currency assigned to wallets created without one.
func (s *Service) WithCurrency(code string) *Service {
	if code != "" {
		s.currency = code
	}
	return s
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Create provisions a wallet and associated ledger account.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Wallet{}, fmt.Errorf("invalid owner id: %w", err)
	}

	walletID := uuid.New().String()
	accountCode := fmt.Sprintf("wallet:%s", walletID)

	if err := s.ledger.EnsureAccount(ctx, accountCode); err != nil {
		return Wallet{}, err
	}

	currency := input.Currency
	if currency == "" {
		currency = s.currency
	}

	wallet := Wallet{
		ID:          walletID,
		OwnerID:     input.OwnerID,
		AccountCode: accountCode,
		Currency:    currency,
		Status:      statusActive,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, wallet); err != nil {
		return Wallet{}, err
	}

	return wallet, nil
}

// EnsureForOwner returns the owner's wallet, creating it on first use.
// Concurrent callers converge on one wallet.
func (s *Service) EnsureForOwner(ctx context.Context, ownerID string) (Wallet, error) {
	w, err := s.repo.GetByOwner(ctx, ownerID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return Wallet{}, err
	}
	w, err = s.Create(ctx, CreateInput{OwnerID: ownerID})
	if errors.Is(err, ErrWalletExists) {
		return s.repo.GetByOwner(ctx, ownerID)
	}
	return w, err
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// GetByOwner retrieves the wallet belonging to ownerID.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return s.repo.GetByOwner(ctx, ownerID)
}

// Balance returns the ledger balances for the wallet.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	wallet, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return s.balanceOf(ctx, wallet)
}

func (s *Service) balanceOf(ctx context.Context, wallet Wallet) (Balance, error) {
	bal, err := s.ledger.Balance(ctx, wallet.AccountCode)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		WalletID:  wallet.ID,
		Available: bal.Available,
		Escrow:    bal.Escrow,
		Payout:    bal.Payout,
		AsOf:      time.Now().UTC(),
	}, nil
}
