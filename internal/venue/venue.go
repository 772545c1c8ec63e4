// Package venue is the directory of payout destinations redemption can
// settle to.
package venue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/escrowpay/internal/money"
	"github.com/congo-pay/escrowpay/internal/wallet"
)

var (
	ErrVenueNotFound     = errors.New("venue not found")
	ErrInvalidVenue      = errors.New("invalid venue")
	ErrInvalidCommission = errors.New("commission must be between 0 and 10000 basis points")
)

// Venue is a merchant that can accept redemptions.
type Venue struct {
	ID            string
	Name          string
	WalletID      string
	AccountCode   string
	CommissionBps int
	CreatedAt     time.Time
}

// Repository persists venues.
type Repository interface {
	Create(ctx context.Context, v Venue) error
	Get(ctx context.Context, id string) (Venue, error)
}

// Service registers and resolves venues.
type Service struct {
	repo    Repository
	wallets *wallet.Service
}

// NewService wires the venue repository with the wallet service that owns
// each venue's payout account.
func NewService(repo Repository, wallets *wallet.Service) *Service {
	return &Service{repo: repo, wallets: wallets}
}

// RegisterInput describes a new venue.
type RegisterInput struct {
	Name          string
	CommissionBps int
}

// Register creates a venue together with its wallet.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Venue, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Venue{}, ErrInvalidVenue
	}
	if in.CommissionBps < 0 || in.CommissionBps > money.MaxBasisPoints {
		return Venue{}, ErrInvalidCommission
	}

	id := uuid.NewString()
	w, err := s.wallets.EnsureForOwner(ctx, id)
	if err != nil {
		return Venue{}, err
	}
	v := Venue{
		ID:            id,
		Name:          name,
		WalletID:      w.ID,
		AccountCode:   w.AccountCode,
		CommissionBps: in.CommissionBps,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, v); err != nil {
		return Venue{}, err
	}
	return v, nil
}

// Get resolves a venue by id.
func (s *Service) Get(ctx context.Context, id string) (Venue, error) {
	return s.repo.Get(ctx, strings.TrimSpace(id))
}
