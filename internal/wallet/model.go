package wallet

import (
	"errors"
	"time"
)

var (
	ErrWalletNotFound = errors.New("wallet not found")
	ErrWalletExists   = errors.New("wallet exists")
)

// Wallet represents a stored value account backed by the ledger. Every
// owner (registered user, placeholder recipient or venue) has at most one.
type Wallet struct {
	ID          string
	OwnerID     string
	AccountCode string
	Currency    string
	Status      string
	CreatedAt   time.Time
}

// Balance is the ledger projection for a wallet.
type Balance struct {
	WalletID  string
	Available int64
	Escrow    int64
	Payout    int64
	AsOf      time.Time
}
