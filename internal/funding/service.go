// Package funding moves money between cards and wallet available balances.
package funding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/escrowpay/internal/ledger"
	"github.com/congo-pay/escrowpay/internal/wallet"
)

var (
	// ErrInvalidCard is returned for malformed card numbers.
	ErrInvalidCard = errors.New("card number must be 12 to 19 digits")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrDeclined is returned when the acquirer refuses the authorization.
	ErrDeclined = errors.New("card authorization declined")
)

// Service coordinates card funding and withdrawals with the ledger.
type Service struct {
	ledger   *ledger.Ledger
	wallets  *wallet.Service
	acquirer Acquirer
	now      func() time.Time
}

// NewService prepares a funding service and ensures the card suspense
// account exists.
func NewService(ctx context.Context, l *ledger.Ledger, wallets *wallet.Service, acquirer Acquirer) (*Service, error) {
	if wallets == nil {
		return nil, fmt.Errorf("wallet service is required")
	}
	if acquirer == nil {
		acquirer = StaticAcquirer{}
	}
	if err := l.EnsureSystemAccount(ctx, ledger.CardSuspenseAccountCode); err != nil {
		return nil, err
	}
	return &Service{ledger: l, wallets: wallets, acquirer: acquirer, now: time.Now}, nil
}

// CardInInput is a top-up request against a wallet owned by OwnerID.
type CardInInput struct {
	OwnerID    string
	WalletID   string
	Amount     int64
	ClientTxID string
	CardNumber string
	Expiry     string
	CVV        string
}

// CardOutInput is a withdrawal request from a wallet owned by OwnerID.
type CardOutInput struct {
	OwnerID    string
	WalletID   string
	Amount     int64
	ClientTxID string
	CardNumber string
}

// Result is the outcome of a card operation. Replayed is set when the
// ClientTxID had already been posted.
type Result struct {
	TransactionID     string
	Status            string
	Replayed          bool
	Available         int64
	AcquirerReference string
	CompletedAt       time.Time
}

// CardIn authorizes a card pull and credits the wallet.
func (s *Service) CardIn(ctx context.Context, in CardInInput) (Result, error) {
	if err := validateCardNumber(in.CardNumber); err != nil {
		return Result{}, err
	}
	w, err := s.prepare(ctx, in.OwnerID, in.WalletID, in.Amount, &in.ClientTxID)
	if err != nil {
		return Result{}, err
	}
	decision, err := s.acquirer.AuthorizeCardIn(ctx, CardInAuthorization{
		CardNumber: in.CardNumber,
		Expiry:     in.Expiry,
		CVV:        in.CVV,
		Amount:     in.Amount,
	})
	if err != nil {
		return Result{}, err
	}
	if !decision.Approved {
		return Result{}, ErrDeclined
	}
	posted, err := s.ledger.CardIn(ctx, w.AccountCode, in.ClientTxID, in.Amount)
	return s.finish(ctx, w, posted, decision, err)
}

// CardOut authorizes a card push and debits the wallet.
func (s *Service) CardOut(ctx context.Context, in CardOutInput) (Result, error) {
	if err := validateCardNumber(in.CardNumber); err != nil {
		return Result{}, err
	}
	w, err := s.prepare(ctx, in.OwnerID, in.WalletID, in.Amount, &in.ClientTxID)
	if err != nil {
		return Result{}, err
	}
	bal, err := s.ledger.Balance(ctx, w.AccountCode)
	if err != nil {
		return Result{}, err
	}
	if bal.Available < in.Amount {
		return Result{}, ledger.ErrInsufficientFunds
	}
	decision, err := s.acquirer.AuthorizeCardOut(ctx, CardOutAuthorization{
		CardNumber: in.CardNumber,
		Amount:     in.Amount,
	})
	if err != nil {
		return Result{}, err
	}
	if !decision.Approved {
		return Result{}, ErrDeclined
	}
	posted, err := s.ledger.CardOut(ctx, w.AccountCode, in.ClientTxID, in.Amount)
	return s.finish(ctx, w, posted, decision, err)
}

func (s *Service) prepare(ctx context.Context, ownerID, walletID string, amount int64, clientTxID *string) (wallet.Wallet, error) {
	if amount <= 0 {
		return wallet.Wallet{}, ErrInvalidAmount
	}
	w, err := s.wallets.Get(ctx, walletID)
	if err != nil {
		return wallet.Wallet{}, err
	}
	if w.OwnerID != ownerID {
		return wallet.Wallet{}, wallet.ErrWalletNotFound
	}
	if strings.TrimSpace(*clientTxID) == "" {
		*clientTxID = uuid.NewString()
	}
	*clientTxID = w.ID + ":" + strings.TrimSpace(*clientTxID)
	return w, nil
}

func (s *Service) finish(ctx context.Context, w wallet.Wallet, posted ledger.Result, decision AuthorizationDecision, err error) (Result, error) {
	replayed := errors.Is(err, ledger.ErrDuplicateTransaction)
	if err != nil && !replayed {
		return Result{}, err
	}
	bal, err := s.ledger.Balance(ctx, w.AccountCode)
	if err != nil {
		return Result{}, err
	}
	return Result{
		TransactionID:     posted.TransactionID,
		Status:            ledger.FundingStatusPendingSettlement,
		Replayed:          replayed,
		Available:         bal.Available,
		AcquirerReference: decision.Reference,
		CompletedAt:       s.now().UTC(),
	}, nil
}

func validateCardNumber(card string) error {
	digits := strings.ReplaceAll(card, " ", "")
	if len(digits) < 12 || len(digits) > 19 {
		return ErrInvalidCard
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return ErrInvalidCard
		}
	}
	return nil
}
