package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/congo-pay/escrowpay/internal/metrics"
)

var (
	// ErrInsufficientFunds occurs when a debited bucket of a non-system account
	// would go negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the (reason, reference) pair was already
	// posted and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrAccountNotFound is returned when a posting names an unknown account.
	ErrAccountNotFound = errors.New("ledger account not found")

	// ErrInvalidPosting covers malformed postings (non-positive amounts,
	// unbalanced legs, missing reference).
	ErrInvalidPosting = errors.New("invalid ledger posting")
)

const (
	// FundingStatusPendingSettlement indicates a card transaction awaiting settlement confirmation.
	FundingStatusPendingSettlement = "pending_settlement"
	// CardSuspenseAccountCode is the ledger account used to park card transactions pre-settlement.
	CardSuspenseAccountCode = "suspense:card"

	reasonCardIn  = "card_in"
	reasonCardOut = "card_out"
)

// Bucket names one of the balances every account carries.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketEscrow    Bucket = "escrow"
	BucketPayout    Bucket = "payout"
)

func (b Bucket) valid() bool {
	switch b {
	case BucketAvailable, BucketEscrow, BucketPayout:
		return true
	}
	return false
}

// Balance is the projection of an account's entries.
type Balance struct {
	Account   string
	Available int64
	Escrow    int64
	Payout    int64
	UpdatedAt time.Time
}

// Leg is one signed side of a posting.
type Leg struct {
	Account string
	Bucket  Bucket
	Amount  int64
}

// Transaction is a balanced set of legs applied atomically. Reason and
// Reference together identify the posting; re-posting the same pair is a
// no-op reported as ErrDuplicateTransaction.
type Transaction struct {
	Reason      string
	Reference   string
	Source      string
	Destination string
	Amount      int64
	Legs        []Leg
}

// Entry is an immutable audit row produced by a posting.
type Entry struct {
	ID            string
	TransactionID string
	Account       string
	Bucket        Bucket
	Amount        int64
	Reason        string
	Reference     string
	Source        string
	Destination   string
	CreatedAt     time.Time
}

// Result captures the outcome of a posting.
type Result struct {
	TransactionID string
	PostedAt      time.Time
}

// Store is implemented by ledger backends (in-memory, Postgres). Post must
// apply every leg or none of them.
type Store interface {
	EnsureAccount(ctx context.Context, code string, system bool) error
	Balance(ctx context.Context, code string) (Balance, error)
	Post(ctx context.Context, tx Transaction) (Result, error)
	Entries(ctx context.Context, code string, limit int) ([]Entry, error)
}

// Move describes a transfer of Amount from one account's bucket to another's.
type Move struct {
	From      string
	To        string
	Amount    int64
	Reason    string
	Reference string
}

// PayoutMove moves escrowed funds into a venue's payout bucket, routing
// Commission of the Amount to CommissionAccount in the same posting.
type PayoutMove struct {
	From              string
	Venue             string
	CommissionAccount string
	Amount            int64
	Commission        int64
	Reason            string
	Reference         string
}

// Ledger exposes the paired balance operations. It is the only component
// allowed to change balances.
type Ledger struct {
	store   Store
	timeout time.Duration
}

// New wraps a backend store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// WithTimeout bounds every ledger call by d.
func (l *Ledger) WithTimeout(d time.Duration) *Ledger {
	l.timeout = d
	return l
}

// EnsureAccount guarantees a customer account exists for the provided code.
func (l *Ledger) EnsureAccount(ctx context.Context, code string) error {
	ctx, cancel := l.bound(ctx)
	defer cancel()
	return l.store.EnsureAccount(ctx, code, false)
}

// EnsureSystemAccount guarantees a system account (allowed to go negative,
// e.g. card suspense) exists.
func (l *Ledger) EnsureSystemAccount(ctx context.Context, code string) error {
	ctx, cancel := l.bound(ctx)
	defer cancel()
	return l.store.EnsureAccount(ctx, code, true)
}

// Balance returns the current balances for code.
func (l *Ledger) Balance(ctx context.Context, code string) (Balance, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()
	return l.store.Balance(ctx, code)
}

// Entries lists the most recent audit entries touching code.
func (l *Ledger) Entries(ctx context.Context, code string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	ctx, cancel := l.bound(ctx)
	defer cancel()
	return l.store.Entries(ctx, code, limit)
}

// CardIn records a card funding authorization: suspense is debited and the
// wallet's available balance credited.
func (l *Ledger) CardIn(ctx context.Context, walletCode, clientTxID string, amount int64) (Result, error) {
	return l.post(ctx, reasonCardIn, Transaction{
		Reason:      reasonCardIn,
		Reference:   clientTxID,
		Source:      CardSuspenseAccountCode,
		Destination: walletCode,
		Amount:      amount,
		Legs: []Leg{
			{Account: CardSuspenseAccountCode, Bucket: BucketAvailable, Amount: -amount},
			{Account: walletCode, Bucket: BucketAvailable, Amount: amount},
		},
	})
}

// CardOut records a card withdrawal by debiting the wallet and crediting suspense.
func (l *Ledger) CardOut(ctx context.Context, walletCode, clientTxID string, amount int64) (Result, error) {
	return l.post(ctx, reasonCardOut, Transaction{
		Reason:      reasonCardOut,
		Reference:   clientTxID,
		Source:      walletCode,
		Destination: CardSuspenseAccountCode,
		Amount:      amount,
		Legs: []Leg{
			{Account: walletCode, Bucket: BucketAvailable, Amount: -amount},
			{Account: CardSuspenseAccountCode, Bucket: BucketAvailable, Amount: amount},
		},
	})
}

// MoveAvailableToEscrow debits From's available balance and credits To's
// escrow balance. A sender holding funds uses From == To.
func (l *Ledger) MoveAvailableToEscrow(ctx context.Context, m Move) (Result, error) {
	return l.post(ctx, "available_to_escrow", Transaction{
		Reason:      m.Reason,
		Reference:   m.Reference,
		Source:      m.From,
		Destination: m.To,
		Amount:      m.Amount,
		Legs: []Leg{
			{Account: m.From, Bucket: BucketAvailable, Amount: -m.Amount},
			{Account: m.To, Bucket: BucketEscrow, Amount: m.Amount},
		},
	})
}

// MoveEscrowToAvailable debits From's escrow balance and credits To's
// available balance. Redemption credits the claimant; expiry and
// cancellation credit the sender back.
func (l *Ledger) MoveEscrowToAvailable(ctx context.Context, m Move) (Result, error) {
	return l.post(ctx, "escrow_to_available", Transaction{
		Reason:      m.Reason,
		Reference:   m.Reference,
		Source:      m.From,
		Destination: m.To,
		Amount:      m.Amount,
		Legs: []Leg{
			{Account: m.From, Bucket: BucketEscrow, Amount: -m.Amount},
			{Account: m.To, Bucket: BucketAvailable, Amount: m.Amount},
		},
	})
}

// MoveEscrowToExternalPayout debits From's escrow balance, credits the
// venue's payout bucket with the net amount and the commission account with
// the commission, all in one posting.
func (l *Ledger) MoveEscrowToExternalPayout(ctx context.Context, m PayoutMove) (Result, error) {
	if m.Commission < 0 || m.Commission > m.Amount {
		return Result{}, fmt.Errorf("%w: commission %d outside [0, %d]", ErrInvalidPosting, m.Commission, m.Amount)
	}
	legs := []Leg{
		{Account: m.From, Bucket: BucketEscrow, Amount: -m.Amount},
	}
	if net := m.Amount - m.Commission; net > 0 {
		legs = append(legs, Leg{Account: m.Venue, Bucket: BucketPayout, Amount: net})
	}
	if m.Commission > 0 {
		if m.CommissionAccount == "" {
			return Result{}, fmt.Errorf("%w: commission account required", ErrInvalidPosting)
		}
		legs = append(legs, Leg{Account: m.CommissionAccount, Bucket: BucketAvailable, Amount: m.Commission})
	}
	return l.post(ctx, "escrow_to_payout", Transaction{
		Reason:      m.Reason,
		Reference:   m.Reference,
		Source:      m.From,
		Destination: m.Venue,
		Amount:      m.Amount,
		Legs:        legs,
	})
}

func (l *Ledger) post(ctx context.Context, op string, tx Transaction) (Result, error) {
	done := metrics.ObserveLedgerOp(op)
	if err := validate(tx); err != nil {
		done("invalid")
		return Result{}, err
	}

	ctx, cancel := l.bound(ctx)
	defer cancel()

	res, err := l.store.Post(ctx, tx)
	switch {
	case err == nil:
		done("ok")
	case errors.Is(err, ErrDuplicateTransaction):
		done("duplicate")
	case errors.Is(err, ErrInsufficientFunds):
		done("insufficient_funds")
	default:
		done("error")
	}
	return res, err
}

func (l *Ledger) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.timeout)
}

func validate(tx Transaction) error {
	if tx.Reason == "" || tx.Reference == "" {
		return fmt.Errorf("%w: reason and reference are required", ErrInvalidPosting)
	}
	if tx.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidPosting)
	}
	if len(tx.Legs) < 2 {
		return fmt.Errorf("%w: at least two legs required", ErrInvalidPosting)
	}
	var sum int64
	for _, leg := range tx.Legs {
		if leg.Account == "" || !leg.Bucket.valid() || leg.Amount == 0 {
			return fmt.Errorf("%w: malformed leg %+v", ErrInvalidPosting, leg)
		}
		sum += leg.Amount
	}
	if sum != 0 {
		return fmt.Errorf("%w: legs sum to %d", ErrInvalidPosting, sum)
	}
	return nil
}
