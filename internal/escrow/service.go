package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/escrowpay/internal/identity"
	"github.com/congo-pay/escrowpay/internal/idempotency"
	"github.com/congo-pay/escrowpay/internal/ledger"
	"github.com/congo-pay/escrowpay/internal/logging"
	"github.com/congo-pay/escrowpay/internal/metrics"
	"github.com/congo-pay/escrowpay/internal/notification"
	"github.com/congo-pay/escrowpay/internal/payout"
	"github.com/congo-pay/escrowpay/internal/venue"
	"github.com/congo-pay/escrowpay/internal/wallet"
)

const (
	reasonHold     = "escrow_hold"
	reasonRollback = "escrow_rollback"
	reasonRedeem   = "escrow_redeem"
	reasonExpire   = "escrow_expire"
	reasonCancel   = "escrow_cancel"

	maxMessageLength = 280
	defaultListLimit = 50
	anonymousSender  = "Someone"
)

// Identities resolves and provisions the people money is sent between.
type Identities interface {
	ResolveOrProvision(ctx context.Context, contact identity.Contact) (identity.User, error)
	Get(ctx context.Context, id string) (identity.User, error)
	ClaimedPlaceholderIDs(ctx context.Context, userID string) ([]string, error)
}

// Wallets maps owners to ledger accounts.
type Wallets interface {
	EnsureForOwner(ctx context.Context, ownerID string) (wallet.Wallet, error)
}

// Venues resolves payout destinations.
type Venues interface {
	Get(ctx context.Context, id string) (venue.Venue, error)
}

// Dispatcher delivers notifications without blocking.
type Dispatcher interface {
	Dispatch(message notification.Message)
}

// PayoutInitiator starts external venue settlement without blocking.
type PayoutInitiator interface {
	Initiate(req payout.Request)
}

// Options configures a Service.
type Options struct {
	TTL               time.Duration
	CommissionAccount string
	Currency          string
	Now               func() time.Time
	GenerateCode      CodeGenerator
}

// Deps are the collaborators a Service needs. Dispatcher and Payouts may be
// nil.
type Deps struct {
	Store       Store
	Ledger      *ledger.Ledger
	Idempotency idempotency.Store
	Identities  Identities
	Wallets     Wallets
	Venues      Venues
	Dispatcher  Dispatcher
	Payouts     PayoutInitiator
	Logger      *slog.Logger
}

// Service implements send, redeem, cancel and lookup over escrow records.
type Service struct {
	store      Store
	ledger     *ledger.Ledger
	idem       idempotency.Store
	identities Identities
	wallets    Wallets
	venues     Venues
	dispatcher Dispatcher
	payouts    PayoutInitiator
	logger     *slog.Logger

	ttl               time.Duration
	commissionAccount string
	currency          string
	now               func() time.Time
	generate          CodeGenerator
}

// NewService wires the engine.
func NewService(d Deps, opts Options) *Service {
	s := &Service{
		store:             d.Store,
		ledger:            d.Ledger,
		idem:              d.Idempotency,
		identities:        d.Identities,
		wallets:           d.Wallets,
		venues:            d.Venues,
		dispatcher:        d.Dispatcher,
		payouts:           d.Payouts,
		logger:            logging.Component(d.Logger, "escrow"),
		ttl:               opts.TTL,
		commissionAccount: opts.CommissionAccount,
		currency:          opts.Currency,
		now:               opts.Now,
		generate:          opts.GenerateCode,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.generate == nil {
		s.generate = GenerateCode
	}
	if s.currency == "" {
		s.currency = "XAF"
	}
	return s
}

// SendInput is a request to put money in escrow for a recipient.
type SendInput struct {
	SenderID  string
	Claimant  identity.Contact
	Amount    int64
	VenueHint string
	VenueOnly bool
	Message   string
	Anonymous bool
}

// SendResult is returned to the sender; Code is only ever shown to them and
// to the recipient's notification.
type SendResult struct {
	RecordID  string
	Code      string
	Amount    int64
	ExpiresAt time.Time
}

// Send holds Amount from the sender's available balance and issues a code
// for the claimant. Only the sender's balances change.
func (s *Service) Send(ctx context.Context, in SendInput) (res SendResult, err error) {
	defer func() { metrics.EscrowSendsTotal.WithLabelValues(outcome(err)).Inc() }()

	in.Message = strings.TrimSpace(in.Message)
	in.VenueHint = strings.TrimSpace(in.VenueHint)
	switch {
	case in.SenderID == "":
		return SendResult{}, fmt.Errorf("%w: sender is required", ErrInvalidRequest)
	case in.Amount <= 0:
		return SendResult{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	case len(in.Message) > maxMessageLength:
		return SendResult{}, fmt.Errorf("%w: message longer than %d characters", ErrInvalidRequest, maxMessageLength)
	case in.VenueOnly && in.VenueHint == "":
		return SendResult{}, fmt.Errorf("%w: venue-only transfers need a venue", ErrInvalidRequest)
	}

	sender, err := s.identities.Get(ctx, in.SenderID)
	if err != nil {
		return SendResult{}, s.lookupFailure("sender", err)
	}
	claimant, err := s.identities.ResolveOrProvision(ctx, in.Claimant)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidContact) || errors.Is(err, identity.ErrUserNotFound) {
			return SendResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return SendResult{}, s.lookupFailure("claimant", err)
	}
	if claimant.ID == sender.ID {
		return SendResult{}, fmt.Errorf("%w: cannot send to yourself", ErrInvalidRequest)
	}

	var venueName string
	if in.VenueHint != "" {
		v, err := s.venues.Get(ctx, in.VenueHint)
		if err != nil {
			if errors.Is(err, venue.ErrVenueNotFound) {
				return SendResult{}, ErrUnknownVenue
			}
			return SendResult{}, s.lookupFailure("venue", err)
		}
		venueName = v.Name
	}

	senderWallet, err := s.wallets.EnsureForOwner(ctx, sender.ID)
	if err != nil {
		return SendResult{}, s.lookupFailure("sender wallet", err)
	}
	claimantWallet, err := s.wallets.EnsureForOwner(ctx, claimant.ID)
	if err != nil {
		return SendResult{}, s.lookupFailure("claimant wallet", err)
	}

	now := s.now()
	rec := Record{
		ID:              uuid.NewString(),
		SenderID:        sender.ID,
		SenderAccount:   senderWallet.AccountCode,
		ClaimantID:      claimant.ID,
		ClaimantAccount: claimantWallet.AccountCode,
		ClaimantContact: destinationFor(in.Claimant.Normalize(), claimant),
		Amount:          in.Amount,
		Currency:        s.currency,
		VenueHint:       in.VenueHint,
		VenueOnly:       in.VenueOnly,
		Message:         in.Message,
		Anonymous:       in.Anonymous,
		Status:          StatusActive,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.ttl),
		UpdatedAt:       now,
	}

	_, err = s.ledger.MoveAvailableToEscrow(ctx, ledger.Move{
		From:      rec.SenderAccount,
		To:        rec.SenderAccount,
		Amount:    rec.Amount,
		Reason:    reasonHold,
		Reference: rec.ID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return SendResult{}, ErrInsufficientFunds
		}
		return SendResult{}, fmt.Errorf("%w: hold funds: %v", ErrLedgerFailure, err)
	}

	if err := s.insertWithCode(ctx, &rec); err != nil {
		stored, found := s.confirmInsert(rec, err)
		if !found {
			return SendResult{}, err
		}
		rec = stored
	}

	s.logger.Info("escrow created",
		slog.String("record_id", rec.ID),
		slog.String("sender_id", rec.SenderID),
		slog.String("claimant_id", rec.ClaimantID),
		slog.Int64("amount", rec.Amount))

	senderName := sender.Name()
	if rec.Anonymous {
		senderName = anonymousSender
	}
	s.dispatch(notification.Message{
		Kind:        notification.KindCodeIssued,
		RecordID:    rec.ID,
		Destination: rec.ClaimantContact,
		Code:        rec.Code,
		Amount:      rec.Amount,
		Currency:    rec.Currency,
		SenderName:  senderName,
		Body:        rec.Message,
		VenueName:   venueName,
	})

	return SendResult{RecordID: rec.ID, Code: rec.Code, Amount: rec.Amount, ExpiresAt: rec.ExpiresAt}, nil
}

// insertWithCode allocates a code no active record holds.
func (s *Service) insertWithCode(ctx context.Context, rec *Record) error {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerFailure, err)
		}
		rec.Code = code
		err = s.store.Insert(ctx, *rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrCodeInUse) {
			return fmt.Errorf("%w: insert record: %v", ErrLedgerFailure, err)
		}
		s.logger.Warn("redemption code collision", slog.String("record_id", rec.ID), slog.Int("attempt", attempt))
	}
	s.logger.Error("redemption code space exhausted", slog.String("record_id", rec.ID), slog.Int("attempts", maxCodeAttempts))
	return ErrCodeGenerationExhausted
}

// confirmInsert settles an insert that reported failure. A timeout or a lost
// commit acknowledgement can hide a row that was written, so the hold is only
// returned once the record is known to be absent. When the store cannot answer
// the hold stays in escrow and the failure is logged for manual review.
func (s *Service) confirmInsert(rec Record, insertErr error) (Record, bool) {
	if errors.Is(insertErr, ErrCodeGenerationExhausted) {
		s.rollbackHold(rec)
		return Record{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stored, err := s.store.Get(ctx, rec.ID)
	switch {
	case err == nil:
		s.logger.Warn("escrow insert reported failure but committed",
			slog.String("record_id", rec.ID),
			slog.Any("error", insertErr))
		return stored, true
	case errors.Is(err, ErrNotFound):
		s.rollbackHold(rec)
	default:
		s.logger.Error("escrow insert outcome unknown, hold kept",
			slog.String("record_id", rec.ID),
			slog.Any("insert_error", insertErr),
			slog.Any("error", err))
	}
	return Record{}, false
}

// rollbackHold returns a hold whose record was never created. It runs on a
// fresh context so a cancelled request cannot strand the funds.
func (s *Service) rollbackHold(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := s.ledger.MoveEscrowToAvailable(ctx, ledger.Move{
		From:      rec.SenderAccount,
		To:        rec.SenderAccount,
		Amount:    rec.Amount,
		Reason:    reasonRollback,
		Reference: rec.ID,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		s.logger.Error("escrow hold rollback failed",
			slog.String("record_id", rec.ID),
			slog.String("account", rec.SenderAccount),
			slog.Int64("amount", rec.Amount),
			slog.Any("error", err))
	}
}

// Cancel lets the sender take back an active transfer. Repeating a
// successful cancel returns the same outcome.
func (s *Service) Cancel(ctx context.Context, senderID, recordID string) (Record, error) {
	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		return Record{}, s.storeFailure(err)
	}
	if rec.SenderID != senderID {
		return Record{}, ErrNotFound
	}

	if rec.Status == StatusActive && rec.Overdue(s.now()) {
		current, err := s.expire(ctx, rec, "cancel")
		switch {
		case err == nil:
			return Record{}, ErrExpired
		case errors.Is(err, ErrAlreadyResolved):
			// A redeem or another cancel got there first.
			rec = current
		default:
			return Record{}, err
		}
	}

	if rec.Status == StatusActive {
		won, ok, err := s.transition(ctx, rec, Transition{From: StatusActive, To: StatusCancelled, At: s.now()}, "cancel")
		if err != nil {
			return Record{}, err
		}
		rec = won
		if !ok && rec.Status != StatusCancelled {
			return Record{}, statusError(rec.Status)
		}
	}
	if rec.Status != StatusCancelled {
		return Record{}, statusError(rec.Status)
	}

	if err := s.settle(ctx, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Get returns a record by id.
func (s *Service) Get(ctx context.Context, recordID string) (Record, error) {
	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		return Record{}, s.storeFailure(err)
	}
	return rec, nil
}

// visibleTo reports whether userID sent, received or redeemed rec, directly
// or through a claimed placeholder.
func (s *Service) visibleTo(ctx context.Context, rec Record, userID string) bool {
	if userID == "" {
		return false
	}
	if rec.SenderID == userID || rec.ClaimantID == userID || rec.RedeemedBy == userID {
		return true
	}
	ids, err := s.identities.ClaimedPlaceholderIDs(ctx, userID)
	if err != nil {
		return false
	}
	for _, id := range ids {
		if id == rec.ClaimantID {
			return true
		}
	}
	return false
}

// Outgoing lists records the user sent.
func (s *Service) Outgoing(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}
	recs, err := s.store.ListBySender(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerFailure, err)
	}
	return recs, nil
}

// Incoming lists records addressed to the user or to placeholders the user
// has claimed.
func (s *Service) Incoming(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}
	ids, err := s.identities.ClaimedPlaceholderIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerFailure, err)
	}
	recs, err := s.store.ListByClaimants(ctx, append(ids, userID), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerFailure, err)
	}
	return recs, nil
}

func (s *Service) dispatch(m notification.Message) {
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(m)
	}
}

func (s *Service) lookupFailure(what string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s lookup: %v", ErrLedgerFailure, what, err)
	}
	if errors.Is(err, identity.ErrUserNotFound) {
		return fmt.Errorf("%w: %s not found", ErrInvalidRequest, what)
	}
	return fmt.Errorf("%w: %s lookup: %v", ErrLedgerFailure, what, err)
}

func (s *Service) storeFailure(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrLedgerFailure, err)
}

func destinationFor(c identity.Contact, u identity.User) string {
	if d := c.Destination(); d != "" {
		return d
	}
	if u.Phone != "" {
		return u.Phone
	}
	return u.Email
}

func statusError(st Status) error {
	switch st {
	case StatusRedeemed:
		return ErrAlreadyRedeemed
	case StatusCancelled:
		return ErrNoLongerValid
	case StatusExpired:
		return ErrExpired
	default:
		return ErrAlreadyResolved
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return ErrorCode(err)
}
