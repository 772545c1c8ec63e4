package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/congo-pay/escrowpay/internal/idempotency"
	"github.com/congo-pay/escrowpay/internal/metrics"
	"github.com/congo-pay/escrowpay/internal/money"
	"github.com/congo-pay/escrowpay/internal/notification"
	"github.com/congo-pay/escrowpay/internal/payout"
	"github.com/congo-pay/escrowpay/internal/venue"
)

const (
	DestinationWallet = "wallet"
	DestinationVenue  = "venue"
)

// RedeemInput identifies the record by Code or RecordID. IdempotencyKey is
// chosen by the client and reused across retries of the same attempt.
type RedeemInput struct {
	ClaimantID     string
	Code           string
	RecordID       string
	VenueID        string
	IdempotencyKey string
}

// RedeemResult confirms a redemption.
type RedeemResult struct {
	RecordID               string    `json:"record_id"`
	Amount                 int64     `json:"amount"`
	Commission             int64     `json:"commission"`
	NetAmount              int64     `json:"net_amount"`
	Currency               string    `json:"currency"`
	Destination            string    `json:"destination"`
	DestinationDescription string    `json:"destination_description"`
	VenueID                string    `json:"venue_id,omitempty"`
	RedeemedAt             time.Time `json:"redeemed_at"`
}

// storedOutcome is what the idempotency store keeps for a finished attempt.
type storedOutcome struct {
	Result *RedeemResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Redeem credits the holder of a code exactly once. A retry with the same
// idempotency key replays the first attempt's outcome; terminal business
// errors are replayed too, LedgerFailure never is.
func (s *Service) Redeem(ctx context.Context, in RedeemInput) (res RedeemResult, err error) {
	defer func() { metrics.EscrowRedemptionsTotal.WithLabelValues(outcome(err)).Inc() }()

	in.Code = NormalizeCode(in.Code)
	in.RecordID = strings.TrimSpace(in.RecordID)
	in.VenueID = strings.TrimSpace(in.VenueID)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	switch {
	case in.ClaimantID == "":
		return RedeemResult{}, fmt.Errorf("%w: claimant is required", ErrInvalidRequest)
	case in.IdempotencyKey == "":
		return RedeemResult{}, fmt.Errorf("%w: idempotency key is required", ErrInvalidRequest)
	case (in.Code == "") == (in.RecordID == ""):
		return RedeemResult{}, fmt.Errorf("%w: provide exactly one of code or record id", ErrInvalidRequest)
	case in.Code != "" && !ValidCode(in.Code):
		return RedeemResult{}, ErrNotFound
	}

	hash := idempotency.HashRequest(in.Code, in.RecordID, in.VenueID)
	cached, acquired, err := s.idem.Acquire(ctx, in.ClaimantID, in.IdempotencyKey, hash)
	switch {
	case errors.Is(err, idempotency.ErrInProgress):
		return RedeemResult{}, ErrInProgress
	case errors.Is(err, idempotency.ErrConflict):
		return RedeemResult{}, ErrIdempotencyConflict
	case err != nil:
		return RedeemResult{}, fmt.Errorf("%w: idempotency: %v", ErrLedgerFailure, err)
	case !acquired:
		return replay(cached)
	}

	res, err = s.redeem(ctx, in)
	switch {
	case err == nil:
		s.complete(in, storedOutcome{Result: &res})
	case cacheable(err):
		s.complete(in, storedOutcome{Error: ErrorCode(err)})
	default:
		s.release(in)
	}
	return res, err
}

func replay(cached []byte) (RedeemResult, error) {
	var out storedOutcome
	if err := json.Unmarshal(cached, &out); err != nil {
		return RedeemResult{}, fmt.Errorf("%w: decode stored outcome: %v", ErrLedgerFailure, err)
	}
	if out.Error != "" {
		return RedeemResult{}, errorFromCode(out.Error)
	}
	if out.Result == nil {
		return RedeemResult{}, fmt.Errorf("%w: empty stored outcome", ErrLedgerFailure)
	}
	return *out.Result, nil
}

// complete and release run detached from the request context so a client
// disconnect cannot leave the key stuck in processing.
func (s *Service) complete(in RedeemInput, out storedOutcome) {
	payload, err := json.Marshal(out)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.idem.Complete(ctx, in.ClaimantID, in.IdempotencyKey, payload)
	}
	if err != nil {
		s.logger.Warn("persist redemption outcome failed",
			slog.String("claimant_id", in.ClaimantID),
			slog.Any("error", err))
	}
}

func (s *Service) release(in RedeemInput) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.idem.Release(ctx, in.ClaimantID, in.IdempotencyKey); err != nil {
		s.logger.Warn("release idempotency key failed",
			slog.String("claimant_id", in.ClaimantID),
			slog.Any("error", err))
	}
}

func (s *Service) lookup(ctx context.Context, in RedeemInput) (Record, error) {
	var (
		rec Record
		err error
	)
	if in.Code != "" {
		rec, err = s.store.GetByCode(ctx, in.Code)
	} else {
		rec, err = s.store.Get(ctx, in.RecordID)
	}
	if err != nil {
		return Record{}, s.storeFailure(err)
	}
	return rec, nil
}

func (s *Service) redeem(ctx context.Context, in RedeemInput) (RedeemResult, error) {
	rec, err := s.lookup(ctx, in)
	if err != nil {
		return RedeemResult{}, err
	}

	if rec.Status != StatusActive {
		return s.resolved(ctx, rec, in)
	}

	// Expiry takes precedence over every venue rule.
	if rec.Overdue(s.now()) {
		if _, err := s.expire(ctx, rec, "redeem"); err != nil && !errors.Is(err, ErrLedgerFailure) {
			return RedeemResult{}, err
		}
		return RedeemResult{}, ErrExpired
	}

	if rec.VenueOnly && in.VenueID != rec.VenueHint {
		return RedeemResult{}, ErrVenueMismatch
	}

	var (
		dest venue.Venue
		t    = Transition{From: StatusActive, To: StatusRedeemed, RedeemedBy: in.ClaimantID, Token: in.IdempotencyKey}
	)
	if in.VenueID != "" {
		dest, err = s.venues.Get(ctx, in.VenueID)
		if err != nil {
			if errors.Is(err, venue.ErrVenueNotFound) {
				return RedeemResult{}, ErrUnknownVenue
			}
			return RedeemResult{}, fmt.Errorf("%w: venue lookup: %v", ErrLedgerFailure, err)
		}
		t.VenueID = dest.ID
		t.Account = dest.AccountCode
		t.Commission = money.Commission(rec.Amount, dest.CommissionBps)
	}

	if t.VenueID == "" {
		w, err := s.wallets.EnsureForOwner(ctx, in.ClaimantID)
		if err != nil {
			return RedeemResult{}, fmt.Errorf("%w: claimant wallet: %v", ErrLedgerFailure, err)
		}
		t.Account = w.AccountCode
	}

	t.At = s.now()
	updated, ok, err := s.transition(ctx, rec, t, "redeem")
	if err != nil {
		return RedeemResult{}, err
	}
	if !ok {
		return s.resolved(ctx, updated, in)
	}

	if err := s.settle(ctx, &updated); err != nil {
		return RedeemResult{}, err
	}
	s.afterRedeem(ctx, updated, dest)
	return s.result(updated, dest), nil
}

// resolved handles a record that is no longer active. The only success path
// is resuming this claimant's own interrupted attempt.
func (s *Service) resolved(ctx context.Context, rec Record, in RedeemInput) (RedeemResult, error) {
	switch rec.Status {
	case StatusRedeemed:
		if rec.RedeemedBy != in.ClaimantID || rec.RedeemToken != in.IdempotencyKey {
			return RedeemResult{}, ErrAlreadyRedeemed
		}
		wasSettled := rec.SettledAt != nil
		if err := s.settle(ctx, &rec); err != nil {
			return RedeemResult{}, err
		}
		dest := s.redeemVenue(ctx, rec)
		if !wasSettled {
			s.afterRedeem(ctx, rec, dest)
		}
		return s.result(rec, dest), nil
	case StatusExpired:
		if rec.SettledAt == nil {
			if err := s.settle(ctx, &rec); err != nil {
				s.logger.Warn("expired record settlement deferred", slog.String("record_id", rec.ID), slog.Any("error", err))
			}
		}
		return RedeemResult{}, ErrExpired
	default:
		return RedeemResult{}, statusError(rec.Status)
	}
}

// redeemVenue loads the venue a record was redeemed at, if any. A failed
// lookup only costs the venue name in messages.
func (s *Service) redeemVenue(ctx context.Context, rec Record) venue.Venue {
	if rec.RedeemVenueID == "" {
		return venue.Venue{}
	}
	v, err := s.venues.Get(ctx, rec.RedeemVenueID)
	if err != nil {
		s.logger.Warn("redeem venue lookup failed", slog.String("record_id", rec.ID), slog.Any("error", err))
		return venue.Venue{}
	}
	return v
}

func (s *Service) afterRedeem(ctx context.Context, rec Record, dest venue.Venue) {
	if rec.RedeemVenueID != "" && s.payouts != nil {
		s.payouts.Initiate(payout.Request{
			RecordID:       rec.ID,
			VenueID:        rec.RedeemVenueID,
			VenueAccountID: rec.RedeemAccount,
			Amount:         rec.Amount - rec.Commission,
		})
	}
	if s.dispatcher == nil {
		return
	}
	sender, err := s.identities.Get(ctx, rec.SenderID)
	if err != nil {
		return
	}
	dst := sender.Phone
	if dst == "" {
		dst = sender.Email
	}
	s.dispatch(notification.Message{
		Kind:        notification.KindRedeemed,
		RecordID:    rec.ID,
		Destination: dst,
		Amount:      rec.Amount,
		Currency:    rec.Currency,
		VenueName:   dest.Name,
	})
}

func (s *Service) result(rec Record, dest venue.Venue) RedeemResult {
	res := RedeemResult{
		RecordID:               rec.ID,
		Amount:                 rec.Amount,
		Commission:             rec.Commission,
		NetAmount:              rec.Amount - rec.Commission,
		Currency:               rec.Currency,
		Destination:            DestinationWallet,
		DestinationDescription: "credited to your wallet",
	}
	if rec.RedeemedAt != nil {
		res.RedeemedAt = *rec.RedeemedAt
	}
	if rec.RedeemVenueID != "" {
		res.Destination = DestinationVenue
		res.VenueID = rec.RedeemVenueID
		name := dest.Name
		if name == "" {
			name = "venue"
		}
		res.DestinationDescription = fmt.Sprintf("paid to %s", name)
	}
	return res
}
