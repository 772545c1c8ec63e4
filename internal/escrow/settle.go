package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/congo-pay/escrowpay/internal/ledger"
	"github.com/congo-pay/escrowpay/internal/metrics"
	"github.com/congo-pay/escrowpay/internal/notification"
)

// transition applies t through the store's conditional update. The returned
// record is the post-transition state when ok, otherwise the current state
// the loser observed.
func (s *Service) transition(ctx context.Context, rec Record, t Transition, trigger string) (Record, bool, error) {
	updated, ok, err := s.store.Transition(ctx, rec.ID, t)
	if err != nil {
		return Record{}, false, s.storeFailure(err)
	}
	if ok {
		metrics.EscrowTransitionsTotal.WithLabelValues(string(t.To), trigger).Inc()
		s.logger.Info("escrow transitioned",
			slog.String("record_id", rec.ID),
			slog.String("status", string(t.To)),
			slog.String("trigger", trigger))
	}
	return updated, ok, nil
}

// expire moves an overdue active record to expired and returns the funds to
// the sender. Losing the race to a concurrent resolution yields the matching
// status error.
func (s *Service) expire(ctx context.Context, rec Record, trigger string) (Record, error) {
	updated, ok, err := s.transition(ctx, rec, Transition{From: StatusActive, To: StatusExpired, At: s.now()}, trigger)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		if updated.Status == StatusExpired {
			return updated, nil
		}
		return updated, statusError(updated.Status)
	}
	if err := s.settle(ctx, &updated); err != nil {
		return updated, err
	}
	s.dispatchRefund(ctx, updated)
	return updated, nil
}

// settle posts the ledger movement owed by a terminal record and marks it
// settled. Postings are keyed on the record id, so re-running settle after a
// crash never moves money twice.
func (s *Service) settle(ctx context.Context, rec *Record) error {
	if rec.SettledAt != nil || !rec.Status.Terminal() {
		return nil
	}

	var err error
	switch rec.Status {
	case StatusRedeemed:
		if rec.RedeemVenueID != "" {
			_, err = s.ledger.MoveEscrowToExternalPayout(ctx, ledger.PayoutMove{
				From:              rec.SenderAccount,
				Venue:             rec.RedeemAccount,
				CommissionAccount: s.commissionAccount,
				Amount:            rec.Amount,
				Commission:        rec.Commission,
				Reason:            reasonRedeem,
				Reference:         rec.ID,
			})
		} else {
			_, err = s.ledger.MoveEscrowToAvailable(ctx, ledger.Move{
				From:      rec.SenderAccount,
				To:        rec.RedeemAccount,
				Amount:    rec.Amount,
				Reason:    reasonRedeem,
				Reference: rec.ID,
			})
		}
	case StatusExpired, StatusCancelled:
		reason := reasonExpire
		if rec.Status == StatusCancelled {
			reason = reasonCancel
		}
		_, err = s.ledger.MoveEscrowToAvailable(ctx, ledger.Move{
			From:      rec.SenderAccount,
			To:        rec.SenderAccount,
			Amount:    rec.Amount,
			Reason:    reason,
			Reference: rec.ID,
		})
	}
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		s.logger.Error("escrow settlement failed",
			slog.String("record_id", rec.ID),
			slog.String("status", string(rec.Status)),
			slog.Any("error", err))
		return fmt.Errorf("%w: settle %s: %v", ErrLedgerFailure, rec.Status, err)
	}

	at := s.now()
	if err := s.store.MarkSettled(ctx, rec.ID, at); err != nil {
		// The posting is committed; the reconciler will mark it later.
		s.logger.Warn("mark settled failed", slog.String("record_id", rec.ID), slog.Any("error", err))
		return nil
	}
	rec.SettledAt = &at
	return nil
}

func (s *Service) dispatchRefund(ctx context.Context, rec Record) {
	if s.dispatcher == nil {
		return
	}
	sender, err := s.identities.Get(ctx, rec.SenderID)
	if err != nil {
		return
	}
	dest := sender.Phone
	if dest == "" {
		dest = sender.Email
	}
	s.dispatch(notification.Message{
		Kind:        notification.KindRefunded,
		RecordID:    rec.ID,
		Destination: dest,
		Amount:      rec.Amount,
		Currency:    rec.Currency,
	})
}
