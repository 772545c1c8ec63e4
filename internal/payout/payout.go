// Package payout initiates external settlement of venue payout balances.
package payout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/congo-pay/escrowpay/internal/metrics"
	"github.com/congo-pay/escrowpay/internal/money"
)

// ErrRejected marks a processor refusal that retrying cannot fix.
var ErrRejected = errors.New("payout rejected")

// Processor represents a connector to the external payout processor.
type Processor interface {
	InitiatePayout(ctx context.Context, req Request) (string, error)
}

// Request is one payout instruction. RecordID doubles as the processor-side
// idempotency reference.
type Request struct {
	RecordID       string
	VenueID        string
	VenueAccountID string
	Amount         int64
}

// StaticProcessor simulates a processor that accepts every payout.
type StaticProcessor struct{}

// InitiatePayout returns a synthetic reference.
func (StaticProcessor) InitiatePayout(_ context.Context, _ Request) (string, error) {
	return uuid.NewString(), nil
}

// Settler calls the processor in the background with exponential backoff.
// A failure is logged and counted; it never reverses the ledger.
type Settler struct {
	processor  Processor
	logger     *slog.Logger
	maxElapsed time.Duration
	wg         sync.WaitGroup
}

// NewSettler wires a processor.
func NewSettler(processor Processor, logger *slog.Logger) *Settler {
	return &Settler{processor: processor, logger: logger, maxElapsed: 2 * time.Minute}
}

// WithMaxElapsed bounds the total retry time per payout.
func (s *Settler) WithMaxElapsed(d time.Duration) *Settler {
	s.maxElapsed = d
	return s
}

// Initiate schedules req without blocking the caller.
func (s *Settler) Initiate(req Request) {
	if s == nil || s.processor == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ref, err := s.run(req)
		attrs := []any{
			slog.String("record_id", req.RecordID),
			slog.String("venue_id", req.VenueID),
			slog.String("amount", money.Format(req.Amount)),
		}
		if err != nil {
			s.logger.Error("payout initiation failed", append(attrs, slog.Any("error", err))...)
			metrics.SideEffectsTotal.WithLabelValues("payout", "failed").Inc()
			return
		}
		s.logger.Info("payout initiated", append(attrs, slog.String("reference", ref))...)
		metrics.SideEffectsTotal.WithLabelValues("payout", "initiated").Inc()
	}()
}

func (s *Settler) run(req Request) (ref string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.maxElapsed)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = errors.New("payout processor panicked")
		}
	}()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = s.maxElapsed

	op := func() error {
		var opErr error
		ref, opErr = s.processor.InitiatePayout(ctx, req)
		if errors.Is(opErr, ErrRejected) {
			return backoff.Permanent(opErr)
		}
		return opErr
	}
	err = backoff.Retry(op, backoff.WithContext(policy, ctx))
	return ref, err
}

// Wait blocks until in-flight payouts finish or ctx is done.
func (s *Settler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
