package escrow

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("escrow record not found")

	// ErrAlreadyResolved is the root of every "record is no longer active"
	// failure except expiry.
	ErrAlreadyResolved = errors.New("escrow already resolved")
	ErrAlreadyRedeemed = fmt.Errorf("%w: code already used", ErrAlreadyResolved)
	ErrNoLongerValid   = fmt.Errorf("%w: no longer valid", ErrAlreadyResolved)

	ErrExpired                 = errors.New("escrow expired")
	ErrVenueMismatch           = errors.New("code can only be redeemed at the designated venue")
	ErrUnknownVenue            = errors.New("venue not found")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInvalidRequest          = errors.New("invalid escrow request")
	ErrCodeGenerationExhausted = errors.New("could not allocate a unique redemption code")

	// ErrLedgerFailure covers transient storage and ledger failures. It is
	// safe to retry and is never cached.
	ErrLedgerFailure = errors.New("ledger temporarily unavailable")

	ErrInProgress          = errors.New("redemption already in progress")
	ErrIdempotencyConflict = errors.New("idempotency key reused for a different redemption")

	// ErrCodeInUse is returned by Store.Insert when an active record already
	// holds the code.
	ErrCodeInUse = errors.New("redemption code in use")
)

// Stable machine codes; they appear in API responses and in the durable
// idempotency cache, so renaming one breaks replay of stored outcomes.
const (
	codeNotFound        = "not_found"
	codeAlreadyRedeemed = "already_redeemed"
	codeNoLongerValid   = "no_longer_valid"
	codeAlreadyResolved = "already_resolved"
	codeExpired         = "expired"
	codeVenueMismatch   = "venue_mismatch"
	codeUnknownVenue    = "unknown_venue"
	codeInsufficient    = "insufficient_funds"
	codeInvalidRequest  = "invalid_request"
	codeExhausted       = "code_generation_exhausted"
	codeLedgerFailure   = "ledger_failure"
	codeInProgress      = "in_progress"
	codeIdemConflict    = "idempotency_conflict"
	codeInternal        = "internal"
)

var codedErrors = []struct {
	err  error
	code string
}{
	{ErrAlreadyRedeemed, codeAlreadyRedeemed},
	{ErrNoLongerValid, codeNoLongerValid},
	{ErrAlreadyResolved, codeAlreadyResolved},
	{ErrNotFound, codeNotFound},
	{ErrExpired, codeExpired},
	{ErrVenueMismatch, codeVenueMismatch},
	{ErrUnknownVenue, codeUnknownVenue},
	{ErrInsufficientFunds, codeInsufficient},
	{ErrInvalidRequest, codeInvalidRequest},
	{ErrCodeGenerationExhausted, codeExhausted},
	{ErrLedgerFailure, codeLedgerFailure},
	{ErrInProgress, codeInProgress},
	{ErrIdempotencyConflict, codeIdemConflict},
}

// ErrorCode maps err to its stable machine code.
func ErrorCode(err error) string {
	for _, c := range codedErrors {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return codeInternal
}

func errorFromCode(code string) error {
	for _, c := range codedErrors {
		if c.code == code {
			return c.err
		}
	}
	return fmt.Errorf("%w: unknown stored outcome %q", ErrLedgerFailure, code)
}

// cacheable reports whether a redemption failure is terminal for the
// request and may be replayed from the idempotency store.
func cacheable(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrVenueMismatch),
		errors.Is(err, ErrUnknownVenue):
		return true
	}
	return false
}
