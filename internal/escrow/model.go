// Package escrow holds money sent to a recipient until exactly one party
// redeems it with the code, the sender cancels it, or it expires.
package escrow

import "time"

// Status is the lifecycle state of a record.
type Status string

const (
	StatusActive    Status = "active"
	StatusRedeemed  Status = "redeemed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// DefaultTTL is how long a code stays redeemable.
const DefaultTTL = 90 * 24 * time.Hour

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// CanTransition reports whether from -> to is allowed. Only active records
// move, and only to a terminal status.
func CanTransition(from, to Status) bool {
	if from != StatusActive {
		return false
	}
	switch to {
	case StatusRedeemed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Record is one escrowed transfer. Amount, sender and code never change
// after creation; redemption fields are set only by the active -> redeemed
// transition.
type Record struct {
	ID              string
	SenderID        string
	SenderAccount   string
	ClaimantID      string
	ClaimantAccount string
	ClaimantContact string
	Amount          int64
	Currency        string
	Code            string
	VenueHint       string
	VenueOnly       bool
	Message         string
	Anonymous       bool
	Status          Status
	CreatedAt       time.Time
	ExpiresAt       time.Time

	RedeemedAt    *time.Time
	RedeemedBy    string
	RedeemVenueID string
	// RedeemAccount is the ledger account credited on redemption: the
	// redeemer's wallet or the venue's payout account.
	RedeemAccount string
	RedeemToken   string
	Commission    int64

	ResolvedAt *time.Time
	// SettledAt is set once the ledger posting for the terminal status has
	// committed.
	SettledAt *time.Time
	UpdatedAt time.Time
}

// Overdue reports whether the record is past its expiry at now.
func (r Record) Overdue(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Transition describes a conditional status change. Redemption fields are
// only applied when To is StatusRedeemed.
type Transition struct {
	From       Status
	To         Status
	At         time.Time
	RedeemedBy string
	VenueID    string
	Account    string
	Token      string
	Commission int64
}

func (t Transition) apply(r *Record) {
	r.Status = t.To
	at := t.At
	r.ResolvedAt = &at
	r.UpdatedAt = t.At
	if t.To == StatusRedeemed {
		r.RedeemedAt = &at
		r.RedeemedBy = t.RedeemedBy
		r.RedeemVenueID = t.VenueID
		r.RedeemAccount = t.Account
		r.RedeemToken = t.Token
		r.Commission = t.Commission
	}
}
