package funding

import (
	"context"

	"github.com/google/uuid"
)

// Acquirer is a connector to an external card processor.
type Acquirer interface {
	AuthorizeCardIn(ctx context.Context, input CardInAuthorization) (AuthorizationDecision, error)
	AuthorizeCardOut(ctx context.Context, input CardOutAuthorization) (AuthorizationDecision, error)
}

// AuthorizationDecision is the acquirer's answer to an authorization.
type AuthorizationDecision struct {
	Reference string
	Approved  bool
}

// CardInAuthorization asks the acquirer to pull Amount from a card.
type CardInAuthorization struct {
	CardNumber string
	Expiry     string
	CVV        string
	Amount     int64
}

// CardOutAuthorization asks the acquirer to push Amount to a card.
type CardOutAuthorization struct {
	CardNumber string
	Amount     int64
}

// StaticAcquirer approves everything. It backs development and tests.
type StaticAcquirer struct{}

func (StaticAcquirer) AuthorizeCardIn(_ context.Context, _ CardInAuthorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: uuid.NewString(), Approved: true}, nil
}

func (StaticAcquirer) AuthorizeCardOut(_ context.Context, _ CardOutAuthorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: uuid.NewString(), Approved: true}, nil
}
