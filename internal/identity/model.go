package identity

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user exists")
	ErrInvalidContact     = errors.New("contact must carry exactly one of account id, phone or email")
	ErrNotPlaceholder     = errors.New("user is not a placeholder")
	ErrPlaceholderClaimed = errors.New("placeholder already claimed")
	ErrContactMismatch    = errors.New("placeholder contact does not match user")
	ErrInvalidPIN         = errors.New("invalid PIN")
	ErrDeviceMismatch     = errors.New("device mismatch")
)

// User represents a wallet owner. Placeholder users are provisioned for
// recipients who have no account yet and are later claimed by a real user.
type User struct {
	ID           string
	Phone        string
	Email        string
	DisplayName  string
	Tier         string
	PINHash      []byte
	DeviceID     string
	Placeholder  bool
	ClaimedBy    string
	TokenVersion int
	LastLogin    *time.Time
	CreatedAt    time.Time
}

// Name is what a recipient sees for this user.
func (u User) Name() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Phone != "":
		return u.Phone
	default:
		return u.Email
	}
}

// Credentials request structure.
type Credentials struct {
	Phone       string
	PIN         string
	DeviceID    string
	Email       string
	DisplayName string
}

// Contact addresses a recipient by exactly one of its fields.
type Contact struct {
	AccountID string
	Phone     string
	Email     string
}

// Normalize trims the contact and lower-cases email addresses.
func (c Contact) Normalize() Contact {
	return Contact{
		AccountID: strings.TrimSpace(c.AccountID),
		Phone:     strings.ReplaceAll(strings.TrimSpace(c.Phone), " ", ""),
		Email:     strings.ToLower(strings.TrimSpace(c.Email)),
	}
}

// Validate reports ErrInvalidContact unless exactly one field is set.
func (c Contact) Validate() error {
	n := 0
	for _, v := range []string{c.AccountID, c.Phone, c.Email} {
		if v != "" {
			n++
		}
	}
	if n != 1 {
		return ErrInvalidContact
	}
	if c.Email != "" && !strings.Contains(c.Email, "@") {
		return ErrInvalidContact
	}
	return nil
}

// Destination is where a notification for this contact should go.
func (c Contact) Destination() string {
	if c.Phone != "" {
		return c.Phone
	}
	return c.Email
}
