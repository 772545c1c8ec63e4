package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	tierZero        = "tier0"
	tierOne         = "tier1"
	tierPlaceholder = "placeholder"
)

// Service manages identity lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates a new Tier0 user and stores a hashed PIN.
func (s *Service) Register(ctx context.Context, creds Credentials) (User, error) {
	if len(creds.PIN) < 4 {
		return User{}, errors.New("PIN must be at least 4 digits")
	}
	contact := Contact{Phone: creds.Phone}.Normalize()
	if contact.Phone == "" {
		return User{}, errors.New("phone is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.PIN), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:          uuid.New().String(),
		Phone:       contact.Phone,
		Email:       Contact{Email: creds.Email}.Normalize().Email,
		DisplayName: creds.DisplayName,
		Tier:        tierZero,
		PINHash:     hash,
		DeviceID:    creds.DeviceID,
		CreatedAt:   s.now(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	return user, nil
}

// Authenticate verifies credentials and device binding.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByPhone(ctx, Contact{Phone: creds.Phone}.Normalize().Phone)
	if err != nil {
		return User{}, err
	}
	if user.Placeholder {
		return User{}, ErrUserNotFound
	}

	if err := bcrypt.CompareHashAndPassword(user.PINHash, []byte(creds.PIN)); err != nil {
		return User{}, ErrInvalidPIN
	}

	if user.DeviceID == "" {
		if creds.DeviceID == "" {
			return User{}, errors.New("device binding required")
		}
		if err := s.repo.UpdateDevice(ctx, user.ID, creds.DeviceID); err != nil {
			return User{}, err
		}
		user.DeviceID = creds.DeviceID
	} else if creds.DeviceID != "" && user.DeviceID != creds.DeviceID {
		return User{}, ErrDeviceMismatch
	}

	if user.Tier == tierZero {
		user.Tier = tierOne
	}

	now := s.now()
	if err := s.repo.UpdateLastLogin(ctx, user.ID, now); err == nil {
		user.LastLogin = &now
	}

	return user, nil
}

// Get returns the user with the given id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// ResolveOrProvision returns the user addressed by contact. Unknown phone
// numbers and email addresses get a placeholder user; concurrent provisioning
// of the same contact converges on a single user.
func (s *Service) ResolveOrProvision(ctx context.Context, contact Contact) (User, error) {
	contact = contact.Normalize()
	if err := contact.Validate(); err != nil {
		return User{}, err
	}
	if contact.AccountID != "" {
		return s.repo.FindByID(ctx, contact.AccountID)
	}

	user, err := s.lookup(ctx, contact)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	placeholder := User{
		ID:          uuid.New().String(),
		Phone:       contact.Phone,
		Email:       contact.Email,
		Tier:        tierPlaceholder,
		Placeholder: true,
		CreatedAt:   s.now(),
	}
	err = s.repo.Create(ctx, placeholder)
	switch {
	case err == nil:
		return placeholder, nil
	case errors.Is(err, ErrUserExists):
		return s.lookup(ctx, contact)
	default:
		return User{}, fmt.Errorf("provision placeholder: %w", err)
	}
}

func (s *Service) lookup(ctx context.Context, contact Contact) (User, error) {
	if contact.Phone != "" {
		return s.repo.FindByPhone(ctx, contact.Phone)
	}
	return s.repo.FindByEmail(ctx, contact.Email)
}

// ClaimPlaceholder transfers ownership of a placeholder to the authenticated
// user. The user must hold the phone or email the placeholder was provisioned
// for. Claiming twice by the same user is a no-op.
func (s *Service) ClaimPlaceholder(ctx context.Context, placeholderID, userID string) (User, error) {
	placeholder, err := s.repo.FindByID(ctx, placeholderID)
	if err != nil {
		return User{}, err
	}
	if !placeholder.Placeholder {
		return User{}, ErrNotPlaceholder
	}
	if placeholder.ClaimedBy == userID {
		return placeholder, nil
	}
	if placeholder.ClaimedBy != "" {
		return User{}, ErrPlaceholderClaimed
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	phoneMatch := placeholder.Phone != "" && placeholder.Phone == user.Phone
	emailMatch := placeholder.Email != "" && placeholder.Email == user.Email
	if !phoneMatch && !emailMatch {
		return User{}, ErrContactMismatch
	}

	ok, err := s.repo.ClaimPlaceholder(ctx, placeholderID, userID)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, ErrPlaceholderClaimed
	}
	placeholder.ClaimedBy = userID
	return placeholder, nil
}

// ClaimPending claims every unclaimed placeholder provisioned for the
// user's phone number or email address.
func (s *Service) ClaimPending(ctx context.Context, userID string) ([]User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Placeholder {
		return nil, ErrUserNotFound
	}
	pending, err := s.repo.ListPlaceholders(ctx, user.Phone, user.Email)
	if err != nil {
		return nil, err
	}
	claimed := make([]User, 0, len(pending))
	for _, p := range pending {
		ok, err := s.repo.ClaimPlaceholder(ctx, p.ID, userID)
		if err != nil {
			return claimed, err
		}
		if ok {
			p.ClaimedBy = userID
			claimed = append(claimed, p)
		}
	}
	return claimed, nil
}

// ClaimedPlaceholderIDs lists the placeholders userID has claimed.
func (s *Service) ClaimedPlaceholderIDs(ctx context.Context, userID string) ([]string, error) {
	users, err := s.repo.ListClaimedBy(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}
