package auth

import (
	"context"
	"errors"
	"time"

	"github.com/congo-pay/escrowpay/internal/config"
	"github.com/congo-pay/escrowpay/internal/identity"
)

// ErrTokenRevoked means the token predates the user's last logout.
var ErrTokenRevoked = errors.New("token version invalidated")

// Service issues and revokes session tokens.
type Service struct {
	access  *Signer
	refresh *Signer
	idRepo  identity.Repository
}

// NewService builds a token service from config.
func NewService(cfg config.Config, idRepo identity.Repository) *Service {
	return &Service{
		access:  NewAccessSigner(cfg.JWTSecret, cfg.AccessTokenTTL),
		refresh: NewRefreshSigner(cfg.RefreshSecret, cfg.RefreshTokenTTL),
		idRepo:  idRepo,
	}
}

// TokenPair is returned on login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues tokens for an already authenticated user.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	access, accessExp, err := s.access.Sign(user.ID, user.Tier, user.TokenVersion)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := s.refresh.Sign(user.ID, user.Tier, user.TokenVersion)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(time.Until(accessExp).Seconds())}, nil
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := s.refresh.Parse(refreshToken)
	if err != nil {
		return "", 0, err
	}
	user, err := s.current(ctx, claims)
	if err != nil {
		return "", 0, err
	}
	signed, exp, err := s.access.Sign(user.ID, user.Tier, user.TokenVersion)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(time.Until(exp).Seconds()), nil
}

// Verify checks an access token and that it has not been revoked.
func (s *Service) Verify(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := s.access.Parse(accessToken)
	if err != nil {
		return nil, err
	}
	if _, err := s.current(ctx, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Service) current(ctx context.Context, claims *Claims) (identity.User, error) {
	user, err := s.idRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return identity.User{}, ErrInvalidToken
	}
	if user.Placeholder || user.TokenVersion != claims.Version {
		return identity.User{}, ErrTokenRevoked
	}
	return user, nil
}

// Logout increments token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.idRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.idRepo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}
