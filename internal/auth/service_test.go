package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/congo-pay/escrowpay/internal/config"
	"github.com/congo-pay/escrowpay/internal/identity"
)

func setup(t *testing.T) (*Service, *identity.Service, identity.User) {
	t.Helper()
	repo := identity.NewMemoryRepository()
	ids := identity.NewService(repo)
	user, err := ids.Register(context.Background(), identity.Credentials{Phone: "+242060000001", PIN: "1234", DeviceID: "d1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	cfg := config.Config{
		JWTSecret:       "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	}
	return NewService(cfg, repo), ids, user
}

func TestLoginVerifyRefresh(t *testing.T) {
	svc, _, user := setup(t)
	ctx := context.Background()

	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.ExpiresIn <= 0 || pair.ExpiresIn > int64((15*time.Minute).Seconds()) {
		t.Fatalf("unexpected expires_in %d", pair.ExpiresIn)
	}

	claims, err := svc.Verify(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != user.ID || claims.Version != 0 {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := svc.Verify(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token must not pass as access token, got %v", err)
	}

	access, _, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := svc.Verify(ctx, access); err != nil {
		t.Fatalf("refreshed token invalid: %v", err)
	}
}

func TestLogoutRevokesTokens(t *testing.T) {
	svc, _, user := setup(t)
	ctx := context.Background()
	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := svc.Logout(ctx, user.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Verify(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked access token, got %v", err)
	}
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked refresh token, got %v", err)
	}
}

func TestSignerRejectsTamperedAndExpiredTokens(t *testing.T) {
	s := NewAccessSigner("secret", time.Minute)
	token, _, err := s.Sign("user-1", "tier1", 3)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewAccessSigner("other", time.Minute).Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := s.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestVerifyRejectsUnknownUser(t *testing.T) {
	svc, _, _ := setup(t)
	token, _, err := svc.access.Sign("2f1d8a8e-5a8b-4e4e-9d0e-3b7d1f0f0c11", "tier1", 0)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}
