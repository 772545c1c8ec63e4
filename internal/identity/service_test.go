package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo)

	ctx := context.Background()
	user, err := svc.Register(ctx, Credentials{Phone: "+242 06 000 0000", PIN: "1234", DeviceID: "device-1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Phone != "+242060000000" {
		t.Fatalf("expected normalized phone, got %s", user.Phone)
	}
	if user.Tier != tierZero {
		t.Fatalf("expected tier0, got %s", user.Tier)
	}

	authed, err := svc.Authenticate(ctx, Credentials{Phone: user.Phone, PIN: "1234", DeviceID: "device-1"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.Tier != tierOne {
		t.Fatalf("expected promotion to tier1, got %s", authed.Tier)
	}
	if authed.LastLogin == nil {
		t.Fatal("expected last login to be recorded")
	}

	if _, err := svc.Authenticate(ctx, Credentials{Phone: user.Phone, PIN: "9999", DeviceID: "device-1"}); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected invalid PIN, got %v", err)
	}
}

func TestAuthenticateDeviceMismatch(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Register(ctx, Credentials{Phone: "123", PIN: "1234", DeviceID: "device-1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Authenticate(ctx, Credentials{Phone: "123", PIN: "1234", DeviceID: "device-2"}); !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("expected device mismatch error, got %v", err)
	}
}

func TestResolveOrProvisionReusesPlaceholder(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	first, err := svc.ResolveOrProvision(ctx, Contact{Phone: "+242069999999"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !first.Placeholder {
		t.Fatal("expected a placeholder for an unknown phone")
	}
	second, err := svc.ResolveOrProvision(ctx, Contact{Phone: "+242 06 999 9999"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected placeholder %s to be reused, got %s", first.ID, second.ID)
	}

	if _, err := svc.ResolveOrProvision(ctx, Contact{Phone: "+242069999999", Email: "a@b.cg"}); !errors.Is(err, ErrInvalidContact) {
		t.Fatalf("expected invalid contact, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, Credentials{Phone: "+242069999999", PIN: "1234"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("placeholders must not authenticate, got %v", err)
	}
}

func TestResolveOrProvisionConverges(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := svc.ResolveOrProvision(ctx, Contact{Email: "Friend@Example.com"})
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			ids[i] = u.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected a single placeholder, got %s and %s", ids[0], id)
		}
	}
}

func TestResolvePrefersRegisteredUser(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	placeholder, err := svc.ResolveOrProvision(ctx, Contact{Phone: "+242060000001"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	user, err := svc.Register(ctx, Credentials{Phone: "+242060000001", PIN: "1234", DeviceID: "d"})
	if err != nil {
		t.Fatalf("register over placeholder: %v", err)
	}
	resolved, err := svc.ResolveOrProvision(ctx, Contact{Phone: "+242060000001"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != user.ID || resolved.ID == placeholder.ID {
		t.Fatalf("expected registered user %s, got %s", user.ID, resolved.ID)
	}
}

func TestClaimPlaceholder(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	placeholder, err := svc.ResolveOrProvision(ctx, Contact{Phone: "+242060000001"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	owner, err := svc.Register(ctx, Credentials{Phone: "+242060000001", PIN: "1234", DeviceID: "d1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	other, err := svc.Register(ctx, Credentials{Phone: "+242060000002", PIN: "1234", DeviceID: "d2"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.ClaimPlaceholder(ctx, placeholder.ID, other.ID); !errors.Is(err, ErrContactMismatch) {
		t.Fatalf("expected contact mismatch, got %v", err)
	}
	if _, err := svc.ClaimPlaceholder(ctx, owner.ID, owner.ID); !errors.Is(err, ErrNotPlaceholder) {
		t.Fatalf("expected not placeholder, got %v", err)
	}

	claimed, err := svc.ClaimPlaceholder(ctx, placeholder.ID, owner.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ClaimedBy != owner.ID {
		t.Fatalf("expected claimed by %s, got %s", owner.ID, claimed.ClaimedBy)
	}
	if _, err := svc.ClaimPlaceholder(ctx, placeholder.ID, owner.ID); err != nil {
		t.Fatalf("repeat claim by owner must succeed: %v", err)
	}

	ids, err := svc.ClaimedPlaceholderIDs(ctx, owner.ID)
	if err != nil {
		t.Fatalf("list claimed: %v", err)
	}
	if len(ids) != 1 || ids[0] != placeholder.ID {
		t.Fatalf("expected [%s], got %v", placeholder.ID, ids)
	}
}

func TestClaimPending(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	byPhone, err := svc.ResolveOrProvision(ctx, Contact{Phone: "+242060000001"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	byEmail, err := svc.ResolveOrProvision(ctx, Contact{Email: "me@example.com"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if _, err := svc.ResolveOrProvision(ctx, Contact{Phone: "+242060000009"}); err != nil {
		t.Fatalf("provision: %v", err)
	}

	user, err := svc.Register(ctx, Credentials{Phone: "+242060000001", Email: "ME@example.com", PIN: "1234", DeviceID: "d"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	claimed, err := svc.ClaimPending(ctx, user.ID)
	if err != nil {
		t.Fatalf("claim pending: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed placeholders, got %d", len(claimed))
	}
	got := map[string]bool{claimed[0].ID: true, claimed[1].ID: true}
	if !got[byPhone.ID] || !got[byEmail.ID] {
		t.Fatalf("unexpected placeholders claimed: %v", got)
	}

	again, err := svc.ClaimPending(ctx, user.ID)
	if err != nil {
		t.Fatalf("claim pending again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected nothing left to claim, got %d", len(again))
	}
}
