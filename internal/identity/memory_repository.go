package identity

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository builds an in-memory user store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User)}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Placeholder != user.Placeholder {
			continue
		}
		if (user.Phone != "" && u.Phone == user.Phone) || (user.Email != "" && u.Email == user.Email) {
			return ErrUserExists
		}
	}
	if _, exists := r.users[user.ID]; exists {
		return ErrUserExists
	}
	r.users[user.ID] = user
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// find prefers a registered user over a placeholder sharing the contact.
func (r *memoryRepository) find(match func(User) bool) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		found User
		ok    bool
	)
	for _, u := range r.users {
		if !match(u) {
			continue
		}
		if !u.Placeholder {
			return u, nil
		}
		found, ok = u, true
	}
	if !ok {
		return User{}, ErrUserNotFound
	}
	return found, nil
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (User, error) {
	return r.find(func(u User) bool { return u.Phone == phone })
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (User, error) {
	return r.find(func(u User) bool { return u.Email == email })
}

func (r *memoryRepository) update(id string, fn func(*User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(&user)
	r.users[id] = user
	return nil
}

func (r *memoryRepository) UpdateDevice(_ context.Context, id, deviceID string) error {
	return r.update(id, func(u *User) { u.DeviceID = deviceID })
}

func (r *memoryRepository) UpdateTokenVersion(_ context.Context, id string, version int) error {
	return r.update(id, func(u *User) { u.TokenVersion = version })
}

func (r *memoryRepository) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *User) {
		t := at.UTC()
		u.LastLogin = &t
	})
}

func (r *memoryRepository) ClaimPlaceholder(_ context.Context, placeholderID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[placeholderID]
	if !ok {
		return false, ErrUserNotFound
	}
	if !user.Placeholder || user.ClaimedBy != "" {
		return false, nil
	}
	user.ClaimedBy = userID
	r.users[placeholderID] = user
	return true, nil
}

func (r *memoryRepository) ListClaimedBy(_ context.Context, userID string) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []User
	for _, u := range r.users {
		if u.ClaimedBy == userID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memoryRepository) ListPlaceholders(_ context.Context, phone, email string) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []User
	for _, u := range r.users {
		if !u.Placeholder || u.ClaimedBy != "" {
			continue
		}
		if (phone != "" && u.Phone == phone) || (email != "" && u.Email == email) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
