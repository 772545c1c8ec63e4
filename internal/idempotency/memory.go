package idempotency

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	requestHash string
	status      string
	response    []byte
	updatedAt   time.Time
	expiresAt   time.Time
}

// MemoryStore is an in-process Store for tests and development mode.
type MemoryStore struct {
	mu      sync.Mutex
	opts    Options
	entries map[string]*memEntry
	now     func() time.Time
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		entries: make(map[string]*memEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func memKey(scope, key string) string { return scope + "\x00" + key }

func (s *MemoryStore) Acquire(_ context.Context, scope, key, requestHash string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	k := memKey(scope, key)
	e, ok := s.entries[k]
	if ok && e.expiresAt.Before(now) && e.status == statusCompleted {
		delete(s.entries, k)
		ok = false
	}
	if !ok {
		s.entries[k] = &memEntry{
			requestHash: requestHash,
			status:      statusProcessing,
			updatedAt:   now,
			expiresAt:   now.Add(s.opts.TTL),
		}
		return nil, true, nil
	}

	if e.requestHash != requestHash {
		return nil, false, ErrConflict
	}
	if e.status == statusCompleted {
		return append([]byte(nil), e.response...), false, nil
	}
	if e.updatedAt.Before(now.Add(-s.opts.StaleWindow)) || e.expiresAt.Before(now) {
		e.updatedAt = now
		e.expiresAt = now.Add(s.opts.TTL)
		return nil, true, nil
	}
	return nil, false, ErrInProgress
}

func (s *MemoryStore) Complete(_ context.Context, scope, key string, response []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[memKey(scope, key)]
	if !ok || e.status != statusProcessing {
		return ErrNotHeld
	}
	e.status = statusCompleted
	e.response = append([]byte(nil), response...)
	e.updatedAt = s.now()
	return nil
}

func (s *MemoryStore) Release(_ context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey(scope, key)
	if e, ok := s.entries[k]; ok && e.status == statusProcessing {
		delete(s.entries, k)
	}
	return nil
}

// Purge removes completed entries past their retention.
func (s *MemoryStore) Purge(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for k, e := range s.entries {
		if e.status == statusCompleted && e.expiresAt.Before(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}
