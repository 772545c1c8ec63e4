package escrow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Records are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]*Record
	activeCodes map[string]string
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]*Record),
		activeCodes: make(map[string]string),
	}
}

func clone(r *Record) Record {
	c := *r
	if r.RedeemedAt != nil {
		t := *r.RedeemedAt
		c.RedeemedAt = &t
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	if r.SettledAt != nil {
		t := *r.SettledAt
		c.SettledAt = &t
	}
	return c
}

func (s *MemoryStore) Insert(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.activeCodes[r.Code]; taken && r.Status == StatusActive {
		return ErrCodeInUse
	}
	c := clone(&r)
	s.records[r.ID] = &c
	if r.Status == StatusActive {
		s.activeCodes[r.Code] = r.ID
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return clone(r), nil
}

func (s *MemoryStore) GetByCode(_ context.Context, code string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.activeCodes[code]; ok {
		return clone(s.records[id]), nil
	}
	var latest *Record
	for _, r := range s.records {
		if r.Code == code && (latest == nil || r.CreatedAt.After(latest.CreatedAt)) {
			latest = r
		}
	}
	if latest == nil {
		return Record{}, ErrNotFound
	}
	return clone(latest), nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, t Transition) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, false, ErrNotFound
	}
	if r.Status != t.From || !CanTransition(t.From, t.To) {
		return clone(r), false, nil
	}
	t.apply(r)
	if s.activeCodes[r.Code] == r.ID {
		delete(s.activeCodes, r.Code)
	}
	return clone(r), true, nil
}

func (s *MemoryStore) MarkSettled(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if r.SettledAt == nil {
		t := at
		r.SettledAt = &t
		r.UpdatedAt = at
	}
	return nil
}

func (s *MemoryStore) list(match func(*Record) bool, less func(a, b *Record) bool, limit int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []*Record
	for _, r := range s.records {
		if match(r) {
			hits = append(hits, r)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return less(hits[i], hits[j]) })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Record, 0, len(hits))
	for _, r := range hits {
		out = append(out, clone(r))
	}
	return out
}

func oldestExpiry(a, b *Record) bool { return a.ExpiresAt.Before(b.ExpiresAt) }
func newestFirst(a, b *Record) bool  { return a.CreatedAt.After(b.CreatedAt) }

func (s *MemoryStore) ListExpired(_ context.Context, before time.Time, limit int) ([]Record, error) {
	return s.list(func(r *Record) bool {
		return r.Status == StatusActive && r.ExpiresAt.Before(before)
	}, oldestExpiry, limit), nil
}

func (s *MemoryStore) ListUnsettled(_ context.Context, before time.Time, limit int) ([]Record, error) {
	return s.list(func(r *Record) bool {
		return r.Status.Terminal() && r.SettledAt == nil && r.UpdatedAt.Before(before)
	}, func(a, b *Record) bool { return a.UpdatedAt.Before(b.UpdatedAt) }, limit), nil
}

func (s *MemoryStore) ListBySender(_ context.Context, senderID string, limit int) ([]Record, error) {
	return s.list(func(r *Record) bool { return r.SenderID == senderID }, newestFirst, limit), nil
}

func (s *MemoryStore) ListByClaimants(_ context.Context, claimantIDs []string, limit int) ([]Record, error) {
	ids := make(map[string]struct{}, len(claimantIDs))
	for _, id := range claimantIDs {
		ids[id] = struct{}{}
	}
	return s.list(func(r *Record) bool {
		_, ok := ids[r.ClaimantID]
		return ok
	}, newestFirst, limit), nil
}
