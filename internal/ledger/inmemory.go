package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memAccount struct {
	system    bool
	buckets   map[Bucket]int64
	updatedAt time.Time
}

type inMemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*memAccount
	transactions map[string]Result
	entries      []Entry
}

// NewInMemoryStore creates a concurrency-safe in-memory ledger backend useful
// for unit tests and development mode.
func NewInMemoryStore() Store {
	return &inMemoryStore{
		accounts:     make(map[string]*memAccount),
		transactions: make(map[string]Result),
	}
}

// NewInMemory builds a Ledger over a fresh in-memory store.
func NewInMemory() *Ledger {
	return New(NewInMemoryStore())
}

func (s *inMemoryStore) EnsureAccount(_ context.Context, code string, system bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[code]; !exists {
		s.accounts[code] = &memAccount{system: system, buckets: make(map[Bucket]int64), updatedAt: time.Now().UTC()}
	}
	return nil
}

func (s *inMemoryStore) Balance(_ context.Context, code string) (Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, exists := s.accounts[code]
	if !exists {
		return Balance{}, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	return Balance{
		Account:   code,
		Available: acct.buckets[BucketAvailable],
		Escrow:    acct.buckets[BucketEscrow],
		Payout:    acct.buckets[BucketPayout],
		UpdatedAt: acct.updatedAt,
	}, nil
}

func (s *inMemoryStore) Post(ctx context.Context, tx Transaction) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tx.Reason + ":" + tx.Reference
	if res, exists := s.transactions[key]; exists {
		return res, ErrDuplicateTransaction
	}

	type slot struct {
		account string
		bucket  Bucket
	}
	deltas := make(map[slot]int64, len(tx.Legs))
	for _, leg := range tx.Legs {
		if _, ok := s.accounts[leg.Account]; !ok {
			return Result{}, fmt.Errorf("%w: %s", ErrAccountNotFound, leg.Account)
		}
		deltas[slot{leg.Account, leg.Bucket}] += leg.Amount
	}

	for sl, delta := range deltas {
		acct := s.accounts[sl.account]
		if !acct.system && acct.buckets[sl.bucket]+delta < 0 {
			return Result{}, ErrInsufficientFunds
		}
	}

	now := time.Now().UTC()
	res := Result{TransactionID: uuid.NewString(), PostedAt: now}
	for sl, delta := range deltas {
		acct := s.accounts[sl.account]
		acct.buckets[sl.bucket] += delta
		acct.updatedAt = now
	}
	for _, leg := range tx.Legs {
		s.entries = append(s.entries, Entry{
			ID:            uuid.NewString(),
			TransactionID: res.TransactionID,
			Account:       leg.Account,
			Bucket:        leg.Bucket,
			Amount:        leg.Amount,
			Reason:        tx.Reason,
			Reference:     tx.Reference,
			Source:        tx.Source,
			Destination:   tx.Destination,
			CreatedAt:     now,
		})
	}
	s.transactions[key] = res
	return res, nil
}

func (s *inMemoryStore) Entries(_ context.Context, code string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].Account == code {
			out = append(out, s.entries[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
