package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/congo-pay/escrowpay/internal/identity"
	"github.com/congo-pay/escrowpay/internal/idempotency"
	"github.com/congo-pay/escrowpay/internal/ledger"
	"github.com/congo-pay/escrowpay/internal/logging"
	"github.com/congo-pay/escrowpay/internal/notification"
	"github.com/congo-pay/escrowpay/internal/payout"
	"github.com/congo-pay/escrowpay/internal/venue"
	"github.com/congo-pay/escrowpay/internal/wallet"
)

const testCommissionAccount = "platform:commission"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// flakyStore fails the next N postings carrying a given reason, the way a
// dropped database connection would.
type flakyStore struct {
	ledger.Store
	mu   sync.Mutex
	fail map[string]int
}

func (f *flakyStore) failNext(reason string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[reason] += n
}

func (f *flakyStore) Post(ctx context.Context, tx ledger.Transaction) (ledger.Result, error) {
	f.mu.Lock()
	if f.fail[tx.Reason] > 0 {
		f.fail[tx.Reason]--
		f.mu.Unlock()
		return ledger.Result{}, errors.New("connection reset by peer")
	}
	f.mu.Unlock()
	return f.Store.Post(ctx, tx)
}

// hookedStore lets a test intercept record writes.
type hookedStore struct {
	*MemoryStore
	mu               sync.Mutex
	insertHook       func(insert func() error) error
	beforeTransition func(id string, t Transition)
}

func (s *hookedStore) Insert(ctx context.Context, r Record) error {
	s.mu.Lock()
	hook := s.insertHook
	s.mu.Unlock()
	insert := func() error { return s.MemoryStore.Insert(ctx, r) }
	if hook != nil {
		return hook(insert)
	}
	return insert()
}

func (s *hookedStore) Transition(ctx context.Context, id string, t Transition) (Record, bool, error) {
	s.mu.Lock()
	hook := s.beforeTransition
	s.beforeTransition = nil
	s.mu.Unlock()
	if hook != nil {
		hook(id, t)
	}
	return s.MemoryStore.Transition(ctx, id, t)
}

// onInsert routes every subsequent insert through fn.
func (s *hookedStore) onInsert(fn func(insert func() error) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertHook = fn
}

// onceBeforeTransition runs fn ahead of the next conditional update only.
func (s *hookedStore) onceBeforeTransition(fn func(id string, t Transition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeTransition = fn
}

type recordingDispatcher struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (d *recordingDispatcher) Dispatch(m notification.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, m)
}

func (d *recordingDispatcher) ofKind(kind string) []notification.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []notification.Message
	for _, m := range d.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type recordingPayouts struct {
	mu       sync.Mutex
	requests []payout.Request
}

func (p *recordingPayouts) Initiate(req payout.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
}

func (p *recordingPayouts) all() []payout.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]payout.Request(nil), p.requests...)
}

type harness struct {
	svc        *Service
	store      *MemoryStore
	hooks      *hookedStore
	ledger     *ledger.Ledger
	flaky      *flakyStore
	ids        *identity.Service
	wallets    *wallet.Service
	venues     *venue.Service
	idem       *idempotency.MemoryStore
	clock      *fakeClock
	dispatcher *recordingDispatcher
	payouts    *recordingPayouts

	genMu sync.Mutex
	gen   CodeGenerator
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, idempotency.Options{})
}

func newHarnessWith(t *testing.T, idemOpts idempotency.Options) *harness {
	t.Helper()
	flaky := &flakyStore{Store: ledger.NewInMemoryStore(), fail: map[string]int{}}
	l := ledger.New(flaky)
	require.NoError(t, l.EnsureSystemAccount(context.Background(), testCommissionAccount))

	wallets := wallet.NewService(wallet.NewMemoryRepository(), l)
	h := &harness{
		store:      NewMemoryStore(),
		ledger:     l,
		flaky:      flaky,
		ids:        identity.NewService(identity.NewMemoryRepository()),
		wallets:    wallets,
		venues:     venue.NewService(venue.NewMemoryRepository(), wallets),
		idem:       idempotency.NewMemoryStore(idemOpts),
		clock:      &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		dispatcher: &recordingDispatcher{},
		payouts:    &recordingPayouts{},
	}
	h.hooks = &hookedStore{MemoryStore: h.store}
	h.svc = NewService(Deps{
		Store:       h.hooks,
		Ledger:      l,
		Idempotency: h.idem,
		Identities:  h.ids,
		Wallets:     wallets,
		Venues:      h.venues,
		Dispatcher:  h.dispatcher,
		Payouts:     h.payouts,
		Logger:      logging.Discard(),
	}, Options{
		TTL:               DefaultTTL,
		CommissionAccount: testCommissionAccount,
		Currency:          "XAF",
		Now:               h.clock.Now,
		GenerateCode:      h.generate,
	})
	return h
}

func (h *harness) generate() (string, error) {
	h.genMu.Lock()
	gen := h.gen
	h.genMu.Unlock()
	if gen == nil {
		return GenerateCode()
	}
	return gen()
}

func (h *harness) useCodes(codes ...string) {
	h.genMu.Lock()
	defer h.genMu.Unlock()
	i := 0
	h.gen = func() (string, error) {
		c := codes[i%len(codes)]
		i++
		return c, nil
	}
}

func (h *harness) user(t *testing.T, phone string, funds int64) identity.User {
	t.Helper()
	ctx := context.Background()
	u, err := h.ids.Register(ctx, identity.Credentials{Phone: phone, PIN: "4321", DeviceID: "device-" + phone})
	require.NoError(t, err)
	if funds > 0 {
		w, err := h.wallets.EnsureForOwner(ctx, u.ID)
		require.NoError(t, err)
		ledger.SeedBalance(h.ledger, w.AccountCode, funds)
	}
	return u
}

func (h *harness) balance(t *testing.T, ownerID string) ledger.Balance {
	t.Helper()
	ctx := context.Background()
	w, err := h.wallets.EnsureForOwner(ctx, ownerID)
	require.NoError(t, err)
	b, err := h.ledger.Balance(ctx, w.AccountCode)
	require.NoError(t, err)
	return b
}

func (h *harness) accountBalance(t *testing.T, code string) ledger.Balance {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), code)
	require.NoError(t, err)
	return b
}

func (h *harness) send(t *testing.T, sender identity.User, phone string, amount int64) SendResult {
	t.Helper()
	res, err := h.svc.Send(context.Background(), SendInput{
		SenderID: sender.ID,
		Claimant: identity.Contact{Phone: phone},
		Amount:   amount,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) record(t *testing.T, id string) Record {
	t.Helper()
	rec, err := h.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func (h *harness) redeem(claimant identity.User, code, key string) (RedeemResult, error) {
	return h.svc.Redeem(context.Background(), RedeemInput{ClaimantID: claimant.ID, Code: code, IdempotencyKey: key})
}
