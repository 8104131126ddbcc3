package ads

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/jobads/internal/catalog"
)

// MemoryStore is an in-memory ad store for demo/development mode.
// A single mutex makes every method one atomic unit; writes are staged on
// copies and only published once every step has succeeded.
type MemoryStore struct {
	mu       sync.RWMutex
	ads      map[string]*Advertisement
	payments map[string]*Payment // by order id
	credits  map[string]int      // by account id
	jumps    map[string][]time.Time

	// fault, when set, is consulted before each write step. A non-nil
	// return aborts the unit of work with nothing published.
	fault func(step string) error
}

// NewMemoryStore creates a new in-memory ad store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ads:      make(map[string]*Advertisement),
		payments: make(map[string]*Payment),
		credits:  make(map[string]int),
		jumps:    make(map[string][]time.Time),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) step(name string) error {
	if m.fault == nil {
		return nil
	}
	return m.fault(name)
}

func (m *MemoryStore) Create(ctx context.Context, c *Creation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkCapacity(c); err != nil {
		return err
	}

	ad := cloneAd(c.Ad)
	if err := m.step("insert_ad"); err != nil {
		return &TransientError{Op: "create_ad", Err: err}
	}
	if err := m.step("insert_add_ons"); err != nil {
		return &TransientError{Op: "create_ad", Err: err}
	}

	var payment *Payment
	if c.Payment != nil {
		if err := m.step("insert_payment"); err != nil {
			return &TransientError{Op: "create_ad", Err: err}
		}
		payment = clonePayment(c.Payment)
	}

	balance := m.credits[ad.AccountID]
	if c.ConsumeCredit {
		if err := m.step("debit_credit"); err != nil {
			return &TransientError{Op: "create_ad", Err: err}
		}
		balance--
	}

	m.ads[ad.ID] = ad
	if payment != nil {
		m.payments[payment.OrderID] = payment
	}
	if c.ConsumeCredit {
		m.credits[ad.AccountID] = balance
	}
	return nil
}

// checkCapacity must be called with m.mu held.
func (m *MemoryStore) checkCapacity(c *Creation) error {
	var freeActive, paidOpen, tierOpen int
	for _, a := range m.ads {
		if a.Tier == c.Ad.Tier && a.Status.Open() {
			tierOpen++
		}
		if a.AccountID != c.Ad.AccountID {
			continue
		}
		switch {
		case a.Tier == catalog.TierFree && a.Status == StatusActive:
			freeActive++
		case a.Tier != catalog.TierFree && a.Status.Open():
			paidOpen++
		}
	}

	if c.Ad.Tier == catalog.TierFree {
		if freeActive > 0 {
			return capacity(ReasonFreeTierHeld)
		}
	} else {
		if paidOpen >= c.Caps.PaidOpen {
			return capacity(ReasonPaidCapReached)
		}
		if c.Caps.TierSlot > 0 && tierOpen >= c.Caps.TierSlot {
			return capacity(ReasonSoldOut)
		}
	}
	if c.ConsumeCredit && m.credits[c.Ad.AccountID] < 1 {
		return capacity(ReasonInsufficientCredit)
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Advertisement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.ads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAd(a), nil
}

func (m *MemoryStore) ListByAccount(ctx context.Context, accountID string) ([]*Advertisement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Advertisement
	for _, a := range m.ads {
		if a.AccountID == accountID {
			out = append(out, cloneAd(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListLive(ctx context.Context, accountID string, now time.Time) ([]*Advertisement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Advertisement
	for _, a := range m.ads {
		if a.AccountID == accountID && a.LiveAt(now) {
			out = append(out, cloneAd(a))
		}
	}
	return out, nil
}

func (m *MemoryStore) Holdings(ctx context.Context, accountID string) (*Holdings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := &Holdings{Credits: m.credits[accountID]}
	for _, a := range m.ads {
		if a.AccountID != accountID {
			continue
		}
		switch {
		case a.Tier == catalog.TierFree && a.Status == StatusActive:
			h.FreeActive++
		case a.Tier != catalog.TierFree && a.Status.Open():
			h.PaidOpen++
		}
	}
	return h, nil
}

func (m *MemoryStore) OpenInTier(ctx context.Context, tier catalog.TierID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, a := range m.ads {
		if a.Tier == tier && a.Status.Open() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, orderID string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePayment(p), nil
}

func (m *MemoryStore) Approve(ctx context.Context, orderID string, now time.Time) (*Advertisement, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[orderID]
	if !ok {
		return nil, false, ErrNotFound
	}
	ad, ok := m.ads[p.AdID]
	if !ok {
		return nil, false, ErrNotFound
	}

	switch p.Status {
	case PaymentApproved:
		return cloneAd(ad), false, nil
	case PaymentPending:
	default:
		return nil, false, ErrPaymentClosed
	}

	if err := m.step("activate"); err != nil {
		return nil, false, &TransientError{Op: "confirm_payment", Err: err}
	}

	p.Status = PaymentApproved
	p.SettledAt = &now
	activate(ad, now)
	return cloneAd(ad), true, nil
}

func (m *MemoryStore) Void(ctx context.Context, orderID string, status PaymentStatus, now time.Time) (*Advertisement, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[orderID]
	if !ok {
		return nil, false, ErrNotFound
	}
	ad, ok := m.ads[p.AdID]
	if !ok {
		return nil, false, ErrNotFound
	}

	switch p.Status {
	case PaymentPending:
	case status:
		return cloneAd(ad), false, nil
	default:
		return nil, false, ErrPaymentClosed
	}

	p.Status = status
	p.SettledAt = &now
	if ad.Status == StatusPendingDeposit {
		ad.Status = StatusCancelled
		ad.UpdatedAt = now
	}
	return cloneAd(ad), true, nil
}

func (m *MemoryStore) CreditBalance(ctx context.Context, accountID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credits[accountID], nil
}

func (m *MemoryStore) GrantCredits(ctx context.Context, accountID string, n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits[accountID] += n
	return m.credits[accountID], nil
}

func (m *MemoryStore) Mutate(ctx context.Context, adID string, fn func(*Advertisement) error) (*Advertisement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.ads[adID]
	if !ok {
		return nil, ErrNotFound
	}
	staged := cloneAd(a)
	if err := fn(staged); err != nil {
		return nil, err
	}
	if err := m.step("update_ad"); err != nil {
		return nil, &TransientError{Op: "update_ad", Err: err}
	}
	m.ads[adID] = staged
	return cloneAd(staged), nil
}

func (m *MemoryStore) RecordJump(ctx context.Context, adID string, day, now time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.ads[adID]
	if !ok {
		return 0, ErrNotFound
	}
	if !a.LiveAt(now) {
		return 0, ErrNotActive
	}

	used := 0
	for _, t := range m.jumps[adID] {
		if !t.Before(day) {
			used++
		}
	}
	if used >= limit {
		return used, ErrJumpLimit
	}
	m.jumps[adID] = append(m.jumps[adID], now)
	return used + 1, nil
}

func (m *MemoryStore) ExpireDue(ctx context.Context, now time.Time) ([]*Advertisement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*Advertisement
	for _, a := range m.ads {
		if a.Status == StatusActive && a.EndAt != nil && !now.Before(*a.EndAt) {
			a.Status = StatusExpired
			a.UpdatedAt = now
			expired = append(expired, cloneAd(a))
		}
	}
	return expired, nil
}

func (m *MemoryStore) StalePending(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*Payment
	for _, p := range m.payments {
		if p.Status == PaymentPending && p.Method == MethodBankDeposit && p.CreatedAt.Before(cutoff) {
			stale = append(stale, p)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })

	ids := make([]string, len(stale))
	for i, p := range stale {
		ids[i] = p.OrderID
	}
	return ids, nil
}

// activate sets the running window of a paid ad starting at now.
func activate(ad *Advertisement, now time.Time) {
	end := now.AddDate(0, 0, ad.Duration)
	ad.Status = StatusActive
	ad.StartAt = &now
	ad.EndAt = &end
	ad.ActivatedAt = &now
	ad.UpdatedAt = now
}

func cloneAd(a *Advertisement) *Advertisement {
	cp := *a
	cp.Regions = append([]string(nil), a.Regions...)
	cp.AddOns = append([]AddOnSelection(nil), a.AddOns...)
	cp.StartAt = cloneTime(a.StartAt)
	cp.EndAt = cloneTime(a.EndAt)
	cp.ActivatedAt = cloneTime(a.ActivatedAt)
	return &cp
}

func clonePayment(p *Payment) *Payment {
	cp := *p
	cp.SettledAt = cloneTime(p.SettledAt)
	if p.Breakdown != nil {
		b := *p.Breakdown
		b.AddOns = append(b.AddOns[:0:0], p.Breakdown.AddOns...)
		cp.Breakdown = &b
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
