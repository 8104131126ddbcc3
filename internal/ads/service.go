package ads

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/jobads/internal/account"
	"github.com/mbd888/jobads/internal/catalog"
	"github.com/mbd888/jobads/internal/idgen"
	"github.com/mbd888/jobads/internal/metrics"
	"github.com/mbd888/jobads/internal/pricing"
	"github.com/mbd888/jobads/internal/traces"
)

// DefaultPaidCap is the number of open paid ads one account may hold.
const DefaultPaidCap = 5

// DefaultSlotCaps are the global concurrent-slot caps of the scarce tiers.
var DefaultSlotCaps = map[catalog.TierID]int{
	catalog.TierNational: 10,
	catalog.TierPremium:  30,
}

// Service provides the advertisement lifecycle.
type Service struct {
	store    Store
	accounts account.Directory
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	dayStart func(time.Time) time.Time
	paidCap  int
	slotCaps map[catalog.TierID]int
	// pendingTTL bounds how long an unpaid deposit order holds slots; 0 = forever.
	pendingTTL time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the post-commit event sink.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDayStart sets how the start of the current quota day is computed.
// Manual jump allowances reset at that boundary. The default is civil
// midnight at catalog.DefaultDayOffset.
func WithDayStart(fn func(time.Time) time.Time) Option {
	return func(s *Service) { s.dayStart = fn }
}

// WithPaidCap overrides DefaultPaidCap.
func WithPaidCap(n int) Option {
	return func(s *Service) { s.paidCap = n }
}

// WithPendingTTL lets CancelStalePending void bank-deposit orders left
// unpaid for longer than d. Zero keeps them until an operator acts.
func WithPendingTTL(d time.Duration) Option {
	return func(s *Service) { s.pendingTTL = d }
}

// WithSlotCaps overrides DefaultSlotCaps.
func WithSlotCaps(caps map[catalog.TierID]int) Option {
	return func(s *Service) { s.slotCaps = caps }
}

// NewService creates a new ad service.
func NewService(store Store, accounts account.Directory, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		accounts: accounts,
		notifier: noopNotifier{},
		logger:   logger,
		now:      time.Now,
		dayStart: func(t time.Time) time.Time { return catalog.DayStart(t, catalog.DefaultDayOffset) },
		paidCap:  DefaultPaidCap,
		slotCaps: DefaultSlotCaps,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Price validates a quote and returns its breakdown without persisting anything.
func (s *Service) Price(q pricing.Quote) (*pricing.Breakdown, error) {
	b, err := pricing.Price(q)
	if err != nil {
		return nil, fromPricing(err)
	}
	return b, nil
}

func fromPricing(err error) error {
	var pe *pricing.Error
	if errors.As(err, &pe) {
		return &ValidationError{Field: pe.Field, Reason: pe.Reason}
	}
	return err
}

// CreateAd validates req for accountID and persists the ad atomically.
// The returned payment is nil for free ads.
func (s *Service) CreateAd(ctx context.Context, accountID string, req CreateRequest) (*Advertisement, *Payment, error) {
	ctx, span := traces.StartSpan(ctx, "ads.CreateAd",
		traces.AccountID(accountID), traces.Tier(string(req.Tier)))
	defer span.End()

	ad, payment, err := s.createAd(ctx, accountID, req)
	if err != nil {
		traces.Fail(span, err)
		return nil, nil, err
	}
	return ad, payment, nil
}

func (s *Service) createAd(ctx context.Context, accountID string, req CreateRequest) (*Advertisement, *Payment, error) {
	if err := s.checkAdvertiser(ctx, accountID); err != nil {
		return nil, nil, err
	}

	tier, breakdown, err := s.validate(req)
	if err != nil {
		metrics.AdRejectionsTotal.WithLabelValues("validation").Inc()
		return nil, nil, err
	}

	if err := s.precheck(ctx, accountID, tier, req.UseCredit); err != nil {
		return nil, nil, s.rejected(ctx, accountID, tier, err)
	}

	now := s.now()
	ad := &Advertisement{
		ID:        idgen.AdID(),
		AccountID: accountID,
		Tier:      tier.ID,
		Title:     strings.TrimSpace(req.Title),
		Duration:  req.Duration,
		Regions:   append([]string{}, req.Regions...),
		AddOns:    selections(breakdown),
		Snapshot:  SnapshotOf(tier),
		CreatedAt: now,
		UpdatedAt: now,
	}

	var payment *Payment
	switch {
	case tier.IsFree():
		ad.Funding = FundingFree
		ad.Status = StatusActive
		ad.StartAt = &now
		ad.ActivatedAt = &now

	case req.UseCredit:
		ad.Funding = FundingCredit
		activate(ad, now)
		payment = &Payment{
			OrderID:      idgen.OrderID(),
			AdID:         ad.ID,
			AccountID:    accountID,
			Method:       MethodCredit,
			Status:       PaymentApproved,
			CreditFunded: true,
			Breakdown:    breakdown,
			CreatedAt:    now,
			SettledAt:    &now,
		}

	default:
		ad.Funding = FundingPayment
		ad.Status = StatusPendingDeposit
		ad.Amount = breakdown.Total
		method := req.Method
		if method == "" {
			method = MethodBankDeposit
		}
		payment = &Payment{
			OrderID:   idgen.OrderID(),
			AdID:      ad.ID,
			AccountID: accountID,
			Amount:    breakdown.Total,
			Method:    method,
			Status:    PaymentPending,
			Breakdown: breakdown,
			CreatedAt: now,
		}
	}

	creation := &Creation{
		Ad:            ad,
		Payment:       payment,
		ConsumeCredit: req.UseCredit,
		Caps:          Caps{PaidOpen: s.paidCap, TierSlot: s.slotCaps[tier.ID]},
	}
	if err := s.store.Create(ctx, creation); err != nil {
		var ce *CapacityError
		if errors.As(err, &ce) {
			return nil, nil, s.rejected(ctx, accountID, tier, err)
		}
		s.logger.Error("ad creation failed", "account_id", accountID, "tier", tier.ID, "error", err)
		var te *TransientError
		if !errors.As(err, &te) {
			err = &TransientError{Op: "create_ad", Err: err}
		}
		return nil, nil, err
	}

	metrics.AdsCreatedTotal.WithLabelValues(string(tier.ID), string(ad.Funding)).Inc()
	s.logger.Info("ad created",
		"ad_id", ad.ID, "account_id", accountID, "tier", tier.ID,
		"status", ad.Status, "amount", ad.Amount)

	if payment != nil && payment.Status == PaymentPending {
		s.notify(ctx, EventPendingDeposit, ad, payment)
	} else {
		s.notify(ctx, EventAdActivated, ad, payment)
	}
	return ad, payment, nil
}

func (s *Service) checkAdvertiser(ctx context.Context, accountID string) error {
	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			return ErrForbidden
		}
		return err
	}
	switch err := account.CheckAdvertiser(acct.Role); {
	case err == nil:
		return nil
	case errors.Is(err, account.ErrUnverified):
		return ErrUnverified
	default:
		return ErrForbidden
	}
}

// validate runs the input checks in order: tier, title, regions, then
// duration and add-ons through the pricing rules.
func (s *Service) validate(req CreateRequest) (catalog.Tier, *pricing.Breakdown, error) {
	tier, err := catalog.Lookup(req.Tier)
	if err != nil {
		return catalog.Tier{}, nil, invalid("tier", "unknown tier %q", req.Tier)
	}
	if strings.TrimSpace(req.Title) == "" {
		return tier, nil, invalid("title", "a title is required")
	}
	if err := validateRegions(req.Regions, SnapshotOf(tier)); err != nil {
		return tier, nil, err
	}

	breakdown, err := pricing.Price(pricing.Quote{
		Tier:        req.Tier,
		Duration:    req.Duration,
		AddOns:      req.AddOns,
		AddOnValues: req.AddOnValues,
	})
	if err != nil {
		return tier, nil, fromPricing(err)
	}

	if req.UseCredit {
		if tier.ID != catalog.BaselineTier {
			return tier, nil, invalid("useCredit", "credits only fund %s ads", catalog.BaselineTier)
		}
		if len(req.AddOns) > 0 {
			return tier, nil, invalid("addOns", "credit-funded ads cannot carry paid add-ons")
		}
	} else if !tier.IsFree() {
		switch req.Method {
		case "", MethodBankDeposit, MethodCard:
		default:
			return tier, nil, invalid("method", "unsupported payment method %q", req.Method)
		}
	}
	return tier, breakdown, nil
}

func validateRegions(regions []string, snap Entitlements) error {
	if snap.NationalScope {
		if len(regions) > 0 {
			return invalid("regions", "national placements take no region selection")
		}
		return nil
	}
	if len(regions) == 0 {
		return invalid("regions", "at least one region is required")
	}
	if len(regions) > snap.MaxRegions {
		return invalid("regions", "at most %d regions allowed, got %d", snap.MaxRegions, len(regions))
	}
	seen := make(map[string]bool, len(regions))
	for _, r := range regions {
		r = strings.TrimSpace(r)
		if r == "" {
			return invalid("regions", "region names cannot be blank")
		}
		if seen[r] {
			return invalid("regions", "region %q selected twice", r)
		}
		seen[r] = true
	}
	return nil
}

// precheck is the fast capacity check. The store repeats it inside the
// write transaction, which is what actually closes the race.
func (s *Service) precheck(ctx context.Context, accountID string, tier catalog.Tier, useCredit bool) error {
	h, err := s.store.Holdings(ctx, accountID)
	if err != nil {
		return &TransientError{Op: "holdings", Err: err}
	}
	if tier.IsFree() {
		if h.FreeActive > 0 {
			return capacity(ReasonFreeTierHeld)
		}
	} else {
		if h.PaidOpen >= s.paidCap {
			return capacity(ReasonPaidCapReached)
		}
		if limit := s.slotCaps[tier.ID]; limit > 0 {
			open, err := s.store.OpenInTier(ctx, tier.ID)
			if err != nil {
				return &TransientError{Op: "open_in_tier", Err: err}
			}
			if open >= limit {
				return capacity(ReasonSoldOut)
			}
		}
	}
	if useCredit && h.Credits < 1 {
		return capacity(ReasonInsufficientCredit)
	}
	return nil
}

func (s *Service) rejected(ctx context.Context, accountID string, tier catalog.Tier, err error) error {
	var ce *CapacityError
	if errors.As(err, &ce) {
		metrics.AdRejectionsTotal.WithLabelValues(ce.Reason).Inc()
		s.logger.Info("ad creation rejected", "account_id", accountID, "tier", tier.ID, "reason", ce.Reason)
	}
	return err
}

func selections(b *pricing.Breakdown) []AddOnSelection {
	out := make([]AddOnSelection, 0, len(b.AddOns))
	for _, line := range b.AddOns {
		out = append(out, AddOnSelection{ID: line.ID, Value: line.Value, Included: line.Included})
	}
	return out
}

// ConfirmPayment marks the order approved and activates its ad.
// Confirming an already-approved order returns the ad unchanged.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) (*Advertisement, error) {
	ctx, span := traces.StartSpan(ctx, "ads.ConfirmPayment", traces.OrderID(orderID))
	defer span.End()

	if strings.TrimSpace(orderID) == "" {
		return nil, ErrNotFound
	}

	ad, changed, err := s.store.Approve(ctx, orderID, s.now())
	if err != nil {
		traces.Fail(span, err)
		metrics.PaymentsConfirmedTotal.WithLabelValues("rejected").Inc()
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrPaymentClosed) {
			s.logger.Error("payment confirmation failed", "order_id", orderID, "error", err)
		}
		return nil, err
	}
	if !changed {
		metrics.PaymentsConfirmedTotal.WithLabelValues("duplicate").Inc()
		return ad, nil
	}

	metrics.PaymentsConfirmedTotal.WithLabelValues("activated").Inc()
	s.logger.Info("payment approved", "order_id", orderID, "ad_id", ad.ID, "account_id", ad.AccountID)

	payment := &Payment{OrderID: orderID, AdID: ad.ID, AccountID: ad.AccountID, Amount: ad.Amount}
	s.notify(ctx, EventPaymentApproved, ad, payment)
	s.notify(ctx, EventAdActivated, ad, payment)
	return ad, nil
}

// CancelPayment voids a pending order and cancels its ad, freeing the cap
// slot. failed selects FAILED over CANCELLED. Approved orders are never touched.
func (s *Service) CancelPayment(ctx context.Context, orderID string, failed bool) (*Advertisement, error) {
	status := PaymentCancelled
	if failed {
		status = PaymentFailed
	}

	ad, changed, err := s.store.Void(ctx, orderID, status, s.now())
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info("payment voided", "order_id", orderID, "ad_id", ad.ID, "status", status)
		s.notify(ctx, EventPaymentCancelled, ad, &Payment{OrderID: orderID, Amount: ad.Amount})
	}
	return ad, nil
}

// GrantCredits adds n free-ad credits to a business account.
func (s *Service) GrantCredits(ctx context.Context, accountID string, n int) (int, error) {
	if n <= 0 {
		return 0, ErrInvalidCreditN
	}
	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	if _, ok := acct.Role.(account.Business); !ok {
		return 0, ErrForbidden
	}

	balance, err := s.store.GrantCredits(ctx, accountID, n)
	if err != nil {
		return 0, err
	}
	s.logger.Info("credits granted", "account_id", accountID, "granted", n, "balance", balance)
	return balance, nil
}

// CreditBalance returns the account's unused credits.
func (s *Service) CreditBalance(ctx context.Context, accountID string) (int, error) {
	return s.store.CreditBalance(ctx, accountID)
}

// Get returns an ad by ID.
func (s *Service) Get(ctx context.Context, id string) (*Advertisement, error) {
	return s.store.Get(ctx, id)
}

// GetPayment returns a payment by order ID.
func (s *Service) GetPayment(ctx context.Context, orderID string) (*Payment, error) {
	return s.store.GetPayment(ctx, orderID)
}

// ListByAccount returns an account's ads, newest first.
func (s *Service) ListByAccount(ctx context.Context, accountID string) ([]*Advertisement, error) {
	return s.store.ListByAccount(ctx, accountID)
}

// LiveAds returns the account's ads that are ACTIVE and unexpired right now.
func (s *Service) LiveAds(ctx context.Context, accountID string) ([]*Advertisement, error) {
	return s.store.ListLive(ctx, accountID, s.now())
}

// JumpResult reports manual jump usage for the current quota day.
type JumpResult struct {
	AdID  string `json:"adId"`
	Used  int    `json:"used"`
	Limit int    `json:"limit"`
}

// Jump bumps the ad to the top of its listing, consuming one of the manual
// jumps its tier granted at sale time.
func (s *Service) Jump(ctx context.Context, accountID, adID string) (*JumpResult, error) {
	ad, err := s.owned(ctx, accountID, adID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	limit := ad.Snapshot.ManualJumpsPerDay
	used, err := s.store.RecordJump(ctx, adID, s.dayStart(now), now, limit)
	if err != nil {
		return nil, err
	}
	return &JumpResult{AdID: adID, Used: used, Limit: limit}, nil
}

// Edit changes an ad's title or regions within its snapshotted edit and region caps.
func (s *Service) Edit(ctx context.Context, accountID, adID string, req EditRequest) (*Advertisement, error) {
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return nil, invalid("title", "a title is required")
	}
	if _, err := s.owned(ctx, accountID, adID); err != nil {
		return nil, err
	}

	now := s.now()
	return s.store.Mutate(ctx, adID, func(ad *Advertisement) error {
		if !ad.LiveAt(now) {
			return ErrNotActive
		}
		if ad.EditCount >= ad.Snapshot.MaxEdits {
			return ErrEditLimit
		}
		if req.Regions != nil {
			if err := validateRegions(req.Regions, ad.Snapshot); err != nil {
				return err
			}
			ad.Regions = append([]string{}, req.Regions...)
		}
		if req.Title != nil {
			ad.Title = strings.TrimSpace(*req.Title)
		}
		ad.EditCount++
		ad.UpdatedAt = now
		return nil
	})
}

func (s *Service) owned(ctx context.Context, accountID, adID string) (*Advertisement, error) {
	ad, err := s.store.Get(ctx, adID)
	if err != nil {
		return nil, err
	}
	if ad.AccountID != accountID {
		return nil, ErrNotOwner
	}
	return ad, nil
}

// ExpireDue moves every ACTIVE ad past its end to EXPIRED.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, ad := range expired {
		metrics.AdsExpiredTotal.Inc()
		s.notify(ctx, EventAdExpired, ad, nil)
	}
	return len(expired), nil
}

// CancelStalePending cancels bank-deposit orders older than the pending TTL,
// returning their cap and tier slots. Orders settled meanwhile are skipped.
func (s *Service) CancelStalePending(ctx context.Context) (int, error) {
	if s.pendingTTL <= 0 {
		return 0, nil
	}
	orders, err := s.store.StalePending(ctx, s.now().Add(-s.pendingTTL))
	if err != nil {
		return 0, err
	}

	n := 0
	for _, orderID := range orders {
		_, err := s.CancelPayment(ctx, orderID, false)
		switch {
		case err == nil:
			n++
		case errors.Is(err, ErrPaymentClosed):
		default:
			return n, err
		}
	}
	return n, nil
}

func (s *Service) notify(ctx context.Context, eventType string, ad *Advertisement, p *Payment) {
	ev := Event{
		Type:      eventType,
		AccountID: ad.AccountID,
		AdID:      ad.ID,
		Tier:      ad.Tier,
		Amount:    ad.Amount,
		At:        s.now(),
	}
	if p != nil {
		ev.OrderID = p.OrderID
		ev.Method = p.Method
	}
	s.notifier.Notify(ctx, ev)
}
