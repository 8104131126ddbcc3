package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/jobads/internal/account"
	"github.com/mbd888/jobads/internal/catalog"
	"github.com/mbd888/jobads/internal/metrics"
	"github.com/mbd888/jobads/internal/traces"
)

// Service resolves entitlements and runs the access gate.
type Service struct {
	store    Store
	accounts account.Directory
	day      QuotaDay
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a new entitlement service.
func NewService(store Store, accounts account.Directory, day QuotaDay, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		accounts: accounts,
		day:      day,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock replaces the wall clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// QuotaDay returns the day boundary the service uses.
func (s *Service) QuotaDay() QuotaDay { return s.day }

type caller int

const (
	callerAdvertiser caller = iota
	callerOperator
	callerOther
)

func (s *Service) classify(ctx context.Context, accountID string) (caller, error) {
	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			return callerOther, ErrAccountNotFound
		}
		return callerOther, err
	}
	switch acct.Role.(type) {
	case account.Operator:
		return callerOperator, nil
	case account.Business:
		return callerAdvertiser, nil
	case account.Jobseeker:
		return callerOther, nil
	default:
		return callerOther, account.ErrUnknownRole
	}
}

// Resolve returns the account's current best entitlement, or ErrNoEntitlement.
func (s *Service) Resolve(ctx context.Context, accountID string) (*Entitlement, error) {
	who, err := s.classify(ctx, accountID)
	if err != nil {
		return nil, err
	}
	switch who {
	case callerOperator:
		ent := operatorEntitlement
		return &ent, nil
	case callerOther:
		return nil, ErrNoEntitlement
	}

	grants, err := s.store.LiveGrants(ctx, accountID, s.now())
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	ent, ok := Resolve(grants)
	if !ok {
		return nil, ErrNoEntitlement
	}
	return &ent, nil
}

// CheckAndLog decides whether accountID may open resourceID now and, when
// the view is new and allowed, records it exactly once.
func (s *Service) CheckAndLog(ctx context.Context, accountID, resourceID string) (Decision, error) {
	ctx, span := traces.StartSpan(ctx, "entitlement.CheckAndLog",
		traces.AccountID(accountID), traces.ResourceID(resourceID))
	defer span.End()

	d, err := s.checkAndLog(ctx, accountID, strings.TrimSpace(resourceID))
	if err != nil {
		traces.Fail(span, err)
		return Decision{}, err
	}
	span.SetAttributes(traces.Decision(d.Allowed, d.Reason)...)

	label := "allowed"
	if !d.Allowed {
		label = "denied"
		s.logger.Info("resume access denied",
			"account_id", accountID, "resource_id", resourceID, "reason", d.Reason,
			"used", d.Used, "limit", d.Limit.String())
	}
	metrics.AccessDecisionsTotal.WithLabelValues(label, d.Reason).Inc()
	return d, nil
}

func (s *Service) checkAndLog(ctx context.Context, accountID, resourceID string) (Decision, error) {
	if resourceID == "" || len(resourceID) > MaxResourceIDLen {
		return Decision{}, ErrInvalidResource
	}

	who, err := s.classify(ctx, accountID)
	if err != nil {
		return Decision{}, err
	}
	if who == callerOther {
		return Decision{Reason: ReasonNotAdvertiser}, nil
	}

	now := s.now()
	scope := Scope{AccountID: accountID, Day: s.day.Key(now), Now: now}

	var decision Decision
	err = s.store.Atomically(ctx, scope, func(snap Snapshot) (*ViewLog, error) {
		ent, entitled := operatorEntitlement, true
		if who == callerAdvertiser {
			ent, entitled = Resolve(snap.Grants)
		}

		d, record := Decide(ent, entitled, snap.Viewed, resourceID)
		decision = d
		if !record {
			return nil, nil
		}
		return &ViewLog{
			AccountID:  accountID,
			ResourceID: resourceID,
			AdID:       ent.GrantingAdID,
			QuotaDay:   scope.Day,
			ViewedAt:   now,
		}, nil
	})
	if err != nil {
		s.logger.Error("access check failed", "account_id", accountID, "resource_id", resourceID, "error", err)
		return Decision{}, fmt.Errorf("check access: %w", err)
	}
	return decision, nil
}

// Usage is today's resume-view consumption for an account.
type Usage struct {
	Entitlement *Entitlement  `json:"entitlement,omitempty"`
	QuotaDay    string        `json:"quotaDay"`
	Used        int           `json:"used"`
	Limit       catalog.Limit `json:"limit"`
	Remaining   int           `json:"remaining"` // -1 when unlimited
	ResetsAt    time.Time     `json:"resetsAt"`
}

// Usage reports the account's entitlement and today's distinct views.
func (s *Service) Usage(ctx context.Context, accountID string) (*Usage, error) {
	ent, err := s.Resolve(ctx, accountID)
	if err != nil && !errors.Is(err, ErrNoEntitlement) {
		return nil, err
	}

	now := s.now()
	day := s.day.Key(now)
	viewed, err := s.store.ViewedOn(ctx, accountID, day)
	if err != nil {
		return nil, fmt.Errorf("load views: %w", err)
	}

	u := &Usage{
		Entitlement: ent,
		QuotaDay:    day,
		Used:        len(viewed),
		Limit:       catalog.Limited(0),
		ResetsAt:    s.day.End(now),
	}
	if ent != nil {
		u.Limit = ent.DailyLimit
	}
	u.Remaining = u.Limit.Remaining(u.Used)
	return u, nil
}
