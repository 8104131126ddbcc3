// Package ads implements the advertisement lifecycle: pricing a request,
// atomically persisting the ad with its payment or credit debit, activating
// it when the gateway confirms the order, and enforcing the entitlement caps
// snapshotted onto each ad at sale time.
package ads

import (
	"context"
	"time"

	"github.com/mbd888/jobads/internal/catalog"
	"github.com/mbd888/jobads/internal/pricing"
)

// Status is the lifecycle state of an advertisement.
type Status string

const (
	StatusPendingDeposit Status = "PENDING_DEPOSIT"
	StatusActive         Status = "ACTIVE"
	StatusExpired        Status = "EXPIRED"
	StatusCancelled      Status = "CANCELLED"
)

// Open reports whether the ad occupies a cap slot.
func (s Status) Open() bool {
	return s == StatusActive || s == StatusPendingDeposit
}

// PaymentStatus is the state of a payment record.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentApproved  PaymentStatus = "APPROVED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// Terminal reports whether the payment can no longer change state.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending
}

// Method is how an ad is paid for.
type Method string

const (
	MethodBankDeposit Method = "bank_deposit"
	MethodCard        Method = "card"
	MethodCredit      Method = "credit"
)

// Funding describes where the money for an ad came from.
type Funding string

const (
	FundingFree    Funding = "free"
	FundingCredit  Funding = "credit"
	FundingPayment Funding = "payment"
)

// Entitlements is the part of a tier copied onto an ad when it is sold.
type Entitlements struct {
	AutoJumpsPerDay   int  `json:"autoJumpsPerDay"`
	ManualJumpsPerDay int  `json:"manualJumpsPerDay"`
	MaxEdits          int  `json:"maxEdits"`
	MaxRegions        int  `json:"maxRegions"`
	NationalScope     bool `json:"nationalScope"`
}

// SnapshotOf copies the sellable entitlements out of t.
func SnapshotOf(t catalog.Tier) Entitlements {
	return Entitlements{
		AutoJumpsPerDay:   t.AutoJumpsPerDay,
		ManualJumpsPerDay: t.ManualJumpsPerDay,
		MaxEdits:          t.MaxEdits,
		MaxRegions:        t.MaxRegions,
		NationalScope:     t.NationalScope,
	}
}

// AddOnSelection is an add-on chosen for an ad.
type AddOnSelection struct {
	ID       catalog.AddOnID `json:"id"`
	Value    string          `json:"value,omitempty"`
	Included bool            `json:"included"`
}

// Advertisement is a job ad owned by one business account.
type Advertisement struct {
	ID          string           `json:"id"`
	AccountID   string           `json:"accountId"`
	Tier        catalog.TierID   `json:"tier"`
	Title       string           `json:"title"`
	Duration    int              `json:"duration"`
	Amount      int64            `json:"amount"`
	Status      Status           `json:"status"`
	Funding     Funding          `json:"funding"`
	Regions     []string         `json:"regions"`
	AddOns      []AddOnSelection `json:"addOns"`
	Snapshot    Entitlements     `json:"entitlements"`
	EditCount   int              `json:"editCount"`
	StartAt     *time.Time       `json:"startAt,omitempty"`
	EndAt       *time.Time       `json:"endAt,omitempty"`
	ActivatedAt *time.Time       `json:"activatedAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// LiveAt reports whether the ad is ACTIVE and not past its end at now.
func (a *Advertisement) LiveAt(now time.Time) bool {
	if a.Status != StatusActive {
		return false
	}
	return a.EndAt == nil || now.Before(*a.EndAt)
}

// Payment records how an ad was paid for. Free ads have none.
type Payment struct {
	OrderID      string             `json:"orderId"`
	AdID         string             `json:"adId"`
	AccountID    string             `json:"accountId"`
	Amount       int64              `json:"amount"`
	Method       Method             `json:"method"`
	Status       PaymentStatus      `json:"status"`
	CreditFunded bool               `json:"creditFunded"`
	Breakdown    *pricing.Breakdown `json:"breakdown"`
	CreatedAt    time.Time          `json:"createdAt"`
	SettledAt    *time.Time         `json:"settledAt,omitempty"`
}

// CreateRequest is an advertiser's request for a new ad.
type CreateRequest struct {
	Tier        catalog.TierID             `json:"tier"`
	Duration    int                        `json:"duration"`
	Title       string                     `json:"title"`
	Regions     []string                   `json:"regions"`
	AddOns      []catalog.AddOnID          `json:"addOns,omitempty"`
	AddOnValues map[catalog.AddOnID]string `json:"addOnValues,omitempty"`
	UseCredit   bool                       `json:"useCredit"`
	Method      Method                     `json:"method,omitempty"`
}

// EditRequest changes the mutable fields of an ad. Nil fields are left alone.
type EditRequest struct {
	Title   *string  `json:"title,omitempty"`
	Regions []string `json:"regions,omitempty"`
}

// Caps are the capacity rules the store enforces inside the write transaction.
type Caps struct {
	PaidOpen int // max open non-free ads per account
	TierSlot int // max open ads of this tier globally, 0 = uncapped
}

// Creation is everything the store must persist atomically for one ad.
type Creation struct {
	Ad            *Advertisement
	Payment       *Payment // nil for free ads
	ConsumeCredit bool
	Caps          Caps
}

// Holdings summarises an account's open ads and credits.
type Holdings struct {
	FreeActive int
	PaidOpen   int
	Credits    int
}

// Store persists ads, payments and credit balances.
// Every mutating method is a single atomic unit.
type Store interface {
	// Create re-checks capacity and persists c, or persists nothing.
	Create(ctx context.Context, c *Creation) error
	Get(ctx context.Context, id string) (*Advertisement, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Advertisement, error)
	// ListLive returns the account's ACTIVE ads whose end is after now.
	ListLive(ctx context.Context, accountID string, now time.Time) ([]*Advertisement, error)
	Holdings(ctx context.Context, accountID string) (*Holdings, error)
	OpenInTier(ctx context.Context, tier catalog.TierID) (int, error)

	GetPayment(ctx context.Context, orderID string) (*Payment, error)
	// Approve moves a PENDING payment to APPROVED and activates its ad.
	// changed is false when the payment was already approved.
	Approve(ctx context.Context, orderID string, now time.Time) (ad *Advertisement, changed bool, err error)
	// Void moves a PENDING payment to status and cancels its pending ad.
	Void(ctx context.Context, orderID string, status PaymentStatus, now time.Time) (ad *Advertisement, changed bool, err error)

	CreditBalance(ctx context.Context, accountID string) (int, error)
	GrantCredits(ctx context.Context, accountID string, n int) (int, error)

	// Mutate loads an ad under lock, applies fn and saves the result.
	Mutate(ctx context.Context, adID string, fn func(*Advertisement) error) (*Advertisement, error)
	// RecordJump logs one manual promotion if fewer than limit exist since day.
	RecordJump(ctx context.Context, adID string, day, now time.Time, limit int) (used int, err error)
	ExpireDue(ctx context.Context, now time.Time) ([]*Advertisement, error)
	// StalePending lists PENDING bank-deposit orders created before cutoff.
	StalePending(ctx context.Context, cutoff time.Time) ([]string, error)
}
