// Package entitlement resolves the best tier an account currently holds and
// gates access to resumes against that tier's daily view quota.
//
// Resolution is a pure function over a snapshot of the account's live ads.
// The gate reads that snapshot together with the day's view log and appends
// to the log inside one atomic unit per account and quota day.
package entitlement

import (
	"errors"
	"sort"
	"time"

	"github.com/mbd888/jobads/internal/catalog"
)

var (
	ErrNoEntitlement   = errors.New("entitlement: no active paid tier")
	ErrAccountNotFound = errors.New("entitlement: account not found")
	ErrInvalidResource = errors.New("entitlement: resource id must be 1 to 128 bytes")
)

// MaxResourceIDLen matches resource_view_logs.resource_id.
const MaxResourceIDLen = 128

// Grant is one live advertisement that may entitle its owner.
type Grant struct {
	AdID        string
	Tier        catalog.TierID
	ActivatedAt time.Time
}

// Entitlement is the resolved right to view resumes.
type Entitlement struct {
	Tier         catalog.TierID `json:"tier,omitempty"`
	DailyLimit   catalog.Limit  `json:"dailyLimit"`
	GrantingAdID string         `json:"grantingAdId,omitempty"`
	Operator     bool           `json:"operator"`
}

// operatorEntitlement bypasses tier resolution entirely.
var operatorEntitlement = Entitlement{DailyLimit: catalog.Unlimited, Operator: true}

// Resolve picks the best grant: lowest tier rank, then most recently
// activated, then lowest ad id. Free and unknown tiers never entitle.
func Resolve(grants []Grant) (Entitlement, bool) {
	type candidate struct {
		Grant
		rank  int
		limit catalog.Limit
	}

	var cands []candidate
	for _, g := range grants {
		tier, err := catalog.Lookup(g.Tier)
		if err != nil || tier.IsFree() {
			continue
		}
		cands = append(cands, candidate{Grant: g, rank: tier.Rank, limit: tier.ResumeViews})
	}
	if len(cands) == 0 {
		return Entitlement{}, false
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if !a.ActivatedAt.Equal(b.ActivatedAt) {
			return a.ActivatedAt.After(b.ActivatedAt)
		}
		return a.AdID < b.AdID
	})

	best := cands[0]
	return Entitlement{Tier: best.Tier, DailyLimit: best.limit, GrantingAdID: best.AdID}, true
}

// Decision reasons.
const (
	ReasonNewView          = "new_view"
	ReasonAlreadyViewed    = "already_viewed_today"
	ReasonOperator         = "operator"
	ReasonNoActivePaidTier = "no_active_paid_tier"
	ReasonDailyLimit       = "daily_limit_exceeded"
	ReasonNotAdvertiser    = "not_advertiser"
)

// Decision is the outcome of an access check. A denial is a normal outcome,
// not an error.
type Decision struct {
	Allowed      bool           `json:"allowed"`
	Reason       string         `json:"reason"`
	Tier         catalog.TierID `json:"tier,omitempty"`
	Limit        catalog.Limit  `json:"limit"`
	Used         int            `json:"used"`
	GrantingAdID string         `json:"grantingAdId,omitempty"`
}

// Remaining returns how many new resumes may still be opened today,
// or -1 when unlimited.
func (d Decision) Remaining() int {
	return d.Limit.Remaining(d.Used)
}

// Decide applies the gate rules to a resolved entitlement and the set of
// resources already viewed today. record reports whether the view must be
// appended to the log.
func Decide(ent Entitlement, entitled bool, viewed []string, resourceID string) (d Decision, record bool) {
	if !entitled {
		return Decision{Reason: ReasonNoActivePaidTier, Used: len(viewed)}, false
	}

	d = Decision{
		Tier:         ent.Tier,
		Limit:        ent.DailyLimit,
		Used:         len(viewed),
		GrantingAdID: ent.GrantingAdID,
	}

	for _, r := range viewed {
		if r == resourceID {
			d.Allowed = true
			d.Reason = ReasonAlreadyViewed
			return d, false
		}
	}

	if !ent.DailyLimit.Allows(len(viewed)) {
		d.Reason = ReasonDailyLimit
		return d, false
	}

	d.Allowed = true
	d.Reason = ReasonNewView
	if ent.Operator {
		d.Reason = ReasonOperator
	}
	d.Used++
	return d, true
}
