// Package catalog holds the compiled-in table of advertisement tiers and add-ons.
//
// Tiers are ordered by Rank (lower is better). A tier's entitlement values are
// copied onto an advertisement when it is sold, so editing this table never
// changes what an already-sold ad grants.
package catalog

import (
	"errors"
	"sort"
)

var (
	ErrUnknownTier  = errors.New("catalog: unknown tier")
	ErrUnknownAddOn = errors.New("catalog: unknown add-on")
)

// TierID identifies a purchasable tier.
type TierID string

const (
	TierFree     TierID = "FREE"
	TierLine     TierID = "LINE"
	TierUrgent   TierID = "URGENT"
	TierSpecial  TierID = "SPECIAL"
	TierPremium  TierID = "PREMIUM"
	TierNational TierID = "NATIONAL"
)

// BaselineTier is the tier whose line-rate every paid tier pays.
const BaselineTier = TierLine

// AddOnID identifies an optional add-on.
type AddOnID string

const (
	AddOnIcon      AddOnID = "ICON"
	AddOnHighlight AddOnID = "HIGHLIGHT"
	AddOnBold      AddOnID = "BOLD"
)

// Allowed paid durations in days. The free tier uses 0.
const (
	Days30 = 30
	Days60 = 60
	Days90 = 90
)

// PaidDurations lists the durations a paid tier can be bought for.
var PaidDurations = []int{Days30, Days60, Days90}

// PriceTable maps a duration in days to an integer amount in KRW.
type PriceTable map[int]int64

// Tier is an immutable tier definition.
type Tier struct {
	ID                TierID
	Name              string
	Rank              int
	AutoJumpsPerDay   int
	ManualJumpsPerDay int
	MaxRegions        int // 0 means region selection is not used
	MaxEdits          int
	ResumeViews       Limit
	IconIncluded      bool
	NationalScope     bool // exempt from region selection
	Upgrade           PriceTable
}

// IsFree reports whether the tier is the free listing.
func (t Tier) IsFree() bool { return t.ID == TierFree }

// AddOn is an optional paid extra.
type AddOn struct {
	ID            AddOnID    `json:"id"`
	Description   string     `json:"description"`
	Prices        PriceTable `json:"prices"`
	RequiresValue bool       `json:"requiresValue"`
}

// LineRates is the baseline charge paid by every non-free tier.
var LineRates = PriceTable{Days30: 30000, Days60: 55000, Days90: 80000}

var tiers = map[TierID]Tier{
	TierNational: {
		ID: TierNational, Name: "National Premium", Rank: 1,
		AutoJumpsPerDay: 8, ManualJumpsPerDay: 10, MaxRegions: 0, MaxEdits: 20,
		ResumeViews: Unlimited, IconIncluded: true, NationalScope: true,
		Upgrade: PriceTable{Days30: 300000, Days60: 570000, Days90: 810000},
	},
	TierPremium: {
		ID: TierPremium, Name: "Premium", Rank: 2,
		AutoJumpsPerDay: 6, ManualJumpsPerDay: 8, MaxRegions: 5, MaxEdits: 15,
		ResumeViews: Limited(100), IconIncluded: true,
		Upgrade: PriceTable{Days30: 100000, Days60: 190000, Days90: 270000},
	},
	TierSpecial: {
		ID: TierSpecial, Name: "Special", Rank: 3,
		AutoJumpsPerDay: 4, ManualJumpsPerDay: 5, MaxRegions: 3, MaxEdits: 10,
		ResumeViews: Limited(30),
		Upgrade:     PriceTable{Days30: 50000, Days60: 95000, Days90: 135000},
	},
	TierUrgent: {
		ID: TierUrgent, Name: "Urgent Hiring", Rank: 4,
		AutoJumpsPerDay: 2, ManualJumpsPerDay: 3, MaxRegions: 2, MaxEdits: 5,
		ResumeViews: Limited(3),
		Upgrade:     PriceTable{Days30: 20000, Days60: 38000, Days90: 54000},
	},
	TierLine: {
		ID: TierLine, Name: "Line Listing", Rank: 5,
		AutoJumpsPerDay: 1, ManualJumpsPerDay: 1, MaxRegions: 1, MaxEdits: 3,
		ResumeViews: Limited(1),
		Upgrade:     PriceTable{Days30: 0, Days60: 0, Days90: 0},
	},
	TierFree: {
		ID: TierFree, Name: "Free Listing", Rank: 6,
		MaxRegions: 1, MaxEdits: 1,
		ResumeViews: Limited(0),
	},
}

var addOns = map[AddOnID]AddOn{
	AddOnIcon: {
		ID: AddOnIcon, Description: "Icon badge next to the title",
		Prices:        PriceTable{Days30: 10000, Days60: 18000, Days90: 25000},
		RequiresValue: true,
	},
	AddOnHighlight: {
		ID: AddOnHighlight, Description: "Highlighted background color",
		Prices:        PriceTable{Days30: 10000, Days60: 18000, Days90: 25000},
		RequiresValue: true,
	},
	AddOnBold: {
		ID: AddOnBold, Description: "Bold title",
		Prices: PriceTable{Days30: 5000, Days60: 9000, Days90: 12000},
	},
}

// Lookup returns the tier definition for id.
func Lookup(id TierID) (Tier, error) {
	t, ok := tiers[id]
	if !ok {
		return Tier{}, ErrUnknownTier
	}
	return t, nil
}

// LookupAddOn returns the add-on definition for id.
func LookupAddOn(id AddOnID) (AddOn, error) {
	a, ok := addOns[id]
	if !ok {
		return AddOn{}, ErrUnknownAddOn
	}
	return a, nil
}

// ValidTier returns true if the tier id is recognised.
func ValidTier(id TierID) bool {
	_, ok := tiers[id]
	return ok
}

// Tiers returns every tier ordered best first.
func Tiers() []Tier {
	out := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// AddOns returns every add-on ordered by id.
func AddOns() []AddOn {
	out := make([]AddOn, 0, len(addOns))
	for _, a := range addOns {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllowedDuration reports whether days is a valid purchase duration for t.
func (t Tier) AllowedDuration(days int) bool {
	if t.IsFree() {
		return days == 0
	}
	for _, d := range PaidDurations {
		if d == days {
			return true
		}
	}
	return false
}

// Better reports whether a outranks b.
func Better(a, b Tier) bool { return a.Rank < b.Rank }
