// Package pricing turns a tier, duration and add-on selection into an
// itemized integer charge.
package pricing

import (
	"fmt"
	"strings"

	"github.com/mbd888/jobads/internal/catalog"
)

// Quote is the input to Price.
type Quote struct {
	Tier        catalog.TierID             `json:"tier"`
	Duration    int                        `json:"duration"`
	AddOns      []catalog.AddOnID          `json:"addOns,omitempty"`
	AddOnValues map[catalog.AddOnID]string `json:"addOnValues,omitempty"`
}

// AddOnLine is one add-on row of a breakdown.
type AddOnLine struct {
	ID       catalog.AddOnID `json:"id"`
	Value    string          `json:"value,omitempty"`
	Amount   int64           `json:"amount"`
	Included bool            `json:"included"`
}

// Breakdown is the priced result. It is stored verbatim on the payment.
type Breakdown struct {
	Tier     catalog.TierID `json:"tier"`
	Duration int            `json:"duration"`
	LineRate int64          `json:"lineRate"`
	Upgrade  int64          `json:"upgrade"`
	AddOns   []AddOnLine    `json:"addOns"`
	Total    int64          `json:"total"`
}

// Error is a rejected quote. Field names the offending input.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("pricing: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Price validates q and computes its breakdown. Nothing is persisted.
func Price(q Quote) (*Breakdown, error) {
	tier, err := catalog.Lookup(q.Tier)
	if err != nil {
		return nil, invalid("tier", "unknown tier %q", q.Tier)
	}

	if tier.IsFree() {
		if q.Duration != 0 {
			return nil, invalid("duration", "free tier takes no duration, got %d", q.Duration)
		}
		if len(q.AddOns) > 0 {
			return nil, invalid("addOns", "free tier cannot carry add-ons")
		}
		return &Breakdown{Tier: tier.ID, AddOns: []AddOnLine{}}, nil
	}

	if !tier.AllowedDuration(q.Duration) {
		return nil, invalid("duration", "duration must be one of 30, 60 or 90 days, got %d", q.Duration)
	}

	b := &Breakdown{
		Tier:     tier.ID,
		Duration: q.Duration,
		LineRate: catalog.LineRates[q.Duration],
		Upgrade:  tier.Upgrade[q.Duration],
		AddOns:   make([]AddOnLine, 0, len(q.AddOns)),
	}
	b.Total = b.LineRate + b.Upgrade

	seen := make(map[catalog.AddOnID]bool, len(q.AddOns))
	for _, id := range q.AddOns {
		addOn, err := catalog.LookupAddOn(id)
		if err != nil {
			return nil, invalid("addOns", "unknown add-on %q", id)
		}
		if seen[id] {
			return nil, invalid("addOns", "add-on %q selected twice", id)
		}
		seen[id] = true

		value := strings.TrimSpace(q.AddOnValues[id])
		if addOn.RequiresValue && value == "" {
			return nil, invalid("addOnValues."+string(id), "a value is required for %s", id)
		}

		line := AddOnLine{ID: id, Value: value}
		if id == catalog.AddOnIcon && tier.IconIncluded {
			line.Included = true
		} else {
			line.Amount = addOn.Prices[q.Duration]
		}
		b.Total += line.Amount
		b.AddOns = append(b.AddOns, line)
	}

	return b, nil
}
