package catalog

import (
	"encoding/json"
	"strconv"
)

// Limit is a daily allowance that may be Unlimited. The zero value is a
// finite limit of zero. Unlimited compares greater than every finite limit.
type Limit struct {
	n         int
	unlimited bool
}

// Unlimited is the sentinel for "no daily cap".
var Unlimited = Limit{unlimited: true}

// Limited returns a finite limit of n (negative values clamp to zero).
func Limited(n int) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n}
}

// IsUnlimited reports whether l is the Unlimited sentinel.
func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value returns the finite cap, or -1 for Unlimited.
func (l Limit) Value() int {
	if l.unlimited {
		return -1
	}
	return l.n
}

// Allows reports whether one more unit fits after used units.
func (l Limit) Allows(used int) bool {
	return l.unlimited || used < l.n
}

// Remaining returns how many units are left after used, or -1 for Unlimited.
func (l Limit) Remaining(used int) int {
	if l.unlimited {
		return -1
	}
	if used >= l.n {
		return 0
	}
	return l.n - used
}

// Less reports whether l is strictly smaller than o.
func (l Limit) Less(o Limit) bool {
	switch {
	case l.unlimited:
		return false
	case o.unlimited:
		return true
	default:
		return l.n < o.n
	}
}

func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return strconv.Itoa(l.n)
}

// MarshalJSON encodes Unlimited as null and finite limits as numbers.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return []byte("null"), nil
	}
	return json.Marshal(l.n)
}
