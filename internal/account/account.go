// Package account models who is calling the engine: a jobseeker, a business
// advertiser (verified or not), or a platform operator.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrAccountNotFound = errors.New("account: not found")
	ErrAccountExists   = errors.New("account: already exists")
	ErrNotAdvertiser   = errors.New("account: only business accounts may advertise")
	ErrUnverified      = errors.New("account: business status is not verified")
	ErrUnknownRole     = errors.New("account: unknown role")
)

// Role is a closed set of variants: Jobseeker, Business and Operator.
// Switches over Role must handle all three and fail on anything else.
type Role interface {
	role() string
}

// Jobseeker is a candidate account. It never advertises or views resumes.
type Jobseeker struct{}

// Business is an advertiser. Verified is the external verification fact.
type Business struct {
	Verified bool
}

// Operator is platform staff; quota checks are bypassed.
type Operator struct{}

func (Jobseeker) role() string { return "jobseeker" }
func (Business) role() string  { return "business" }
func (Operator) role() string  { return "operator" }

// Account is the engine's view of a caller.
type Account struct {
	ID        string    `json:"id"`
	Role      Role      `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoleName returns the persisted name of r.
func RoleName(r Role) string {
	if r == nil {
		return ""
	}
	return r.role()
}

// ParseRole rebuilds a Role from its persisted form.
func ParseRole(name string, verified bool) (Role, error) {
	switch name {
	case "jobseeker":
		return Jobseeker{}, nil
	case "business":
		return Business{Verified: verified}, nil
	case "operator":
		return Operator{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
}

// IsVerified reports the verification flag carried by r. Only Business
// carries one; the other roles report false.
func IsVerified(r Role) bool {
	b, ok := r.(Business)
	return ok && b.Verified
}

// CheckAdvertiser returns nil when r may create advertisements.
func CheckAdvertiser(r Role) error {
	switch v := r.(type) {
	case Business:
		if !v.Verified {
			return ErrUnverified
		}
		return nil
	case Jobseeker, Operator:
		return ErrNotAdvertiser
	default:
		return ErrUnknownRole
	}
}

// IsOperator reports whether r is an operator.
func IsOperator(r Role) bool {
	_, ok := r.(Operator)
	return ok
}

// Directory supplies role and verification facts for accounts.
type Directory interface {
	Get(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, a *Account) error
	SetVerified(ctx context.Context, id string, verified bool) error
}
