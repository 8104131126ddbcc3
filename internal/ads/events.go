package ads

import (
	"context"
	"time"

	"github.com/mbd888/jobads/internal/catalog"
)

// Event types emitted after a write commits.
const (
	EventPendingDeposit   = "payment.pending_deposit"
	EventPaymentApproved  = "payment.approved"
	EventPaymentCancelled = "payment.cancelled"
	EventAdActivated      = "ad.activated"
	EventAdExpired        = "ad.expired"
)

// Event describes a committed lifecycle change.
type Event struct {
	Type      string         `json:"type"`
	AccountID string         `json:"accountId"`
	AdID      string         `json:"adId"`
	OrderID   string         `json:"orderId,omitempty"`
	Tier      catalog.TierID `json:"tier"`
	Amount    int64          `json:"amount"`
	Method    Method         `json:"method,omitempty"`
	At        time.Time      `json:"at"`
}

// Notifier receives events once their transaction has committed.
// Implementations must not block; a failed delivery never affects the write.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Event) {}
