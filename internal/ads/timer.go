package ads

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sweepTimeout bounds a single expiry pass.
const sweepTimeout = 30 * time.Second

// Timer periodically expires ads whose running window has ended and cancels
// deposit orders left unpaid past the pending TTL. The first
// pass runs immediately so ads that lapsed during downtime are closed on boot.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewTimer creates an expiry sweep timer. A non-positive interval means five minutes.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (t *Timer) Start(ctx context.Context) {
	defer close(t.done)

	t.sweep(ctx)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// Stop ends the loop. It does not wait; use Done for that.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Done is closed once Start has returned.
func (t *Timer) Done() <-chan struct{} { return t.done }

func (t *Timer) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	n, err := t.service.ExpireDue(ctx)
	switch {
	case err != nil:
		t.logger.Warn("ad expiry sweep failed", "error", err)
	case n > 0:
		t.logger.Info("ad expiry sweep", "expired", n)
	}

	n, err = t.service.CancelStalePending(ctx)
	switch {
	case err != nil:
		t.logger.Warn("stale deposit sweep failed", "error", err)
	case n > 0:
		t.logger.Info("stale deposit sweep", "cancelled", n)
	}
}
