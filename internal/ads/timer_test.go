package ads

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_SweepsOnStartAndStops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.business(t, "biz_1")
	_, err := f.svc.GrantCredits(ctx, acct, 1)
	require.NoError(t, err)

	req := lineReq()
	req.UseCredit = true
	ad, _, err := f.svc.CreateAd(ctx, acct, req)
	require.NoError(t, err)
	f.clock.Advance(31 * 24 * time.Hour)

	timer := NewTimer(f.svc, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go timer.Start(ctx)

	assert.Eventually(t, func() bool {
		got, err := f.svc.Get(ctx, ad.ID)
		return err == nil && got.Status == StatusExpired
	}, 2*time.Second, 10*time.Millisecond)

	timer.Stop()
	timer.Stop()
	select {
	case <-timer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not stop")
	}
}

func TestTimer_CancelsStaleDeposits(t *testing.T) {
	f := newFixture(t, WithPendingTTL(time.Hour))
	ctx := context.Background()
	acct := f.business(t, "biz_1")
	_, p, err := f.svc.CreateAd(ctx, acct, lineReq())
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)

	timer := NewTimer(f.svc, time.Hour, nil)
	go timer.Start(ctx)
	defer timer.Stop()

	assert.Eventually(t, func() bool {
		pay, err := f.svc.GetPayment(ctx, p.OrderID)
		return err == nil && pay.Status == PaymentCancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTimer_StopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	timer := NewTimer(f.svc, 0, nil)
	assert.Equal(t, 5*time.Minute, timer.interval)
	go timer.Start(ctx)
	cancel()

	select {
	case <-timer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not stop")
	}
}
