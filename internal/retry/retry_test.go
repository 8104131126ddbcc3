package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestPolicy_SuccessOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 3, BaseDelay: time.Millisecond}.Run(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_SuccessOnRetry(t *testing.T) {
	calls := 0
	var retried []int
	p := Policy{
		Attempts:  3,
		BaseDelay: time.Millisecond,
		OnRetry:   func(attempt int, _ error) { retried = append(retried, attempt) },
	}
	err := p.Run(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestPolicy_ExhaustedReturnsLastError(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 3, BaseDelay: time.Millisecond}.Run(context.Background(), func() error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestPolicy_PermanentIsUnwrapped(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 5, BaseDelay: time.Millisecond}.Run(context.Background(), func() error {
		calls++
		return Permanent(errTransient)
	})
	assert.Equal(t, errTransient, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_NonRetryableReturnedUnchanged(t *testing.T) {
	errFatal := errors.New("constraint violated")
	calls := 0
	p := Policy{
		Attempts:  5,
		BaseDelay: time.Millisecond,
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
	}
	err := p.Run(context.Background(), func() error {
		calls++
		if calls == 1 {
			return errTransient
		}
		return errFatal
	})
	assert.Equal(t, errFatal, err)
	assert.Equal(t, 2, calls)
}

func TestPolicy_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{Attempts: 5, BaseDelay: time.Second}.Run(ctx, func() error {
		calls++
		cancel()
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPolicy_ZeroAttemptsCallsOnce(t *testing.T) {
	calls := 0
	err := Policy{}.Run(context.Background(), func() error {
		calls++
		return errTransient
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_MaxDelayCapsBackoff(t *testing.T) {
	start := time.Now()
	_ = Policy{Attempts: 4, BaseDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Millisecond}.
		Run(context.Background(), func() error { return errTransient })
	// Three pauses of at most 12.5ms each.
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestJitterStaysInBand(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 200; i++ {
		j := jitter(d)
		assert.GreaterOrEqual(t, j, 75*time.Millisecond)
		assert.LessOrEqual(t, j, 125*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), jitter(0))
}
