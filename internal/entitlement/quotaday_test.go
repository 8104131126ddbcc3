package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaDay_CivilBoundary(t *testing.T) {
	q := NewQuotaDay(9 * time.Hour)

	// 23:59:59 and 00:00:01 KST, both on 2026-03-10 in UTC.
	before := time.Date(2026, 3, 10, 14, 59, 59, 0, time.UTC)
	after := time.Date(2026, 3, 10, 15, 0, 1, 0, time.UTC)

	assert.Equal(t, "2026-03-10", q.Key(before))
	assert.Equal(t, "2026-03-11", q.Key(after))
	assert.NotEqual(t, q.Start(before), q.Start(after))

	assert.Equal(t, time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC), q.Start(before))
	assert.Equal(t, time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC), q.Start(after))
	assert.Equal(t, q.Start(after), q.End(before))
}

func TestQuotaDay_IgnoresInputZone(t *testing.T) {
	q := NewQuotaDay(9 * time.Hour)
	instant := time.Date(2026, 3, 10, 14, 59, 59, 0, time.UTC)

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		ny = time.FixedZone("EST", -5*3600)
	}
	for _, loc := range []*time.Location{time.UTC, ny, time.FixedZone("X", 13*3600)} {
		assert.Equal(t, q.Start(instant), q.Start(instant.In(loc)))
		assert.Equal(t, "2026-03-10", q.Key(instant.In(loc)))
	}
}

func TestQuotaDay_ZeroValueUsesDefaultOffset(t *testing.T) {
	var q QuotaDay
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC) // 08:00 on the 11th in KST
	assert.Equal(t, time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC), q.Start(now))
	assert.Equal(t, "2026-03-11", q.Key(now))
	assert.Equal(t, NewQuotaDay(DefaultOffset).Start(now), q.Start(now))
}

func TestParseOffset(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"+09:00", 9 * time.Hour},
		{"+9", 9 * time.Hour},
		{"UTC+09:00", 9 * time.Hour},
		{"-05:30", -(5*time.Hour + 30*time.Minute)},
		{"UTC", 0},
		{"", 0},
	}
	for _, tt := range tests {
		got, err := ParseOffset(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"09:00", "+15:00", "+09:75", "+x"} {
		_, err := ParseOffset(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, "+09:00", FormatOffset(9*time.Hour))
	assert.Equal(t, "-05:30", FormatOffset(-(5*time.Hour + 30*time.Minute)))
}
