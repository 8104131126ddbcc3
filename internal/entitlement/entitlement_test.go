package entitlement

import (
	"testing"
	"time"

	"github.com/mbd888/jobads/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_NoGrants(t *testing.T) {
	_, ok := Resolve(nil)
	assert.False(t, ok)

	_, ok = Resolve([]Grant{{AdID: "ad_free", Tier: catalog.TierFree}})
	assert.False(t, ok, "free ads never entitle")

	_, ok = Resolve([]Grant{{AdID: "ad_x", Tier: "RETIRED"}})
	assert.False(t, ok, "unknown tiers never entitle")
}

func TestResolve_PicksLowestRank(t *testing.T) {
	ent, ok := Resolve([]Grant{
		{AdID: "ad_line", Tier: catalog.TierLine},
		{AdID: "ad_special", Tier: catalog.TierSpecial},
		{AdID: "ad_urgent", Tier: catalog.TierUrgent},
		{AdID: "ad_free", Tier: catalog.TierFree},
	})
	require.True(t, ok)
	assert.Equal(t, catalog.TierSpecial, ent.Tier)
	assert.Equal(t, "ad_special", ent.GrantingAdID)
	assert.Equal(t, catalog.Limited(30), ent.DailyLimit)
	assert.False(t, ent.Operator)
}

func TestResolve_NationalIsUnlimited(t *testing.T) {
	ent, ok := Resolve([]Grant{
		{AdID: "ad_premium", Tier: catalog.TierPremium},
		{AdID: "ad_national", Tier: catalog.TierNational},
	})
	require.True(t, ok)
	assert.True(t, ent.DailyLimit.IsUnlimited())
	assert.Equal(t, "ad_national", ent.GrantingAdID)
}

func TestResolve_TieBreak(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	ent, ok := Resolve([]Grant{
		{AdID: "ad_old", Tier: catalog.TierUrgent, ActivatedAt: t0},
		{AdID: "ad_new", Tier: catalog.TierUrgent, ActivatedAt: t0.Add(time.Hour)},
	})
	require.True(t, ok)
	assert.Equal(t, "ad_new", ent.GrantingAdID, "most recently activated wins")

	grants := []Grant{
		{AdID: "ad_b", Tier: catalog.TierUrgent, ActivatedAt: t0},
		{AdID: "ad_a", Tier: catalog.TierUrgent, ActivatedAt: t0},
	}
	for i := 0; i < 5; i++ {
		ent, _ = Resolve(grants)
		assert.Equal(t, "ad_a", ent.GrantingAdID, "ad id breaks exact ties")
		grants[0], grants[1] = grants[1], grants[0]
	}
}

func TestDecide(t *testing.T) {
	urgent := Entitlement{Tier: catalog.TierUrgent, DailyLimit: catalog.Limited(3), GrantingAdID: "ad_1"}

	tests := []struct {
		name     string
		ent      Entitlement
		entitled bool
		viewed   []string
		resource string
		allowed  bool
		reason   string
		record   bool
		used     int
	}{
		{"no entitlement", Entitlement{}, false, nil, "r1", false, ReasonNoActivePaidTier, false, 0},
		{"first view", urgent, true, nil, "r1", true, ReasonNewView, true, 1},
		{"limit-th view", urgent, true, []string{"r1", "r2"}, "r3", true, ReasonNewView, true, 3},
		{"over limit", urgent, true, []string{"r1", "r2", "r3"}, "r4", false, ReasonDailyLimit, false, 3},
		{"re-view at limit", urgent, true, []string{"r1", "r2", "r3"}, "r2", true, ReasonAlreadyViewed, false, 3},
		{"unlimited", Entitlement{DailyLimit: catalog.Unlimited}, true, make([]string, 500), "r", true, ReasonNewView, true, 501},
		{"operator", operatorEntitlement, true, nil, "r1", true, ReasonOperator, true, 1},
		{"zero limit", Entitlement{DailyLimit: catalog.Limited(0)}, true, nil, "r1", false, ReasonDailyLimit, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, record := Decide(tt.ent, tt.entitled, tt.viewed, tt.resource)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.record, record)
			assert.Equal(t, tt.used, d.Used)
		})
	}
}
