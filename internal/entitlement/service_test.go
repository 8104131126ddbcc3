package entitlement

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/jobads/internal/account"
	"github.com/mbd888/jobads/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGrants struct {
	mu     sync.Mutex
	grants map[string][]Grant
}

func (f *fakeGrants) LiveGrants(_ context.Context, accountID string, _ time.Time) ([]Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Grant(nil), f.grants[accountID]...), nil
}

func (f *fakeGrants) set(accountID string, grants ...Grant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[accountID] = grants
}

type gateFixture struct {
	svc    *Service
	store  *MemoryStore
	grants *fakeGrants
	dir    *account.MemoryDirectory
	now    time.Time
	mu     sync.Mutex
}

func (g *gateFixture) clock() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now
}

func (g *gateFixture) setNow(t time.Time) {
	g.mu.Lock()
	g.now = t
	g.mu.Unlock()
}

func newGate(t *testing.T) *gateFixture {
	t.Helper()
	g := &gateFixture{
		grants: &fakeGrants{grants: make(map[string][]Grant)},
		dir:    account.NewMemoryDirectory(),
		now:    time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC),
	}
	g.store = NewMemoryStore(g.grants)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g.svc = NewService(g.store, g.dir, NewQuotaDay(DefaultOffset), logger).WithClock(g.clock)

	ctx := context.Background()
	require.NoError(t, g.dir.Create(ctx, &account.Account{ID: "biz", Role: account.Business{Verified: true}}))
	require.NoError(t, g.dir.Create(ctx, &account.Account{ID: "op", Role: account.Operator{}}))
	require.NoError(t, g.dir.Create(ctx, &account.Account{ID: "seeker", Role: account.Jobseeker{}}))
	return g
}

func (g *gateFixture) check(t *testing.T, accountID, resourceID string) Decision {
	t.Helper()
	d, err := g.svc.CheckAndLog(context.Background(), accountID, resourceID)
	require.NoError(t, err)
	return d
}

func TestCheckAndLog_UrgentScenario(t *testing.T) {
	g := newGate(t)
	g.grants.set("biz", Grant{AdID: "ad_urgent", Tier: catalog.TierUrgent})

	for i, r := range []string{"R1", "R2", "R3"} {
		d := g.check(t, "biz", r)
		assert.True(t, d.Allowed, r)
		assert.Equal(t, ReasonNewView, d.Reason)
		assert.Equal(t, i+1, d.Used)
	}

	d := g.check(t, "biz", "R2")
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAlreadyViewed, d.Reason)
	assert.Equal(t, 3, d.Used, "a re-view does not count")

	d = g.check(t, "biz", "R4")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyLimit, d.Reason)

	logs := g.store.Logs("biz", g.svc.QuotaDay().Key(g.clock()))
	require.Len(t, logs, 3)
	for _, l := range logs {
		assert.Equal(t, "ad_urgent", l.AdID)
	}
}

func TestCheckAndLog_RepeatedViewsNeverInflate(t *testing.T) {
	g := newGate(t)
	g.grants.set("biz", Grant{AdID: "ad_line", Tier: catalog.TierLine})

	for i := 0; i < 5; i++ {
		d := g.check(t, "biz", "R1")
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, d.Used)
	}
	assert.Len(t, g.store.Logs("biz", g.svc.QuotaDay().Key(g.clock())), 1)
}

func TestCheckAndLog_NoEntitlement(t *testing.T) {
	g := newGate(t)
	g.grants.set("biz", Grant{AdID: "ad_free", Tier: catalog.TierFree})

	d := g.check(t, "biz", "R1")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoActivePaidTier, d.Reason)

	d = g.check(t, "seeker", "R1")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNotAdvertiser, d.Reason)

	_, err := g.svc.CheckAndLog(context.Background(), "ghost", "R1")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = g.svc.CheckAndLog(context.Background(), "biz", "  ")
	assert.ErrorIs(t, err, ErrInvalidResource)
}

func TestCheckAndLog_ResourceIDLength(t *testing.T) {
	g := newGate(t)
	g.grants.set("biz", Grant{AdID: "ad_premium", Tier: catalog.TierPremium})

	d := g.check(t, "biz", strings.Repeat("r", MaxResourceIDLen))
	assert.True(t, d.Allowed)

	_, err := g.svc.CheckAndLog(context.Background(), "biz", strings.Repeat("r", MaxResourceIDLen+1))
	assert.ErrorIs(t, err, ErrInvalidResource)
	assert.Len(t, g.store.Logs("biz", g.svc.QuotaDay().Key(g.clock())), 1, "a rejected id is never logged")
}

func TestCheckAndLog_OperatorBypass(t *testing.T) {
	g := newGate(t)

	for i := 0; i < 50; i++ {
		d := g.check(t, "op", fmt.Sprintf("R%d", i))
		assert.True(t, d.Allowed)
		assert.Equal(t, ReasonOperator, d.Reason)
	}

	logs := g.store.Logs("op", g.svc.QuotaDay().Key(g.clock()))
	require.Len(t, logs, 50)
	assert.Empty(t, logs[0].AdID, "operator views are not attributed to an ad")

	ent, err := g.svc.Resolve(context.Background(), "op")
	require.NoError(t, err)
	assert.True(t, ent.Operator)
	assert.True(t, ent.DailyLimit.IsUnlimited())
}

func TestCheckAndLog_CivilDayBoundary(t *testing.T) {
	g := newGate(t)
	g.grants.set("biz", Grant{AdID: "ad_line", Tier: catalog.TierLine})

	// 23:59:59 KST on 2026-03-10.
	g.setNow(time.Date(2026, 3, 10, 14, 59, 59, 0, time.UTC))
	assert.True(t, g.check(t, "biz", "R1").Allowed)
	assert.False(t, g.check(t, "biz", "R2").Allowed)

	// 00:00:01 KST on 2026-03-11, still 2026-03-10 in UTC.
	g.setNow(time.Date(2026, 3, 10, 15, 0, 1, 0, time.UTC))
	d := g.check(t, "biz", "R2")
	assert.True(t, d.Allowed, "a new civil day resets the quota")
	assert.Equal(t, 1, d.Used)

	d = g.check(t, "biz", "R1")
	assert.False(t, d.Allowed, "yesterday's view is not a free re-view today")
	assert.Equal(t, ReasonDailyLimit, d.Reason)
}

func TestCheckAndLog_ConcurrentAdmitsExactlyLimit(t *testing.T) {
	g := newGate(t)
	g.grants.set("biz", Grant{AdID: "ad_special", Tier: catalog.TierSpecial})
	const limit, n = 30, 100

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		denied  int
		start   = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			d, err := g.svc.CheckAndLog(context.Background(), "biz", fmt.Sprintf("R%03d", i))
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if d.Allowed {
				allowed++
			} else {
				denied++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, limit, allowed)
	assert.Equal(t, n-limit, denied)
	assert.Len(t, g.store.Logs("biz", g.svc.QuotaDay().Key(g.clock())), limit)
}

func TestCheckAndLog_UsesBestCurrentTier(t *testing.T) {
	g := newGate(t)
	g.grants.set("biz", Grant{AdID: "ad_line", Tier: catalog.TierLine})

	assert.True(t, g.check(t, "biz", "R1").Allowed)
	assert.False(t, g.check(t, "biz", "R2").Allowed)

	// Buying a better tier takes effect on the next check.
	g.grants.set("biz",
		Grant{AdID: "ad_line", Tier: catalog.TierLine},
		Grant{AdID: "ad_urgent", Tier: catalog.TierUrgent},
	)
	d := g.check(t, "biz", "R2")
	assert.True(t, d.Allowed)
	assert.Equal(t, catalog.TierUrgent, d.Tier)
	assert.Equal(t, "ad_urgent", d.GrantingAdID)
	assert.Equal(t, 2, d.Used)
}

func TestUsage(t *testing.T) {
	g := newGate(t)
	g.grants.set("biz", Grant{AdID: "ad_urgent", Tier: catalog.TierUrgent})
	g.check(t, "biz", "R1")
	g.check(t, "biz", "R2")

	u, err := g.svc.Usage(context.Background(), "biz")
	require.NoError(t, err)
	assert.Equal(t, 2, u.Used)
	assert.Equal(t, 1, u.Remaining)
	assert.Equal(t, "2026-03-10", u.QuotaDay)
	assert.Equal(t, time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC), u.ResetsAt)

	u, err = g.svc.Usage(context.Background(), "seeker")
	require.NoError(t, err)
	assert.Nil(t, u.Entitlement)
	assert.Equal(t, 0, u.Remaining)

	_, err = g.svc.Resolve(context.Background(), "seeker")
	assert.ErrorIs(t, err, ErrNoEntitlement)
}
