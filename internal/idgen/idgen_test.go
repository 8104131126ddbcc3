package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("acct_")
	assert.True(t, strings.HasPrefix(id, "acct_"))
	assert.Len(t, id, len("acct_")+24)
}

func TestAdID_IsTimeOrdered(t *testing.T) {
	prev := AdID()
	for i := 0; i < 100; i++ {
		next := AdID()
		require.True(t, strings.HasPrefix(next, "ad_"))
		require.Len(t, next, 35)
		require.Less(t, prev, next)
		prev = next
	}

	u, err := uuid.Parse(strings.TrimPrefix(prev, "ad_"))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), u.Version())
}

func TestEventID(t *testing.T) {
	assert.True(t, strings.HasPrefix(EventID(), "evt_"))
}

func TestOrderID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := OrderID()
		require.True(t, strings.HasPrefix(id, "ord_"))
		require.Len(t, id, 36)
		require.False(t, seen[id], "duplicate order id %s", id)
		seen[id] = true
	}

	u, err := uuid.Parse(strings.TrimPrefix(OrderID(), "ord_"))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), u.Version())
}
