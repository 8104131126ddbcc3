package pricing

import (
	"errors"
	"testing"

	"github.com/mbd888/jobads/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrice_FreeTier(t *testing.T) {
	b, err := Price(Quote{Tier: catalog.TierFree})
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Total)
	assert.Empty(t, b.AddOns)

	_, err = Price(Quote{Tier: catalog.TierFree, Duration: 30})
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "duration", pe.Field)

	_, err = Price(Quote{
		Tier:   catalog.TierFree,
		AddOns: []catalog.AddOnID{catalog.AddOnBold},
	})
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "addOns", pe.Field)
}

func TestPrice_BaselineAddsNoUpgrade(t *testing.T) {
	b, err := Price(Quote{Tier: catalog.TierLine, Duration: 60})
	require.NoError(t, err)
	assert.Equal(t, int64(55000), b.LineRate)
	assert.Equal(t, int64(0), b.Upgrade)
	assert.Equal(t, int64(55000), b.Total)
}

func TestPrice_UpgradeAndAddOns(t *testing.T) {
	b, err := Price(Quote{
		Tier:     catalog.TierUrgent,
		Duration: 30,
		AddOns:   []catalog.AddOnID{catalog.AddOnIcon, catalog.AddOnBold},
		AddOnValues: map[catalog.AddOnID]string{
			catalog.AddOnIcon: "star",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(30000), b.LineRate)
	assert.Equal(t, int64(20000), b.Upgrade)
	require.Len(t, b.AddOns, 2)
	assert.Equal(t, int64(10000), b.AddOns[0].Amount)
	assert.False(t, b.AddOns[0].Included)
	assert.Equal(t, "star", b.AddOns[0].Value)
	assert.Equal(t, int64(5000), b.AddOns[1].Amount)
	assert.Equal(t, int64(30000+20000+10000+5000), b.Total)
}

func TestPrice_BundledIconIsIncludedAtZero(t *testing.T) {
	b, err := Price(Quote{
		Tier:        catalog.TierPremium,
		Duration:    90,
		AddOns:      []catalog.AddOnID{catalog.AddOnIcon},
		AddOnValues: map[catalog.AddOnID]string{catalog.AddOnIcon: "fire"},
	})
	require.NoError(t, err)
	require.Len(t, b.AddOns, 1)
	assert.True(t, b.AddOns[0].Included)
	assert.Equal(t, int64(0), b.AddOns[0].Amount)
	assert.Equal(t, int64(80000+270000), b.Total)
}

func TestPrice_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		quote Quote
		field string
	}{
		{"unknown tier", Quote{Tier: "GOLD", Duration: 30}, "tier"},
		{"bad duration", Quote{Tier: catalog.TierSpecial, Duration: 45}, "duration"},
		{"zero duration on paid tier", Quote{Tier: catalog.TierSpecial}, "duration"},
		{"unknown add-on", Quote{Tier: catalog.TierLine, Duration: 30, AddOns: []catalog.AddOnID{"GLITTER"}}, "addOns"},
		{"duplicate add-on", Quote{Tier: catalog.TierLine, Duration: 30, AddOns: []catalog.AddOnID{catalog.AddOnBold, catalog.AddOnBold}}, "addOns"},
		{"missing highlight color", Quote{Tier: catalog.TierLine, Duration: 30, AddOns: []catalog.AddOnID{catalog.AddOnHighlight}}, "addOnValues.HIGHLIGHT"},
		{
			"blank icon value",
			Quote{
				Tier: catalog.TierLine, Duration: 30,
				AddOns:      []catalog.AddOnID{catalog.AddOnIcon},
				AddOnValues: map[catalog.AddOnID]string{catalog.AddOnIcon: "  "},
			},
			"addOnValues.ICON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Price(tt.quote)
			var pe *Error
			require.True(t, errors.As(err, &pe), "expected *Error, got %v", err)
			assert.Equal(t, tt.field, pe.Field)
		})
	}
}
