package ads

import (
	"testing"

	"github.com/mbd888/jobads/internal/catalog"
	"github.com/stretchr/testify/assert"
)

func TestCreationLocks(t *testing.T) {
	tests := []struct {
		name string
		tier catalog.TierID
		slot int
		want []string
	}{
		{"free", catalog.TierFree, 0, []string{"ads:account:biz_1"}},
		{"uncapped paid", catalog.TierLine, 0, []string{"ads:account:biz_1"}},
		{"capped paid", catalog.TierNational, 10, []string{"ads:account:biz_1", "ads:tier:NATIONAL"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Creation{
				Ad:   &Advertisement{AccountID: "biz_1", Tier: tt.tier},
				Caps: Caps{PaidOpen: 5, TierSlot: tt.slot},
			}
			assert.Equal(t, tt.want, creationLocks(c))
		})
	}
}
