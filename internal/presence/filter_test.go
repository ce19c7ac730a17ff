package presence

import (
	"testing"

	"github.com/matheus3301/nearby/internal/domain"
)

func TestFilterApply(t *testing.T) {
	users := []domain.NearbyUser{
		{ID: "close", Ranged: true, Distance: 10, Age: 25, Gender: "female", Interests: []string{"Tech"}},
		{ID: "mid", Ranged: true, Distance: 120, Age: 40, Gender: "male", Interests: []string{"Music"}},
		{ID: "far", Ranged: true, Distance: 400, Age: 30, Gender: "female", Interests: []string{"Tech"}},
		{ID: "unranged", Age: 22, Gender: "male", Interests: []string{"Hiking"}},
	}
	advanced := Filter{MinAge: 20, MaxAge: 35, Gender: "female", Interests: []string{"tech"}}

	tests := []struct {
		name   string
		filter Filter
		tier   domain.Tier
		want   []string
	}{
		{"free radius only", Filter{}, domain.TierFree, []string{"close", "unranged"}},
		{"free ignores advanced", advanced, domain.TierFree, []string{"close", "unranged"}},
		{"pro radius", Filter{}, domain.TierPro, []string{"close", "mid", "unranged"}},
		{"premium radius", Filter{}, domain.TierPremium, []string{"close", "mid", "far", "unranged"}},
		{"user max distance below radius", Filter{MaxDistance: 50}, domain.TierPremium, []string{"close", "unranged"}},
		{"user max distance above radius", Filter{MaxDistance: 1000}, domain.TierFree, []string{"close", "unranged"}},
		{"premium advanced", advanced, domain.TierPremium, []string{"close", "far"}},
		{"gender all", Filter{Gender: "all"}, domain.TierPremium, []string{"close", "mid", "far", "unranged"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ids(tt.filter.Apply(users, tt.tier)); !equalIDs(got, tt.want) {
				t.Errorf("Apply = %v, want %v", got, tt.want)
			}
		})
	}
}
