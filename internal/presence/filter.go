package presence

import (
	"strings"

	"github.com/matheus3301/nearby/internal/domain"
)

// Filter narrows the nearby list. Zero fields do not filter.
type Filter struct {
	MaxDistance float64  `toml:"max_distance"`
	MinAge      int      `toml:"min_age"`
	MaxAge      int      `toml:"max_age"`
	Gender      string   `toml:"gender"`
	Interests   []string `toml:"interests"`
}

// Apply returns the users matching f under tier's limits. Ranged users
// beyond the tier's detection radius are always hidden; age, gender and
// interest filters apply only when the tier has advanced filters. Users
// without a distance are not subject to the distance limits.
func (f Filter) Apply(users []domain.NearbyUser, tier domain.Tier) []domain.NearbyUser {
	limits := tier.Limits()
	radius := limits.DetectionRadius
	if f.MaxDistance > 0 && f.MaxDistance < radius {
		radius = f.MaxDistance
	}

	out := make([]domain.NearbyUser, 0, len(users))
	for _, u := range users {
		if u.Ranged && u.Distance > radius {
			continue
		}
		if limits.AdvancedFilters && !f.matchesAdvanced(u) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func (f Filter) matchesAdvanced(u domain.NearbyUser) bool {
	if f.MinAge > 0 && u.Age > 0 && u.Age < f.MinAge {
		return false
	}
	if f.MaxAge > 0 && u.Age > 0 && u.Age > f.MaxAge {
		return false
	}
	if f.Gender != "" && !strings.EqualFold(f.Gender, "all") && !strings.EqualFold(f.Gender, u.Gender) {
		return false
	}
	if len(f.Interests) > 0 && len(sharedInterests(f.Interests, u.Interests)) == 0 {
		return false
	}
	return true
}
