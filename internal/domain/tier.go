package domain

import "fmt"

// Tier is a subscription level gating feature access and numeric limits.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// Unlimited marks a numeric limit with no cap.
const Unlimited = -1

// Limits holds the feature gates for one tier.
type Limits struct {
	MaxConnections     int
	DetectionRadius    float64 // meters
	AdvancedFilters    bool
	ExtendedProfiles   bool
	MaxMeetupProposals int
}

var tierLimits = map[Tier]Limits{
	TierFree: {
		MaxConnections:     5,
		DetectionRadius:    50,
		MaxMeetupProposals: 2,
	},
	TierPro: {
		MaxConnections:     50,
		DetectionRadius:    200,
		AdvancedFilters:    true,
		ExtendedProfiles:   true,
		MaxMeetupProposals: 10,
	},
	TierPremium: {
		MaxConnections:     Unlimited,
		DetectionRadius:    500,
		AdvancedFilters:    true,
		ExtendedProfiles:   true,
		MaxMeetupProposals: Unlimited,
	},
}

// ParseTier validates a tier name. An empty name is the free tier.
func ParseTier(s string) (Tier, error) {
	if s == "" {
		return TierFree, nil
	}
	t := Tier(s)
	if _, ok := tierLimits[t]; !ok {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Limits returns the limits of t. Unknown tiers get the free limits.
func (t Tier) Limits() Limits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// Allows reports whether n existing items still leave room under limit.
func Allows(limit, n int) bool {
	return limit == Unlimited || n < limit
}
