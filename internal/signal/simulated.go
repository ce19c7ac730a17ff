package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/distance"
	"github.com/matheus3301/nearby/internal/domain"
)

// Jitter bounds of the simulated random walk.
const (
	simJitter  = 5.0
	simMinRSSI = -100.0
	simMaxRSSI = -30.0
)

// SimulatedPeer is a synthetic user with a starting signal strength.
type SimulatedPeer struct {
	Profile domain.Profile
	RSSI    float64
}

// DefaultRoster returns the demo users.
func DefaultRoster() []SimulatedPeer {
	return []SimulatedPeer{
		{
			Profile: domain.Profile{ID: "sim-alex", Name: "Alex Chen", Age: 28, Gender: "male",
				Bio: "Coffee enthusiast and tech lover", Interests: []string{"Coffee", "Tech", "Music"}, IsOnline: true},
			RSSI: -50,
		},
		{
			Profile: domain.Profile{ID: "sim-sarah", Name: "Sarah Johnson", Age: 26, Gender: "female",
				Bio: "Designer who loves hiking", Interests: []string{"Design", "Hiking", "Photography"}, IsOnline: true},
			RSSI: -65,
		},
		{
			Profile: domain.Profile{ID: "sim-mike", Name: "Mike Rodriguez", Age: 31, Gender: "male",
				Bio: "Startup founder and runner", Interests: []string{"Startups", "Running", "Tech"}, IsOnline: true},
			RSSI: -80,
		},
	}
}

// SimulatedSource emits a fixed roster whose RSSI random-walks every cycle.
type SimulatedSource struct {
	cadence

	mu     sync.Mutex
	roster []SimulatedPeer
	rng    *rand.Rand
}

// NewSimulated creates a simulated source. A nil rng uses a random seed.
func NewSimulated(roster []SimulatedPeer, rng *rand.Rand) *SimulatedSource {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &SimulatedSource{roster: slices.Clone(roster), rng: rng}
}

func (s *SimulatedSource) Name() string { return "simulated" }

func (s *SimulatedSource) Start(cb func(Batch), opts Options) error {
	return s.start(opts.interval(), func(ctx context.Context) {
		emit(ctx, cb, s.next())
	})
}

func (s *SimulatedSource) Stop() { s.stop() }

func (s *SimulatedSource) IsActive() bool { return s.active() }

// next advances the random walk and returns the resulting batch.
func (s *SimulatedSource) next() Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	readings := make([]Reading, len(s.roster))
	for i := range s.roster {
		p := &s.roster[i]
		p.RSSI = clamp(p.RSSI+(s.rng.Float64()*2-1)*simJitter, simMinRSSI, simMaxRSSI)
		readings[i] = Reading{Profile: p.Profile, RSSI: p.RSSI, HasRSSI: true}
	}
	return Batch{Source: s.Name(), Kind: KindSignal, At: time.Now(), Readings: readings}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

// metersPerDegree is the length of one degree of latitude.
const metersPerDegree = 111_320.0

// PublishRoster writes the roster's profiles to the backend as online users.
// With around set, each peer is placed due north of it at the distance its
// starting RSSI implies, so the geo source ranks them the same way the
// simulated source does. Profiles that already exist are left alone.
func PublishRoster(ctx context.Context, b backend.Backend, roster []SimulatedPeer, around *domain.Coords) error {
	cal := distance.DefaultCalibration()
	for _, peer := range roster {
		p := peer.Profile
		p.IsOnline = true
		p.LastSeen = time.Now().UTC()
		if around != nil {
			p.Location = &domain.Coords{
				Latitude:  around.Latitude + cal.Estimate(peer.RSSI)/metersPerDegree,
				Longitude: around.Longitude,
			}
		}
		doc, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode %s: %w", p.ID, err)
		}
		if _, err := b.Create(ctx, backend.Profiles, doc); err != nil && !backend.Is(err, backend.CodeConflict) {
			return fmt.Errorf("publish %s: %w", p.ID, err)
		}
	}
	return nil
}
