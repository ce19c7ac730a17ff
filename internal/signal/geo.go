package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/distance"
	"github.com/matheus3301/nearby/internal/domain"
	"go.uber.org/zap"
)

// Locator reports the device's own position.
type Locator interface {
	Locate(ctx context.Context) (domain.Coords, error)
}

// StaticLocator always reports the same position.
type StaticLocator domain.Coords

func (l StaticLocator) Locate(context.Context) (domain.Coords, error) {
	return domain.Coords(l), nil
}

// GeoSource ranges online users by the great-circle distance between the
// device's position and the location on their profile.
type GeoSource struct {
	cadence

	gate    *Gate
	locator Locator
	backend backend.Backend
	self    string
	logger  *zap.Logger
}

// NewGeo creates a GPS-derived source. self is excluded from batches.
func NewGeo(gate *Gate, locator Locator, b backend.Backend, self string, logger *zap.Logger) *GeoSource {
	return &GeoSource{gate: gate, locator: locator, backend: b, self: self, logger: logger}
}

func (g *GeoSource) Name() string { return "geo" }

func (g *GeoSource) Start(cb func(Batch), opts Options) error {
	if g.active() {
		return ErrActive
	}
	if err := g.gate.require(CapLocation); err != nil {
		return err
	}
	return g.start(opts.interval(), func(ctx context.Context) {
		batch, err := g.scan(ctx)
		if err != nil {
			if ctx.Err() == nil {
				g.logger.Warn("geo scan failed", zap.Error(err))
			}
			return
		}
		emit(ctx, cb, batch)
	})
}

func (g *GeoSource) Stop() { g.stop() }

func (g *GeoSource) IsActive() bool { return g.active() }

func (g *GeoSource) scan(ctx context.Context) (Batch, error) {
	here, err := g.locator.Locate(ctx)
	if err != nil {
		return Batch{}, err
	}
	docs, err := g.backend.Query(ctx, backend.Profiles, backend.Where(backend.Eq("isOnline", true)))
	if err != nil {
		return Batch{}, err
	}
	var readings []Reading
	for _, p := range decodeProfiles(docs, g.self) {
		if p.Location == nil {
			continue
		}
		d := distance.Haversine(here.Latitude, here.Longitude, p.Location.Latitude, p.Location.Longitude)
		readings = append(readings, Reading{Profile: p, Distance: d, HasDistance: true})
	}
	return Batch{Source: g.Name(), Kind: KindSignal, At: time.Now(), Readings: readings}, nil
}

// decodeProfiles parses profile documents, skipping self and rows that do
// not decode.
func decodeProfiles(docs []backend.Document, self string) []domain.Profile {
	profiles := make([]domain.Profile, 0, len(docs))
	for _, doc := range docs {
		var p domain.Profile
		if err := json.Unmarshal(doc, &p); err != nil || p.ID == "" || p.ID == self {
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles
}
