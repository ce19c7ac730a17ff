package signal

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/backend/memory"
	"github.com/matheus3301/nearby/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memStorage struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemStorage() *memStorage { return &memStorage{values: make(map[string]string)} }

func (s *memStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// collector gathers batches delivered to a source callback.
type collector struct {
	mu      sync.Mutex
	batches []Batch
	ch      chan Batch
}

func newCollector() *collector { return &collector{ch: make(chan Batch, 64)} }

func (c *collector) cb(b Batch) {
	c.mu.Lock()
	c.batches = append(c.batches, b)
	c.mu.Unlock()
	select {
	case c.ch <- b:
	default:
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *collector) next(t *testing.T) Batch {
	t.Helper()
	select {
	case b := <-c.ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
	}
	return Batch{}
}

func TestSimulatedEmitsRosterImmediately(t *testing.T) {
	s := NewSimulated(DefaultRoster(), rand.New(rand.NewPCG(1, 2)))
	c := newCollector()
	if err := s.Start(c.cb, Options{Interval: time.Hour}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	b := c.next(t)
	if b.Kind != KindSignal || len(b.Readings) != 3 {
		t.Fatalf("batch = %s with %d readings, want signal with 3", b.Kind, len(b.Readings))
	}
	if b.Readings[0].Profile.Name != "Alex Chen" || !b.Readings[0].HasRSSI {
		t.Errorf("first reading = %+v", b.Readings[0])
	}
}

func TestSimulatedJitterStaysBounded(t *testing.T) {
	roster := []SimulatedPeer{
		{Profile: domain.Profile{ID: "near"}, RSSI: -31},
		{Profile: domain.Profile{ID: "far"}, RSSI: -99},
	}
	s := NewSimulated(roster, rand.New(rand.NewPCG(3, 4)))
	prev := []float64{-31, -99}
	for range 500 {
		b := s.next()
		for i, r := range b.Readings {
			if r.RSSI < simMinRSSI || r.RSSI > simMaxRSSI {
				t.Fatalf("rssi %v out of [-100,-30]", r.RSSI)
			}
			if d := r.RSSI - prev[i]; d > simJitter || d < -simJitter {
				t.Fatalf("step %v exceeds jitter", d)
			}
			prev[i] = r.RSSI
		}
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	s := NewSimulated(DefaultRoster(), nil)
	if err := s.Start(func(Batch) {}, Options{Interval: time.Hour}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if err := s.Start(func(Batch) {}, Options{}); !errors.Is(err, ErrActive) {
		t.Errorf("second Start = %v, want ErrActive", err)
	}
}

// No callback may run once Stop has returned, and Stop may be repeated.
func TestStopIsSynchronousAndIdempotent(t *testing.T) {
	s := NewSimulated(DefaultRoster(), nil)
	var stopped atomic.Bool
	var late atomic.Int32
	if err := s.Start(func(Batch) {
		if stopped.Load() {
			late.Add(1)
		}
	}, Options{Interval: time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	stopped.Store(true)
	s.Stop()

	time.Sleep(20 * time.Millisecond)
	if late.Load() != 0 {
		t.Errorf("%d callbacks after Stop returned", late.Load())
	}
	if s.IsActive() {
		t.Error("source still active after Stop")
	}
	// Restart after stop is allowed.
	if err := s.Start(func(Batch) {}, Options{Interval: time.Hour}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	s.Stop()
}

func TestGateRemembersAnswer(t *testing.T) {
	storage := newMemStorage()
	prompts := 0
	answer := false
	g := NewGate(storage, func(Capability) bool { prompts++; return answer })

	if g.State(CapLocation) != PermissionPrompt {
		t.Fatal("initial state should be prompt")
	}
	for range 3 {
		p, err := g.Request(CapLocation)
		if err != nil || p != PermissionDenied {
			t.Fatalf("Request = %s, %v; want denied", p, err)
		}
	}
	if prompts != 1 {
		t.Errorf("prompted %d times, want 1", prompts)
	}

	// A fresh gate over the same storage remembers the denial.
	if NewGate(storage, nil).State(CapLocation) != PermissionDenied {
		t.Error("denial not persisted")
	}

	answer = true
	if err := g.Reset(CapLocation); err != nil {
		t.Fatal(err)
	}
	if p, _ := g.Request(CapLocation); p != PermissionGranted {
		t.Errorf("after reset = %s, want granted", p)
	}
	if g.State(CapBluetooth) != PermissionPrompt {
		t.Error("capabilities must be independent")
	}
}

type fakeScanner struct {
	mu       sync.Mutex
	devices  []Device
	started  int
	stopped  int
	startErr error
}

func (f *fakeScanner) StartDiscovery() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return f.startErr
}

func (f *fakeScanner) StopDiscovery() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeScanner) Devices(context.Context) ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Device(nil), f.devices...), nil
}

func TestBluetoothDeniedDoesNotScan(t *testing.T) {
	scanner := &fakeScanner{}
	b := NewBluetooth(NewGate(newMemStorage(), nil), scanner, zap.NewNop())
	err := b.Start(func(Batch) {}, Options{})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Start = %v, want ErrPermissionDenied", err)
	}
	if scanner.started != 0 || b.IsActive() {
		t.Error("denied source must not scan")
	}
}

func TestBluetoothReadings(t *testing.T) {
	scanner := &fakeScanner{devices: []Device{
		{Address: "AA:BB", Name: "Pixel", RSSI: -70, HasRSSI: true},
		{Address: "CC:DD"},
		{Name: "no address"},
	}}
	b := NewBluetooth(NewGate(newMemStorage(), func(Capability) bool { return true }), scanner, zap.NewNop())
	c := newCollector()
	if err := b.Start(c.cb, Options{Interval: time.Hour}); err != nil {
		t.Fatal(err)
	}
	batch := c.next(t)
	b.Stop()

	if len(batch.Readings) != 2 {
		t.Fatalf("readings = %+v, want 2", batch.Readings)
	}
	if r := batch.Readings[0]; r.Profile.ID != "ble:AA:BB" || r.RSSI != -70 {
		t.Errorf("reading 0 = %+v", r)
	}
	if r := batch.Readings[1]; r.RSSI != PlaceholderRSSI || r.Profile.Name != "CC:DD" {
		t.Errorf("reading 1 = %+v, want placeholder rssi", r)
	}
	if scanner.stopped != 1 {
		t.Errorf("StopDiscovery called %d times, want 1", scanner.stopped)
	}
}

func TestGeoRangesOnlineProfiles(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	for _, doc := range []string{
		`{"id":"me","isOnline":true,"location":{"latitude":40.7128,"longitude":-74.0060}}`,
		`{"id":"u1","name":"Near","isOnline":true,"location":{"latitude":40.7138,"longitude":-74.0060}}`,
		`{"id":"u2","name":"Hidden","isOnline":true}`,
		`{"id":"u3","name":"Away","isOnline":false,"location":{"latitude":40.72,"longitude":-74.0}}`,
	} {
		if _, err := mem.Create(ctx, backend.Profiles, backend.Document(doc)); err != nil {
			t.Fatal(err)
		}
	}
	gate := NewGate(newMemStorage(), func(Capability) bool { return true })
	g := NewGeo(gate, StaticLocator{Latitude: 40.7128, Longitude: -74.0060}, mem, "me", zap.NewNop())

	batch, err := g.scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Readings) != 1 {
		t.Fatalf("readings = %+v, want only u1", batch.Readings)
	}
	r := batch.Readings[0]
	if r.Profile.ID != "u1" || !r.HasDistance || r.Distance < 100 || r.Distance > 120 {
		t.Errorf("reading = %+v, want u1 about 111 m away", r)
	}
}

func TestGeoRequiresLocationPermission(t *testing.T) {
	g := NewGeo(NewGate(newMemStorage(), nil), StaticLocator{}, memory.New(), "me", zap.NewNop())
	if err := g.Start(func(Batch) {}, Options{}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Start = %v, want ErrPermissionDenied", err)
	}
}

func TestPresenceRelaysSubscription(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	_, _ = mem.Create(ctx, backend.Profiles, backend.Document(`{"id":"me","isOnline":true}`))
	_, _ = mem.Create(ctx, backend.Profiles, backend.Document(`{"id":"u1","name":"Ana","isOnline":true}`))

	p := NewPresence(mem, "me")
	c := newCollector()
	if err := p.Start(c.cb, Options{Authoritative: true}); err != nil {
		t.Fatal(err)
	}

	first := c.next(t)
	if first.Kind != KindPresence || !first.Authoritative || len(first.Readings) != 1 || first.Readings[0].Profile.ID != "u1" {
		t.Fatalf("first batch = %+v", first)
	}

	_ = mem.Update(ctx, backend.Profiles, "u1", backend.Document(`{"isOnline":false}`))
	if second := c.next(t); len(second.Readings) != 0 {
		t.Errorf("second batch = %+v, want empty", second)
	}

	p.Stop()
	p.Stop()
	before := c.count()
	_, _ = mem.Create(ctx, backend.Profiles, backend.Document(`{"id":"u2","isOnline":true}`))
	if c.count() != before {
		t.Error("batch delivered after Stop")
	}
	if mem.Subscriptions() != 0 {
		t.Error("subscription leaked after Stop")
	}
}

func TestPublishRosterFeedsGeo(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	here := domain.Coords{Latitude: 40.7128, Longitude: -74.0060}
	roster := DefaultRoster()
	if err := PublishRoster(ctx, mem, roster, &here); err != nil {
		t.Fatal(err)
	}
	if err := PublishRoster(ctx, mem, roster, &here); err != nil {
		t.Fatalf("second publish = %v, want existing profiles left alone", err)
	}

	gate := NewGate(newMemStorage(), func(Capability) bool { return true })
	batch, err := NewGeo(gate, StaticLocator(here), mem, "me", zap.NewNop()).scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Readings) != len(roster) {
		t.Fatalf("readings = %d, want %d", len(batch.Readings), len(roster))
	}
	for i, r := range batch.Readings {
		if r.Profile.ID != roster[i].Profile.ID {
			t.Errorf("reading %d = %s, want %s", i, r.Profile.ID, roster[i].Profile.ID)
		}
		if i > 0 && r.Distance <= batch.Readings[i-1].Distance {
			t.Errorf("%s at %.2f m is not farther than the previous peer", r.Profile.ID, r.Distance)
		}
	}
}

type brokenLocator struct{}

func (brokenLocator) Locate(context.Context) (domain.Coords, error) {
	return domain.Coords{}, errors.New("no fix")
}

func TestGeoScanFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	gate := NewGate(newMemStorage(), func(Capability) bool { return true })
	g := NewGeo(gate, brokenLocator{}, memory.New(), "me", zap.New(core))

	var batches atomic.Int32
	if err := g.Start(func(Batch) { batches.Add(1) }, Options{Interval: time.Hour}); err != nil {
		t.Fatal(err)
	}
	defer g.Stop()

	deadline := time.Now().Add(time.Second)
	for logs.FilterMessage("geo scan failed").Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scan failure was not logged")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := batches.Load(); n != 0 {
		t.Errorf("failed scan emitted %d batches", n)
	}
}
