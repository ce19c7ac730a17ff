// Package app composes the client: it constructs the queue, the presence
// pipeline, the sync engine and the social services for one account and
// owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/backend/memory"
	"github.com/matheus3301/nearby/internal/backend/remote"
	"github.com/matheus3301/nearby/internal/bus"
	"github.com/matheus3301/nearby/internal/config"
	"github.com/matheus3301/nearby/internal/distance"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/outbox"
	"github.com/matheus3301/nearby/internal/presence"
	"github.com/matheus3301/nearby/internal/signal"
	"github.com/matheus3301/nearby/internal/social"
	"github.com/matheus3301/nearby/internal/status"
	"github.com/matheus3301/nearby/internal/store"
	intsync "github.com/matheus3301/nearby/internal/sync"
	"go.uber.org/zap"
)

// stopTimeout bounds the best-effort offline announcement on Stop.
const stopTimeout = 3 * time.Second

// Options overrides collaborators, mostly for tests. Zero values are built
// from the config.
type Options struct {
	Account  string
	Backend  backend.Backend
	Source   signal.Source
	Prompter signal.Prompter
	Now      func() time.Time
}

// App is the single owner of every long-lived client component.
type App struct {
	cfg     *config.Config
	account string
	logger  *zap.Logger
	bus     *bus.Bus
	db      *store.DB

	backend backend.Backend
	remote  *remote.Client
	demo    bool

	status   *status.Machine
	queue    *outbox.Queue
	engine   *intsync.Engine
	agg      *presence.Aggregator
	gate     *signal.Gate
	source   signal.Source
	presence *signal.PresenceSource

	conns    *social.Connections
	meetups  *social.Meetups
	messages *social.Messages
	profiles *social.Profiles

	linkUp        atomic.Bool
	forcedOffline atomic.Bool

	scanMu sync.Mutex

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	// live gates background work started from callbacks.
	wmu  sync.Mutex
	live bool
	wg   sync.WaitGroup
}

// New wires the components for cfg. Nothing runs until Start.
func New(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger, opts Options) (*App, error) {
	if cfg.Profile.ID == "" {
		return nil, errors.New("app: profile id is required")
	}
	self := cfg.Profile.ID
	a := &App{
		cfg:     cfg,
		account: opts.Account,
		logger:  logger,
		bus:     b,
		db:      db,
		status:  status.NewMachine(b),
	}

	switch {
	case opts.Backend != nil:
		a.backend = opts.Backend
		a.demo = true
	case cfg.Backend.URL == "":
		a.backend = memory.New()
		a.demo = true
	default:
		rc, err := remote.New(remote.Options{
			URL:            cfg.Backend.URL,
			RealtimeURL:    cfg.Backend.RealtimeURL,
			Timeout:        cfg.Backend.Timeout,
			OnConnectivity: a.setLink,
		}, logger.Named("backend"))
		if err != nil {
			return nil, err
		}
		a.backend, a.remote = rc, rc
	}

	a.queue = outbox.NewQueue(db, outbox.BackendReplayer{Backend: a.backend}, b, logger.Named("outbox"), outbox.Options{
		MaxRetries:    cfg.Sync.MaxRetries,
		DrainInterval: cfg.Sync.DrainInterval,
		Online:        a.status.IsOnline,
	})
	a.engine = intsync.NewEngine(a.backend, db, a.queue, b, logger.Named("sync"), self)

	deps := social.Deps{
		Self:       self,
		Tier:       cfg.Profile.Tier,
		DB:         db,
		Dispatcher: social.NewDispatcher(a.backend, a.queue, a.status, logger.Named("social")),
		Bus:        b,
		Logger:     logger.Named("social"),
		Now:        opts.Now,
	}
	a.conns = social.NewConnections(deps)
	a.meetups = social.NewMeetups(deps)
	a.messages = social.NewMessages(deps)
	a.profiles = social.NewProfiles(deps)
	a.queue.OnDrop(a.messages.ActionDropped)

	a.agg = presence.New(b, logger.Named("presence"), presence.Options{
		Calibration: distance.Calibration{TxPower: cfg.Scan.TxPower, PathLoss: cfg.Scan.PathLoss},
		StaleAfter:  cfg.StaleAfter(),
		AutoConnect: cfg.Scan.AutoConnect,
		Self:        self,
		Interests:   cfg.Profile.Interests,
		Now:         opts.Now,
	})
	a.agg.OnAutoConnect(a.autoConnect)

	prompt := opts.Prompter
	if prompt == nil {
		prompt = a.consent
	}
	a.gate = signal.NewGate(db, prompt)
	a.presence = signal.NewPresence(a.backend, self)

	a.source = opts.Source
	if a.source == nil {
		src, err := a.newSource()
		if err != nil {
			return nil, err
		}
		a.source = src
	}
	return a, nil
}

func (a *App) newSource() (signal.Source, error) {
	switch a.cfg.Scan.Source {
	case config.SourceSimulated:
		return signal.NewSimulated(signal.DefaultRoster(), nil), nil
	case config.SourceBluetooth:
		scanner, err := signal.NewBlueZScanner(a.cfg.Scan.Adapter)
		if err != nil {
			return nil, fmt.Errorf("bluetooth source: %w", err)
		}
		return signal.NewBluetooth(a.gate, scanner, a.logger.Named("bluetooth")), nil
	case config.SourceGeo:
		return signal.NewGeo(a.gate, signal.StaticLocator(a.here()), a.backend, a.cfg.Profile.ID, a.logger.Named("geo")), nil
	}
	return nil, fmt.Errorf("unknown scan source %q", a.cfg.Scan.Source)
}

// consent answers permission prompts from the config: bluetooth needs
// explicit consent, location needs a configured position.
func (a *App) consent(c signal.Capability) bool {
	switch c {
	case signal.CapBluetooth:
		return a.cfg.Scan.BluetoothConsent
	case signal.CapLocation:
		return a.hasLocation()
	}
	return false
}

func (a *App) hasLocation() bool {
	return a.cfg.Location.Latitude != 0 || a.cfg.Location.Longitude != 0
}

func (a *App) here() domain.Coords {
	return domain.Coords{Latitude: a.cfg.Location.Latitude, Longitude: a.cfg.Location.Longitude}
}

// Start brings the client up: the queue, the realtime subscriptions, the
// presence feed and the staleness sweep. Scanning is started separately.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	a.wmu.Lock()
	a.live = true
	a.wmu.Unlock()

	if a.demo {
		if err := a.seedDemo(ctx); err != nil {
			a.logger.Warn("demo roster not published", zap.Error(err))
		}
		a.linkUp.Store(true)
		a.applyConnectivity()
	} else {
		a.status.SetOnline(false)
		a.remote.Start(a.ctx)
	}

	a.queue.Start(a.ctx)
	if err := a.engine.Start(); err != nil {
		a.queue.Stop()
		if a.remote != nil {
			a.remote.Stop()
		}
		a.cancel()
		return fmt.Errorf("start sync engine: %w", err)
	}
	if err := a.profiles.Publish(ctx, a.selfProfile()); err != nil {
		a.logger.Warn("profile not published", zap.Error(err))
	}
	if err := a.presence.Start(a.agg.Ingest, signal.Options{Authoritative: a.cfg.Scan.PresenceAuthoritative}); err != nil {
		a.logger.Warn("presence feed unavailable", zap.Error(err))
	}

	a.wg.Add(1)
	go a.sweep(a.ctx)

	a.started = true
	a.logger.Info("client started",
		zap.String("self", a.cfg.Profile.ID),
		zap.Bool("demo", a.demo),
		zap.String("source", a.source.Name()))
	return nil
}

// Stop tears everything down in reverse order. The offline announcement is
// best effort: if it cannot be sent it stays queued for the next run.
func (a *App) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	a.mu.Unlock()

	a.StopScanning()
	a.presence.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	if err := a.profiles.SetOnline(ctx, false); err != nil {
		a.logger.Warn("offline status not published", zap.Error(err))
	}
	cancel()

	a.engine.Stop()
	a.queue.Stop()
	if a.remote != nil {
		a.remote.Stop()
	}
	a.wmu.Lock()
	a.live = false
	a.wmu.Unlock()
	a.cancel()
	a.wg.Wait()
	a.logger.Info("client stopped")
}

func (a *App) seedDemo(ctx context.Context) error {
	here := a.here()
	return signal.PublishRoster(ctx, a.backend, signal.DefaultRoster(), &here)
}

func (a *App) selfProfile() domain.Profile {
	p := a.cfg.Profile
	profile := domain.Profile{
		ID:        p.ID,
		Name:      p.Name,
		Avatar:    p.Avatar,
		Bio:       p.Bio,
		Interests: p.Interests,
		Age:       p.Age,
		Gender:    p.Gender,
		IsOnline:  true,
		LastSeen:  time.Now().UTC(),
	}
	if a.hasLocation() {
		here := a.here()
		profile.Location = &here
	}
	return profile
}

func (a *App) sweep(ctx context.Context) {
	defer a.wg.Done()
	interval := a.cfg.Scan.Interval
	if interval <= 0 {
		interval = signal.DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.agg.Sweep()
		}
	}
}

// autoConnect runs off the aggregator's delivery path.
func (a *App) autoConnect(ac presence.AutoConnect) {
	if !a.cfg.Scan.AutoRequest {
		return
	}
	a.wmu.Lock()
	defer a.wmu.Unlock()
	if !a.live {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.conns.AutoRequest(a.ctx, ac.User.ID)
	}()
}

func (a *App) setLink(up bool) {
	a.linkUp.Store(up)
	a.applyConnectivity()
}

func (a *App) applyConnectivity() {
	a.status.SetOnline(a.linkUp.Load() && !a.forcedOffline.Load())
}

// SetOnline forces the client offline (false) or releases it (true). The
// client is online only while the backend link is up and it is not forced
// offline.
func (a *App) SetOnline(online bool) {
	a.forcedOffline.Store(!online)
	a.applyConnectivity()
	a.logger.Info("connectivity override", zap.Bool("online", online))
}

// StartScanning starts the configured signal source and opens a new
// auto-connect session. Starting an active scan is a no-op.
func (a *App) StartScanning() error {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()
	if a.source.IsActive() {
		return nil
	}
	a.agg.ResetSession()
	name := a.source.Name()
	err := a.source.Start(a.agg.Ingest, signal.Options{Interval: a.cfg.Scan.Interval})
	if errors.Is(err, signal.ErrPermissionDenied) {
		a.logger.Warn("scan permission denied", zap.String("source", name))
		a.bus.Emit(bus.ScanPermissionDenied, name)
		return err
	}
	if err != nil {
		return fmt.Errorf("start %s scan: %w", name, err)
	}
	a.logger.Info("scan started", zap.String("source", name))
	a.bus.Emit(bus.ScanStarted, name)
	return nil
}

// StopScanning stops the signal source. Presence-only users stay listed.
func (a *App) StopScanning() {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()
	if !a.source.IsActive() {
		return
	}
	a.source.Stop()
	a.logger.Info("scan stopped", zap.String("source", a.source.Name()))
	a.bus.Emit(bus.ScanStopped, a.source.Name())
}

// ResetPermission forgets a remembered answer so the next scan prompts again.
func (a *App) ResetPermission(c signal.Capability) error {
	return a.gate.Reset(c)
}

// Nearby returns the ranked list after the configured filter and tier limits.
func (a *App) Nearby() []domain.NearbyUser {
	return a.cfg.Filter.Apply(a.agg.Nearby(), a.cfg.Profile.Tier)
}

// Drain replays the queue now.
func (a *App) Drain(ctx context.Context) outbox.DrainResult {
	return a.queue.Drain(ctx)
}

func (a *App) Bus() *bus.Bus                    { return a.bus }
func (a *App) Queue() *outbox.Queue             { return a.queue }
func (a *App) Connections() *social.Connections { return a.conns }
func (a *App) Meetups() *social.Meetups         { return a.meetups }
func (a *App) Messages() *social.Messages       { return a.messages }
func (a *App) Profiles() *social.Profiles       { return a.profiles }
func (a *App) Self() string                     { return a.cfg.Profile.ID }
