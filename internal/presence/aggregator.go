// Package presence merges signal batches and the live presence feed into the
// ranked nearby-user list, and raises auto-connect notifications.
package presence

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/nearby/internal/bus"
	"github.com/matheus3301/nearby/internal/distance"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/signal"
	"go.uber.org/zap"
)

// Options tunes an Aggregator.
type Options struct {
	Calibration distance.Calibration

	// StaleAfter is how long a distance stays valid without a new reading.
	// Zero keeps distances forever.
	StaleAfter  time.Duration
	AutoConnect bool

	// Self is the local user; Interests are matched for auto-connect.
	Self      string
	Interests []string
	Now       func() time.Time
}

// AutoConnect is raised once per scanning session for a nearby user sharing
// at least one interest with the local user.
type AutoConnect struct {
	User   domain.NearbyUser
	Shared []string
}

// record is the aggregator's view of one user. Each field group carries the
// time of the update that last wrote it.
type record struct {
	user       domain.NearbyUser
	profileAt  time.Time
	signalAt   time.Time
	presenceAt time.Time
	inPresence bool
}

// Aggregator owns the nearby-user list.
type Aggregator struct {
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	mu       sync.Mutex
	records  map[string]*record
	snapshot []domain.NearbyUser
	notified map[string]bool

	dmu       sync.Mutex
	lmu       sync.Mutex
	listeners map[int]func([]domain.NearbyUser)
	auto      map[int]func(AutoConnect)
	nextID    int
}

// New creates an empty aggregator.
func New(b *bus.Bus, logger *zap.Logger, opts Options) *Aggregator {
	if opts.Calibration.PathLoss == 0 && opts.Calibration.TxPower == 0 {
		opts.Calibration = distance.DefaultCalibration()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		bus:       b,
		logger:    logger,
		opts:      opts,
		records:   make(map[string]*record),
		notified:  make(map[string]bool),
		listeners: make(map[int]func([]domain.NearbyUser)),
		auto:      make(map[int]func(AutoConnect)),
	}
}

// SetInterests replaces the local user's interests used for auto-connect.
func (a *Aggregator) SetInterests(interests []string) {
	a.mu.Lock()
	a.opts.Interests = slices.Clone(interests)
	a.mu.Unlock()
}

// SetAutoConnect toggles auto-connect notifications.
func (a *Aggregator) SetAutoConnect(on bool) {
	a.mu.Lock()
	a.opts.AutoConnect = on
	a.mu.Unlock()
}

// ResetSession starts a new scanning session: users already notified may
// be notified again.
func (a *Aggregator) ResetSession() {
	a.mu.Lock()
	a.notified = make(map[string]bool)
	a.mu.Unlock()
}

// Ingest merges one batch from any source. Batches from different sources
// may arrive in any order; each field keeps its most recent value.
func (a *Aggregator) Ingest(b signal.Batch) {
	at := b.At
	if at.IsZero() {
		at = a.opts.Now()
	}

	a.mu.Lock()
	switch b.Kind {
	case signal.KindPresence:
		a.applyPresenceLocked(b, at)
	default:
		a.applySignalLocked(b, at)
	}
	a.sweepLocked(a.opts.Now())
	snap, autos := a.publishLocked()
	a.dmu.Lock()
	a.mu.Unlock()

	a.deliver(snap, autos)
}

// Sweep applies the staleness policy without new input.
func (a *Aggregator) Sweep() {
	a.mu.Lock()
	if !a.sweepLocked(a.opts.Now()) {
		a.mu.Unlock()
		return
	}
	snap, autos := a.publishLocked()
	a.dmu.Lock()
	a.mu.Unlock()

	a.deliver(snap, autos)
}

// Clear forgets every user.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.records = make(map[string]*record)
	snap, _ := a.publishLocked()
	a.dmu.Lock()
	a.mu.Unlock()

	a.deliver(snap, nil)
}

func (a *Aggregator) record(id string) *record {
	r, ok := a.records[id]
	if !ok {
		r = &record{user: domain.NearbyUser{ID: id}}
		a.records[id] = r
	}
	return r
}

func (a *Aggregator) applySignalLocked(b signal.Batch, at time.Time) {
	for _, rd := range b.Readings {
		id := rd.Profile.ID
		if id == "" || id == a.opts.Self {
			continue
		}
		if !rd.HasDistance && !rd.HasRSSI {
			continue
		}
		r := a.record(id)
		if !at.Before(r.profileAt) {
			mergeProfile(&r.user, rd.Profile)
			r.profileAt = at
		}
		if !at.Before(r.signalAt) {
			if rd.HasDistance {
				r.user.Distance = rd.Distance
				r.user.RSSI = 0
			} else {
				r.user.Distance = a.opts.Calibration.Estimate(rd.RSSI)
				r.user.RSSI = rd.RSSI
			}
			r.user.Ranged = true
			r.signalAt = at
		}
		r.touch(at)
	}
}

func (a *Aggregator) applyPresenceLocked(b signal.Batch, at time.Time) {
	online := make(map[string]bool, len(b.Readings))
	for _, rd := range b.Readings {
		id := rd.Profile.ID
		if id == "" || id == a.opts.Self {
			continue
		}
		online[id] = true
		r := a.record(id)
		if !at.Before(r.profileAt) {
			mergeProfile(&r.user, rd.Profile)
			r.profileAt = at
		}
		if !at.Before(r.presenceAt) {
			r.user.IsOnline = true
			r.inPresence = true
			r.presenceAt = at
		}
		r.touch(at)
	}
	for id, r := range a.records {
		if online[id] || at.Before(r.presenceAt) {
			continue
		}
		if b.Authoritative {
			delete(a.records, id)
			continue
		}
		r.user.IsOnline = false
		r.inPresence = false
		r.presenceAt = at
	}
}

func (r *record) touch(at time.Time) {
	if at.After(r.user.LastSeen) {
		r.user.LastSeen = at
	}
}

// sweepLocked drops distances older than StaleAfter and evicts users that
// are neither ranged nor in the presence feed.
func (a *Aggregator) sweepLocked(now time.Time) bool {
	changed := false
	for id, r := range a.records {
		if a.opts.StaleAfter > 0 && r.user.Ranged && now.Sub(r.signalAt) > a.opts.StaleAfter {
			r.user.Ranged = false
			r.user.Distance = 0
			r.user.RSSI = 0
			changed = true
		}
		if !r.user.Ranged && !r.inPresence {
			delete(a.records, id)
			changed = true
		}
	}
	return changed
}

// publishLocked materializes a new snapshot and collects pending
// auto-connect notifications.
func (a *Aggregator) publishLocked() ([]domain.NearbyUser, []AutoConnect) {
	users := make([]domain.NearbyUser, 0, len(a.records))
	for _, r := range a.records {
		u := r.user
		u.Interests = slices.Clone(u.Interests)
		users = append(users, u)
	}
	slices.SortFunc(users, compareUsers)
	a.snapshot = users

	var autos []AutoConnect
	if a.opts.AutoConnect {
		for _, u := range users {
			if !u.Ranged || a.notified[u.ID] {
				continue
			}
			if shared := sharedInterests(a.opts.Interests, u.Interests); len(shared) > 0 {
				a.notified[u.ID] = true
				autos = append(autos, AutoConnect{User: u, Shared: shared})
			}
		}
	}
	return users, autos
}

// compareUsers ranks ranged users by ascending distance, then unranged
// users; ties break on id.
func compareUsers(x, y domain.NearbyUser) int {
	if x.Ranged != y.Ranged {
		if x.Ranged {
			return -1
		}
		return 1
	}
	if x.Ranged {
		if c := cmp.Compare(x.Distance, y.Distance); c != 0 {
			return c
		}
	}
	return strings.Compare(x.ID, y.ID)
}

// deliver runs with dmu held so listeners see snapshots in the order they
// were built. Listeners must not call Ingest, Sweep or Clear.
func (a *Aggregator) deliver(snap []domain.NearbyUser, autos []AutoConnect) {
	defer a.dmu.Unlock()
	a.lmu.Lock()
	listeners := make([]func([]domain.NearbyUser), 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	autoFns := make([]func(AutoConnect), 0, len(a.auto))
	for _, fn := range a.auto {
		autoFns = append(autoFns, fn)
	}
	a.lmu.Unlock()

	for _, fn := range listeners {
		fn(cloneUsers(snap))
	}
	a.bus.Emit(bus.PresenceUpdated, cloneUsers(snap))

	for _, ac := range autos {
		a.logger.Info("auto-connect candidate",
			zap.String("user_id", ac.User.ID),
			zap.Strings("shared", ac.Shared),
			zap.Float64("distance", ac.User.Distance))
		for _, fn := range autoFns {
			fn(ac)
		}
		a.bus.Emit(bus.PresenceAutoConnect, ac)
	}
}

// Nearby returns a copy of the current ranked list.
func (a *Aggregator) Nearby() []domain.NearbyUser {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneUsers(a.snapshot)
}

// Subscribe registers a listener receiving every new snapshot.
func (a *Aggregator) Subscribe(fn func([]domain.NearbyUser)) func() {
	a.lmu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.lmu.Unlock()
	return func() {
		a.lmu.Lock()
		delete(a.listeners, id)
		a.lmu.Unlock()
	}
}

// OnAutoConnect registers an auto-connect listener.
func (a *Aggregator) OnAutoConnect(fn func(AutoConnect)) func() {
	a.lmu.Lock()
	id := a.nextID
	a.nextID++
	a.auto[id] = fn
	a.lmu.Unlock()
	return func() {
		a.lmu.Lock()
		delete(a.auto, id)
		a.lmu.Unlock()
	}
}

// mergeProfile copies the non-empty profile fields of p onto u.
func mergeProfile(u *domain.NearbyUser, p domain.Profile) {
	if p.Name != "" {
		u.Name = p.Name
	}
	if p.Avatar != "" {
		u.Avatar = p.Avatar
	}
	if p.Bio != "" {
		u.Bio = p.Bio
	}
	if len(p.Interests) > 0 {
		u.Interests = slices.Clone(p.Interests)
	}
	if p.Age > 0 {
		u.Age = p.Age
	}
	if p.Gender != "" {
		u.Gender = p.Gender
	}
}

func sharedInterests(mine, theirs []string) []string {
	var shared []string
	for _, t := range theirs {
		for _, m := range mine {
			if strings.EqualFold(t, m) {
				shared = append(shared, t)
				break
			}
		}
	}
	return shared
}

func cloneUsers(users []domain.NearbyUser) []domain.NearbyUser {
	out := make([]domain.NearbyUser, len(users))
	for i, u := range users {
		u.Interests = slices.Clone(u.Interests)
		out[i] = u
	}
	return out
}
