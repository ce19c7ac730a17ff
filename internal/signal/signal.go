// Package signal provides the proximity signal sources: a simulated roster,
// Bluetooth RSSI from BlueZ, GPS-derived distances, and the backend's live
// presence feed. Every source delivers Batches to a callback until stopped.
package signal

import (
	"errors"
	"time"

	"github.com/matheus3301/nearby/internal/domain"
)

// DefaultInterval is the scan cadence of timer-driven sources.
const DefaultInterval = 3 * time.Second

var (
	// ErrPermissionDenied is returned by Start when the user refused access.
	ErrPermissionDenied = errors.New("signal: permission denied")
	// ErrActive is returned by Start on a source that is already running.
	ErrActive = errors.New("signal: source already active")
)

// Kind distinguishes ranging batches from presence batches.
type Kind string

const (
	KindSignal   Kind = "signal"
	KindPresence Kind = "presence"
)

// Reading is one observation of a candidate user. Profile carries at least
// the id; sources fill in whatever else they know.
type Reading struct {
	Profile     domain.Profile
	RSSI        float64
	HasRSSI     bool
	Distance    float64 // meters, for sources that measure distance directly
	HasDistance bool
}

// Batch is what a source emits per cycle.
type Batch struct {
	Source   string
	Kind     Kind
	At       time.Time
	Readings []Reading

	// Authoritative presence batches list every online user; ids missing
	// from them are gone.
	Authoritative bool
}

// Options configures Start.
type Options struct {
	Interval      time.Duration
	Authoritative bool
}

func (o Options) interval() time.Duration {
	if o.Interval <= 0 {
		return DefaultInterval
	}
	return o.Interval
}

// Source is a proximity or presence feed.
//
// Stop is idempotent and synchronous: once it returns, the callback is never
// invoked again. Stop must not be called from inside the callback.
type Source interface {
	Name() string
	Start(cb func(Batch), opts Options) error
	Stop()
	IsActive() bool
}
