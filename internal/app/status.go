package app

import (
	"time"

	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/signal"
	"github.com/matheus3301/nearby/internal/status"
)

// Status is a point-in-time view of the client for status bars and the CLI.
type Status struct {
	Account       string
	Self          string
	Tier          domain.Tier
	Backend       string
	Connectivity  status.State
	ForcedOffline bool
	Pending       int
	Draining      bool
	Scanning      bool
	Source        string
	Nearby        int
	LastSync      time.Time
	Permissions   map[signal.Capability]signal.Permission
}

// Status returns the current snapshot.
func (a *App) Status() Status {
	backendName := "demo"
	if !a.demo {
		backendName = a.cfg.Backend.URL
	}
	q := a.queue.Status()
	return Status{
		Account:       a.account,
		Self:          a.cfg.Profile.ID,
		Tier:          a.cfg.Profile.Tier,
		Backend:       backendName,
		Connectivity:  a.status.Current(),
		ForcedOffline: a.forcedOffline.Load(),
		Pending:       q.Pending,
		Draining:      q.Draining,
		Scanning:      a.source.IsActive(),
		Source:        a.source.Name(),
		Nearby:        len(a.Nearby()),
		LastSync:      a.lastSync(),
		Permissions: map[signal.Capability]signal.Permission{
			signal.CapBluetooth: a.gate.State(signal.CapBluetooth),
			signal.CapLocation:  a.gate.State(signal.CapLocation),
		},
	}
}

// lastSync is the most recent snapshot applied to any synced table.
func (a *App) lastSync() time.Time {
	var last time.Time
	for _, t := range []backend.Table{backend.Connections, backend.Meetups, backend.Messages} {
		if at := a.engine.LastSync(t); at.After(last) {
			last = at
		}
	}
	return last
}
