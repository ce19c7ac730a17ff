package signal

import (
	"sync"
	"time"

	"github.com/matheus3301/nearby/internal/backend"
)

// PresenceSource relays the backend's "who is online" subscription. Its
// readings carry no distance.
type PresenceSource struct {
	backend backend.Backend
	self    string

	mu     sync.Mutex
	unsub  func()
	active bool
}

// NewPresence creates a presence source. self is excluded from batches.
func NewPresence(b backend.Backend, self string) *PresenceSource {
	return &PresenceSource{backend: b, self: self}
}

func (p *PresenceSource) Name() string { return "presence" }

func (p *PresenceSource) Start(cb func(Batch), opts Options) error {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return ErrActive
	}
	p.active = true
	p.mu.Unlock()

	unsub, err := p.backend.Subscribe(backend.Profiles, backend.Where(backend.Eq("isOnline", true)), func(docs []backend.Document) {
		profiles := decodeProfiles(docs, p.self)
		readings := make([]Reading, len(profiles))
		for i, prof := range profiles {
			readings[i] = Reading{Profile: prof}
		}
		batch := Batch{Source: p.Name(), Kind: KindPresence, At: time.Now(), Readings: readings, Authoritative: opts.Authoritative}

		// Holding mu while delivering makes Stop wait for an in-flight push.
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.active {
			cb(batch)
		}
	})
	if err != nil {
		p.mu.Lock()
		p.active = false
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	if !p.active {
		// Stopped while subscribing.
		p.mu.Unlock()
		unsub()
		return nil
	}
	p.unsub = unsub
	p.mu.Unlock()
	return nil
}

func (p *PresenceSource) Stop() {
	p.mu.Lock()
	unsub := p.unsub
	p.unsub = nil
	p.active = false
	p.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (p *PresenceSource) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
