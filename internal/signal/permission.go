package signal

import (
	"fmt"
	"sync"
)

// Capability is a platform feature guarded by a user permission.
type Capability string

const (
	CapBluetooth Capability = "bluetooth"
	CapLocation  Capability = "location"
)

// Permission is the remembered answer for a capability.
type Permission string

const (
	PermissionPrompt  Permission = "prompt"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Storage is the local key/value area permissions are remembered in.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Prompter asks the user for access and reports the answer.
type Prompter func(Capability) bool

// Gate remembers permission answers so the user is asked at most once until
// Reset.
type Gate struct {
	mu      sync.Mutex
	storage Storage
	prompt  Prompter
}

// NewGate creates a gate. A nil prompter denies every request.
func NewGate(storage Storage, prompt Prompter) *Gate {
	if prompt == nil {
		prompt = func(Capability) bool { return false }
	}
	return &Gate{storage: storage, prompt: prompt}
}

func permissionKey(c Capability) string {
	return "permission." + string(c)
}

// State returns the remembered answer without prompting.
func (g *Gate) State(c Capability) Permission {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked(c)
}

func (g *Gate) stateLocked(c Capability) Permission {
	v, ok, err := g.storage.Get(permissionKey(c))
	if err != nil || !ok {
		return PermissionPrompt
	}
	switch p := Permission(v); p {
	case PermissionGranted, PermissionDenied:
		return p
	}
	return PermissionPrompt
}

// Request returns the remembered answer, prompting and remembering it when
// there is none yet.
func (g *Gate) Request(c Capability) (Permission, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p := g.stateLocked(c); p != PermissionPrompt {
		return p, nil
	}
	p := PermissionDenied
	if g.prompt(c) {
		p = PermissionGranted
	}
	if err := g.storage.Set(permissionKey(c), string(p)); err != nil {
		return p, fmt.Errorf("remember %s permission: %w", c, err)
	}
	return p, nil
}

// Reset forgets the answer so the next Request prompts again.
func (g *Gate) Reset(c Capability) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.storage.Set(permissionKey(c), string(PermissionPrompt))
}

func (g *Gate) require(c Capability) error {
	p, err := g.Request(c)
	if err != nil {
		return err
	}
	if p != PermissionGranted {
		return fmt.Errorf("%s: %w", c, ErrPermissionDenied)
	}
	return nil
}
