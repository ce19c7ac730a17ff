package model

import "sync"

// Notices remembers which notifications were already shown so each fires
// once per key.
type Notices struct {
	mu   sync.Mutex
	seen map[string]bool
}

// First reports whether key has not been seen before, and marks it seen.
func (n *Notices) First(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.seen == nil {
		n.seen = make(map[string]bool)
	}
	if n.seen[key] {
		return false
	}
	n.seen[key] = true
	return true
}
