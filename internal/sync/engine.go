// Package sync keeps the local caches of connections, meetups and messages
// current with the backend's live subscriptions.
package sync

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/bus"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/social"
	"github.com/matheus3301/nearby/internal/store"
	"go.uber.org/zap"
)

// Pending reports the ids referenced by writes still waiting in the queue.
type Pending interface {
	PendingIDs(entity domain.EntityType) map[string]bool
}

// Engine ingests subscription snapshots into the store. Each push replaces
// the cached table; local state only survives while a queued write still
// refers to it.
type Engine struct {
	backend backend.Backend
	db      *store.DB
	pending Pending
	bus     *bus.Bus
	logger  *zap.Logger
	self    string
	marks   *Checkpoints

	// ingest serializes snapshot application across tables.
	ingest sync.Mutex

	mu     sync.Mutex
	unsubs []func()
}

// NewEngine creates a new sync engine for the local user self.
func NewEngine(b backend.Backend, db *store.DB, pending Pending, bs *bus.Bus, logger *zap.Logger, self string) *Engine {
	return &Engine{
		backend: b,
		db:      db,
		pending: pending,
		bus:     bs,
		logger:  logger,
		self:    self,
		marks:   NewCheckpoints(db, logger),
	}
}

// Start subscribes to every table holding rows of the local user.
func (e *Engine) Start() error {
	subs := []struct {
		table  backend.Table
		fields [2]string
		fn     func([]backend.Document)
	}{
		{backend.Connections, [2]string{"fromUserId", "toUserId"}, e.IngestConnections},
		{backend.Meetups, [2]string{"proposerId", "recipientId"}, e.IngestMeetups},
		{backend.Messages, [2]string{"senderId", "receiverId"}, e.IngestMessages},
	}

	var unsubs []func()
	for _, s := range subs {
		q := backend.AnyOf(backend.Eq(s.fields[0], e.self), backend.Eq(s.fields[1], e.self))
		unsub, err := e.backend.Subscribe(s.table, q, s.fn)
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return fmt.Errorf("subscribe %s: %w", s.table, err)
		}
		unsubs = append(unsubs, unsub)
	}

	e.mu.Lock()
	e.unsubs = append(e.unsubs, unsubs...)
	e.mu.Unlock()
	e.logger.Info("sync engine subscribed", zap.String("user_id", e.self))
	return nil
}

// Stop removes every subscription. It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	unsubs := e.unsubs
	e.unsubs = nil
	e.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// LastSync returns when a snapshot of table was last applied.
func (e *Engine) LastSync(table backend.Table) time.Time {
	return e.marks.Last(table)
}

// IngestConnections applies a connections snapshot.
func (e *Engine) IngestConnections(docs []backend.Document) {
	snapshot := decodeAll[domain.Connection](e.logger, backend.Connections, docs)

	e.ingest.Lock()
	defer e.ingest.Unlock()

	cached, err := e.db.ListConnections()
	if err != nil {
		e.logger.Error("failed to read cached connections", zap.Error(err))
		return
	}
	merged := mergeConnections(cached, snapshot, e.pending.PendingIDs(domain.EntityConnection))
	if err := e.db.ReplaceConnections(merged); err != nil {
		e.logger.Error("failed to replace connections", zap.Error(err))
		return
	}
	e.marks.Mark(backend.Connections)
	e.logger.Debug("connections synced", zap.Int("count", len(merged)))
	e.bus.Emit(bus.ConnectionsSynced, merged)
}

// IngestMeetups applies a meetups snapshot.
func (e *Engine) IngestMeetups(docs []backend.Document) {
	snapshot := decodeAll[domain.Meetup](e.logger, backend.Meetups, docs)

	e.ingest.Lock()
	defer e.ingest.Unlock()

	cached, err := e.db.ListMeetups()
	if err != nil {
		e.logger.Error("failed to read cached meetups", zap.Error(err))
		return
	}
	merged := mergeMeetups(cached, snapshot, e.pending.PendingIDs(domain.EntityMeetup))
	if err := e.db.ReplaceMeetups(merged); err != nil {
		e.logger.Error("failed to replace meetups", zap.Error(err))
		return
	}
	e.marks.Mark(backend.Meetups)
	e.logger.Debug("meetups synced", zap.Int("count", len(merged)))
	e.bus.Emit(bus.MeetupsSynced, merged)
}

// IngestMessages applies a messages snapshot and retires the optimistic
// records the snapshot now contains.
func (e *Engine) IngestMessages(docs []backend.Document) {
	confirmed := decodeAll[domain.Message](e.logger, backend.Messages, docs)

	e.ingest.Lock()
	defer e.ingest.Unlock()

	cached, err := e.db.ListMessages(e.self, "")
	if err != nil {
		e.logger.Error("failed to read cached messages", zap.Error(err))
		return
	}
	known := make(map[string]domain.Message, len(cached))
	var optimistic []domain.Message
	for _, m := range cached {
		if m.State == domain.MessageConfirmed {
			known[m.ID] = m
		} else {
			optimistic = append(optimistic, m)
		}
	}

	// Historic messages seen on the very first sync are not announced.
	primed := !e.marks.Last(backend.Messages).IsZero()
	pending := e.pending.PendingIDs(domain.EntityMessage)
	for i := range confirmed {
		c := &confirmed[i]
		old, ok := known[c.ID]
		if !ok {
			if primed && c.ReceiverID == e.self {
				e.logger.Info("message received", zap.String("message_id", c.ID), zap.String("from", c.SenderID))
				e.bus.Emit(bus.MessageReceived, *c)
			}
			continue
		}
		// A queued read receipt has not reached the backend yet.
		if c.ReadAt == nil && old.ReadAt != nil && pending[c.ID] {
			c.ReadAt = old.ReadAt
		}
	}

	resolved := social.Reconcile(optimistic, confirmed)
	if err := e.db.SyncMessages(confirmed, resolved); err != nil {
		e.logger.Error("failed to sync messages", zap.Error(err))
		return
	}
	e.marks.Mark(backend.Messages)
	if len(resolved) > 0 {
		e.logger.Info("optimistic messages reconciled", zap.Int("count", len(resolved)))
	}
	e.bus.Emit(bus.MessagesSynced, confirmed)
}

// mergeConnections builds the cache from a snapshot. A status the backend has
// not caught up with is kept while the write that set it is still queued, and
// a locally created row is kept until its backend copy shows up.
func mergeConnections(cached, snapshot []domain.Connection, pending map[string]bool) []domain.Connection {
	local := make(map[string]domain.Connection, len(cached))
	for _, c := range cached {
		local[c.ID] = c
	}
	seen := make(map[string]bool, len(snapshot)*2)
	merged := make([]domain.Connection, 0, len(snapshot))
	for _, s := range snapshot {
		seen[s.ID] = true
		if s.ClientID != "" {
			seen[s.ClientID] = true
		}
		if old, ok := local[s.ID]; ok && pending[s.ID] && old.Status.Terminal() && !s.Status.Terminal() {
			s.Status, s.AcceptedAt, s.DeclinedAt = old.Status, old.AcceptedAt, old.DeclinedAt
		}
		merged = append(merged, s)
	}
	for _, c := range cached {
		if !seen[c.ID] && pending[c.ID] {
			merged = append(merged, c)
		}
	}
	return merged
}

// mergeMeetups is mergeConnections for meetups, ordered by status rank.
func mergeMeetups(cached, snapshot []domain.Meetup, pending map[string]bool) []domain.Meetup {
	local := make(map[string]domain.Meetup, len(cached))
	for _, m := range cached {
		local[m.ID] = m
	}
	seen := make(map[string]bool, len(snapshot)*2)
	merged := make([]domain.Meetup, 0, len(snapshot))
	for _, s := range snapshot {
		seen[s.ID] = true
		if s.ClientID != "" {
			seen[s.ClientID] = true
		}
		if old, ok := local[s.ID]; ok && pending[s.ID] && old.Status.Rank() > s.Status.Rank() {
			s.Status = old.Status
		}
		merged = append(merged, s)
	}
	for _, m := range cached {
		if !seen[m.ID] && pending[m.ID] {
			merged = append(merged, m)
		}
	}
	return merged
}

func decodeAll[T any](logger *zap.Logger, table backend.Table, docs []backend.Document) []T {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := json.Unmarshal(d, &v); err != nil {
			logger.Warn("skipping undecodable document", zap.String("table", string(table)), zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	return out
}
