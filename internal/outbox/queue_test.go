package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/bus"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/status"
	"github.com/matheus3301/nearby/internal/store"
	"go.uber.org/zap"
)

// memStorage is an in-memory Storage that counts writes.
type memStorage struct {
	mu     sync.Mutex
	values map[string]string
	writes int
	getErr error
}

func newMemStorage() *memStorage {
	return &memStorage{values: make(map[string]string)}
}

func (s *memStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.writes++
	return nil
}

func (s *memStorage) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// mockReplayer records replays and returns scripted errors per action payload.
type mockReplayer struct {
	mu     sync.Mutex
	calls  []domain.SyncAction
	errFor func(domain.SyncAction) error
	block  chan struct{} // when set, every replay waits on it
}

func (m *mockReplayer) Replay(_ context.Context, a domain.SyncAction) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	m.calls = append(m.calls, a)
	errFor := m.errFor
	m.mu.Unlock()
	if errFor != nil {
		return errFor(a)
	}
	return nil
}

func (m *mockReplayer) replayed() []domain.SyncAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SyncAction(nil), m.calls...)
}

func payload(s string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"content":%q}`, s))
}

func content(t *testing.T, a domain.SyncAction) string {
	t.Helper()
	var p struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(a.Payload, &p); err != nil {
		t.Fatal(err)
	}
	return p.Content
}

func offlineQueue(storage Storage, r Replayer, b *bus.Bus, online *atomic.Bool) *Queue {
	return NewQueue(storage, r, b, zap.NewNop(), Options{Online: online.Load})
}

func TestPersistenceRoundTrip(t *testing.T) {
	storage := newMemStorage()
	var online atomic.Bool
	q := offlineQueue(storage, &mockReplayer{}, bus.New(), &online)

	kinds := []struct {
		entity domain.EntityType
		op     domain.Operation
	}{
		{domain.EntityMessage, domain.OpCreate},
		{domain.EntityProfile, domain.OpUpdate},
		{domain.EntityConnection, domain.OpUpdate},
		{domain.EntityMeetup, domain.OpDelete},
	}
	for i, k := range kinds {
		if _, err := q.Enqueue(k.entity, k.op, payload(fmt.Sprintf("p%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	if storage.writeCount() != len(kinds) {
		t.Errorf("writes = %d, want one per enqueue", storage.writeCount())
	}

	restored := offlineQueue(storage, &mockReplayer{}, bus.New(), &online)
	want, got := q.Actions(), restored.Actions()
	if len(got) != len(want) {
		t.Fatalf("restored %d actions, want %d", len(got), len(want))
	}
	for i := range want {
		w, g := want[i], got[i]
		if g.ID != w.ID || g.EntityType != w.EntityType || g.Operation != w.Operation ||
			string(g.Payload) != string(w.Payload) || g.RetryCount != w.RetryCount ||
			!g.EnqueuedAt.Equal(w.EnqueuedAt) {
			t.Errorf("action %d = %+v, want %+v", i, g, w)
		}
	}
}

func TestPersistenceWithSQLiteStore(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var online atomic.Bool
	q := offlineQueue(db, &mockReplayer{}, bus.New(), &online)
	id, err := q.Enqueue(domain.EntityMessage, domain.OpCreate, payload("hi"))
	if err != nil {
		t.Fatal(err)
	}

	restored := offlineQueue(db, &mockReplayer{}, bus.New(), &online)
	if actions := restored.Actions(); len(actions) != 1 || actions[0].ID != id {
		t.Fatalf("restored = %+v, want [%s]", actions, id)
	}
}

func TestCorruptStorageStartsEmpty(t *testing.T) {
	tests := []struct {
		name    string
		storage *memStorage
	}{
		{"garbage", &memStorage{values: map[string]string{StorageKey: "{not json"}}},
		{"wrong shape", &memStorage{values: map[string]string{StorageKey: `{"id":"x"}`}}},
		{"unreadable", &memStorage{values: map[string]string{}, getErr: errors.New("disk gone")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var online atomic.Bool
			q := offlineQueue(tt.storage, &mockReplayer{}, bus.New(), &online)
			if q.PendingCount() != 0 {
				t.Errorf("PendingCount() = %d, want 0", q.PendingCount())
			}
		})
	}
}

func TestMalformedEntriesAreDiscarded(t *testing.T) {
	storage := newMemStorage()
	storage.values[StorageKey] = `[
		{"id":"a","entityType":"message","operation":"create","payload":{}},
		{"id":"b","entityType":"payment","operation":"create","payload":{}},
		{"id":"c","entityType":"profile","operation":"update","payload":{"id":"u"}}
	]`
	var online atomic.Bool
	q := offlineQueue(storage, &mockReplayer{}, bus.New(), &online)
	actions := q.Actions()
	if len(actions) != 2 || actions[0].ID != "a" || actions[1].ID != "c" {
		t.Fatalf("actions = %+v, want a, c", actions)
	}
}

func TestEnqueueRejectsUnknownKinds(t *testing.T) {
	var online atomic.Bool
	q := offlineQueue(newMemStorage(), &mockReplayer{}, bus.New(), &online)
	if _, err := q.Enqueue("payment", domain.OpCreate, payload("x")); err == nil {
		t.Error("unknown entity type should fail")
	}
	if _, err := q.Enqueue(domain.EntityMessage, "upsert", payload("x")); err == nil {
		t.Error("unknown operation should fail")
	}
	if _, err := q.Enqueue(domain.EntityMessage, domain.OpCreate, json.RawMessage("{")); err == nil {
		t.Error("invalid payload should fail")
	}
}

func TestDrainReplaysInFIFOOrderAndPersistsOnce(t *testing.T) {
	storage := newMemStorage()
	rep := &mockReplayer{}
	var online atomic.Bool
	q := offlineQueue(storage, rep, bus.New(), &online)

	for _, s := range []string{"first", "second", "third"} {
		if _, err := q.Enqueue(domain.EntityMessage, domain.OpCreate, payload(s)); err != nil {
			t.Fatal(err)
		}
	}
	before := storage.writeCount()

	online.Store(true)
	res := q.Drain(context.Background())
	if res.Delivered != 3 {
		t.Fatalf("delivered = %d, want 3", res.Delivered)
	}
	calls := rep.replayed()
	for i, want := range []string{"first", "second", "third"} {
		if got := content(t, calls[i]); got != want {
			t.Errorf("replay %d = %q, want %q", i, got, want)
		}
	}
	if q.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0", q.PendingCount())
	}
	if w := storage.writeCount() - before; w != 1 {
		t.Errorf("drain wrote %d times, want 1", w)
	}
}

func TestDrainSkipsWhenOffline(t *testing.T) {
	rep := &mockReplayer{}
	var online atomic.Bool
	q := offlineQueue(newMemStorage(), rep, bus.New(), &online)
	_, _ = q.Enqueue(domain.EntityMessage, domain.OpCreate, payload("x"))

	if res := q.Drain(context.Background()); !res.Skipped {
		t.Error("drain while offline should be skipped")
	}
	if len(rep.replayed()) != 0 {
		t.Error("nothing should be replayed while offline")
	}
}

func TestRetryCapDropsExactlyOnce(t *testing.T) {
	b := bus.New()
	dropCh, unsub := b.Subscribe(bus.SyncDropped, 10)
	defer unsub()

	rep := &mockReplayer{errFor: func(domain.SyncAction) error {
		return backend.New(backend.CodeUnavailable, "backend down")
	}}
	var online atomic.Bool
	q := offlineQueue(newMemStorage(), rep, b, &online)
	var drops []Drop
	q.OnDrop(func(d Drop) { drops = append(drops, d) })

	id, _ := q.Enqueue(domain.EntityMessage, domain.OpCreate, payload("doomed"))
	online.Store(true)

	for pass := 1; pass <= 2; pass++ {
		res := q.Drain(context.Background())
		if res.Retrying != 1 {
			t.Fatalf("pass %d: retrying = %d, want 1", pass, res.Retrying)
		}
		if got := q.Actions()[0].RetryCount; got != pass {
			t.Errorf("pass %d: retryCount = %d", pass, got)
		}
	}
	if res := q.Drain(context.Background()); res.Dropped != 1 {
		t.Fatalf("third pass dropped = %d, want 1", res.Dropped)
	}
	if q.PendingCount() != 0 {
		t.Fatal("dropped action still queued")
	}
	// Further passes must not replay or report it again.
	q.Drain(context.Background())

	if len(rep.replayed()) != 3 {
		t.Errorf("replays = %d, want 3", len(rep.replayed()))
	}
	if len(drops) != 1 || drops[0].Action.ID != id || drops[0].Action.RetryCount != 3 {
		t.Errorf("drops = %+v, want one drop of %s at retryCount 3", drops, id)
	}
	if len(dropCh) != 1 {
		t.Errorf("drop events = %d, want 1", len(dropCh))
	}
}

func TestPermanentFailureDropsImmediately(t *testing.T) {
	rep := &mockReplayer{errFor: func(domain.SyncAction) error {
		return backend.New(backend.CodeValidation, "content required")
	}}
	var online atomic.Bool
	q := offlineQueue(newMemStorage(), rep, bus.New(), &online)
	_, _ = q.Enqueue(domain.EntityMessage, domain.OpCreate, payload(""))
	online.Store(true)

	res := q.Drain(context.Background())
	if res.Dropped != 1 || q.PendingCount() != 0 {
		t.Errorf("dropped = %d pending = %d, want 1 and 0", res.Dropped, q.PendingCount())
	}
}

func TestStuckActionDoesNotBlockLaterOnes(t *testing.T) {
	rep := &mockReplayer{errFor: func(a domain.SyncAction) error {
		if a.EntityType == domain.EntityMessage {
			return errors.New("connection reset")
		}
		return nil
	}}
	var online atomic.Bool
	q := offlineQueue(newMemStorage(), rep, bus.New(), &online)
	_, _ = q.Enqueue(domain.EntityMessage, domain.OpCreate, payload("stuck"))
	_, _ = q.Enqueue(domain.EntityProfile, domain.OpUpdate, json.RawMessage(`{"id":"u1","bio":"hello"}`))
	online.Store(true)

	res := q.Drain(context.Background())
	if res.Delivered != 1 || res.Retrying != 1 {
		t.Fatalf("result = %+v, want 1 delivered 1 retrying", res)
	}
	actions := q.Actions()
	if len(actions) != 1 || actions[0].EntityType != domain.EntityMessage {
		t.Errorf("remaining = %+v, want the message only", actions)
	}
}

func TestDrainIsSingleFlight(t *testing.T) {
	rep := &mockReplayer{block: make(chan struct{})}
	var online atomic.Bool
	q := offlineQueue(newMemStorage(), rep, bus.New(), &online)
	_, _ = q.Enqueue(domain.EntityMessage, domain.OpCreate, payload("a"))
	online.Store(true)

	first := make(chan DrainResult, 1)
	go func() { first <- q.Drain(context.Background()) }()

	deadline := time.After(time.Second)
	for !q.IsDraining() {
		select {
		case <-deadline:
			t.Fatal("first drain never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if res := q.Drain(context.Background()); !res.Skipped {
		t.Error("concurrent drain should be coalesced")
	}
	// Enqueued mid-pass: survives the pass and goes out in the follow-up one.
	online.Store(false)
	_, _ = q.Enqueue(domain.EntityMessage, domain.OpCreate, payload("b"))
	online.Store(true)

	close(rep.block)
	select {
	case res := <-first:
		if res.Delivered != 1 {
			t.Errorf("first pass delivered = %d, want 1", res.Delivered)
		}
	case <-time.After(time.Second):
		t.Fatal("first drain did not finish")
	}

	deadline = time.After(time.Second)
	for q.PendingCount() > 0 {
		select {
		case <-deadline:
			t.Fatalf("follow-up pass never ran, remaining = %+v", q.Actions())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	calls := rep.replayed()
	if len(calls) != 2 || content(t, calls[0]) != "a" || content(t, calls[1]) != "b" {
		t.Errorf("replayed %d actions, want a then b", len(calls))
	}
}

func TestRetriedActionsDoNotTriggerFollowUpPass(t *testing.T) {
	rep := &mockReplayer{block: make(chan struct{}), errFor: func(domain.SyncAction) error {
		return backend.New(backend.CodeUnavailable, "down")
	}}
	var online atomic.Bool
	q := offlineQueue(newMemStorage(), rep, bus.New(), &online)
	_, _ = q.Enqueue(domain.EntityMessage, domain.OpCreate, payload("a"))
	online.Store(true)

	first := make(chan DrainResult, 1)
	go func() { first <- q.Drain(context.Background()) }()
	for !q.IsDraining() {
		time.Sleep(time.Millisecond)
	}
	q.Drain(context.Background())
	close(rep.block)
	if res := <-first; res.Retrying != 1 {
		t.Fatalf("first pass = %+v, want one retry", res)
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(rep.replayed()); n != 1 {
		t.Errorf("replays = %d, want 1: a retry waits for the next trigger", n)
	}
	if a := q.Actions(); len(a) != 1 || a[0].RetryCount != 1 {
		t.Errorf("queue = %+v, want one action with one retry", a)
	}
}

func TestEnqueueWhileOnlineDrainsInBackground(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.SyncDelivered, 10)
	defer unsub()

	var online atomic.Bool
	online.Store(true)
	q := offlineQueue(newMemStorage(), &mockReplayer{}, b, &online)
	defer q.Stop()

	id, err := q.Enqueue(domain.EntityMessage, domain.OpCreate, payload("hi"))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		if a := evt.Payload.(domain.SyncAction); a.ID != id {
			t.Errorf("delivered %s, want %s", a.ID, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for background drain")
	}
}

func TestReconnectTriggersDrain(t *testing.T) {
	b := bus.New()
	delivered, unsub := b.Subscribe(bus.SyncDelivered, 10)
	defer unsub()

	conn := status.NewMachine(b)
	conn.SetOnline(false)
	q := NewQueue(newMemStorage(), &mockReplayer{}, b, zap.NewNop(), Options{Online: conn.IsOnline})
	q.Start(context.Background())
	defer q.Stop()

	_, _ = q.Enqueue(domain.EntityMessage, domain.OpCreate, payload("queued offline"))
	if q.PendingCount() != 1 {
		t.Fatal("action should wait while offline")
	}

	conn.SetOnline(true)
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not drain the queue")
	}
}

func TestSubscribeReportsStatus(t *testing.T) {
	var online atomic.Bool
	q := offlineQueue(newMemStorage(), &mockReplayer{}, bus.New(), &online)

	var seen []Status
	unsub := q.Subscribe(func(s Status) { seen = append(seen, s) })
	_, _ = q.Enqueue(domain.EntityMessage, domain.OpCreate, payload("a"))
	online.Store(true)
	q.Drain(context.Background())
	unsub()
	_, _ = q.Enqueue(domain.EntityMessage, domain.OpCreate, payload("b"))

	want := []Status{{Pending: 1}, {Pending: 1, Draining: true}, {Pending: 0}}
	if len(seen) != len(want) {
		t.Fatalf("statuses = %+v, want %+v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("status %d = %+v, want %+v", i, seen[i], want[i])
		}
	}
}

// Every action ends delivered or dropped once the network settles, whatever
// the interleaving of enqueues, outages and flaky replays.
func TestEveryActionReachesTerminalState(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	var (
		rmu       sync.Mutex
		delivered atomic.Int64
		dropped   atomic.Int64
	)
	rep := &mockReplayer{errFor: func(domain.SyncAction) error {
		rmu.Lock()
		defer rmu.Unlock()
		switch rng.IntN(4) {
		case 0:
			return errors.New("timeout")
		case 1:
			return backend.New(backend.CodeValidation, "rejected")
		}
		delivered.Add(1)
		return nil
	}}
	var online atomic.Bool
	q := offlineQueue(newMemStorage(), rep, bus.New(), &online)
	q.OnDrop(func(Drop) { dropped.Add(1) })

	enqueued := 0
	for step := 0; step < 200; step++ {
		rmu.Lock()
		r := rng.IntN(3)
		rmu.Unlock()
		switch r {
		case 0:
			if _, err := q.Enqueue(domain.EntityMessage, domain.OpCreate, payload(fmt.Sprint(step))); err != nil {
				t.Fatal(err)
			}
			enqueued++
		case 1:
			online.Store(!online.Load())
		case 2:
			q.Drain(context.Background())
		}
	}

	// Wait out background drains started by online enqueues.
	q.Stop()
	online.Store(true)
	for pass := 0; q.PendingCount() > 0; pass++ {
		if pass > DefaultMaxRetries {
			t.Fatalf("still %d pending after %d online passes", q.PendingCount(), pass)
		}
		q.Drain(context.Background())
	}
	if got := int(delivered.Load() + dropped.Load()); got != enqueued {
		t.Errorf("delivered %d + dropped %d != enqueued %d", delivered.Load(), dropped.Load(), enqueued)
	}
}

func TestPendingIDs(t *testing.T) {
	var online atomic.Bool
	q := offlineQueue(newMemStorage(), &mockReplayer{}, bus.New(), &online)
	_, _ = q.Enqueue(domain.EntityConnection, domain.OpCreate, json.RawMessage(`{"clientId":"tmp-1","fromUserId":"a","toUserId":"b"}`))
	_, _ = q.Enqueue(domain.EntityConnection, domain.OpUpdate, json.RawMessage(`{"id":"c9","status":"accepted"}`))
	_, _ = q.Enqueue(domain.EntityMeetup, domain.OpUpdate, json.RawMessage(`{"id":"m1","status":"declined"}`))

	ids := q.PendingIDs(domain.EntityConnection)
	if len(ids) != 2 || !ids["tmp-1"] || !ids["c9"] {
		t.Errorf("PendingIDs(connection) = %v, want tmp-1 and c9", ids)
	}
}
