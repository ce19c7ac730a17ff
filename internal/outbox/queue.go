// Package outbox is the durable, ordered queue of mutations waiting to reach
// the backend. Actions are replayed first-in first-out, at most one drain
// pass runs at a time, and the whole queue is persisted after every change.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/bus"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/status"
	"go.uber.org/zap"
)

// StorageKey is where the serialized queue lives in local storage.
const StorageKey = "sync_queue"

// DefaultMaxRetries is the replay cap for a single action.
const DefaultMaxRetries = 3

// Storage is the local durable key/value area the queue persists into.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Replayer sends one queued action to the backend.
type Replayer interface {
	Replay(ctx context.Context, action domain.SyncAction) error
}

// Status is the aggregate state reported to listeners.
type Status struct {
	Pending  int
	Draining bool
}

// Drop describes an action removed without being delivered.
type Drop struct {
	Action domain.SyncAction
	Err    error
}

// Options tunes a Queue. Zero values select the defaults.
type Options struct {
	MaxRetries    int
	DrainInterval time.Duration

	// Online reports connectivity; a nil func means always online.
	Online func() bool
}

// Queue is the single writer of the persisted action list.
type Queue struct {
	storage  Storage
	replayer Replayer
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options

	mu       sync.Mutex
	actions  []domain.SyncAction
	draining bool
	rerun    bool

	lmu       sync.Mutex
	listeners map[int]func(Status)
	onDrop    map[int]func(Drop)
	nextID    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a queue and restores the persisted actions. A missing,
// unreadable or corrupt stored queue starts empty.
func NewQueue(storage Storage, replayer Replayer, b *bus.Bus, logger *zap.Logger, opts Options) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Online == nil {
		opts.Online = func() bool { return true }
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		storage:   storage,
		replayer:  replayer,
		bus:       b,
		logger:    logger,
		opts:      opts,
		listeners: make(map[int]func(Status)),
		onDrop:    make(map[int]func(Drop)),
		ctx:       ctx,
		cancel:    cancel,
	}
	q.actions = q.load()
	return q
}

func (q *Queue) load() []domain.SyncAction {
	raw, ok, err := q.storage.Get(StorageKey)
	if err != nil {
		q.logger.Warn("sync queue unreadable, starting empty", zap.Error(err))
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var actions []domain.SyncAction
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		q.logger.Warn("sync queue corrupt, starting empty", zap.Error(err))
		return nil
	}
	valid := actions[:0]
	for _, a := range actions {
		if a.ID == "" || !a.EntityType.Valid() || !a.Operation.Valid() {
			q.logger.Warn("discarding malformed queued action", zap.String("action_id", a.ID))
			continue
		}
		valid = append(valid, a)
	}
	if len(valid) > 0 {
		q.logger.Info("sync queue restored", zap.Int("pending", len(valid)))
	}
	return valid
}

func (q *Queue) persistLocked(actions []domain.SyncAction) error {
	if actions == nil {
		actions = []domain.SyncAction{}
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.storage.Set(StorageKey, string(data)); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}

// Start launches the periodic drain and the reconnect trigger.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.ctx, q.cancel = ctx, cancel
	q.mu.Unlock()

	ch, unsub := q.bus.Subscribe("net.", 16)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer unsub()
		q.loop(ctx, ch)
	}()

	// Actions restored from a previous run go out as soon as possible.
	q.kick()
}

func (q *Queue) loop(ctx context.Context, netEvents <-chan bus.Event) {
	var tick <-chan time.Time
	if q.opts.DrainInterval > 0 {
		ticker := time.NewTicker(q.opts.DrainInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case evt := <-netEvents:
			if change, ok := evt.Payload.(status.Change); ok && change.CameOnline() {
				q.logger.Info("connectivity restored, draining sync queue")
				q.Drain(ctx)
			}
		case <-tick:
			if q.PendingCount() > 0 {
				q.Drain(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels in-flight drains and waits for background work to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	cancel()
	q.wg.Wait()
}

// Enqueue appends an action, persists the queue, and starts a drain in the
// background when online. The payload is replayed exactly as given.
func (q *Queue) Enqueue(entity domain.EntityType, op domain.Operation, payload json.RawMessage) (string, error) {
	if !entity.Valid() {
		return "", fmt.Errorf("unknown entity type %q", entity)
	}
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q", op)
	}
	if !json.Valid(payload) {
		return "", fmt.Errorf("payload is not valid JSON")
	}

	action := domain.SyncAction{
		ID:         newActionID(),
		EntityType: entity,
		Operation:  op,
		Payload:    slices.Clone(payload),
		EnqueuedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	next := append(slices.Clone(q.actions), action)
	if err := q.persistLocked(next); err != nil {
		q.mu.Unlock()
		return "", err
	}
	q.actions = next
	st := q.statusLocked()
	q.mu.Unlock()

	q.logger.Debug("action enqueued",
		zap.String("action_id", action.ID),
		zap.String("entity", string(entity)),
		zap.String("operation", string(op)))
	q.notify(st)
	q.kick()
	return action.ID, nil
}

func (q *Queue) kick() {
	if !q.opts.Online() {
		return
	}
	q.mu.Lock()
	ctx := q.ctx
	q.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.Drain(ctx)
	}()
}

// DrainResult summarizes one pass.
type DrainResult struct {
	Attempted int
	Delivered int
	Retrying  int
	Dropped   int
	Skipped   bool
}

// Drain replays every queued action in order. It returns immediately with
// Skipped set when another pass is running or the backend is unreachable.
// Actions enqueued during the pass are kept for the next one, which starts
// in the background if a drain was requested while the pass ran.
func (q *Queue) Drain(ctx context.Context) DrainResult {
	q.mu.Lock()
	if q.draining {
		q.rerun = true
		q.mu.Unlock()
		return DrainResult{Skipped: true}
	}
	if len(q.actions) == 0 || !q.opts.Online() {
		q.mu.Unlock()
		return DrainResult{Skipped: true}
	}
	q.draining = true
	batch := slices.Clone(q.actions)
	st := q.statusLocked()
	q.mu.Unlock()
	q.notify(st)

	var (
		res     DrainResult
		done    = make(map[string]bool)
		retries = make(map[string]int)
		drops   []Drop
	)
	for _, action := range batch {
		if ctx.Err() != nil || !q.opts.Online() {
			break
		}
		res.Attempted++
		err := q.replayer.Replay(ctx, action)
		if err == nil {
			res.Delivered++
			done[action.ID] = true
			q.logger.Info("action delivered",
				zap.String("action_id", action.ID),
				zap.String("entity", string(action.EntityType)),
				zap.String("operation", string(action.Operation)))
			q.bus.Emit(bus.SyncDelivered, action)
			continue
		}

		action.RetryCount++
		if !backend.IsRetryable(err) || action.RetryCount >= q.opts.MaxRetries {
			res.Dropped++
			done[action.ID] = true
			drops = append(drops, Drop{Action: action, Err: err})
			q.logger.Error("action dropped",
				zap.String("action_id", action.ID),
				zap.String("entity", string(action.EntityType)),
				zap.Int("retry_count", action.RetryCount),
				zap.Bool("retryable", backend.IsRetryable(err)),
				zap.Error(err))
			continue
		}
		res.Retrying++
		retries[action.ID] = action.RetryCount
		q.logger.Warn("action replay failed, will retry",
			zap.String("action_id", action.ID),
			zap.Int("retry_count", action.RetryCount),
			zap.Error(err))
		q.bus.Emit(bus.SyncRetry, action)
	}

	q.mu.Lock()
	next := make([]domain.SyncAction, 0, len(q.actions))
	for _, a := range q.actions {
		if done[a.ID] {
			continue
		}
		if n, ok := retries[a.ID]; ok {
			a.RetryCount = n
		}
		next = append(next, a)
	}
	if err := q.persistLocked(next); err != nil {
		q.logger.Error("failed to persist sync queue", zap.Error(err))
	}
	q.actions = next
	q.draining = false
	// Retried actions wait for the next trigger; only fresh ones warrant
	// another pass right away.
	rerun := q.rerun && len(next) > len(retries)
	q.rerun = false
	st = q.statusLocked()
	q.mu.Unlock()

	q.notify(st)
	for _, d := range drops {
		q.dropped(d)
	}
	if rerun {
		q.kick()
	}
	return res
}

// PendingCount returns the number of queued actions.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// IsDraining reports whether a drain pass is in progress.
func (q *Queue) IsDraining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// Status returns the current aggregate status.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

// Actions returns a copy of the queued actions in replay order.
func (q *Queue) Actions() []domain.SyncAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.actions)
}

// PendingIDs returns the ids referenced by queued actions on entity: the
// "id" of updates and deletes and the "clientId" of creates.
func (q *Queue) PendingIDs(entity domain.EntityType) map[string]bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make(map[string]bool)
	for _, a := range q.actions {
		if a.EntityType != entity {
			continue
		}
		var ref struct {
			ID       string `json:"id"`
			ClientID string `json:"clientId"`
		}
		if err := json.Unmarshal(a.Payload, &ref); err != nil {
			continue
		}
		if a.Operation == domain.OpCreate && ref.ClientID != "" {
			ids[ref.ClientID] = true
		} else if ref.ID != "" {
			ids[ref.ID] = true
		}
	}
	return ids
}

func (q *Queue) statusLocked() Status {
	return Status{Pending: len(q.actions), Draining: q.draining}
}

// Subscribe registers a status listener and returns its disposer.
func (q *Queue) Subscribe(fn func(Status)) func() {
	q.lmu.Lock()
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	q.lmu.Unlock()
	return func() {
		q.lmu.Lock()
		delete(q.listeners, id)
		q.lmu.Unlock()
	}
}

// OnDrop registers a listener for permanently failed actions. Each dropped
// action is reported exactly once.
func (q *Queue) OnDrop(fn func(Drop)) func() {
	q.lmu.Lock()
	id := q.nextID
	q.nextID++
	q.onDrop[id] = fn
	q.lmu.Unlock()
	return func() {
		q.lmu.Lock()
		delete(q.onDrop, id)
		q.lmu.Unlock()
	}
}

func (q *Queue) notify(st Status) {
	q.lmu.Lock()
	fns := make([]func(Status), 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.lmu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
	q.bus.Emit(bus.SyncStatusChanged, st)
}

func (q *Queue) dropped(d Drop) {
	q.lmu.Lock()
	fns := make([]func(Drop), 0, len(q.onDrop))
	for _, fn := range q.onDrop {
		fns = append(fns, fn)
	}
	q.lmu.Unlock()
	for _, fn := range fns {
		fn(d)
	}
	q.bus.Emit(bus.SyncDropped, d)
}

func newActionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
