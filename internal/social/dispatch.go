// Package social implements the connection, meetup, message and profile
// operations. Every write goes straight to the backend when online and falls
// back to the sync queue, with the same payload, when offline or when the
// direct attempt fails transiently.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/bus"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/outbox"
	"github.com/matheus3301/nearby/internal/store"
	"go.uber.org/zap"
)

// Enqueuer is the sync queue as seen by the write path.
type Enqueuer interface {
	Enqueue(entity domain.EntityType, op domain.Operation, payload json.RawMessage) (string, error)
}

// Connectivity reports whether the backend is reachable.
type Connectivity interface {
	IsOnline() bool
}

// Result tells the caller how a write was handled.
type Result struct {
	// ID is the backend id of a created document; empty when queued.
	ID       string
	Queued   bool
	ActionID string
}

// Dispatcher routes writes to the backend or the queue.
type Dispatcher struct {
	backend backend.Backend
	queue   Enqueuer
	conn    Connectivity
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(b backend.Backend, q Enqueuer, conn Connectivity, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{backend: b, queue: q, conn: conn, logger: logger}
}

// Dispatch performs one write. Permanent failures of the direct attempt are
// returned to the caller and nothing is queued.
func (d *Dispatcher) Dispatch(ctx context.Context, entity domain.EntityType, op domain.Operation, payload any) (Result, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode %s payload: %w", entity, err)
	}
	if !d.conn.IsOnline() {
		return d.enqueue(entity, op, raw)
	}

	id, err := d.direct(ctx, entity, op, raw)
	if err == nil {
		return Result{ID: id}, nil
	}
	if !backend.IsRetryable(err) {
		return Result{}, err
	}
	d.logger.Warn("direct write failed, queueing",
		zap.String("entity", string(entity)),
		zap.String("operation", string(op)),
		zap.Error(err))
	return d.enqueue(entity, op, raw)
}

func (d *Dispatcher) direct(ctx context.Context, entity domain.EntityType, op domain.Operation, raw json.RawMessage) (string, error) {
	table, err := outbox.TableFor(entity)
	if err != nil {
		return "", err
	}
	r := outbox.BackendReplayer{Backend: d.backend}
	if op == domain.OpCreate {
		return r.Create(ctx, table, raw)
	}
	return "", r.Replay(ctx, domain.SyncAction{
		EntityType: entity,
		Operation:  op,
		Payload:    raw,
	})
}

func (d *Dispatcher) enqueue(entity domain.EntityType, op domain.Operation, raw json.RawMessage) (Result, error) {
	actionID, err := d.queue.Enqueue(entity, op, raw)
	if err != nil {
		return Result{}, fmt.Errorf("queue %s %s: %w", entity, op, err)
	}
	return Result{Queued: true, ActionID: actionID}, nil
}

// Deps are the collaborators shared by the social services.
type Deps struct {
	Self       string
	Tier       domain.Tier
	DB         *store.DB
	Dispatcher *Dispatcher
	Bus        *bus.Bus
	Logger     *zap.Logger
	Now        func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// NewClientID returns a time-ordered temporary id.
func NewClientID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
