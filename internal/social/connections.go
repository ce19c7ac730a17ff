package social

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/nearby/internal/bus"
	"github.com/matheus3301/nearby/internal/domain"
	"go.uber.org/zap"
)

// Connections manages connection requests of the local user.
type Connections struct {
	deps Deps

	// mu serializes local check-then-write sequences.
	mu sync.Mutex
}

// NewConnections creates the connection service.
func NewConnections(d Deps) *Connections {
	return &Connections{deps: d}
}

type connectionCreate struct {
	ClientID   string                  `json:"clientId"`
	FromUserID string                  `json:"fromUserId"`
	ToUserID   string                  `json:"toUserId"`
	Status     domain.ConnectionStatus `json:"status"`
}

type connectionUpdate struct {
	ID         string                  `json:"id"`
	Status     domain.ConnectionStatus `json:"status"`
	AcceptedAt string                  `json:"acceptedAt,omitempty"`
	DeclinedAt string                  `json:"declinedAt,omitempty"`
}

// Request sends a connection request to toUserID.
func (c *Connections) Request(ctx context.Context, toUserID string) (*domain.Connection, error) {
	self := c.deps.Self
	if toUserID == "" || toUserID == self {
		return nil, fmt.Errorf("request connection to %q: %w", toUserID, ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conns, err := c.deps.DB.ListConnections()
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	open := 0
	for _, existing := range conns {
		if existing.Peer(self) == toUserID && (existing.FromUserID == self || existing.ToUserID == self) {
			return nil, fmt.Errorf("connection with %s (%s): %w", toUserID, existing.Status, ErrExists)
		}
		if existing.Status != domain.ConnectionDeclined {
			open++
		}
	}
	if !domain.Allows(c.deps.Tier.Limits().MaxConnections, open) {
		return nil, fmt.Errorf("%d connections on %s tier: %w", open, c.deps.Tier, ErrLimitReached)
	}

	clientID := NewClientID()
	res, err := c.deps.Dispatcher.Dispatch(ctx, domain.EntityConnection, domain.OpCreate, connectionCreate{
		ClientID:   clientID,
		FromUserID: self,
		ToUserID:   toUserID,
		Status:     domain.ConnectionPending,
	})
	if err != nil {
		return nil, err
	}

	conn := &domain.Connection{
		ID:         res.ID,
		ClientID:   clientID,
		FromUserID: self,
		ToUserID:   toUserID,
		Status:     domain.ConnectionPending,
		CreatedAt:  c.deps.now(),
	}
	if res.Queued {
		conn.ID = clientID
	}
	if err := c.deps.DB.UpsertConnection(conn); err != nil {
		c.deps.Logger.Error("failed to cache connection", zap.Error(err), zap.String("connection_id", conn.ID))
	}
	c.deps.Logger.Info("connection requested", zap.String("to", toUserID), zap.Bool("queued", res.Queued))
	c.deps.Bus.Emit(bus.ConnectionChanged, *conn)
	return conn, nil
}

// Respond accepts or declines a pending request addressed to the local user.
// Only the first response counts; later ones fail with ErrInvalidTransition.
func (c *Connections) Respond(ctx context.Context, id string, accept bool) (*domain.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.deps.DB.GetConnection(id)
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	if conn == nil {
		return nil, fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	if conn.ToUserID != c.deps.Self {
		return nil, fmt.Errorf("connection %s: %w", id, ErrNotRecipient)
	}

	target := domain.ConnectionDeclined
	if accept {
		target = domain.ConnectionAccepted
	}
	if err := CheckConnectionTransition(conn.Status, target); err != nil {
		return nil, err
	}

	now := c.deps.now()
	update := connectionUpdate{ID: id, Status: target}
	if accept {
		update.AcceptedAt = stamp(now)
		conn.AcceptedAt = &now
	} else {
		update.DeclinedAt = stamp(now)
		conn.DeclinedAt = &now
	}
	res, err := c.deps.Dispatcher.Dispatch(ctx, domain.EntityConnection, domain.OpUpdate, update)
	if err != nil {
		return nil, err
	}

	conn.Status = target
	if err := c.deps.DB.UpsertConnection(conn); err != nil {
		c.deps.Logger.Error("failed to cache connection", zap.Error(err), zap.String("connection_id", id))
	}
	c.deps.Logger.Info("connection answered",
		zap.String("connection_id", id),
		zap.String("status", string(target)),
		zap.Bool("queued", res.Queued))
	c.deps.Bus.Emit(bus.ConnectionChanged, *conn)
	return conn, nil
}

// List returns the cached connections.
func (c *Connections) List() ([]domain.Connection, error) {
	return c.deps.DB.ListConnections()
}

// AutoRequest sends a request to userID unless one already exists in either
// direction. It is the consumer of auto-connect notifications.
func (c *Connections) AutoRequest(ctx context.Context, userID string) {
	conn, err := c.Request(ctx, userID)
	if err != nil {
		c.deps.Logger.Debug("auto-request skipped", zap.String("user_id", userID), zap.Error(err))
		return
	}
	c.deps.Logger.Info("auto-requested connection", zap.String("user_id", userID), zap.String("connection_id", conn.ID))
}
