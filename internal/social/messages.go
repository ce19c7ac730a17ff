package social

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/nearby/internal/bus"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/outbox"
	"go.uber.org/zap"
)

// matchWindow bounds how much earlier than its optimistic record a confirmed
// message may be stamped and still match it by content.
const matchWindow = time.Minute

// Messages sends and reads chat messages of the local user.
type Messages struct {
	deps Deps
	mu   sync.Mutex
}

// NewMessages creates the message service.
func NewMessages(d Deps) *Messages {
	return &Messages{deps: d}
}

type messageCreate struct {
	ClientID   string `json:"clientId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type messageRead struct {
	ID     string `json:"id"`
	ReadAt string `json:"readAt"`
}

// Send writes a message to receiverID. When the write is queued an
// optimistic local record, keyed by its client id, is cached and shown
// until the backend copy arrives.
func (m *Messages) Send(ctx context.Context, receiverID, content string) (*domain.Message, error) {
	self := m.deps.Self
	if receiverID == "" || receiverID == self {
		return nil, fmt.Errorf("send message to %q: %w", receiverID, ErrInvalidArgument)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("empty message: %w", ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendLocked(ctx, NewClientID(), receiverID, content)
}

func (m *Messages) sendLocked(ctx context.Context, clientID, receiverID, content string) (*domain.Message, error) {
	self := m.deps.Self
	res, err := m.deps.Dispatcher.Dispatch(ctx, domain.EntityMessage, domain.OpCreate, messageCreate{
		ClientID:   clientID,
		SenderID:   self,
		ReceiverID: receiverID,
		Content:    content,
	})
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:         res.ID,
		ClientID:   clientID,
		SenderID:   self,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  m.deps.now(),
		State:      domain.MessageConfirmed,
	}
	if res.Queued {
		msg.ID = clientID
		msg.State = domain.MessageLocal
	}
	if err := m.deps.DB.UpsertMessage(msg); err != nil {
		m.deps.Logger.Error("failed to cache message", zap.Error(err), zap.String("message_id", msg.ID))
	}
	m.deps.Logger.Info("message sent",
		zap.String("to", receiverID),
		zap.String("message_id", msg.ID),
		zap.Bool("queued", res.Queued))
	m.deps.Bus.Emit(bus.MessageChanged, *msg)
	return msg, nil
}

// Resend retries a message whose queued write was dropped. The original
// client id is reused so a copy the backend did store is not duplicated.
func (m *Messages) Resend(ctx context.Context, id string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, err := m.deps.DB.GetMessage(id)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if msg.State != domain.MessageFailed {
		return nil, fmt.Errorf("message %s is %s: %w", id, msg.State, ErrInvalidTransition)
	}
	sent, err := m.sendLocked(ctx, msg.ClientID, msg.ReceiverID, msg.Content)
	if err != nil {
		return nil, err
	}
	if sent.ID != id {
		if err := m.deps.DB.DeleteMessage(id); err != nil {
			m.deps.Logger.Error("failed to remove resent message", zap.Error(err), zap.String("message_id", id))
		}
	}
	return sent, nil
}

// MarkRead stamps the read receipt of a message addressed to the local
// user. The receipt is set once and always lies after createdAt.
func (m *Messages) MarkRead(ctx context.Context, id string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, err := m.deps.DB.GetMessage(id)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if msg.ReceiverID != m.deps.Self {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotRecipient)
	}
	if msg.ReadAt != nil {
		return msg, nil
	}

	readAt := m.deps.now()
	if !readAt.After(msg.CreatedAt) {
		readAt = msg.CreatedAt.Add(time.Millisecond)
	}
	if _, err := m.deps.Dispatcher.Dispatch(ctx, domain.EntityMessage, domain.OpUpdate, messageRead{
		ID:     id,
		ReadAt: stamp(readAt),
	}); err != nil {
		return nil, err
	}
	if err := m.deps.DB.MarkMessageRead(id, readAt); err != nil {
		m.deps.Logger.Error("failed to cache read receipt", zap.Error(err), zap.String("message_id", id))
	}
	msg.ReadAt = &readAt
	m.deps.Bus.Emit(bus.MessageChanged, *msg)
	return msg, nil
}

// List returns the conversation with peer, oldest first. An empty peer lists
// every conversation.
func (m *Messages) List(peer string) ([]domain.Message, error) {
	return m.deps.DB.ListMessages(m.deps.Self, peer)
}

// ActionDropped marks the optimistic record of a permanently failed message
// create as failed. Other drops are ignored.
func (m *Messages) ActionDropped(d outbox.Drop) {
	if d.Action.EntityType != domain.EntityMessage || d.Action.Operation != domain.OpCreate {
		return
	}
	var p messageCreate
	if err := json.Unmarshal(d.Action.Payload, &p); err != nil || p.ClientID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msg, err := m.deps.DB.GetMessage(p.ClientID)
	if err != nil || msg == nil || msg.State != domain.MessageLocal {
		return
	}
	if err := m.deps.DB.SetMessageState(msg.ID, domain.MessageFailed); err != nil {
		m.deps.Logger.Error("failed to mark message failed", zap.Error(err), zap.String("message_id", msg.ID))
		return
	}
	msg.State = domain.MessageFailed
	m.deps.Logger.Warn("message not delivered",
		zap.String("message_id", msg.ID),
		zap.String("to", msg.ReceiverID),
		zap.Error(d.Err))
	m.deps.Bus.Emit(bus.MessageFailed, *msg)
}

// Reconcile returns the ids of the optimistic records that are superseded by
// a confirmed message. A record matches the confirmed message carrying its
// client id; failing that, the oldest unused confirmed message without a
// client id that has the same participants and content and is stamped no
// earlier than matchWindow before it.
func Reconcile(optimistic, confirmed []domain.Message) []string {
	used := make(map[int]bool, len(confirmed))
	byClientID := make(map[string]int, len(confirmed))
	for i, c := range confirmed {
		if c.ClientID != "" {
			byClientID[c.ClientID] = i
		}
	}

	var resolved []string
	var unmatched []domain.Message
	for _, o := range optimistic {
		if i, ok := byClientID[o.ClientID]; ok && o.ClientID != "" && !used[i] {
			used[i] = true
			resolved = append(resolved, o.ID)
			continue
		}
		unmatched = append(unmatched, o)
	}

	for _, o := range unmatched {
		best := -1
		for i, c := range confirmed {
			if used[i] || c.ClientID != "" || !sameContent(o, c) || c.CreatedAt.Before(o.CreatedAt.Add(-matchWindow)) {
				continue
			}
			if best == -1 || c.CreatedAt.Before(confirmed[best].CreatedAt) {
				best = i
			}
		}
		if best >= 0 {
			used[best] = true
			resolved = append(resolved, o.ID)
		}
	}
	return resolved
}

func sameContent(a, b domain.Message) bool {
	return a.SenderID == b.SenderID && a.ReceiverID == b.ReceiverID && a.Content == b.Content
}
