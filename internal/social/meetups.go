package social

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/nearby/internal/bus"
	"github.com/matheus3301/nearby/internal/domain"
	"go.uber.org/zap"
)

// Meetups manages meetup proposals of the local user.
type Meetups struct {
	deps Deps
	mu   sync.Mutex
}

// NewMeetups creates the meetup service.
func NewMeetups(d Deps) *Meetups {
	return &Meetups{deps: d}
}

type meetupCreate struct {
	ClientID     string              `json:"clientId"`
	ProposerID   string              `json:"proposerId"`
	RecipientID  string              `json:"recipientId"`
	Venue        domain.Venue        `json:"venue"`
	ProposedTime string              `json:"proposedTime"`
	Message      string              `json:"message,omitempty"`
	Status       domain.MeetupStatus `json:"status"`
}

type meetupUpdate struct {
	ID     string              `json:"id"`
	Status domain.MeetupStatus `json:"status"`
}

// Proposal is the input of Propose.
type Proposal struct {
	RecipientID  string
	Venue        domain.Venue
	ProposedTime time.Time
	Message      string
}

// Propose sends a meetup proposal.
func (m *Meetups) Propose(ctx context.Context, p Proposal) (*domain.Meetup, error) {
	self := m.deps.Self
	if p.RecipientID == "" || p.RecipientID == self {
		return nil, fmt.Errorf("propose meetup to %q: %w", p.RecipientID, ErrInvalidArgument)
	}
	if strings.TrimSpace(p.Venue.Name) == "" {
		return nil, fmt.Errorf("venue name is required: %w", ErrInvalidArgument)
	}
	if p.ProposedTime.IsZero() {
		return nil, fmt.Errorf("proposed time is required: %w", ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	meetups, err := m.deps.DB.ListMeetups()
	if err != nil {
		return nil, fmt.Errorf("list meetups: %w", err)
	}
	open := 0
	for _, existing := range meetups {
		if existing.ProposerID == self && (existing.Status == domain.MeetupPending || existing.Status == domain.MeetupAccepted) {
			open++
		}
	}
	if !domain.Allows(m.deps.Tier.Limits().MaxMeetupProposals, open) {
		return nil, fmt.Errorf("%d open proposals on %s tier: %w", open, m.deps.Tier, ErrLimitReached)
	}

	clientID := NewClientID()
	res, err := m.deps.Dispatcher.Dispatch(ctx, domain.EntityMeetup, domain.OpCreate, meetupCreate{
		ClientID:     clientID,
		ProposerID:   self,
		RecipientID:  p.RecipientID,
		Venue:        p.Venue,
		ProposedTime: stamp(p.ProposedTime),
		Message:      p.Message,
		Status:       domain.MeetupPending,
	})
	if err != nil {
		return nil, err
	}

	meetup := &domain.Meetup{
		ID:           res.ID,
		ClientID:     clientID,
		ProposerID:   self,
		RecipientID:  p.RecipientID,
		Venue:        p.Venue,
		ProposedTime: p.ProposedTime.UTC(),
		Message:      p.Message,
		Status:       domain.MeetupPending,
		CreatedAt:    m.deps.now(),
	}
	if res.Queued {
		meetup.ID = clientID
	}
	m.cache(meetup)
	m.deps.Logger.Info("meetup proposed", zap.String("to", p.RecipientID), zap.String("venue", p.Venue.Name), zap.Bool("queued", res.Queued))
	return meetup, nil
}

// Respond accepts or declines a pending proposal addressed to the local user.
func (m *Meetups) Respond(ctx context.Context, id string, accept bool) (*domain.Meetup, error) {
	target := domain.MeetupDeclined
	if accept {
		target = domain.MeetupAccepted
	}
	return m.transition(ctx, id, target, func(mt *domain.Meetup) error {
		if mt.RecipientID != m.deps.Self {
			return fmt.Errorf("meetup %s: %w", id, ErrNotRecipient)
		}
		return nil
	})
}

// Complete marks an accepted meetup as having happened. Either participant
// may complete it.
func (m *Meetups) Complete(ctx context.Context, id string) (*domain.Meetup, error) {
	return m.transition(ctx, id, domain.MeetupCompleted, func(mt *domain.Meetup) error {
		if mt.RecipientID != m.deps.Self && mt.ProposerID != m.deps.Self {
			return fmt.Errorf("meetup %s: %w", id, ErrNotParticipant)
		}
		return nil
	})
}

func (m *Meetups) transition(ctx context.Context, id string, target domain.MeetupStatus, allowed func(*domain.Meetup) error) (*domain.Meetup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meetup, err := m.deps.DB.GetMeetup(id)
	if err != nil {
		return nil, fmt.Errorf("get meetup: %w", err)
	}
	if meetup == nil {
		return nil, fmt.Errorf("meetup %s: %w", id, ErrNotFound)
	}
	if err := allowed(meetup); err != nil {
		return nil, err
	}
	if err := CheckMeetupTransition(meetup.Status, target); err != nil {
		return nil, err
	}

	res, err := m.deps.Dispatcher.Dispatch(ctx, domain.EntityMeetup, domain.OpUpdate, meetupUpdate{ID: id, Status: target})
	if err != nil {
		return nil, err
	}
	meetup.Status = target
	m.cache(meetup)
	m.deps.Logger.Info("meetup updated",
		zap.String("meetup_id", id),
		zap.String("status", string(target)),
		zap.Bool("queued", res.Queued))
	return meetup, nil
}

func (m *Meetups) cache(meetup *domain.Meetup) {
	if err := m.deps.DB.UpsertMeetup(meetup); err != nil {
		m.deps.Logger.Error("failed to cache meetup", zap.Error(err), zap.String("meetup_id", meetup.ID))
	}
	m.deps.Bus.Emit(bus.MeetupChanged, *meetup)
}

// List returns the cached meetups.
func (m *Meetups) List() ([]domain.Meetup, error) {
	return m.deps.DB.ListMeetups()
}
