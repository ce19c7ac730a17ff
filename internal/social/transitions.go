package social

import (
	"fmt"
	"slices"

	"github.com/matheus3301/nearby/internal/domain"
)

var connectionTransitions = map[domain.ConnectionStatus][]domain.ConnectionStatus{
	domain.ConnectionPending: {domain.ConnectionAccepted, domain.ConnectionDeclined},
}

var meetupTransitions = map[domain.MeetupStatus][]domain.MeetupStatus{
	domain.MeetupPending:  {domain.MeetupAccepted, domain.MeetupDeclined},
	domain.MeetupAccepted: {domain.MeetupCompleted},
}

// CheckConnectionTransition returns ErrInvalidTransition unless from may move to to.
func CheckConnectionTransition(from, to domain.ConnectionStatus) error {
	if !slices.Contains(connectionTransitions[from], to) {
		return fmt.Errorf("connection %s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}

// CheckMeetupTransition returns ErrInvalidTransition unless from may move to to.
func CheckMeetupTransition(from, to domain.MeetupStatus) error {
	if !slices.Contains(meetupTransitions[from], to) {
		return fmt.Errorf("meetup %s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}
