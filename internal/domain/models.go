package domain

import (
	"encoding/json"
	"time"
)

// EntityType names the backend entity a queued action mutates.
type EntityType string

const (
	EntityMessage    EntityType = "message"
	EntityProfile    EntityType = "profile"
	EntityMeetup     EntityType = "meetup"
	EntityConnection EntityType = "connection"
)

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityMessage, EntityProfile, EntityMeetup, EntityConnection:
		return true
	}
	return false
}

// Operation is the kind of mutation a queued action replays.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// SyncAction is a single pending mutation held by the sync queue.
// Payload is replayed byte-for-byte; it must be self-contained.
type SyncAction struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entityType"`
	Operation  Operation       `json:"operation"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
}

// Profile is the backend representation of a user.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	Interests []string  `json:"interests,omitempty"`
	Age       int       `json:"age,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	IsOnline  bool      `json:"isOnline"`
	LastSeen  time.Time `json:"lastSeen,omitempty"`
	Location  *Coords   `json:"location,omitempty"`
}

// Coords is a WGS84 position.
type Coords struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// NearbyUser is one entry of the ranked nearby list.
// Ranged is false when no signal reading has produced a distance yet.
type NearbyUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	Interests []string  `json:"interests,omitempty"`
	Age       int       `json:"age,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	Distance  float64   `json:"distance"`
	Ranged    bool      `json:"ranged"`
	RSSI      float64   `json:"rssi,omitempty"`
	IsOnline  bool      `json:"isOnline"`
	LastSeen  time.Time `json:"lastSeen"`
}

// ConnectionStatus is the lifecycle state of a connection request.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionDeclined ConnectionStatus = "declined"
)

// Terminal reports whether no further transition is possible.
func (s ConnectionStatus) Terminal() bool {
	return s == ConnectionAccepted || s == ConnectionDeclined
}

// Connection is a directed relationship request between two users.
type Connection struct {
	ID         string           `json:"id"`
	ClientID   string           `json:"clientId,omitempty"`
	FromUserID string           `json:"fromUserId"`
	ToUserID   string           `json:"toUserId"`
	Status     ConnectionStatus `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
	AcceptedAt *time.Time       `json:"acceptedAt,omitempty"`
	DeclinedAt *time.Time       `json:"declinedAt,omitempty"`
}

// Peer returns the other party of the connection relative to userID.
func (c Connection) Peer(userID string) string {
	if c.FromUserID == userID {
		return c.ToUserID
	}
	return c.FromUserID
}

// MeetupStatus is the lifecycle state of a meetup proposal.
type MeetupStatus string

const (
	MeetupPending   MeetupStatus = "pending"
	MeetupAccepted  MeetupStatus = "accepted"
	MeetupDeclined  MeetupStatus = "declined"
	MeetupCompleted MeetupStatus = "completed"
)

// Rank orders meetup states along their lifecycle; a state never moves to a
// lower rank.
func (s MeetupStatus) Rank() int {
	switch s {
	case MeetupPending:
		return 0
	case MeetupAccepted, MeetupDeclined:
		return 1
	case MeetupCompleted:
		return 2
	}
	return -1
}

// Venue is where a meetup is proposed to happen.
type Venue struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Address     string  `json:"address,omitempty"`
	Coordinates Coords  `json:"coordinates"`
	Rating      float64 `json:"rating,omitempty"`
}

// Meetup is a proposed physical gathering.
type Meetup struct {
	ID           string       `json:"id"`
	ClientID     string       `json:"clientId,omitempty"`
	ProposerID   string       `json:"proposerId"`
	RecipientID  string       `json:"recipientId"`
	Venue        Venue        `json:"venue"`
	ProposedTime time.Time    `json:"proposedTime"`
	Message      string       `json:"message,omitempty"`
	Status       MeetupStatus `json:"status"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// MessageState tags a cached message as locally synthesized or confirmed by the backend.
type MessageState string

const (
	MessageLocal     MessageState = "local"
	MessageConfirmed MessageState = "confirmed"
	MessageFailed    MessageState = "failed"
)

// Message is chat content between two users.
// ClientID is the temporary id of the optimistic record that produced it.
type Message struct {
	ID         string       `json:"id"`
	ClientID   string       `json:"clientId,omitempty"`
	SenderID   string       `json:"senderId"`
	ReceiverID string       `json:"receiverId"`
	Content    string       `json:"content"`
	CreatedAt  time.Time    `json:"createdAt"`
	ReadAt     *time.Time   `json:"readAt"`
	State      MessageState `json:"-"`
}
