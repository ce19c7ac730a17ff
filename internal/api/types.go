package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/nearby/internal/app"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/outbox"
)

// Empty is the request of calls that take no arguments and the reply of
// calls that return nothing.
type Empty struct{}

type StatusReply struct {
	Account       string            `json:"account"`
	Self          string            `json:"self"`
	Tier          domain.Tier       `json:"tier"`
	Backend       string            `json:"backend"`
	Connectivity  string            `json:"connectivity"`
	ForcedOffline bool              `json:"forcedOffline"`
	Pending       int               `json:"pending"`
	Draining      bool              `json:"draining"`
	Scanning      bool              `json:"scanning"`
	Source        string            `json:"source"`
	Nearby        int               `json:"nearby"`
	LastSync      *time.Time        `json:"lastSync,omitempty"`
	Permissions   map[string]string `json:"permissions"`
}

func statusReply(st app.Status) *StatusReply {
	perms := make(map[string]string, len(st.Permissions))
	for c, p := range st.Permissions {
		perms[string(c)] = string(p)
	}
	reply := &StatusReply{
		Account:       st.Account,
		Self:          st.Self,
		Tier:          st.Tier,
		Backend:       st.Backend,
		Connectivity:  string(st.Connectivity),
		ForcedOffline: st.ForcedOffline,
		Pending:       st.Pending,
		Draining:      st.Draining,
		Scanning:      st.Scanning,
		Source:        st.Source,
		Nearby:        st.Nearby,
		Permissions:   perms,
	}
	if !st.LastSync.IsZero() {
		reply.LastSync = &st.LastSync
	}
	return reply
}

type NearbyReply struct {
	Users []domain.NearbyUser `json:"users"`
}

type SetOnlineRequest struct {
	Online bool `json:"online"`
}

type DrainReply struct {
	Attempted int  `json:"attempted"`
	Delivered int  `json:"delivered"`
	Retrying  int  `json:"retrying"`
	Dropped   int  `json:"dropped"`
	Skipped   bool `json:"skipped"`
}

func drainReply(r outbox.DrainResult) *DrainReply {
	return &DrainReply{
		Attempted: r.Attempted,
		Delivered: r.Delivered,
		Retrying:  r.Retrying,
		Dropped:   r.Dropped,
		Skipped:   r.Skipped,
	}
}

// QueuedAction is a pending action without its payload.
type QueuedAction struct {
	ID         string            `json:"id"`
	Entity     domain.EntityType `json:"entity"`
	Operation  domain.Operation  `json:"operation"`
	RetryCount int               `json:"retryCount"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}

type QueueReply struct {
	Actions []QueuedAction `json:"actions"`
}

// Message is a cached message with its delivery state.
type Message struct {
	domain.Message
	State domain.MessageState `json:"state"`
}

func messageView(m domain.Message) Message {
	return Message{Message: m, State: m.State}
}

type SendMessageRequest struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

type IDRequest struct {
	ID string `json:"id"`
}

type ListMessagesRequest struct {
	Peer string `json:"peer"`
}

type MessageReply struct {
	Message Message `json:"message"`
}

type MessagesReply struct {
	Messages []Message `json:"messages"`
}

type RequestConnectionRequest struct {
	UserID string `json:"userId"`
}

type RespondRequest struct {
	ID     string `json:"id"`
	Accept bool   `json:"accept"`
}

type ConnectionReply struct {
	Connection domain.Connection `json:"connection"`
}

type ConnectionsReply struct {
	Connections []domain.Connection `json:"connections"`
}

type ProposeMeetupRequest struct {
	To      string       `json:"to"`
	Venue   domain.Venue `json:"venue"`
	Time    time.Time    `json:"time"`
	Message string       `json:"message,omitempty"`
}

type MeetupReply struct {
	Meetup domain.Meetup `json:"meetup"`
}

type MeetupsReply struct {
	Meetups []domain.Meetup `json:"meetups"`
}

type PermissionRequest struct {
	Capability string `json:"capability"`
}

type ProfileReply struct {
	Profile domain.Profile `json:"profile"`
}

type UpdateProfileRequest struct {
	Fields map[string]any `json:"fields"`
}

// WatchRequest selects event namespaces ("sync.", "presence.", ...). No
// prefixes means every event.
type WatchRequest struct {
	Prefixes []string `json:"prefixes,omitempty"`
}

// Event is one bus event as streamed to clients.
type Event struct {
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
