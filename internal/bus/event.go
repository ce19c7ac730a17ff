package bus

import "time"

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by prefix, so every kind lives under a
// namespace ("sync.", "net.", "presence.", ...).
const (
	SyncStatusChanged = "sync.status_changed"
	SyncDelivered     = "sync.delivered"
	SyncRetry         = "sync.retry_scheduled"
	SyncDropped       = "sync.action_dropped"

	NetStatusChanged = "net.status_changed"

	PresenceUpdated     = "presence.updated"
	PresenceAutoConnect = "presence.auto_connect"

	ScanStarted          = "scan.started"
	ScanStopped          = "scan.stopped"
	ScanPermissionDenied = "scan.permission_denied"

	// *Changed carry one record written locally; *Synced carry the full
	// list after a subscription push.
	ConnectionChanged = "connection.changed"
	ConnectionsSynced = "connection.synced"
	MeetupChanged     = "meetup.changed"
	MeetupsSynced     = "meetup.synced"
	MessageChanged    = "message.changed"
	MessagesSynced    = "message.synced"
	MessageReceived   = "message.received"
	MessageFailed     = "message.failed"
)

// NewEvent builds an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
