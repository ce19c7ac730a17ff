package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/matheus3301/nearby/internal/api"
	"github.com/matheus3301/nearby/internal/bus"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/tui/client"
	"github.com/matheus3301/nearby/internal/tui/ui"
)

// Notice is a message the UI should flash.
type Notice struct {
	Level ui.FlashLevel
	Text  string
}

// Effect lists what a daemon event invalidated.
type Effect struct {
	Status      bool
	Nearby      bool
	Thread      bool
	Connections bool
	Meetups     bool
	Notice      *Notice
}

// ViewModel caches daemon state for the views.
type ViewModel struct {
	mu sync.RWMutex

	client      *client.Client
	status      *api.StatusReply
	nearby      []domain.NearbyUser
	connections []domain.Connection
	meetups     []domain.Meetup
	messages    []api.Message
	peer        string
	notices     Notices
}

// NewViewModel creates a new view model connected to the daemon client.
func NewViewModel(c *client.Client) *ViewModel {
	return &ViewModel{client: c}
}

// Watch streams every daemon event until ctx is done.
func (vm *ViewModel) Watch(ctx context.Context) (<-chan api.Event, error) {
	return vm.client.WatchEvents(ctx)
}

// LoadStatus fetches the daemon status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.client.GetStatus(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = st
	vm.mu.Unlock()
	return nil
}

// LoadNearby fetches the ranked nearby list.
func (vm *ViewModel) LoadNearby(ctx context.Context) error {
	users, err := vm.client.ListNearby(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.nearby = users
	vm.mu.Unlock()
	return nil
}

// LoadConnections fetches the cached connections.
func (vm *ViewModel) LoadConnections(ctx context.Context) error {
	conns, err := vm.client.ListConnections(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.connections = conns
	vm.mu.Unlock()
	return nil
}

// LoadMeetups fetches the cached meetups.
func (vm *ViewModel) LoadMeetups(ctx context.Context) error {
	meetups, err := vm.client.ListMeetups(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.meetups = meetups
	vm.mu.Unlock()
	return nil
}

// LoadAll refreshes everything, the open thread included.
func (vm *ViewModel) LoadAll(ctx context.Context) error {
	return errors.Join(
		vm.LoadStatus(ctx),
		vm.LoadNearby(ctx),
		vm.LoadConnections(ctx),
		vm.LoadMeetups(ctx),
		vm.LoadThread(ctx),
	)
}

// Load refreshes what e invalidated.
func (vm *ViewModel) Load(ctx context.Context, e Effect) error {
	var errs []error
	if e.Status {
		errs = append(errs, vm.LoadStatus(ctx))
	}
	if e.Nearby {
		errs = append(errs, vm.LoadNearby(ctx))
	}
	if e.Connections {
		errs = append(errs, vm.LoadConnections(ctx))
	}
	if e.Meetups {
		errs = append(errs, vm.LoadMeetups(ctx))
	}
	if e.Thread {
		errs = append(errs, vm.LoadThread(ctx))
	}
	return errors.Join(errs...)
}

// OpenThread makes peer the active conversation, loads it and marks the
// incoming messages read.
func (vm *ViewModel) OpenThread(ctx context.Context, peer string) error {
	vm.mu.Lock()
	vm.peer = peer
	vm.messages = nil
	vm.mu.Unlock()

	if err := vm.LoadThread(ctx); err != nil {
		return err
	}
	self := vm.Self()
	var unread []string
	for _, m := range vm.Messages() {
		if m.ReceiverID == self && m.ReadAt == nil {
			unread = append(unread, m.ID)
		}
	}
	for _, id := range unread {
		if _, err := vm.client.MarkRead(ctx, id); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
	}
	if len(unread) == 0 {
		return nil
	}
	return vm.LoadThread(ctx)
}

// CloseThread forgets the active conversation.
func (vm *ViewModel) CloseThread() {
	vm.mu.Lock()
	vm.peer = ""
	vm.messages = nil
	vm.mu.Unlock()
}

// LoadThread reloads the active conversation. It is a no-op without one.
func (vm *ViewModel) LoadThread(ctx context.Context) error {
	peer := vm.Peer()
	if peer == "" {
		return nil
	}
	msgs, err := vm.client.ListMessages(ctx, peer)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	if vm.peer == peer {
		vm.messages = msgs
	}
	vm.mu.Unlock()
	return nil
}

// Send sends text to the active peer.
func (vm *ViewModel) Send(ctx context.Context, text string) (*api.Message, error) {
	peer := vm.Peer()
	if peer == "" {
		return nil, errors.New("no conversation open")
	}
	msg, err := vm.client.SendMessage(ctx, peer, text)
	if err != nil {
		return nil, err
	}
	return msg, vm.LoadThread(ctx)
}

// ResendFailed resends every failed message of the active thread and
// returns how many were resent.
func (vm *ViewModel) ResendFailed(ctx context.Context) (int, error) {
	n := 0
	for _, m := range vm.Messages() {
		if m.State != domain.MessageFailed {
			continue
		}
		if _, err := vm.client.ResendMessage(ctx, m.ID); err != nil {
			return n, err
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n, vm.LoadThread(ctx)
}

// Connect sends a connection request to userID.
func (vm *ViewModel) Connect(ctx context.Context, userID string) (*domain.Connection, error) {
	conn, err := vm.client.RequestConnection(ctx, userID)
	if err != nil {
		return nil, err
	}
	return conn, vm.LoadConnections(ctx)
}

// Respond answers the pending request userID sent us.
func (vm *ViewModel) Respond(ctx context.Context, userID string, accept bool) (*domain.Connection, error) {
	conn := vm.ConnectionWith(userID)
	if conn == nil || conn.Status != domain.ConnectionPending || conn.ToUserID != vm.Self() {
		return nil, fmt.Errorf("no pending request from %s", userID)
	}
	updated, err := vm.client.RespondConnection(ctx, conn.ID, accept)
	if err != nil {
		return nil, err
	}
	return updated, vm.LoadConnections(ctx)
}

// ToggleOnline flips the forced-offline switch and returns whether the
// client now wants to be online.
func (vm *ViewModel) ToggleOnline(ctx context.Context) (bool, error) {
	online := true
	if st := vm.Status(); st != nil {
		online = st.ForcedOffline
	}
	st, err := vm.client.SetOnline(ctx, online)
	if err != nil {
		return false, err
	}
	vm.mu.Lock()
	vm.status = st
	vm.mu.Unlock()
	return online, nil
}

// ToggleScan starts or stops scanning and returns whether the radar is now
// scanning.
func (vm *ViewModel) ToggleScan(ctx context.Context) (bool, error) {
	var (
		st  *api.StatusReply
		err error
	)
	if cur := vm.Status(); cur != nil && cur.Scanning {
		st, err = vm.client.StopScan(ctx)
	} else {
		st, err = vm.client.StartScan(ctx)
	}
	if err != nil {
		return false, err
	}
	vm.mu.Lock()
	vm.status = st
	vm.mu.Unlock()
	return st.Scanning, nil
}

// Apply maps a daemon event to the caches it invalidates. Permanent sync
// failures produce a notice once per action.
func (vm *ViewModel) Apply(evt api.Event) Effect {
	switch {
	case evt.Kind == bus.SyncDropped:
		var d struct {
			Action domain.SyncAction `json:"action"`
			Error  string            `json:"error"`
		}
		e := Effect{Status: true, Thread: true}
		if err := json.Unmarshal(evt.Payload, &d); err != nil || !vm.notices.First("drop:"+d.Action.ID) {
			return e
		}
		e.Notice = &Notice{
			Level: ui.FlashErr,
			Text:  fmt.Sprintf("%s %s not delivered: %s", d.Action.EntityType, d.Action.Operation, d.Error),
		}
		return e

	case strings.HasPrefix(evt.Kind, "sync."), strings.HasPrefix(evt.Kind, "net."):
		return Effect{Status: true}

	case evt.Kind == bus.ScanPermissionDenied:
		var source string
		_ = json.Unmarshal(evt.Payload, &source)
		return Effect{Status: true, Notice: &Notice{
			Level: ui.FlashWarn,
			Text:  fmt.Sprintf("%s scan denied, run :permission to ask again", source),
		}}

	case strings.HasPrefix(evt.Kind, "scan."):
		return Effect{Status: true}

	case evt.Kind == bus.PresenceUpdated:
		return Effect{Status: true, Nearby: true}

	case evt.Kind == bus.MessageReceived:
		e := Effect{}
		var m domain.Message
		if err := json.Unmarshal(evt.Payload, &m); err != nil {
			return e
		}
		if vm.involvesPeer(m.SenderID, m.ReceiverID) {
			e.Thread = true
		} else if vm.notices.First("msg:" + m.ID) {
			e.Notice = &Notice{Level: ui.FlashInfo, Text: "new message from " + m.SenderID}
		}
		return e

	case strings.HasPrefix(evt.Kind, "message."):
		for _, m := range records[domain.Message](evt, bus.MessagesSynced) {
			if vm.involvesPeer(m.SenderID, m.ReceiverID) {
				return Effect{Thread: true}
			}
		}
		return Effect{}

	case evt.Kind == bus.ConnectionChanged, evt.Kind == bus.ConnectionsSynced:
		e := Effect{Connections: true, Nearby: true}
		self := vm.Self()
		for _, c := range records[domain.Connection](evt, bus.ConnectionsSynced) {
			if c.ToUserID == self && c.Status == domain.ConnectionPending && vm.notices.First("conn:"+c.ID) {
				e.Notice = &Notice{Level: ui.FlashInfo, Text: "connection request from " + c.FromUserID + ", press a to accept"}
			}
		}
		return e

	case evt.Kind == bus.MeetupChanged, evt.Kind == bus.MeetupsSynced:
		return Effect{Meetups: true}
	}
	return Effect{}
}

func (vm *ViewModel) involvesPeer(a, b string) bool {
	peer := vm.Peer()
	return peer != "" && (a == peer || b == peer)
}

// records decodes the payload of evt: a list when evt is of the snapshot
// kind, a single record otherwise.
func records[T any](evt api.Event, snapshot string) []T {
	if evt.Kind == snapshot {
		var many []T
		if err := json.Unmarshal(evt.Payload, &many); err != nil {
			return nil
		}
		return many
	}
	var one T
	if err := json.Unmarshal(evt.Payload, &one); err != nil {
		return nil
	}
	return []T{one}
}

// Status returns the last fetched status, or nil before the first load.
func (vm *ViewModel) Status() *api.StatusReply {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Self returns the local profile id, or "" before the first status load.
func (vm *ViewModel) Self() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil {
		return ""
	}
	return vm.status.Self
}

// Nearby returns a snapshot of the ranked nearby list.
func (vm *ViewModel) Nearby() []domain.NearbyUser {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.nearby
}

// NearbyUser returns the nearby entry for id.
func (vm *ViewModel) NearbyUser(id string) (domain.NearbyUser, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, u := range vm.nearby {
		if u.ID == id {
			return u, true
		}
	}
	return domain.NearbyUser{}, false
}

// Messages returns a snapshot of the active thread.
func (vm *ViewModel) Messages() []api.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.messages
}

// Peer returns the active conversation's user id.
func (vm *ViewModel) Peer() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.peer
}

// ConnectionStates maps every peer to the state of its connection, a live
// one winning over a declined one.
func (vm *ViewModel) ConnectionStates() map[string]domain.ConnectionStatus {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	self := ""
	if vm.status != nil {
		self = vm.status.Self
	}
	out := make(map[string]domain.ConnectionStatus, len(vm.connections))
	for _, c := range vm.connections {
		peer := c.Peer(self)
		if cur, ok := out[peer]; ok && cur != domain.ConnectionDeclined {
			continue
		}
		out[peer] = c.Status
	}
	return out
}

// ConnectionWith returns the connection with userID, preferring a live one
// over a declined one.
func (vm *ViewModel) ConnectionWith(userID string) *domain.Connection {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	self := ""
	if vm.status != nil {
		self = vm.status.Self
	}
	var found *domain.Connection
	for i := range vm.connections {
		c := vm.connections[i]
		if c.Peer(self) != userID {
			continue
		}
		if found == nil || found.Status == domain.ConnectionDeclined {
			found = &c
		}
	}
	return found
}

// MeetupsWith returns the meetups shared with userID.
func (vm *ViewModel) MeetupsWith(userID string) []domain.Meetup {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	var out []domain.Meetup
	for _, m := range vm.meetups {
		if m.ProposerID == userID || m.RecipientID == userID {
			out = append(out, m)
		}
	}
	return out
}
