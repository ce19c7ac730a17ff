// Package memory is an in-process backend used in demo mode, in tests, and
// behind the development hub. Subscribers receive full snapshots
// synchronously after every write to their table.
package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/domain"
)

// Fault lets tests make a call fail. It is consulted before every write.
type Fault func(op string, table backend.Table, doc map[string]any) error

type row struct {
	seq    int64
	fields map[string]any
}

type subscription struct {
	table backend.Table
	query backend.Query
	docID string
	list  func([]backend.Document)
	one   func(backend.Document, bool)
}

// Backend is a thread-safe in-memory implementation of backend.Backend.
type Backend struct {
	mu     sync.Mutex
	tables map[backend.Table]map[string]*row

	// idempotency index: table -> clientId -> id
	clientIDs map[backend.Table]map[string]string
	seq       int64
	subs      map[int]*subscription
	nextSub   int
	fault     Fault
	now       func() time.Time
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{
		tables:    make(map[backend.Table]map[string]*row),
		clientIDs: make(map[backend.Table]map[string]string),
		subs:      make(map[int]*subscription),
		now:       time.Now,
	}
}

// SetFault installs (or clears, with nil) a failure injector.
func (b *Backend) SetFault(f Fault) {
	b.mu.Lock()
	b.fault = f
	b.mu.Unlock()
}

// Create inserts a document. A missing "id" is generated and a missing
// "createdAt" is stamped. A "clientId" already seen in the table makes the
// call idempotent: the existing id is returned and nothing is written.
func (b *Backend) Create(_ context.Context, table backend.Table, doc backend.Document) (string, error) {
	if _, err := backend.ParseTable(string(table)); err != nil {
		return "", err
	}
	fields, err := decode(doc)
	if err != nil {
		return "", err
	}
	if err := validate(table, fields); err != nil {
		return "", err
	}

	b.mu.Lock()
	if err := b.checkFault("create", table, fields); err != nil {
		b.mu.Unlock()
		return "", err
	}
	clientID, _ := fields["clientId"].(string)
	if clientID != "" {
		if id, ok := b.clientIDs[table][clientID]; ok {
			b.mu.Unlock()
			return id, nil
		}
	}
	id, _ := fields["id"].(string)
	if id == "" {
		id = uuid.NewString()
		fields["id"] = id
	}
	if _, ok := fields["createdAt"]; !ok {
		fields["createdAt"] = b.now().UTC().Format(time.RFC3339Nano)
	}
	rows := b.table(table)
	if _, exists := rows[id]; exists {
		b.mu.Unlock()
		return "", backend.New(backend.CodeConflict, fmt.Sprintf("%s/%s already exists", table, id))
	}
	b.seq++
	rows[id] = &row{seq: b.seq, fields: fields}
	if clientID != "" {
		if b.clientIDs[table] == nil {
			b.clientIDs[table] = make(map[string]string)
		}
		b.clientIDs[table][clientID] = id
	}
	notify := b.collectLocked(table)
	b.mu.Unlock()

	notify()
	return id, nil
}

// Update merges top-level fields into an existing document.
func (b *Backend) Update(_ context.Context, table backend.Table, id string, patch backend.Document) error {
	fields, err := decode(patch)
	if err != nil {
		return err
	}
	delete(fields, "id")

	b.mu.Lock()
	if err := b.checkFault("update", table, fields); err != nil {
		b.mu.Unlock()
		return err
	}
	r, ok := b.table(table)[id]
	if !ok {
		b.mu.Unlock()
		return backend.New(backend.CodeNotFound, fmt.Sprintf("%s/%s not found", table, id))
	}
	if err := checkTransition(table, r.fields, fields); err != nil {
		b.mu.Unlock()
		return err
	}
	for k, v := range fields {
		r.fields[k] = v
	}
	notify := b.collectLocked(table)
	b.mu.Unlock()

	notify()
	return nil
}

// Delete removes a document. Deleting a missing document succeeds so that
// replays are harmless.
func (b *Backend) Delete(_ context.Context, table backend.Table, id string) error {
	b.mu.Lock()
	if err := b.checkFault("delete", table, nil); err != nil {
		b.mu.Unlock()
		return err
	}
	rows := b.table(table)
	if _, ok := rows[id]; !ok {
		b.mu.Unlock()
		return nil
	}
	delete(rows, id)
	notify := b.collectLocked(table)
	b.mu.Unlock()

	notify()
	return nil
}

// Query returns the matching documents in insertion order.
func (b *Backend) Query(_ context.Context, table backend.Table, q backend.Query) ([]backend.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(table, q), nil
}

// Get returns one document.
func (b *Backend) Get(table backend.Table, id string) (backend.Document, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.table(table)[id]
	if !ok {
		return nil, false
	}
	return encode(r.fields), true
}

// Subscribe registers fn and immediately pushes the current snapshot.
func (b *Backend) Subscribe(table backend.Table, q backend.Query, fn func([]backend.Document)) (func(), error) {
	if _, err := backend.ParseTable(string(table)); err != nil {
		return nil, err
	}
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = &subscription{table: table, query: q, list: fn}
	snap := b.snapshotLocked(table, q)
	b.mu.Unlock()

	fn(snap)
	return b.unsubscriber(id), nil
}

// SubscribeDoc registers fn for one document and pushes its current state.
func (b *Backend) SubscribeDoc(table backend.Table, docID string, fn func(backend.Document, bool)) (func(), error) {
	if _, err := backend.ParseTable(string(table)); err != nil {
		return nil, err
	}
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = &subscription{table: table, docID: docID, one: fn}
	doc, ok := b.docLocked(table, docID)
	b.mu.Unlock()

	fn(doc, ok)
	return b.unsubscriber(id), nil
}

// Subscriptions returns the number of live subscriptions.
func (b *Backend) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Backend) unsubscriber(id int) func() {
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Backend) table(t backend.Table) map[string]*row {
	rows, ok := b.tables[t]
	if !ok {
		rows = make(map[string]*row)
		b.tables[t] = rows
	}
	return rows
}

func (b *Backend) checkFault(op string, table backend.Table, fields map[string]any) error {
	if b.fault == nil {
		return nil
	}
	return b.fault(op, table, fields)
}

// collectLocked snapshots every subscription on table and returns a function
// that delivers them once the lock is released.
func (b *Backend) collectLocked(table backend.Table) func() {
	var deliveries []func()
	for _, s := range b.subs {
		if s.table != table {
			continue
		}
		if s.list != nil {
			fn, snap := s.list, b.snapshotLocked(table, s.query)
			deliveries = append(deliveries, func() { fn(snap) })
			continue
		}
		fn := s.one
		doc, ok := b.docLocked(table, s.docID)
		deliveries = append(deliveries, func() { fn(doc, ok) })
	}
	return func() {
		for _, d := range deliveries {
			d()
		}
	}
}

func (b *Backend) docLocked(table backend.Table, id string) (backend.Document, bool) {
	r, ok := b.table(table)[id]
	if !ok {
		return nil, false
	}
	return encode(r.fields), true
}

func (b *Backend) snapshotLocked(table backend.Table, q backend.Query) []backend.Document {
	rows := b.table(table)
	matched := make([]*row, 0, len(rows))
	for _, r := range rows {
		if matches(r.fields, q) {
			matched = append(matched, r)
		}
	}
	slices.SortFunc(matched, func(a, b *row) int { return cmp.Compare(a.seq, b.seq) })
	docs := make([]backend.Document, len(matched))
	for i, r := range matched {
		docs[i] = encode(r.fields)
	}
	return docs
}

func matches(fields map[string]any, q backend.Query) bool {
	if len(q.Where) == 0 {
		return true
	}
	for _, c := range q.Where {
		ok := fmt.Sprint(fields[c.Field]) == fmt.Sprint(c.Value)
		if q.Any && ok {
			return true
		}
		if !q.Any && !ok {
			return false
		}
	}
	return !q.Any
}

func validate(table backend.Table, fields map[string]any) error {
	var required []string
	switch table {
	case backend.Messages:
		required = []string{"senderId", "receiverId", "content"}
	case backend.Connections:
		required = []string{"fromUserId", "toUserId"}
	case backend.Meetups:
		required = []string{"proposerId", "recipientId"}
	}
	for _, f := range required {
		if s, _ := fields[f].(string); s == "" {
			return backend.New(backend.CodeValidation, fmt.Sprintf("%s: %s is required", table, f))
		}
	}
	return nil
}

// checkTransition enforces the status lifecycles of connections and meetups
// the way backend row rules would. Rewriting the current status is allowed.
func checkTransition(table backend.Table, current, patch map[string]any) error {
	next, ok := patch["status"].(string)
	if !ok {
		return nil
	}
	prev, _ := current["status"].(string)
	if prev == "" || prev == next {
		return nil
	}
	var allowed bool
	switch table {
	case backend.Connections:
		allowed = !domain.ConnectionStatus(prev).Terminal()
	case backend.Meetups:
		from, to := domain.MeetupStatus(prev), domain.MeetupStatus(next)
		allowed = to.Rank() == from.Rank()+1 && (from != domain.MeetupDeclined)
	default:
		return nil
	}
	if !allowed {
		return backend.New(backend.CodeConflict, fmt.Sprintf("%s: status %s -> %s not allowed", table, prev, next))
	}
	return nil
}

func decode(doc backend.Document) (map[string]any, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, backend.Wrap(backend.CodeValidation, "decode document", err)
	}
	return fields, nil
}

func encode(fields map[string]any) backend.Document {
	data, _ := json.Marshal(fields)
	return data
}
