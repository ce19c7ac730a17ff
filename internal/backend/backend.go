// Package backend defines the contract of the remote data store and real-time
// channel the client writes to and subscribes from.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
)

// Table names a backend collection.
type Table string

const (
	Profiles    Table = "profiles"
	Connections Table = "connections"
	Messages    Table = "messages"
	Meetups     Table = "meetups"
)

// ParseTable validates a table name.
func ParseTable(s string) (Table, error) {
	switch t := Table(s); t {
	case Profiles, Connections, Messages, Meetups:
		return t, nil
	}
	return "", New(CodeNotFound, fmt.Sprintf("unknown table %q", s))
}

// Document is a row as structured JSON. Writes send the exact payload the
// caller built; reads return the stored row including its "id".
type Document = json.RawMessage

// Cond is an equality condition on a top-level document field.
type Cond struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Query selects documents. Conditions are joined with AND unless Any is set.
type Query struct {
	Where []Cond `json:"where,omitempty"`
	Any   bool   `json:"any,omitempty"`
}

// Where builds an AND query.
func Where(conds ...Cond) Query {
	return Query{Where: conds}
}

// AnyOf builds an OR query.
func AnyOf(conds ...Cond) Query {
	return Query{Where: conds, Any: true}
}

// Eq is shorthand for an equality condition.
func Eq(field string, value any) Cond {
	return Cond{Field: field, Value: value}
}

// Backend is the data store and real-time channel collaborator.
// Every write returns a typed outcome; see Error and IsRetryable.
type Backend interface {
	Create(ctx context.Context, table Table, doc Document) (string, error)
	Update(ctx context.Context, table Table, id string, fields Document) error
	Delete(ctx context.Context, table Table, id string) error
	Query(ctx context.Context, table Table, q Query) ([]Document, error)
	// Subscribe pushes the full matching snapshot to fn on every change until
	// the returned function is called.
	Subscribe(table Table, q Query, fn func([]Document)) (func(), error)
	// SubscribeDoc pushes a single document; exists is false once it is gone.
	SubscribeDoc(table Table, id string, fn func(doc Document, exists bool)) (func(), error)
}

// DocID extracts the "id" field of a document.
func DocID(doc Document) (string, error) {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(doc, &head); err != nil {
		return "", Wrap(CodeValidation, "decode document", err)
	}
	if head.ID == "" {
		return "", New(CodeValidation, "document has no id")
	}
	return head.ID, nil
}
