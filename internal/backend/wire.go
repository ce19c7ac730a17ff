package backend

import "encoding/json"

// Wire types shared by the HTTP backend and its client.

// ErrorBody is the JSON body of a failed HTTP call.
type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// CreatedBody answers a successful create.
type CreatedBody struct {
	ID string `json:"id"`
}

// QueryBody answers a query.
type QueryBody struct {
	Docs []Document `json:"docs"`
}

// Frame ops of the realtime channel.
const (
	OpSubscribe    = "subscribe"
	OpSubscribeDoc = "subscribe_doc"
	OpUnsubscribe  = "unsubscribe"
)

// ClientFrame is sent by a realtime client.
type ClientFrame struct {
	Op    string `json:"op"`
	Sub   string `json:"sub"`
	Table Table  `json:"table,omitempty"`
	Query Query  `json:"query,omitempty"`
	ID    string `json:"id,omitempty"`
}

// ServerFrame is pushed to a realtime client. Docs carries query snapshots;
// Doc and Exists carry single-document pushes.
type ServerFrame struct {
	Sub    string          `json:"sub"`
	Docs   []Document      `json:"docs,omitempty"`
	Doc    json.RawMessage `json:"doc,omitempty"`
	Exists bool            `json:"exists,omitempty"`
	Single bool            `json:"single,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// AsError converts a decoded error body into an Error, falling back to the
// HTTP status when the code is missing.
func (b ErrorBody) AsError(status int) *Error {
	if b.Code == "" {
		return FromStatus(status, b.Message)
	}
	return New(b.Code, b.Message)
}
