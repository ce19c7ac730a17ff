package api

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/bus"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/outbox"
	"github.com/matheus3301/nearby/internal/signal"
	"github.com/matheus3301/nearby/internal/social"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"not found", fmt.Errorf("respond: %w", social.ErrNotFound), codes.NotFound},
		{"backend not found", backend.New(backend.CodeNotFound, "gone"), codes.NotFound},
		{"not recipient", social.ErrNotRecipient, codes.PermissionDenied},
		{"scan denied", signal.ErrPermissionDenied, codes.PermissionDenied},
		{"invalid argument", social.ErrInvalidArgument, codes.InvalidArgument},
		{"validation", backend.New(backend.CodeValidation, "bad"), codes.InvalidArgument},
		{"exists", social.ErrExists, codes.AlreadyExists},
		{"limit", social.ErrLimitReached, codes.ResourceExhausted},
		{"transition", social.ErrInvalidTransition, codes.FailedPrecondition},
		{"conflict", backend.New(backend.CodeConflict, "answered"), codes.FailedPrecondition},
		{"unavailable", backend.New(backend.CodeUnavailable, "down"), codes.Unavailable},
		{"untyped", context.Canceled, codes.Internal},
		{"already a status", grpcstatus.Error(codes.Aborted, "x"), codes.Aborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := grpcstatus.Code(toStatus(tt.err)); got != tt.want {
				t.Errorf("toStatus(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestMessageKeepsStateOnTheWire(t *testing.T) {
	in := messageView(domain.Message{ID: "m1", ClientID: "c1", SenderID: "a", ReceiverID: "b", Content: "hi", State: domain.MessageFailed})
	s, err := Encode(MessageReply{Message: in})
	if err != nil {
		t.Fatal(err)
	}
	var out MessageReply
	if err := Decode(s, &out); err != nil {
		t.Fatal(err)
	}
	if out.Message.State != domain.MessageFailed || out.Message.ClientID != "c1" || out.Message.Content != "hi" {
		t.Errorf("decoded = %+v", out.Message)
	}
}

func TestEncodeDropEvent(t *testing.T) {
	drop := outbox.Drop{
		Action: domain.SyncAction{ID: "a1", EntityType: domain.EntityMessage, Operation: domain.OpCreate, RetryCount: 3},
		Err:    backend.New(backend.CodeValidation, "rejected"),
	}
	s, err := encodeEvent(bus.NewEvent(bus.SyncDropped, drop))
	if err != nil {
		t.Fatal(err)
	}
	var evt Event
	if err := Decode(s, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Kind != bus.SyncDropped {
		t.Errorf("kind = %s", evt.Kind)
	}
	var payload struct {
		Action domain.SyncAction `json:"action"`
		Error  string            `json:"error"`
	}
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Action.ID != "a1" || payload.Error != "[VALIDATION] rejected" {
		t.Errorf("payload = %+v", payload)
	}
}
