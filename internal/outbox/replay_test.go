package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/backend/memory"
	"github.com/matheus3301/nearby/internal/domain"
)

func action(entity domain.EntityType, op domain.Operation, p string) domain.SyncAction {
	return domain.SyncAction{ID: "a", EntityType: entity, Operation: op, Payload: json.RawMessage(p), EnqueuedAt: time.Now()}
}

func TestBackendReplayer(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	r := BackendReplayer{Backend: mem}

	if err := r.Replay(ctx, action(domain.EntityProfile, domain.OpCreate, `{"id":"u1","name":"Alex","isOnline":false}`)); err != nil {
		t.Fatal(err)
	}
	if err := r.Replay(ctx, action(domain.EntityProfile, domain.OpUpdate, `{"id":"u1","isOnline":true}`)); err != nil {
		t.Fatal(err)
	}
	online, _ := mem.Query(ctx, backend.Profiles, backend.Where(backend.Eq("isOnline", true)))
	if len(online) != 1 {
		t.Fatalf("online profiles = %d, want 1", len(online))
	}

	if err := r.Replay(ctx, action(domain.EntityProfile, domain.OpDelete, `{"id":"u1"}`)); err != nil {
		t.Fatal(err)
	}
	if _, ok := mem.Get(backend.Profiles, "u1"); ok {
		t.Error("profile should be deleted")
	}
}

func TestReplayedProfileCreateOverwritesExisting(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	if _, err := mem.Create(ctx, backend.Profiles, json.RawMessage(`{"id":"alice","name":"Alice","isOnline":false}`)); err != nil {
		t.Fatal(err)
	}

	r := BackendReplayer{Backend: mem}
	if err := r.Replay(ctx, action(domain.EntityProfile, domain.OpCreate, `{"id":"alice","name":"Alice","isOnline":true,"bio":"new bio"}`)); err != nil {
		t.Fatalf("replay over existing profile = %v", err)
	}
	doc, ok := mem.Get(backend.Profiles, "alice")
	if !ok {
		t.Fatal("profile missing")
	}
	var got map[string]any
	if err := json.Unmarshal(doc, &got); err != nil {
		t.Fatal(err)
	}
	if got["isOnline"] != true || got["bio"] != "new bio" {
		t.Errorf("profile = %v, want online with new bio", got)
	}

	if _, err := mem.Create(ctx, backend.Connections, json.RawMessage(`{"id":"c1","fromUserId":"a","toUserId":"b","status":"pending"}`)); err != nil {
		t.Fatal(err)
	}
	err := r.Replay(ctx, action(domain.EntityConnection, domain.OpCreate, `{"id":"c1","fromUserId":"a","toUserId":"b","status":"pending"}`))
	if !backend.Is(err, backend.CodeConflict) {
		t.Errorf("duplicate connection create = %v, want CONFLICT", err)
	}
}

func TestBackendReplayerUpdateWithoutIDIsPermanent(t *testing.T) {
	r := BackendReplayer{Backend: memory.New()}
	err := r.Replay(context.Background(), action(domain.EntityConnection, domain.OpUpdate, `{"status":"accepted"}`))
	if err == nil || backend.IsRetryable(err) {
		t.Errorf("err = %v, want a non-retryable failure", err)
	}
}

func TestTableFor(t *testing.T) {
	tests := map[domain.EntityType]backend.Table{
		domain.EntityMessage:    backend.Messages,
		domain.EntityProfile:    backend.Profiles,
		domain.EntityMeetup:     backend.Meetups,
		domain.EntityConnection: backend.Connections,
	}
	for entity, want := range tests {
		got, err := TableFor(entity)
		if err != nil || got != want {
			t.Errorf("TableFor(%s) = %s, %v; want %s", entity, got, err, want)
		}
	}
}
