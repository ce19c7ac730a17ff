package outbox

import (
	"context"
	"fmt"

	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/domain"
)

var entityTables = map[domain.EntityType]backend.Table{
	domain.EntityMessage:    backend.Messages,
	domain.EntityProfile:    backend.Profiles,
	domain.EntityMeetup:     backend.Meetups,
	domain.EntityConnection: backend.Connections,
}

// TableFor returns the backend table an entity type is written to.
func TableFor(entity domain.EntityType) (backend.Table, error) {
	t, ok := entityTables[entity]
	if !ok {
		return "", backend.New(backend.CodeValidation, fmt.Sprintf("unknown entity type %q", entity))
	}
	return t, nil
}

// BackendReplayer replays actions as direct backend writes. Update and delete
// payloads carry the target document's "id".
type BackendReplayer struct {
	Backend backend.Backend
}

// Replay implements Replayer.
func (r BackendReplayer) Replay(ctx context.Context, a domain.SyncAction) error {
	table, err := TableFor(a.EntityType)
	if err != nil {
		return err
	}
	switch a.Operation {
	case domain.OpCreate:
		_, err = r.Create(ctx, table, a.Payload)
		return err
	case domain.OpUpdate:
		id, err := backend.DocID(a.Payload)
		if err != nil {
			return err
		}
		return r.Backend.Update(ctx, table, id, a.Payload)
	case domain.OpDelete:
		id, err := backend.DocID(a.Payload)
		if err != nil {
			return err
		}
		return r.Backend.Delete(ctx, table, id)
	}
	return backend.New(backend.CodeValidation, fmt.Sprintf("unknown operation %q", a.Operation))
}

// Create writes a new document and returns its id. A profile is keyed by its
// owner, so creating one that already exists overwrites it instead.
func (r BackendReplayer) Create(ctx context.Context, table backend.Table, doc backend.Document) (string, error) {
	id, err := r.Backend.Create(ctx, table, doc)
	if table != backend.Profiles || !backend.Is(err, backend.CodeConflict) {
		return id, err
	}
	id, idErr := backend.DocID(doc)
	if idErr != nil {
		return "", err
	}
	if err := r.Backend.Update(ctx, table, id, doc); err != nil {
		return "", err
	}
	return id, nil
}
