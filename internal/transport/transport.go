// Package transport talks to the remote backend: the entity CRUD API over
// HTTP and the change-notification stream over WebSocket.
package transport

import (
	"context"
	"encoding/json"

	"github.com/tillsync/tillsync/internal/models"
)

// EntityAPI is the remote entity service collaborator. Calls carry the same
// operation shape the outbox queues locally. Create returns the
// server-issued identifier.
type EntityAPI interface {
	Create(ctx context.Context, entity models.EntityType, body json.RawMessage) (models.ID, error)
	Update(ctx context.Context, entity models.EntityType, id models.ID, body json.RawMessage) error
	Delete(ctx context.Context, entity models.EntityType, id models.ID) error
	FetchAll(ctx context.Context, entity models.EntityType) ([]json.RawMessage, error)
}

// NotificationStream is the remote notification service collaborator: a
// push-based, per-collection change feed. No acknowledgment, no replay;
// ordering is only guaranteed within one collection's stream.
type NotificationStream interface {
	Subscribe(ctx context.Context, collection models.EntityType) (<-chan models.ChangeEvent, error)
	Close() error
}

// envelope is the JSON response shape shared by all entity endpoints.
type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	ID      models.ID         `json:"id,omitempty"`
	Data    []json.RawMessage `json:"data,omitempty"`
}
