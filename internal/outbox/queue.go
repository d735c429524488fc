// Package outbox implements the ordered log of pending mutations awaiting
// transmission to the remote service.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tillsync/tillsync/internal/events"
	"github.com/tillsync/tillsync/internal/models"
	"github.com/tillsync/tillsync/internal/store"
)

// Queue is the write-behind mutation log. Repository facades append; only
// the sync engine removes items or records delivery errors. Items survive
// until delivered or removed by hand (at-least-once).
type Queue struct {
	store  store.Store
	logger *events.Logger
	clock  func() time.Time
}

// New creates a queue over the local store's outbox table.
func New(st store.Store, logger *events.Logger) *Queue {
	return &Queue{
		store:  st,
		logger: logger.WithField("component", "outbox"),
		clock:  time.Now,
	}
}

// SetClock overrides the timestamp source, for tests.
func (q *Queue) SetClock(clock func() time.Time) { q.clock = clock }

// Enqueue appends a mutation with a fresh id, the current timestamp and a
// zero retry count.
func (q *Queue) Enqueue(ctx context.Context, entity models.EntityType, action models.Action, entityID models.ID, data json.RawMessage) (*models.OutboxItem, error) {
	item := &models.OutboxItem{
		ID:         uuid.NewString(),
		EntityType: entity,
		Action:     action,
		EntityID:   entityID,
		Data:       data,
		Timestamp:  q.clock().UTC(),
	}

	if err := q.store.AppendOutbox(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue %s %s: %w", action, entity, err)
	}

	q.logger.WithFields(map[string]interface{}{
		"item":   item.ID,
		"entity": string(entity),
		"action": string(action),
		"id":     entityID.String(),
	}).Debug("Enqueued mutation")

	return item, nil
}

// DequeueOrdered returns all pending items sorted ascending by timestamp.
// Processing in this order preserves the causal order of edits to the same
// entity.
func (q *Queue) DequeueOrdered(ctx context.Context) ([]*models.OutboxItem, error) {
	items, err := q.store.ListOutbox(ctx)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	return items, nil
}

// Remove deletes a delivered item.
func (q *Queue) Remove(ctx context.Context, itemID string) error {
	return q.store.RemoveOutbox(ctx, itemID)
}

// RecordError increments the item's retry count and stores the failure
// message without removing it.
func (q *Queue) RecordError(ctx context.Context, itemID, message string) error {
	return q.store.RecordOutboxError(ctx, itemID, message, q.clock().UTC())
}

// Pending returns the number of queued mutations. This is the only queue
// state the UI layer ever reads.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	return q.store.OutboxCount(ctx)
}
