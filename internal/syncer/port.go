package syncer

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tillsync/tillsync/internal/models"
)

// Port is the surface repository facades depend on. Facades only ever append
// to the outbox and ask for best-effort sync passes; the engine owns
// everything else.
type Port interface {
	Enqueue(ctx context.Context, entity models.EntityType, action models.Action, entityID models.ID, data json.RawMessage) error
	// Discard drops every queued mutation for one entity. Used when a
	// record the server never saw is deleted, so its queued create cannot
	// resurrect it.
	Discard(ctx context.Context, entity models.EntityType, entityID models.ID) error
	SyncAll(ctx context.Context) Summary
	PendingCount(ctx context.Context) (int, error)
}

// FakePort is an in-memory Port for facade tests.
type FakePort struct {
	mu       sync.Mutex
	Enqueued []FakeEnqueue
	SyncRuns int

	EnqueueErr error
}

// FakeEnqueue records one Enqueue call.
type FakeEnqueue struct {
	Entity   models.EntityType
	Action   models.Action
	EntityID models.ID
	Data     json.RawMessage
}

func (f *FakePort) Enqueue(ctx context.Context, entity models.EntityType, action models.Action, entityID models.ID, data json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnqueueErr != nil {
		return f.EnqueueErr
	}
	f.Enqueued = append(f.Enqueued, FakeEnqueue{
		Entity:   entity,
		Action:   action,
		EntityID: entityID,
		Data:     append(json.RawMessage(nil), data...),
	})
	return nil
}

func (f *FakePort) Discard(ctx context.Context, entity models.EntityType, entityID models.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.Enqueued[:0]
	for _, e := range f.Enqueued {
		if e.Entity != entity || e.EntityID != entityID {
			kept = append(kept, e)
		}
	}
	f.Enqueued = kept
	return nil
}

func (f *FakePort) SyncAll(ctx context.Context) Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SyncRuns++
	return Summary{Success: true}
}

func (f *FakePort) PendingCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Enqueued), nil
}
