// Package syncer reconciles local state with the remote backend: it drains
// the outbox (push), replaces local collections with server state (pull),
// and rewrites temporary identifiers once the server issues permanent ones.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tillsync/tillsync/internal/events"
	"github.com/tillsync/tillsync/internal/models"
	"github.com/tillsync/tillsync/internal/outbox"
	"github.com/tillsync/tillsync/internal/store"
	"github.com/tillsync/tillsync/internal/transport"
)

// Engine orchestrates push and pull. The device identifier is injected so
// tests can simulate distinct devices.
type Engine struct {
	deviceID string
	store    store.Store
	queue    *outbox.Queue
	api      transport.EntityAPI
	logger   *events.Logger
	clock    func() time.Time

	backoffBase time.Duration
	backoffMax  time.Duration

	// Re-entrancy: a SyncAll arriving while one runs is coalesced into a
	// single follow-up pass instead of interleaving with it; draining the
	// outbox twice concurrently could double-submit.
	mu      sync.Mutex
	running bool
	queued  bool
}

// Options tunes engine behavior.
type Options struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// PushResult summarizes one outbox drain.
type PushResult struct {
	Synced  int
	Failed  int
	Skipped int
	Errors  []error
}

// PullResult summarizes one pull.
type PullResult struct {
	Pulled int
	Errors []error
}

// Summary is the aggregate outcome of SyncAll. SyncAll never returns an
// error; every per-item failure is captured here.
type Summary struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	SyncedCount int    `json:"synced_count"`
	FailedCount int    `json:"failed_count"`
	PulledCount int    `json:"pulled_count"`
	Coalesced   bool   `json:"coalesced"`
}

// NewEngine creates a sync engine.
func NewEngine(deviceID string, st store.Store, queue *outbox.Queue, api transport.EntityAPI, opts Options, logger *events.Logger) *Engine {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = 5 * time.Minute
	}

	return &Engine{
		deviceID:    deviceID,
		store:       st,
		queue:       queue,
		api:         api,
		logger:      logger.WithField("component", "sync_engine"),
		clock:       time.Now,
		backoffBase: opts.BackoffBase,
		backoffMax:  opts.BackoffMax,
	}
}

// SetClock overrides the time source, for tests.
func (e *Engine) SetClock(clock func() time.Time) { e.clock = clock }

// Enqueue appends a mutation to the outbox on behalf of a repository facade.
func (e *Engine) Enqueue(ctx context.Context, entity models.EntityType, action models.Action, entityID models.ID, data json.RawMessage) error {
	_, err := e.queue.Enqueue(ctx, entity, action, entityID, data)
	return err
}

// Discard drops every queued mutation for one entity.
func (e *Engine) Discard(ctx context.Context, entity models.EntityType, entityID models.ID) error {
	items, err := e.queue.DequeueOrdered(ctx)
	if err != nil {
		return fmt.Errorf("load outbox: %w", err)
	}
	for _, item := range items {
		if item.EntityType != entity || item.EntityID != entityID {
			continue
		}
		if err := e.queue.Remove(ctx, item.ID); err != nil {
			return fmt.Errorf("discard item %s: %w", item.ID, err)
		}
	}
	return nil
}

// PendingCount returns the number of queued mutations.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.queue.Pending(ctx)
}

// SyncAll runs push then pull. Concurrent invocations are serialized: a call
// arriving mid-run schedules exactly one follow-up pass and returns
// immediately with Coalesced set.
func (e *Engine) SyncAll(ctx context.Context) Summary {
	e.mu.Lock()
	if e.running {
		e.queued = true
		e.mu.Unlock()
		return Summary{Success: true, Coalesced: true, Message: "sync in progress, follow-up pass scheduled"}
	}
	e.running = true
	e.mu.Unlock()

	var summary Summary
	for {
		summary = e.syncOnce(ctx)

		e.mu.Lock()
		if e.queued && ctx.Err() == nil {
			e.queued = false
			e.mu.Unlock()
			continue
		}
		e.running = false
		e.queued = false
		e.mu.Unlock()
		return summary
	}
}

func (e *Engine) syncOnce(ctx context.Context) Summary {
	start := e.clock()
	e.logger.Info("Sync pass started")

	pushRes, pushErr := e.Push(ctx)
	pullRes, pullErr := e.Pull(ctx)

	summary := Summary{
		SyncedCount: pushRes.Synced,
		FailedCount: pushRes.Failed + len(pullRes.Errors),
		PulledCount: pullRes.Pulled,
	}

	var errs []error
	if pushErr != nil {
		errs = append(errs, pushErr)
	}
	errs = append(errs, pushRes.Errors...)
	if pullErr != nil {
		errs = append(errs, pullErr)
	}
	errs = append(errs, pullRes.Errors...)

	if len(errs) == 0 {
		summary.Success = true
		summary.Message = fmt.Sprintf("synced %d, pulled %d", pushRes.Synced, pullRes.Pulled)
	} else {
		summary.Message = fmt.Sprintf("synced %d, pulled %d, %d failures (first: %v)",
			pushRes.Synced, pullRes.Pulled, len(errs), errs[0])
	}

	e.logger.WithFields(map[string]interface{}{
		"synced":   pushRes.Synced,
		"failed":   summary.FailedCount,
		"pulled":   pullRes.Pulled,
		"duration": e.clock().Sub(start).String(),
	}).Info("Sync pass finished")

	return summary
}

// Push drains the outbox in timestamp order. A failing item is recorded and
// left queued; later items are still attempted. Items inside their backoff
// window are skipped until it elapses.
func (e *Engine) Push(ctx context.Context) (PushResult, error) {
	var res PushResult

	items, err := e.queue.DequeueOrdered(ctx)
	if err != nil {
		return res, fmt.Errorf("load outbox: %w", err)
	}

	done := make(map[string]bool, len(items))
	for len(items) > 0 {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, err)
			return res, nil
		}

		item := items[0]
		items = items[1:]
		if done[item.ID] {
			continue
		}
		done[item.ID] = true

		if wait := e.backoffRemaining(item); wait > 0 {
			e.logger.WithFields(map[string]interface{}{
				"item": item.ID,
				"wait": wait.String(),
			}).Debug("Item inside backoff window, skipping")
			res.Skipped++
			continue
		}

		remapped, err := e.pushItem(ctx, item)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, &models.PushItemError{
				ItemID:     item.ID,
				EntityType: item.EntityType,
				Action:     item.Action,
				Err:        err,
			})

			if recErr := e.queue.RecordError(ctx, item.ID, err.Error()); recErr != nil {
				e.logger.WithError(recErr).WithField("item", item.ID).Error("Failed to record outbox error")
			}
			continue
		}

		res.Synced++
		if remErr := e.queue.Remove(ctx, item.ID); remErr != nil {
			e.logger.WithError(remErr).WithField("item", item.ID).Error("Failed to remove delivered item")
		}

		// A create remap rewrites queued snapshots that referenced the
		// temporary id, so reload the remainder from the store.
		if remapped {
			items, err = e.queue.DequeueOrdered(ctx)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("reload outbox after remap: %w", err))
				break
			}
		}
	}

	if err := e.store.PutSetting(ctx, store.SettingLastSyncToServer, e.clock().UTC().Format(time.RFC3339)); err != nil {
		e.logger.WithError(err).Warn("Failed to record push timestamp")
	}

	return res, nil
}

// pushItem delivers one mutation. It reports whether an identifier remap
// took place.
func (e *Engine) pushItem(ctx context.Context, item *models.OutboxItem) (bool, error) {
	logger := e.logger.WithFields(map[string]interface{}{
		"item":   item.ID,
		"entity": string(item.EntityType),
		"action": string(item.Action),
		"id":     item.EntityID.String(),
	})
	logger.Debug("Pushing item")

	switch item.Action {
	case models.ActionCreate:
		serverID, err := e.api.Create(ctx, item.EntityType, item.Data)
		if err != nil {
			return false, err
		}

		remapped := false
		if item.EntityID.IsTemporary() {
			refs, err := e.store.RemapID(ctx, item.EntityID, serverID)
			if err != nil {
				// The record keeps its temporary id locally; the next pull
				// will bring the server copy. Surfaced via logs only.
				logger.WithError(&models.RemapError{Old: item.EntityID, New: serverID, Err: err}).
					Warn("Identifier remap failed")
			} else {
				remapped = true
				logger.WithFields(map[string]interface{}{
					"server_id": serverID.String(),
					"refs":      refs,
				}).Info("Remapped temporary identifier")
			}
		}

		e.markSynced(ctx, item.EntityType, serverID, logger)
		return remapped, nil

	case models.ActionUpdate:
		if err := e.api.Update(ctx, item.EntityType, item.EntityID, item.Data); err != nil {
			return false, err
		}
		e.markSynced(ctx, item.EntityType, item.EntityID, logger)
		return false, nil

	case models.ActionDelete:
		if err := e.api.Delete(ctx, item.EntityType, item.EntityID); err != nil {
			return false, err
		}
		return false, nil

	default:
		return false, fmt.Errorf("unknown outbox action %q", item.Action)
	}
}

// markSynced flips a record's sync attributes after server acknowledgement.
func (e *Engine) markSynced(ctx context.Context, entity models.EntityType, id models.ID, logger *events.Logger) {
	row, err := e.store.Get(ctx, entity, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.WithError(err).Warn("Failed to load record for sync mark")
		}
		return
	}

	rec, err := row.Record(entity)
	if err != nil {
		logger.WithError(err).Warn("Failed to decode record for sync mark")
		return
	}
	rec.Meta().MarkSynced()

	updated, err := store.RowFromRecord(rec)
	if err != nil {
		logger.WithError(err).Warn("Failed to encode record for sync mark")
		return
	}
	if err := e.store.Put(ctx, entity, updated); err != nil {
		logger.WithError(err).Warn("Failed to mark record synced")
	}
}

// Pull replaces local collections with the server's current state. It never
// merges; after a push cycle the remote is authoritative (last-write-wins).
// A collection whose fetch fails keeps its local contents and is retried on
// the next cycle.
func (e *Engine) Pull(ctx context.Context) (PullResult, error) {
	var res PullResult
	now := e.clock().UTC()

	for _, entity := range models.EntityTypes {
		bodies, err := e.api.FetchAll(ctx, entity)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("fetch %s: %w", entity, err))
			continue
		}

		rows := make([]*store.Row, 0, len(bodies))
		for _, body := range bodies {
			row, err := store.RowFromServerBody(entity, body, now)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("decode %s record: %w", entity, err))
				continue
			}
			rows = append(rows, row)
		}

		if err := e.store.ReplaceAll(ctx, entity, rows); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("replace %s: %w", entity, err))
			continue
		}
		res.Pulled += len(rows)
	}

	if err := e.store.PutSetting(ctx, store.SettingLastSyncFromServer, now.Format(time.RFC3339)); err != nil {
		e.logger.WithError(err).Warn("Failed to record pull timestamp")
	}

	return res, nil
}

// backoffRemaining returns how long until the item may be retried. The delay
// doubles per recorded failure, capped at backoffMax.
func (e *Engine) backoffRemaining(item *models.OutboxItem) time.Duration {
	if item.RetryCount == 0 || item.LastAttempt.IsZero() {
		return 0
	}

	delay := e.backoffBase
	for i := 1; i < item.RetryCount && delay < e.backoffMax; i++ {
		delay *= 2
	}
	if delay > e.backoffMax {
		delay = e.backoffMax
	}

	remaining := delay - e.clock().Sub(item.LastAttempt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// LastSyncTimes reads the bookkeeping timestamps recorded in settings.
func (e *Engine) LastSyncTimes(ctx context.Context) (from, to time.Time) {
	if v, err := e.store.GetSetting(ctx, store.SettingLastSyncFromServer); err == nil {
		from, _ = time.Parse(time.RFC3339, v)
	}
	if v, err := e.store.GetSetting(ctx, store.SettingLastSyncToServer); err == nil {
		to, _ = time.Parse(time.RFC3339, v)
	}
	return from, to
}
