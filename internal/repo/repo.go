// Package repo exposes the per-entity CRUD surface consumed by the UI. Each
// facade applies the same decision rule: try the remote service while online
// and mirror the result locally; on any failure, persist locally and queue
// the mutation for the sync engine. The online/offline distinction is
// invisible to the caller beyond the IsOffline flag.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/tillsync/tillsync/internal/events"
	"github.com/tillsync/tillsync/internal/models"
	"github.com/tillsync/tillsync/internal/store"
	"github.com/tillsync/tillsync/internal/syncer"
	"github.com/tillsync/tillsync/internal/transport"
)

// Connectivity is the host-provided online signal.
type Connectivity interface {
	IsOnline() bool
}

// Deps carries the collaborators shared by all facades.
type Deps struct {
	Store  store.Store
	API    transport.EntityAPI
	Port   syncer.Port
	Online Connectivity
	Logger *events.Logger
}

// Result is the uniform outcome shape returned to the UI.
type Result[T any] struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	IsOffline bool   `json:"is_offline"`
	Entity    T      `json:"entity,omitempty"`
}

// ListResult is the outcome of a list call.
type ListResult[T any] struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Entities []T    `json:"entities"`
}

func failure[T any](message string) Result[T] {
	return Result[T]{Message: message}
}

type base struct {
	entity models.EntityType
	store  store.Store
	api    transport.EntityAPI
	port   syncer.Port
	online Connectivity
	logger *events.Logger
	clock  func() time.Time
}

func newBase(entity models.EntityType, deps Deps) base {
	return base{
		entity: entity,
		store:  deps.Store,
		api:    deps.API,
		port:   deps.Port,
		online: deps.Online,
		logger: deps.Logger.WithField("component", "repo_"+string(entity)),
		clock:  time.Now,
	}
}

// createRecord persists a new record, remote-first. It reports whether the
// record ended up local-only.
func (b *base) createRecord(ctx context.Context, rec models.Record) (bool, error) {
	now := b.clock().UTC()

	if b.online.IsOnline() {
		body, err := models.EncodeRecord(rec)
		if err != nil {
			return false, err
		}

		serverID, err := b.api.Create(ctx, b.entity, body)
		if err == nil {
			rec.SetRecordID(serverID)
			rec.Meta().MarkSynced()
			rec.Meta().LastModified = now
			if putErr := b.putRecord(ctx, rec); putErr != nil {
				b.logger.WithError(putErr).Warn("Failed to mirror created record locally")
			}
			b.afterOnlineMutation(ctx)
			return false, nil
		}
		b.logger.WithError(err).Warn("Remote create failed, persisting locally")
	}

	rec.SetRecordID(models.NewTemporaryID())
	meta := rec.Meta()
	meta.SyncStatus = models.SyncPending
	meta.IsLocalOnly = true
	meta.LastModified = now

	if err := b.putRecord(ctx, rec); err != nil {
		return true, err
	}

	body, err := models.EncodeRecord(rec)
	if err != nil {
		return true, err
	}
	if err := b.port.Enqueue(ctx, b.entity, models.ActionCreate, rec.RecordID(), body); err != nil {
		return true, err
	}

	return true, nil
}

// updateRecord persists a changed record, remote-first. Records the server
// has never seen skip the remote attempt; their queued create will carry the
// current snapshot once the identifier is remapped.
func (b *base) updateRecord(ctx context.Context, rec models.Record) (bool, error) {
	now := b.clock().UTC()
	id := rec.RecordID()

	if b.online.IsOnline() && !id.IsTemporary() {
		body, err := models.EncodeRecord(rec)
		if err != nil {
			return false, err
		}

		if err := b.api.Update(ctx, b.entity, id, body); err == nil {
			rec.Meta().MarkSynced()
			rec.Meta().LastModified = now
			if putErr := b.putRecord(ctx, rec); putErr != nil {
				b.logger.WithError(putErr).Warn("Failed to mirror updated record locally")
			}
			b.afterOnlineMutation(ctx)
			return false, nil
		} else {
			b.logger.WithError(err).Warn("Remote update failed, persisting locally")
		}
	}

	rec.Meta().Touch(now)
	if err := b.putRecord(ctx, rec); err != nil {
		return true, err
	}

	body, err := models.EncodeRecord(rec)
	if err != nil {
		return true, err
	}
	if err := b.port.Enqueue(ctx, b.entity, models.ActionUpdate, id, body); err != nil {
		return true, err
	}

	return true, nil
}

// deleteRecord removes a record. A record the server has never acknowledged
// is deleted outright, together with its queued mutations, so the delete
// never reaches a backend with no knowledge of it. A synced record is
// removed locally and the delete queued (or sent directly while online).
func (b *base) deleteRecord(ctx context.Context, id models.ID) (bool, error) {
	row, err := b.store.Get(ctx, b.entity, id)
	if err != nil {
		return false, err
	}

	if row.IsLocalOnly {
		if err := b.store.Delete(ctx, b.entity, id); err != nil {
			return false, err
		}
		if err := b.port.Discard(ctx, b.entity, id); err != nil {
			b.logger.WithError(err).Warn("Failed to discard queued mutations for deleted record")
		}
		return false, nil
	}

	if b.online.IsOnline() {
		if err := b.api.Delete(ctx, b.entity, id); err == nil {
			if delErr := b.store.Delete(ctx, b.entity, id); delErr != nil {
				b.logger.WithError(delErr).Warn("Failed to remove deleted record locally")
			}
			b.afterOnlineMutation(ctx)
			return false, nil
		} else {
			b.logger.WithError(err).Warn("Remote delete failed, queueing")
		}
	}

	if err := b.store.Delete(ctx, b.entity, id); err != nil {
		return true, err
	}
	if err := b.port.Enqueue(ctx, b.entity, models.ActionDelete, id, nil); err != nil {
		return true, err
	}

	return true, nil
}

// getRecord loads and decodes one record.
func (b *base) getRecord(ctx context.Context, id models.ID) (models.Record, error) {
	row, err := b.store.Get(ctx, b.entity, id)
	if err != nil {
		return nil, err
	}
	return row.Record(b.entity)
}

// listRecords reads from the local store, by secondary index when a filter
// is given. Store I/O failures degrade to an empty list with a logged error;
// they never propagate as a panic into UI code.
func (b *base) listRecords(ctx context.Context, index, value string) ([]models.Record, error) {
	var rows []*store.Row
	var err error

	if index == "" {
		rows, err = b.store.GetAll(ctx, b.entity)
	} else {
		rows, err = b.store.GetAllByIndex(ctx, b.entity, index, value)
	}
	if err != nil {
		b.logger.WithError(err).Error("Store read failed, returning empty list")
		return nil, err
	}

	records := make([]models.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.Record(b.entity)
		if err != nil {
			b.logger.WithError(err).WithField("id", row.ID.String()).Warn("Skipping undecodable record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (b *base) putRecord(ctx context.Context, rec models.Record) error {
	row, err := store.RowFromRecord(rec)
	if err != nil {
		return err
	}
	return b.store.Put(ctx, b.entity, row)
}

// afterOnlineMutation drains any backlog left from an offline stretch. The
// mutation itself already reached the server; a full pass is only worth it
// when something is still queued.
func (b *base) afterOnlineMutation(ctx context.Context) {
	pending, err := b.port.PendingCount(ctx)
	if err != nil || pending == 0 {
		return
	}
	b.port.SyncAll(ctx)
}

// notFoundMessage maps store errors to a caller-facing message.
func notFoundMessage(err error) string {
	if errors.Is(err, store.ErrNotFound) {
		return "record not found"
	}
	return err.Error()
}
