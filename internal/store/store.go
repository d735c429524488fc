package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tillsync/tillsync/internal/models"
)

// Store is the local durable store: one keyed collection per entity type,
// one outbox log, one settings map. All writes are idempotent upserts.
type Store interface {
	// Entity collections.
	Put(ctx context.Context, entity models.EntityType, row *Row) error
	Get(ctx context.Context, entity models.EntityType, id models.ID) (*Row, error)
	GetAll(ctx context.Context, entity models.EntityType) ([]*Row, error)
	GetAllByIndex(ctx context.Context, entity models.EntityType, index, value string) ([]*Row, error)
	Delete(ctx context.Context, entity models.EntityType, id models.ID) error

	// ReplaceAll swaps the full contents of a collection in one transaction.
	// Used by pull, which treats the server as authoritative.
	ReplaceAll(ctx context.Context, entity models.EntityType, rows []*Row) error

	// RemapID rewrites every occurrence of old — record keys, foreign keys
	// inside record bodies, queued outbox snapshots — to new, atomically.
	// Returns the number of referencing rows rewritten beyond the record
	// itself.
	RemapID(ctx context.Context, old, new models.ID) (int, error)

	// Outbox log.
	AppendOutbox(ctx context.Context, item *models.OutboxItem) error
	ListOutbox(ctx context.Context) ([]*models.OutboxItem, error)
	RemoveOutbox(ctx context.Context, itemID string) error
	RecordOutboxError(ctx context.Context, itemID, message string, attemptAt time.Time) error
	OutboxCount(ctx context.Context) (int, error)

	// Settings key/value map for sync bookkeeping.
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error

	// Reset wipes all local state. Used only for full local-state reset.
	Reset(ctx context.Context) error

	Close() error
}

// Errors.
var (
	ErrNotFound     = models.ErrNotFound
	ErrUnknownIndex = errors.New("unknown index")
)

// Settings keys written by the sync engine.
const (
	SettingLastSyncFromServer = "lastSyncFromServer"
	SettingLastSyncToServer   = "lastSyncToServer"
	SettingInitialized        = "initialized"
)

// Row is one persisted entity record: the JSON body plus the columns the
// store indexes and the synchronization attributes.
type Row struct {
	ID           models.ID
	Body         json.RawMessage
	Index        map[string]string
	SyncStatus   models.SyncStatus
	IsLocalOnly  bool
	LastModified time.Time
}

// RowFromRecord builds a Row from a typed record.
func RowFromRecord(rec models.Record) (*Row, error) {
	body, err := models.EncodeRecord(rec)
	if err != nil {
		return nil, err
	}
	meta := rec.Meta()
	return &Row{
		ID:           rec.RecordID(),
		Body:         body,
		Index:        rec.IndexValues(),
		SyncStatus:   meta.SyncStatus,
		IsLocalOnly:  meta.IsLocalOnly,
		LastModified: meta.LastModified,
	}, nil
}

// RowFromServerBody builds a synced Row from a server-origin JSON body.
func RowFromServerBody(entity models.EntityType, body []byte, now time.Time) (*Row, error) {
	rec, err := models.DecodeRecord(entity, body)
	if err != nil {
		return nil, err
	}
	rec.Meta().MarkSynced()
	if rec.Meta().LastModified.IsZero() {
		rec.Meta().LastModified = now
	}
	return RowFromRecord(rec)
}

// Record decodes the row body into its typed record.
func (r *Row) Record(entity models.EntityType) (models.Record, error) {
	return models.DecodeRecord(entity, r.Body)
}

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1
