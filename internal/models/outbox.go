package models

import (
	"encoding/json"
	"time"
)

// Action is the kind of mutation queued in the outbox.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// OutboxItem is one pending mutation awaiting transmission to the server.
// Items are owned by the sync engine; the UI only ever sees the pending count.
type OutboxItem struct {
	ID          string          `json:"id"`
	EntityType  EntityType      `json:"entity_type"`
	Action      Action          `json:"action"`
	EntityID    ID              `json:"entity_id"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	RetryCount  int             `json:"retry_count"`
	LastError   string          `json:"last_error,omitempty"`
	LastAttempt time.Time       `json:"last_attempt,omitzero"`

	// Seq is the insertion sequence, used as a stable tiebreak for items
	// enqueued within the same timestamp tick.
	Seq int64 `json:"-"`
}
