package models

import (
	"encoding/json"
	"time"
)

// ChangeKind is the kind of remote change notification.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is one change notification delivered by the realtime stream.
// DeviceID identifies the originating device so subscribers can discard
// echoes of their own writes.
type ChangeEvent struct {
	Event      ChangeKind      `json:"event"`
	Collection EntityType      `json:"collection"`
	EntityID   ID              `json:"entity_id"`
	Record     json.RawMessage `json:"record,omitempty"`
	DeviceID   string          `json:"device_id"`
	At         time.Time       `json:"at,omitzero"`
}
