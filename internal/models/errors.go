package models

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrNotFound       = errors.New("record not found")
	ErrInvalidID      = errors.New("invalid identifier")
	ErrUnknownEntity  = errors.New("unknown entity type")
	ErrOffline        = errors.New("device is offline")
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrStoreClosed    = errors.New("store is closed")
)

// APIError represents a structured error from the remote entity service.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the failure is worth retrying on a later pass.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// PushItemError wraps a failure to deliver one outbox item. The item stays
// queued; the error is recorded against it for the next pass.
type PushItemError struct {
	ItemID     string
	EntityType EntityType
	Action     Action
	Err        error
}

func (e *PushItemError) Error() string {
	return fmt.Sprintf("push %s %s (item %s): %v", e.Action, e.EntityType, e.ItemID, e.Err)
}

func (e *PushItemError) Unwrap() error { return e.Err }

// RemapError reports a failed identifier sweep. The referencing records keep
// the stale temporary identifier; the inconsistency is surfaced via logs only.
type RemapError struct {
	Old ID
	New ID
	Err error
}

func (e *RemapError) Error() string {
	return fmt.Sprintf("remap %s -> %s: %v", e.Old, e.New, e.Err)
}

func (e *RemapError) Unwrap() error { return e.Err }
