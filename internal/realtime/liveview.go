package realtime

import (
	"sort"
	"sync"

	"github.com/tillsync/tillsync/internal/models"
)

// LiveView is the in-memory list a UI screen renders from. Change events
// merge into it by identifier while preserving the ordering, filter and
// limit the caller specified.
type LiveView struct {
	mu      sync.RWMutex
	entity  models.EntityType
	records []models.Record

	less   func(a, b models.Record) bool
	filter func(models.Record) bool
	limit  int
}

// ViewOption configures a LiveView.
type ViewOption func(*LiveView)

// WithOrder sets the sort comparator.
func WithOrder(less func(a, b models.Record) bool) ViewOption {
	return func(v *LiveView) { v.less = less }
}

// WithFilter drops records the predicate rejects.
func WithFilter(filter func(models.Record) bool) ViewOption {
	return func(v *LiveView) { v.filter = filter }
}

// WithLimit caps the list length after ordering.
func WithLimit(limit int) ViewOption {
	return func(v *LiveView) { v.limit = limit }
}

// NewLiveView creates a view seeded with the given records.
func NewLiveView(entity models.EntityType, seed []models.Record, opts ...ViewOption) *LiveView {
	v := &LiveView{entity: entity}
	for _, opt := range opts {
		opt(v)
	}
	for _, rec := range seed {
		if v.filter == nil || v.filter(rec) {
			v.records = append(v.records, rec)
		}
	}
	v.normalize()
	return v
}

// Apply merges one change event into the view.
func (v *LiveView) Apply(event models.ChangeEvent) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch event.Event {
	case models.ChangeDelete:
		v.removeLocked(event.EntityID)

	case models.ChangeInsert, models.ChangeUpdate:
		rec, err := models.DecodeRecord(v.entity, event.Record)
		if err != nil {
			return err
		}
		rec.Meta().MarkSynced()

		v.removeLocked(rec.RecordID())
		if v.filter == nil || v.filter(rec) {
			v.records = append(v.records, rec)
		}
	}

	v.normalize()
	return nil
}

// Snapshot returns the current list.
func (v *LiveView) Snapshot() []models.Record {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]models.Record, len(v.records))
	copy(out, v.records)
	return out
}

// Len returns the current list length.
func (v *LiveView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

func (v *LiveView) removeLocked(id models.ID) {
	for i, rec := range v.records {
		if rec.RecordID() == id {
			v.records = append(v.records[:i], v.records[i+1:]...)
			return
		}
	}
}

// normalize re-sorts and re-trims after a merge. Callers hold the lock, or
// the view is not yet shared.
func (v *LiveView) normalize() {
	if v.less != nil {
		sort.SliceStable(v.records, func(i, j int) bool {
			return v.less(v.records[i], v.records[j])
		})
	}
	if v.limit > 0 && len(v.records) > v.limit {
		v.records = v.records[:v.limit]
	}
}
