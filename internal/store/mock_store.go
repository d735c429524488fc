package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tillsync/tillsync/internal/models"
)

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu       sync.Mutex
	entities map[models.EntityType]map[string]*Row
	outbox   []*models.OutboxItem
	settings map[string]string
	seq      int64

	// Error injection.
	FailReads  error
	FailWrites error
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	s := &MemStore{
		entities: make(map[models.EntityType]map[string]*Row),
		settings: make(map[string]string),
	}
	for _, entity := range models.EntityTypes {
		s.entities[entity] = make(map[string]*Row)
	}
	return s
}

func (s *MemStore) Put(ctx context.Context, entity models.EntityType, row *Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	if !entity.Valid() {
		return fmt.Errorf("%w: %q", models.ErrUnknownEntity, entity)
	}
	cp := *row
	s.entities[entity][row.ID.String()] = &cp
	return nil
}

func (s *MemStore) Get(ctx context.Context, entity models.EntityType, id models.ID) (*Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	row, ok := s.entities[entity][id.String()]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *MemStore) GetAll(ctx context.Context, entity models.EntityType) ([]*Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	var rows []*Row
	for _, row := range s.entities[entity] {
		cp := *row
		rows = append(rows, &cp)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].LastModified.Equal(rows[j].LastModified) {
			return rows[i].LastModified.After(rows[j].LastModified)
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
	return rows, nil
}

func (s *MemStore) GetAllByIndex(ctx context.Context, entity models.EntityType, index, value string) ([]*Row, error) {
	if !isIndexOf(entity, index) {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, entity, index)
	}
	rows, err := s.GetAll(ctx, entity)
	if err != nil {
		return nil, err
	}
	var matched []*Row
	for _, row := range rows {
		rec, err := row.Record(entity)
		if err != nil {
			return nil, err
		}
		if rec.IndexValues()[index] == value {
			matched = append(matched, row)
		}
	}
	return matched, nil
}

func (s *MemStore) Delete(ctx context.Context, entity models.EntityType, id models.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	delete(s.entities[entity], id.String())
	return nil
}

func (s *MemStore) ReplaceAll(ctx context.Context, entity models.EntityType, rows []*Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	replaced := make(map[string]*Row, len(rows))
	for _, row := range rows {
		cp := *row
		replaced[row.ID.String()] = &cp
	}
	s.entities[entity] = replaced
	return nil
}

func (s *MemStore) RemapID(ctx context.Context, old, new models.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return 0, s.FailWrites
	}

	oldStr, newStr := old.String(), new.String()
	refs := 0

	for entity, rows := range s.entities {
		for key, row := range rows {
			rewritten, changed, err := rewriteIDs(row.Body, oldStr, newStr)
			if err != nil {
				return 0, err
			}
			if !changed {
				continue
			}
			row.Body = rewritten
			if key == oldStr {
				row.ID = new
				delete(rows, key)
				rows[newStr] = row
			} else {
				refs++
			}
			if rec, err := models.DecodeRecord(entity, row.Body); err == nil {
				row.Index = rec.IndexValues()
			}
		}
	}

	for _, item := range s.outbox {
		touched := false
		if item.EntityID.String() == oldStr {
			item.EntityID = new
			touched = true
		}
		if len(item.Data) > 0 {
			rewritten, changed, err := rewriteIDs(item.Data, oldStr, newStr)
			if err != nil {
				return 0, err
			}
			if changed {
				item.Data = rewritten
				touched = true
			}
		}
		if touched {
			refs++
		}
	}

	return refs, nil
}

func (s *MemStore) AppendOutbox(ctx context.Context, item *models.OutboxItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	s.seq++
	cp := *item
	cp.Seq = s.seq
	cp.Data = append(json.RawMessage(nil), item.Data...)
	s.outbox = append(s.outbox, &cp)
	return nil
}

func (s *MemStore) ListOutbox(ctx context.Context) ([]*models.OutboxItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	items := make([]*models.OutboxItem, len(s.outbox))
	for i, item := range s.outbox {
		cp := *item
		items[i] = &cp
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.Before(items[j].Timestamp)
		}
		return items[i].Seq < items[j].Seq
	})
	return items, nil
}

func (s *MemStore) RemoveOutbox(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	for i, item := range s.outbox {
		if item.ID == itemID {
			s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemStore) RecordOutboxError(ctx context.Context, itemID, message string, attemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	for _, item := range s.outbox {
		if item.ID == itemID {
			item.RetryCount++
			item.LastError = message
			item.LastAttempt = attemptAt
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemStore) OutboxCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return 0, s.FailReads
	}
	return len(s.outbox), nil
}

func (s *MemStore) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return "", s.FailReads
	}
	value, ok := s.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *MemStore) PutSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	s.settings[key] = value
	return nil
}

func (s *MemStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entity := range models.EntityTypes {
		s.entities[entity] = make(map[string]*Row)
	}
	s.outbox = nil
	s.settings = make(map[string]string)
	return nil
}

func (s *MemStore) Close() error { return nil }
