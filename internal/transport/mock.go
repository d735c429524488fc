package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tillsync/tillsync/internal/models"
)

// MockAPI is an in-memory remote entity service for tests. It assigns
// incrementing server identifiers on create and keeps the authoritative
// collection state, so tests can drive full push/pull cycles.
type MockAPI struct {
	mu sync.Mutex

	nextID  int64
	records map[models.EntityType]map[string]json.RawMessage

	// Error injection. FailAll rejects every call; FailEntity rejects one
	// entity's (entityID -> err) mutations.
	FailAll    error
	FailEntity map[string]error

	// Call tracking.
	Calls []APICall
}

// APICall records one remote invocation.
type APICall struct {
	Method string
	Entity models.EntityType
	ID     models.ID
	Body   json.RawMessage
}

// NewMockAPI creates an empty mock backend.
func NewMockAPI() *MockAPI {
	m := &MockAPI{
		nextID:     1,
		records:    make(map[models.EntityType]map[string]json.RawMessage),
		FailEntity: make(map[string]error),
	}
	for _, entity := range models.EntityTypes {
		m.records[entity] = make(map[string]json.RawMessage)
	}
	return m
}

// Seed installs a server-side record directly, bypassing create.
func (m *MockAPI) Seed(entity models.EntityType, id models.ID, body json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[entity][id.String()] = append(json.RawMessage(nil), body...)
	if n, ok := id.Permanent(); ok && n >= m.nextID {
		m.nextID = n + 1
	}
}

// ServerRecord returns the server's copy of a record.
func (m *MockAPI) ServerRecord(entity models.EntityType, id models.ID) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.records[entity][id.String()]
	return body, ok
}

func (m *MockAPI) Create(ctx context.Context, entity models.EntityType, body json.RawMessage) (models.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, APICall{Method: "create", Entity: entity, Body: body})
	if err := m.failure(""); err != nil {
		return models.ID{}, err
	}

	id := models.PermanentID(m.nextID)
	m.nextID++

	stored, err := withServerID(body, id)
	if err != nil {
		return models.ID{}, err
	}
	m.records[entity][id.String()] = stored
	return id, nil
}

func (m *MockAPI) Update(ctx context.Context, entity models.EntityType, id models.ID, body json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, APICall{Method: "update", Entity: entity, ID: id, Body: body})
	if err := m.failure(id.String()); err != nil {
		return err
	}

	if _, ok := m.records[entity][id.String()]; !ok {
		return &models.APIError{Code: "NOT_FOUND", Message: "no such record", StatusCode: 404}
	}
	stored, err := withServerID(body, id)
	if err != nil {
		return err
	}
	m.records[entity][id.String()] = stored
	return nil
}

func (m *MockAPI) Delete(ctx context.Context, entity models.EntityType, id models.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, APICall{Method: "delete", Entity: entity, ID: id})
	if err := m.failure(id.String()); err != nil {
		return err
	}

	delete(m.records[entity], id.String())
	return nil
}

func (m *MockAPI) FetchAll(ctx context.Context, entity models.EntityType) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, APICall{Method: "fetch_all", Entity: entity})
	if err := m.failure(""); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(m.records[entity]))
	for id := range m.records[entity] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	bodies := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		bodies = append(bodies, append(json.RawMessage(nil), m.records[entity][id]...))
	}
	return bodies, nil
}

func (m *MockAPI) failure(entityID string) error {
	if m.FailAll != nil {
		return m.FailAll
	}
	if entityID != "" {
		if err := m.FailEntity[entityID]; err != nil {
			return err
		}
	}
	return nil
}

// withServerID rewrites the body's id field to the server-issued identifier,
// mirroring what a real backend stores.
func withServerID(body json.RawMessage, id models.ID) (json.RawMessage, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse record body: %w", err)
	}
	doc["id"] = id.String()
	return json.Marshal(doc)
}

// MockStream is an in-memory NotificationStream for tests. Publish fans an
// event out to every subscriber of its collection.
type MockStream struct {
	mu     sync.Mutex
	subs   map[models.EntityType][]chan models.ChangeEvent
	closed bool
}

// NewMockStream creates an empty stream.
func NewMockStream() *MockStream {
	return &MockStream{subs: make(map[models.EntityType][]chan models.ChangeEvent)}
}

func (m *MockStream) Subscribe(ctx context.Context, collection models.EntityType) (<-chan models.ChangeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("notification stream is closed")
	}

	ch := make(chan models.ChangeEvent, 100)
	m.subs[collection] = append(m.subs[collection], ch)
	return ch, nil
}

// Publish delivers an event to all subscribers of its collection.
func (m *MockStream) Publish(event models.ChangeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subs[event.Collection] {
		ch <- event
	}
}

func (m *MockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for _, chans := range m.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	m.subs = make(map[models.EntityType][]chan models.ChangeEvent)
	return nil
}
