package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType names a synchronized collection.
type EntityType string

const (
	EntityOrders    EntityType = "orders"
	EntityProducts  EntityType = "products"
	EntityCustomers EntityType = "customers"
)

// EntityTypes lists all synchronized collections in pull order. Customers and
// products are pulled before orders so foreign keys resolve against fresh
// state.
var EntityTypes = []EntityType{EntityCustomers, EntityProducts, EntityOrders}

// Valid reports whether the entity type is a known collection.
func (e EntityType) Valid() bool {
	switch e {
	case EntityOrders, EntityProducts, EntityCustomers:
		return true
	}
	return false
}

// SyncStatus tracks whether a record has been acknowledged by the server.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// SyncMeta carries the synchronization attributes embedded in every entity.
type SyncMeta struct {
	SyncStatus   SyncStatus `json:"sync_status"`
	IsLocalOnly  bool       `json:"is_local_only"`
	LastModified time.Time  `json:"last_modified"`
}

// Meta exposes the embedded sync attributes for generic mutation.
func (m *SyncMeta) Meta() *SyncMeta { return m }

// Touch marks a local mutation.
func (m *SyncMeta) Touch(now time.Time) {
	m.SyncStatus = SyncPending
	m.LastModified = now
}

// MarkSynced records server acknowledgement.
func (m *SyncMeta) MarkSynced() {
	m.SyncStatus = SyncSynced
	m.IsLocalOnly = false
}

// OrderStatus is the kitchen-facing lifecycle of an order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderPreparing OrderStatus = "preparing"
	OrderServed    OrderStatus = "served"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderLine is one item on an order.
type OrderLine struct {
	ProductID ID     `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitCents int64  `json:"unit_cents"`
}

// Order is a customer order.
type Order struct {
	ID         ID          `json:"id"`
	CustomerID ID          `json:"customer_id"`
	Status     OrderStatus `json:"status"`
	Lines      []OrderLine `json:"lines,omitempty"`
	TotalCents int64       `json:"total_cents"`
	Notes      string      `json:"notes,omitempty"`
	SyncMeta
}

// Product is a catalog item.
type Product struct {
	ID         ID     `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PriceCents int64  `json:"price_cents"`
	Active     bool   `json:"active"`
	SyncMeta
}

// Customer is a client-directory entry.
type Customer struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	Notes string `json:"notes,omitempty"`
	SyncMeta
}

// Record is implemented by every synchronized entity.
type Record interface {
	RecordID() ID
	SetRecordID(ID)
	Meta() *SyncMeta
	// IndexValues returns the secondary-index columns persisted alongside
	// the record body.
	IndexValues() map[string]string
}

func (o *Order) RecordID() ID      { return o.ID }
func (o *Order) SetRecordID(id ID) { o.ID = id }

func (o *Order) IndexValues() map[string]string {
	return map[string]string{
		"status":      string(o.Status),
		"customer_id": o.CustomerID.String(),
	}
}

func (p *Product) RecordID() ID      { return p.ID }
func (p *Product) SetRecordID(id ID) { p.ID = id }

func (p *Product) IndexValues() map[string]string {
	return map[string]string{
		"name":     p.Name,
		"category": p.Category,
	}
}

func (c *Customer) RecordID() ID      { return c.ID }
func (c *Customer) SetRecordID(id ID) { c.ID = id }

func (c *Customer) IndexValues() map[string]string {
	return map[string]string{
		"name": c.Name,
	}
}

// NewRecord returns an empty record of the given type for unmarshaling.
func NewRecord(entity EntityType) (Record, error) {
	switch entity {
	case EntityOrders:
		return &Order{}, nil
	case EntityProducts:
		return &Product{}, nil
	case EntityCustomers:
		return &Customer{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
}

// DecodeRecord unmarshals a JSON body into a typed record.
func DecodeRecord(entity EntityType, body []byte) (Record, error) {
	rec, err := NewRecord(entity)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, rec); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", entity, err)
	}
	return rec, nil
}

// EncodeRecord marshals a typed record to its JSON body.
func EncodeRecord(rec Record) ([]byte, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.RecordID(), err)
	}
	return body, nil
}
