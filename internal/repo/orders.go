package repo

import (
	"context"

	"github.com/tillsync/tillsync/internal/models"
)

// Orders is the order repository facade.
type Orders struct {
	base
}

// NewOrders creates the orders facade.
func NewOrders(deps Deps) *Orders {
	return &Orders{newBase(models.EntityOrders, deps)}
}

// OrderInput creates a new order. The total is derived from the lines.
type OrderInput struct {
	CustomerID models.ID
	Lines      []models.OrderLine
	Notes      string
}

// OrderPatch updates an order; nil fields are left unchanged.
type OrderPatch struct {
	Status     *models.OrderStatus
	CustomerID *models.ID
	Lines      *[]models.OrderLine
	Notes      *string
}

// OrderFilter narrows List. Status uses the store's secondary index.
type OrderFilter struct {
	Status     models.OrderStatus
	CustomerID models.ID
}

// List returns orders from the local store.
func (r *Orders) List(ctx context.Context, filter *OrderFilter) ListResult[*models.Order] {
	index, value := "", ""
	if filter != nil {
		switch {
		case filter.Status != "":
			index, value = "status", string(filter.Status)
		case !filter.CustomerID.IsZero():
			index, value = "customer_id", filter.CustomerID.String()
		}
	}

	records, err := r.listRecords(ctx, index, value)
	if err != nil {
		return ListResult[*models.Order]{Message: err.Error(), Entities: []*models.Order{}}
	}

	orders := make([]*models.Order, 0, len(records))
	for _, rec := range records {
		orders = append(orders, rec.(*models.Order))
	}
	return ListResult[*models.Order]{Success: true, Entities: orders}
}

// Create places a new order.
func (r *Orders) Create(ctx context.Context, input OrderInput) Result[*models.Order] {
	order := &models.Order{
		CustomerID: input.CustomerID,
		Status:     models.OrderOpen,
		Lines:      input.Lines,
		TotalCents: totalOf(input.Lines),
		Notes:      input.Notes,
	}

	offline, err := r.createRecord(ctx, order)
	if err != nil {
		return failure[*models.Order](err.Error())
	}

	res := Result[*models.Order]{Success: true, IsOffline: offline, Entity: order}
	if offline {
		res.Message = "order saved locally, will sync when online"
	} else {
		res.Message = "order created"
	}
	return res
}

// Update applies a patch to an order.
func (r *Orders) Update(ctx context.Context, id models.ID, patch OrderPatch) Result[*models.Order] {
	rec, err := r.getRecord(ctx, id)
	if err != nil {
		return failure[*models.Order](notFoundMessage(err))
	}
	order := rec.(*models.Order)

	if patch.Status != nil {
		order.Status = *patch.Status
	}
	if patch.CustomerID != nil {
		order.CustomerID = *patch.CustomerID
	}
	if patch.Lines != nil {
		order.Lines = *patch.Lines
		order.TotalCents = totalOf(order.Lines)
	}
	if patch.Notes != nil {
		order.Notes = *patch.Notes
	}

	offline, err := r.updateRecord(ctx, order)
	if err != nil {
		return failure[*models.Order](err.Error())
	}

	res := Result[*models.Order]{Success: true, IsOffline: offline, Entity: order}
	if offline {
		res.Message = "order updated locally, will sync when online"
	} else {
		res.Message = "order updated"
	}
	return res
}

// Delete removes an order.
func (r *Orders) Delete(ctx context.Context, id models.ID) Result[*models.Order] {
	offline, err := r.deleteRecord(ctx, id)
	if err != nil {
		return failure[*models.Order](notFoundMessage(err))
	}

	res := Result[*models.Order]{Success: true, IsOffline: offline}
	if offline {
		res.Message = "order deleted locally, will sync when online"
	} else {
		res.Message = "order deleted"
	}
	return res
}

func totalOf(lines []models.OrderLine) int64 {
	var total int64
	for _, line := range lines {
		total += int64(line.Quantity) * line.UnitCents
	}
	return total
}
