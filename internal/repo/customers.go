package repo

import (
	"context"

	"github.com/tillsync/tillsync/internal/models"
)

// Customers is the client-directory repository facade.
type Customers struct {
	base
}

// NewCustomers creates the customers facade.
func NewCustomers(deps Deps) *Customers {
	return &Customers{newBase(models.EntityCustomers, deps)}
}

// CustomerInput creates a new directory entry.
type CustomerInput struct {
	Name  string
	Phone string
	Email string
	Notes string
}

// CustomerPatch updates a customer; nil fields are left unchanged.
type CustomerPatch struct {
	Name  *string
	Phone *string
	Email *string
	Notes *string
}

// CustomerFilter narrows List by exact name (indexed).
type CustomerFilter struct {
	Name string
}

// List returns customers from the local store.
func (r *Customers) List(ctx context.Context, filter *CustomerFilter) ListResult[*models.Customer] {
	index, value := "", ""
	if filter != nil && filter.Name != "" {
		index, value = "name", filter.Name
	}

	records, err := r.listRecords(ctx, index, value)
	if err != nil {
		return ListResult[*models.Customer]{Message: err.Error(), Entities: []*models.Customer{}}
	}

	customers := make([]*models.Customer, 0, len(records))
	for _, rec := range records {
		customers = append(customers, rec.(*models.Customer))
	}
	return ListResult[*models.Customer]{Success: true, Entities: customers}
}

// Create adds a directory entry.
func (r *Customers) Create(ctx context.Context, input CustomerInput) Result[*models.Customer] {
	customer := &models.Customer{
		Name:  input.Name,
		Phone: input.Phone,
		Email: input.Email,
		Notes: input.Notes,
	}

	offline, err := r.createRecord(ctx, customer)
	if err != nil {
		return failure[*models.Customer](err.Error())
	}

	res := Result[*models.Customer]{Success: true, IsOffline: offline, Entity: customer}
	if offline {
		res.Message = "customer saved locally, will sync when online"
	} else {
		res.Message = "customer created"
	}
	return res
}

// Update applies a patch to a customer.
func (r *Customers) Update(ctx context.Context, id models.ID, patch CustomerPatch) Result[*models.Customer] {
	rec, err := r.getRecord(ctx, id)
	if err != nil {
		return failure[*models.Customer](notFoundMessage(err))
	}
	customer := rec.(*models.Customer)

	if patch.Name != nil {
		customer.Name = *patch.Name
	}
	if patch.Phone != nil {
		customer.Phone = *patch.Phone
	}
	if patch.Email != nil {
		customer.Email = *patch.Email
	}
	if patch.Notes != nil {
		customer.Notes = *patch.Notes
	}

	offline, err := r.updateRecord(ctx, customer)
	if err != nil {
		return failure[*models.Customer](err.Error())
	}

	res := Result[*models.Customer]{Success: true, IsOffline: offline, Entity: customer}
	if offline {
		res.Message = "customer updated locally, will sync when online"
	} else {
		res.Message = "customer updated"
	}
	return res
}

// Delete removes a customer.
func (r *Customers) Delete(ctx context.Context, id models.ID) Result[*models.Customer] {
	offline, err := r.deleteRecord(ctx, id)
	if err != nil {
		return failure[*models.Customer](notFoundMessage(err))
	}

	res := Result[*models.Customer]{Success: true, IsOffline: offline}
	if offline {
		res.Message = "customer deleted locally, will sync when online"
	} else {
		res.Message = "customer deleted"
	}
	return res
}
