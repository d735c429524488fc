package repo

import (
	"context"

	"github.com/tillsync/tillsync/internal/models"
)

// Products is the catalog repository facade.
type Products struct {
	base
}

// NewProducts creates the products facade.
func NewProducts(deps Deps) *Products {
	return &Products{newBase(models.EntityProducts, deps)}
}

// ProductInput creates a new catalog item.
type ProductInput struct {
	Name       string
	Category   string
	PriceCents int64
}

// ProductPatch updates a product; nil fields are left unchanged.
type ProductPatch struct {
	Name       *string
	Category   *string
	PriceCents *int64
	Active     *bool
}

// ProductFilter narrows List. Category and Name use secondary indexes.
type ProductFilter struct {
	Category string
	Name     string
}

// List returns products from the local store.
func (r *Products) List(ctx context.Context, filter *ProductFilter) ListResult[*models.Product] {
	index, value := "", ""
	if filter != nil {
		switch {
		case filter.Category != "":
			index, value = "category", filter.Category
		case filter.Name != "":
			index, value = "name", filter.Name
		}
	}

	records, err := r.listRecords(ctx, index, value)
	if err != nil {
		return ListResult[*models.Product]{Message: err.Error(), Entities: []*models.Product{}}
	}

	products := make([]*models.Product, 0, len(records))
	for _, rec := range records {
		products = append(products, rec.(*models.Product))
	}
	return ListResult[*models.Product]{Success: true, Entities: products}
}

// Create adds a catalog item.
func (r *Products) Create(ctx context.Context, input ProductInput) Result[*models.Product] {
	product := &models.Product{
		Name:       input.Name,
		Category:   input.Category,
		PriceCents: input.PriceCents,
		Active:     true,
	}

	offline, err := r.createRecord(ctx, product)
	if err != nil {
		return failure[*models.Product](err.Error())
	}

	res := Result[*models.Product]{Success: true, IsOffline: offline, Entity: product}
	if offline {
		res.Message = "product saved locally, will sync when online"
	} else {
		res.Message = "product created"
	}
	return res
}

// Update applies a patch to a product.
func (r *Products) Update(ctx context.Context, id models.ID, patch ProductPatch) Result[*models.Product] {
	rec, err := r.getRecord(ctx, id)
	if err != nil {
		return failure[*models.Product](notFoundMessage(err))
	}
	product := rec.(*models.Product)

	if patch.Name != nil {
		product.Name = *patch.Name
	}
	if patch.Category != nil {
		product.Category = *patch.Category
	}
	if patch.PriceCents != nil {
		product.PriceCents = *patch.PriceCents
	}
	if patch.Active != nil {
		product.Active = *patch.Active
	}

	offline, err := r.updateRecord(ctx, product)
	if err != nil {
		return failure[*models.Product](err.Error())
	}

	res := Result[*models.Product]{Success: true, IsOffline: offline, Entity: product}
	if offline {
		res.Message = "product updated locally, will sync when online"
	} else {
		res.Message = "product updated"
	}
	return res
}

// Delete removes a product.
func (r *Products) Delete(ctx context.Context, id models.ID) Result[*models.Product] {
	offline, err := r.deleteRecord(ctx, id)
	if err != nil {
		return failure[*models.Product](notFoundMessage(err))
	}

	res := Result[*models.Product]{Success: true, IsOffline: offline}
	if offline {
		res.Message = "product deleted locally, will sync when online"
	} else {
		res.Message = "product deleted"
	}
	return res
}
