package repository

import (
	"context"
	"errors"
	"fmt"

	"eyeworks-storefront/internal/collection"
	"eyeworks-storefront/internal/domain"
	"eyeworks-storefront/internal/realtime"
	"eyeworks-storefront/internal/store"
)

type InventoryRepository interface {
	List(ctx context.Context) ([]domain.Product, error)
	ByCategory(ctx context.Context, category string) ([]domain.Product, error)
	Get(ctx context.Context, id string) (*domain.Product, error)
	Create(ctx context.Context, p domain.Product) (domain.Product, error)
	Source() collection.Source[domain.Product]
}

type inventoryRepository struct {
	table  *store.Table[domain.Product]
	source *tableSource[domain.Product]
}

var newestFirst = store.Order{Field: "created_at", Desc: true}

func NewInventoryRepository(backend store.Backend, broker *realtime.Broker) InventoryRepository {
	table := store.NewTable[domain.Product](backend, store.TableInventory)
	return &inventoryRepository{
		table:  table,
		source: newTableSource(table, broker, "", newestFirst),
	}
}

func (r *inventoryRepository) List(ctx context.Context) ([]domain.Product, error) {
	return r.source.Load(ctx, "")
}

func (r *inventoryRepository) ByCategory(ctx context.Context, category string) ([]domain.Product, error) {
	items, err := r.table.Select(ctx, store.Query{
		Filters: []store.Filter{store.Contains("category", category)},
		Order:   newestFirst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list products by category: %w", err)
	}
	return items, nil
}

func (r *inventoryRepository) Get(ctx context.Context, id string) (*domain.Product, error) {
	p, err := r.table.Get(ctx, store.Eq("id", id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

func (r *inventoryRepository) Create(ctx context.Context, p domain.Product) (domain.Product, error) {
	saved, err := r.table.Insert(ctx, p)
	if err != nil {
		return domain.Product{}, fmt.Errorf("failed to create product: %w", err)
	}
	return saved, nil
}

func (r *inventoryRepository) Source() collection.Source[domain.Product] {
	return r.source
}
