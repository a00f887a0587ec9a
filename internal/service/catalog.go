package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"eyeworks-storefront/internal/collection"
	"eyeworks-storefront/internal/domain"
	"eyeworks-storefront/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Catalog mirrors the whole inventory table. Any change reloads it.
type Catalog struct {
	repo      repository.InventoryRepository
	coll      *collection.Collection[domain.Product]
	validator *validator.Validate
	now       func() time.Time
}

func NewCatalog(repo repository.InventoryRepository) *Catalog {
	return &Catalog{
		repo: repo,
		coll: collection.New(collection.Schema[domain.Product]{
			ID:        func(p domain.Product) string { return p.ID },
			WithID:    func(p domain.Product, id string) domain.Product { p.ID = id; return p },
			Timestamp: func(p domain.Product) time.Time { return p.CreatedAt },
		}, repo.Source(), collection.WithName("inventory"), collection.WithReloadOnChange()),
		validator: validator.New(),
		now:       time.Now,
	}
}

func (c *Catalog) Start(ctx context.Context) error {
	if _, err := c.coll.Load(ctx, ""); err != nil {
		log.Warn().Err(err).Msg("inventory unavailable")
	}
	return c.coll.Subscribe(ctx, "", nil, nil)
}

func (c *Catalog) Refresh(ctx context.Context) error {
	_, err := c.coll.Load(ctx, "")
	return err
}

// Products returns every product, newest first.
func (c *Catalog) Products() []domain.ProductView {
	items := c.coll.Items()
	out := make([]domain.ProductView, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i].View())
	}
	return out
}

// ByCategory matches category case-insensitively as a substring.
func (c *Catalog) ByCategory(category string) []domain.ProductView {
	needle := strings.ToLower(strings.TrimSpace(category))
	var out []domain.ProductView
	for _, p := range c.Products() {
		if strings.Contains(strings.ToLower(p.Category), needle) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range c.coll.Items() {
		if p.Category == "" || seen[p.Category] {
			continue
		}
		seen[p.Category] = true
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out
}

// ByID serves from the mirror and falls back to the store.
func (c *Catalog) ByID(ctx context.Context, id string) (domain.ProductView, error) {
	for _, p := range c.coll.Items() {
		if p.ID == id {
			return p.View(), nil
		}
	}
	p, err := c.repo.Get(ctx, id)
	if err != nil {
		return domain.ProductView{}, err
	}
	return p.View(), nil
}

// SubmitProduct validates an admin product submission. Submissions are
// logged for review and not written to the inventory.
func (c *Catalog) SubmitProduct(req domain.CreateProductRequest) (domain.ProductView, error) {
	if err := c.validator.Struct(req); err != nil {
		return domain.ProductView{}, newValidationError(err)
	}
	p := req.Product(c.now())
	log.Info().
		Str("name", p.Name).
		Str("category", p.Category).
		Str("supplier", p.Supplier).
		Float64("price", p.Price).
		Msg("product submitted for review")
	return p.View(), nil
}

// Seed inserts products when the inventory is empty and reports how many
// were written.
func (c *Catalog) Seed(ctx context.Context, products []domain.Product) (int, error) {
	existing, err := c.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	n := 0
	for _, p := range products {
		if _, err := c.repo.Create(ctx, p); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (c *Catalog) State() collection.State[domain.Product] {
	return c.coll.State()
}

func (c *Catalog) Close() error {
	return c.coll.Close()
}
