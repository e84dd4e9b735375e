// Package resolver maps cleaned records to category, brand, store and product
// ids, creating rows on first sight.
//
// The database is the authority: every miss goes through an idempotent
// get-or-create in storage, so concurrent runs converge on the same ids. The
// Cache only spares repeated round trips within one run and is discarded with
// it.
package resolver

import (
	"context"
	"fmt"

	"priceetl/internal/model"
	"priceetl/internal/storage"
	"priceetl/internal/transformer"
)

// Resolved carries the ids of one record.
type Resolved struct {
	CategoryID     int64
	BrandID        int64
	StoreID        int64
	ProductID      int64
	ProductCreated bool
}

type productKey struct {
	sku     string
	storeID int64
}

// Cache is owned by a single ingestion run. It is not safe for concurrent use.
type Cache struct {
	store storage.CatalogStore

	// named[table][name] = id
	named     map[string]map[string]int64
	products  map[productKey]int64
	storeURLs map[int64]string
}

func NewCache(store storage.CatalogStore) *Cache {
	return &Cache{
		store: store,
		named: map[string]map[string]int64{
			storage.TCategories: {},
			storage.TBrands:     {},
			storage.TStores:     {},
		},
		products:  make(map[productKey]int64),
		storeURLs: make(map[int64]string),
	}
}

// Prewarm loads every category, brand and store into the cache.
func (c *Cache) Prewarm(ctx context.Context) error {
	for table := range c.named {
		all, err := c.store.AllNamed(ctx, table)
		if err != nil {
			return fmt.Errorf("prewarm %s: %w", table, err)
		}
		for k, id := range all {
			c.named[table][k] = id
		}
	}
	return nil
}

// Len reports cached entries per table, products included.
func (c *Cache) Len() map[string]int {
	out := make(map[string]int, len(c.named)+1)
	for t, m := range c.named {
		out[t] = len(m)
	}
	out[storage.TProducts] = len(c.products)
	return out
}

func (c *Cache) ensureNamed(ctx context.Context, table, name string) (int64, error) {
	if id, ok := c.named[table][name]; ok {
		return id, nil
	}
	id, _, err := c.store.EnsureNamed(ctx, table, name)
	if err != nil {
		return 0, err
	}
	c.named[table][name] = id
	return id, nil
}

func (c *Cache) Category(ctx context.Context, name string) (int64, error) {
	return c.ensureNamed(ctx, storage.TCategories, name)
}

func (c *Cache) Brand(ctx context.Context, name string) (int64, error) {
	return c.ensureNamed(ctx, storage.TBrands, name)
}

// Store resolves a store and records its URL when one is given and differs
// from the last one written in this run.
func (c *Cache) Store(ctx context.Context, name, url string) (int64, error) {
	id, err := c.ensureNamed(ctx, storage.TStores, name)
	if err != nil {
		return 0, err
	}
	if url != "" && c.storeURLs[id] != url {
		if err := c.store.SetStoreURL(ctx, id, url); err != nil {
			return 0, fmt.Errorf("store %q url: %w", name, err)
		}
		c.storeURLs[id] = url
	}
	return id, nil
}

// Resolve gets or creates every entity rec refers to. A newly created
// product gets its English translation; explicit-SKU records refresh the
// translation on every call.
func (c *Cache) Resolve(ctx context.Context, rec transformer.Record) (Resolved, error) {
	var (
		r   Resolved
		err error
	)
	if r.CategoryID, err = c.Category(ctx, rec.Category); err != nil {
		return r, fmt.Errorf("category %q: %w", rec.Category, err)
	}
	if r.BrandID, err = c.Brand(ctx, rec.Brand); err != nil {
		return r, fmt.Errorf("brand %q: %w", rec.Brand, err)
	}
	if r.StoreID, err = c.Store(ctx, rec.Store, rec.StoreURL); err != nil {
		return r, fmt.Errorf("store %q: %w", rec.Store, err)
	}

	key := productKey{sku: rec.SKU, storeID: r.StoreID}
	if id, ok := c.products[key]; ok {
		r.ProductID = id
	} else {
		r.ProductID, r.ProductCreated, err = c.store.EnsureProduct(ctx, storage.NewProduct{
			SKU:           rec.SKU,
			CategoryID:    r.CategoryID,
			BrandID:       r.BrandID,
			StoreID:       r.StoreID,
			Price:         rec.Price,
			VATPercentage: rec.VATPercentage,
		})
		if err != nil {
			return r, fmt.Errorf("product %q: %w", rec.SKU, err)
		}
		c.products[key] = r.ProductID
	}

	if r.ProductCreated || rec.ExplicitSKU {
		err = c.store.UpsertTranslation(ctx, model.ProductTranslation{
			ProductID:   r.ProductID,
			Locale:      model.DefaultLocale,
			Name:        rec.ProductName,
			Description: rec.Description,
		})
		if err != nil {
			return r, fmt.Errorf("product %q translation: %w", rec.SKU, err)
		}
	}
	return r, nil
}
