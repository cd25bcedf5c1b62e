// Package products manages the catalog: lookup, search with external
// fallback, and price history.
package products

import (
	"context"
	"errors"
	"time"

	"github.com/pricemate/service/internal/domain/catalog"
	"github.com/pricemate/service/internal/metrics"
	"github.com/pricemate/service/internal/services/amazon"
	"github.com/pricemate/service/internal/storage"
	"github.com/pricemate/service/pkg/logger"
)

// SearchClient queries the external catalog by keywords.
type SearchClient interface {
	SearchItems(ctx context.Context, keywords string, pageSize int) ([]amazon.Item, error)
}

// Service reads and writes the product catalog. The external client is
// optional; without it search is local-only. The category store is also
// optional and lets search results seed the category list.
type Service struct {
	products   storage.ProductStore
	records    storage.PriceRecordStore
	categories storage.CategoryStore
	client     SearchClient
	log        *logger.Logger
}

// New creates the product service.
func New(products storage.ProductStore, records storage.PriceRecordStore, categories storage.CategoryStore, client SearchClient, log *logger.Logger) (*Service, error) {
	if products == nil {
		return nil, errors.New("products: product store required")
	}
	if records == nil {
		return nil, errors.New("products: price record store required")
	}
	if log == nil {
		log = logger.NewDefault("products")
	}
	return &Service{products: products, records: records, categories: categories, client: client, log: log}, nil
}

// Get returns one product by ID.
func (s *Service) Get(ctx context.Context, id string) (catalog.Product, error) {
	return s.products.GetProduct(ctx, id)
}

// GetByASIN returns one product by its catalog identifier.
func (s *Service) GetByASIN(ctx context.Context, asin string) (catalog.Product, error) {
	normalized, err := catalog.NormalizeASIN(asin)
	if err != nil {
		return catalog.Product{}, err
	}
	return s.products.GetProductByASIN(ctx, normalized)
}

// Search matches local products first. When nothing matches the first page
// and an external client is configured, it falls through to the catalog and
// upserts whatever comes back. External failures degrade to the local result
// rather than failing the search.
func (s *Service) Search(ctx context.Context, query, cursor string, limit int) ([]catalog.Product, error) {
	local, err := s.products.SearchProducts(ctx, query, cursor, limit)
	if err != nil {
		return nil, err
	}
	if len(local) > 0 || cursor != "" || s.client == nil {
		return local, nil
	}

	items, err := s.client.SearchItems(ctx, query, limit)
	metrics.RecordAmazonRequest("SearchItems", err)
	if err != nil {
		s.log.WithError(err).Warn("external search failed, returning local results")
		return local, nil
	}

	var result []catalog.Product
	for _, item := range items {
		p, err := s.upsert(ctx, item)
		if err != nil {
			s.log.WithError(err).WithField("asin", item.ASIN).Warn("upsert searched product failed")
			continue
		}
		result = append(result, p)
	}
	return result, nil
}

// EnsureByASIN returns the product for an ASIN, creating a bare record when
// it is not yet in the catalog. The fetch cycle fills in price data once the
// product is tracked.
func (s *Service) EnsureByASIN(ctx context.Context, asin string) (catalog.Product, error) {
	normalized, err := catalog.NormalizeASIN(asin)
	if err != nil {
		return catalog.Product{}, err
	}

	p, err := s.products.GetProductByASIN(ctx, normalized)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return catalog.Product{}, err
	}

	created, err := s.products.CreateProduct(ctx, catalog.Product{
		ASIN:      normalized,
		DetailURL: "https://www.amazon.com.au/dp/" + normalized,
	})
	if errors.Is(err, storage.ErrDuplicate) {
		// Lost a race with a concurrent create; the row exists now.
		return s.products.GetProductByASIN(ctx, normalized)
	}
	return created, err
}

// PriceHistory returns a product's observations newest-first. days <= 0
// returns the full history.
func (s *Service) PriceHistory(ctx context.Context, productID string, days int) ([]catalog.PriceRecord, error) {
	if _, err := s.products.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	var since *time.Time
	if days > 0 {
		t := time.Now().UTC().AddDate(0, 0, -days)
		since = &t
	}
	return s.records.ListPriceRecords(ctx, productID, since)
}

func (s *Service) upsert(ctx context.Context, item amazon.Item) (catalog.Product, error) {
	p, err := s.products.GetProductByASIN(ctx, item.ASIN)
	if errors.Is(err, storage.ErrNotFound) {
		fresh := catalog.Product{
			ASIN:       item.ASIN,
			Title:      item.Title,
			ImageURL:   item.ImageURL,
			DetailURL:  item.DetailURL,
			CategoryID: s.ensureCategory(ctx, item.Category),
		}
		if item.Price != nil {
			fresh.CurrentPrice = *item.Price
			fresh.LowestPrice = *item.Price
			fresh.HighestPrice = *item.Price
		}
		return s.products.CreateProduct(ctx, fresh)
	}
	if err != nil {
		return catalog.Product{}, err
	}

	// Known product: refresh the metadata but leave the price aggregates to
	// the fetch cycle, which also writes the history record.
	if item.Title != "" {
		p.Title = item.Title
	}
	if item.ImageURL != "" {
		p.ImageURL = item.ImageURL
	}
	if item.DetailURL != "" {
		p.DetailURL = item.DetailURL
	}
	if p.CategoryID == "" {
		p.CategoryID = s.ensureCategory(ctx, item.Category)
	}
	return s.products.UpdateProduct(ctx, p)
}

// ensureCategory resolves a browse-node name to a category ID, creating the
// category on first sight. Failures only cost the assignment, never the
// product upsert.
func (s *Service) ensureCategory(ctx context.Context, name string) string {
	if s.categories == nil || name == "" {
		return ""
	}
	slug := catalog.Slugify(name)
	if slug == "" {
		return ""
	}

	c, err := s.categories.GetCategoryBySlug(ctx, slug)
	if err == nil {
		return c.ID
	}
	if !errors.Is(err, storage.ErrNotFound) {
		s.log.WithError(err).WithField("slug", slug).Warn("category lookup failed")
		return ""
	}

	created, err := s.categories.CreateCategory(ctx, catalog.Category{Name: name, Slug: slug})
	if errors.Is(err, storage.ErrDuplicate) {
		if c, err := s.categories.GetCategoryBySlug(ctx, slug); err == nil {
			return c.ID
		}
		return ""
	}
	if err != nil {
		s.log.WithError(err).WithField("slug", slug).Warn("category create failed")
		return ""
	}
	return created.ID
}
