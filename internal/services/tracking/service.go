// Package tracking manages user price subscriptions.
package tracking

import (
	"context"
	"errors"

	"github.com/pricemate/service/internal/domain/catalog"
	"github.com/pricemate/service/internal/domain/tracking"
	"github.com/pricemate/service/internal/storage"
	"github.com/pricemate/service/pkg/logger"
)

// ErrInvalidURL is returned when a tracked URL carries no recognizable
// catalog identifier.
var ErrInvalidURL = errors.New("tracking: url does not contain a product id")

// ErrInvalidTarget is returned for a non-positive target price.
var ErrInvalidTarget = errors.New("tracking: target price must be positive")

// ProductCatalog resolves products for new subscriptions.
type ProductCatalog interface {
	EnsureByASIN(ctx context.Context, asin string) (catalog.Product, error)
}

// TrackedProduct joins a subscription with the product it watches.
type TrackedProduct struct {
	Item    tracking.TrackedItem
	Product catalog.Product
}

// Service manages tracked items. All operations are scoped to the owning
// user; an item belonging to someone else behaves as if it does not exist.
type Service struct {
	items    storage.TrackedItemStore
	products storage.ProductStore
	catalog  ProductCatalog
	log      *logger.Logger
}

// New creates the tracking service.
func New(items storage.TrackedItemStore, products storage.ProductStore, catalog ProductCatalog, log *logger.Logger) (*Service, error) {
	if items == nil {
		return nil, errors.New("tracking: tracked item store required")
	}
	if products == nil {
		return nil, errors.New("tracking: product store required")
	}
	if catalog == nil {
		return nil, errors.New("tracking: product catalog required")
	}
	if log == nil {
		log = logger.NewDefault("tracking")
	}
	return &Service{items: items, products: products, catalog: catalog, log: log}, nil
}

// Track subscribes a user to an existing product.
func (s *Service) Track(ctx context.Context, userID, productID string, targetPrice *float64) (tracking.TrackedItem, error) {
	if userID == "" || productID == "" {
		return tracking.TrackedItem{}, errors.New("tracking: user and product required")
	}
	if targetPrice != nil && *targetPrice <= 0 {
		return tracking.TrackedItem{}, ErrInvalidTarget
	}
	if _, err := s.products.GetProduct(ctx, productID); err != nil {
		return tracking.TrackedItem{}, err
	}
	return s.items.CreateTrackedItem(ctx, tracking.TrackedItem{
		UserID:      userID,
		ProductID:   productID,
		TargetPrice: targetPrice,
		IsActive:    true,
	})
}

// TrackByURL subscribes a user to a product given its store URL, creating
// the product when it is not yet in the catalog.
func (s *Service) TrackByURL(ctx context.Context, userID, rawURL string, targetPrice *float64) (tracking.TrackedItem, error) {
	asin := catalog.ExtractASIN(rawURL)
	if asin == "" {
		return tracking.TrackedItem{}, ErrInvalidURL
	}
	product, err := s.catalog.EnsureByASIN(ctx, asin)
	if err != nil {
		return tracking.TrackedItem{}, err
	}
	return s.Track(ctx, userID, product.ID, targetPrice)
}

// Update changes a subscription's target price and active flag.
func (s *Service) Update(ctx context.Context, userID, itemID string, targetPrice *float64, isActive bool) (tracking.TrackedItem, error) {
	if targetPrice != nil && *targetPrice <= 0 {
		return tracking.TrackedItem{}, ErrInvalidTarget
	}
	item, err := s.owned(ctx, userID, itemID)
	if err != nil {
		return tracking.TrackedItem{}, err
	}
	item.TargetPrice = targetPrice
	item.IsActive = isActive
	return s.items.UpdateTrackedItem(ctx, item)
}

// Untrack removes a subscription.
func (s *Service) Untrack(ctx context.Context, userID, itemID string) error {
	if _, err := s.owned(ctx, userID, itemID); err != nil {
		return err
	}
	return s.items.DeleteTrackedItem(ctx, itemID)
}

// List returns a user's subscriptions joined with their products.
func (s *Service) List(ctx context.Context, userID string) ([]TrackedProduct, error) {
	items, err := s.items.ListTrackedItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make([]TrackedProduct, 0, len(items))
	for _, item := range items {
		p, err := s.products.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.log.WithField("tracked_item_id", item.ID).Warn("tracked item references missing product")
				continue
			}
			return nil, err
		}
		result = append(result, TrackedProduct{Item: item, Product: p})
	}
	return result, nil
}

func (s *Service) owned(ctx context.Context, userID, itemID string) (tracking.TrackedItem, error) {
	item, err := s.items.GetTrackedItem(ctx, itemID)
	if err != nil {
		return tracking.TrackedItem{}, err
	}
	if item.UserID != userID {
		return tracking.TrackedItem{}, storage.ErrNotFound
	}
	return item, nil
}
