// Package storage defines the persistence interfaces shared by the services.
// Implementations live in the memory and postgres subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pricemate/service/internal/domain/catalog"
	"github.com/pricemate/service/internal/domain/tracking"
	"github.com/pricemate/service/internal/domain/user"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness rule.
var ErrDuplicate = errors.New("already exists")

// PriceUpdate carries one product's reconciled state together with the price
// observation that produced it. Updates for a batch are applied atomically.
type PriceUpdate struct {
	Product catalog.Product
	Record  catalog.PriceRecord
}

// AlertCandidate is a tracked item eligible for a price-drop alert, joined
// with the product and recipient needed to dispatch it.
type AlertCandidate struct {
	Item    tracking.TrackedItem
	Product catalog.Product
	User    user.User
}

// ProductStore persists products and their running price aggregates.
type ProductStore interface {
	CreateProduct(ctx context.Context, p catalog.Product) (catalog.Product, error)
	UpdateProduct(ctx context.Context, p catalog.Product) (catalog.Product, error)
	GetProduct(ctx context.Context, id string) (catalog.Product, error)
	GetProductByASIN(ctx context.Context, asin string) (catalog.Product, error)

	// SearchProducts matches the query against titles and exact ASINs,
	// ordered by ID ascending, returning records with ID > cursor.
	SearchProducts(ctx context.Context, query, cursor string, limit int) ([]catalog.Product, error)

	// ListFetchQueue returns every product with at least one active tracked
	// item, ordered by LastFetchedAt ascending with never-fetched first.
	ListFetchQueue(ctx context.Context) ([]catalog.Product, error)

	// ApplyPriceUpdates commits a batch of reconciled products and their
	// price records in a single transaction.
	ApplyPriceUpdates(ctx context.Context, updates []PriceUpdate) error

	// ListDeals returns products currently priced below their observed
	// highest, optionally filtered by category slug, ordered by discount
	// depth descending then ID, returning records with ID > cursor.
	ListDeals(ctx context.Context, categorySlug, cursor string, limit int) ([]catalog.Product, error)

	// RecomputeAveragePrices refreshes every product's AveragePrice from its
	// price history and reports how many products changed.
	RecomputeAveragePrices(ctx context.Context) (int, error)
}

// PriceRecordStore reads the append-only price history.
type PriceRecordStore interface {
	// ListPriceRecords returns records for a product newest-first. A nil
	// since returns the full history.
	ListPriceRecords(ctx context.Context, productID string, since *time.Time) ([]catalog.PriceRecord, error)

	// LatestPriceRecords returns up to limit records newest-first.
	LatestPriceRecords(ctx context.Context, productID string, limit int) ([]catalog.PriceRecord, error)
}

// TrackedItemStore persists user price subscriptions.
type TrackedItemStore interface {
	// CreateTrackedItem inserts a subscription; ErrDuplicate when the
	// (user, product) pair is already tracked.
	CreateTrackedItem(ctx context.Context, item tracking.TrackedItem) (tracking.TrackedItem, error)
	UpdateTrackedItem(ctx context.Context, item tracking.TrackedItem) (tracking.TrackedItem, error)
	GetTrackedItem(ctx context.Context, id string) (tracking.TrackedItem, error)
	DeleteTrackedItem(ctx context.Context, id string) error
	ListTrackedItems(ctx context.Context, userID string) ([]tracking.TrackedItem, error)
	FindTrackedItem(ctx context.Context, userID, productID string) (tracking.TrackedItem, error)

	// ListAlertCandidates returns active tracked items whose target price is
	// set and met by the product's current price, and which have no alert
	// sent after the cutoff.
	ListAlertCandidates(ctx context.Context, cutoff time.Time) ([]AlertCandidate, error)
}

// AlertStore persists sent-notification records.
type AlertStore interface {
	// CreateAlerts appends the given alerts in one commit.
	CreateAlerts(ctx context.Context, alerts []tracking.Alert) error
	ListAlerts(ctx context.Context, trackedItemID string) ([]tracking.Alert, error)
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
}

// CategoryStore persists browse categories.
type CategoryStore interface {
	CreateCategory(ctx context.Context, c catalog.Category) (catalog.Category, error)
	GetCategory(ctx context.Context, id string) (catalog.Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (catalog.Category, error)
	ListCategories(ctx context.Context) ([]catalog.Category, error)
}
