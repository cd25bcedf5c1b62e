// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pricemate/service/internal/domain/catalog"
	"github.com/pricemate/service/internal/domain/tracking"
	"github.com/pricemate/service/internal/domain/user"
	"github.com/pricemate/service/internal/storage"
)

// Store implements every storage interface with process-local maps.
type Store struct {
	mu sync.RWMutex

	products       map[string]catalog.Product
	productByASIN  map[string]string
	priceRecords   map[string][]catalog.PriceRecord
	trackedItems   map[string]tracking.TrackedItem
	trackedByOwner map[string]string
	alerts         map[string][]tracking.Alert
	users          map[string]user.User
	userByEmail    map[string]string
	categories     map[string]catalog.Category
	categoryBySlug map[string]string
}

var _ storage.ProductStore = (*Store)(nil)
var _ storage.PriceRecordStore = (*Store)(nil)
var _ storage.TrackedItemStore = (*Store)(nil)
var _ storage.AlertStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.CategoryStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		products:       make(map[string]catalog.Product),
		productByASIN:  make(map[string]string),
		priceRecords:   make(map[string][]catalog.PriceRecord),
		trackedItems:   make(map[string]tracking.TrackedItem),
		trackedByOwner: make(map[string]string),
		alerts:         make(map[string][]tracking.Alert),
		users:          make(map[string]user.User),
		userByEmail:    make(map[string]string),
		categories:     make(map[string]catalog.Category),
		categoryBySlug: make(map[string]string),
	}
}

func ownerKey(userID, productID string) string {
	return userID + "/" + productID
}

// ProductStore implementation ------------------------------------------------

func (s *Store) CreateProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productByASIN[p.ASIN]; exists {
		return catalog.Product{}, storage.ErrDuplicate
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.LastFetchedAt = cloneTime(p.LastFetchedAt)

	s.products[p.ID] = p
	s.productByASIN[p.ASIN] = p.ID
	return cloneProduct(p), nil
}

func (s *Store) UpdateProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[p.ID]
	if !ok {
		return catalog.Product{}, storage.ErrNotFound
	}
	p.ASIN = existing.ASIN
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	p.LastFetchedAt = cloneTime(p.LastFetchedAt)

	s.products[p.ID] = p
	return cloneProduct(p), nil
}

func (s *Store) GetProduct(_ context.Context, id string) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, storage.ErrNotFound
	}
	return cloneProduct(p), nil
}

func (s *Store) GetProductByASIN(_ context.Context, asin string) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.productByASIN[asin]
	if !ok {
		return catalog.Product{}, storage.ErrNotFound
	}
	return cloneProduct(s.products[id]), nil
}

func (s *Store) SearchProducts(_ context.Context, query, cursor string, limit int) ([]catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	var matched []catalog.Product
	for _, p := range s.products {
		if p.ASIN == query || strings.Contains(strings.ToLower(p.Title), needle) {
			matched = append(matched, cloneProduct(p))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	var result []catalog.Product
	for _, p := range matched {
		if cursor != "" && p.ID <= cursor {
			continue
		}
		result = append(result, p)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ListFetchQueue(_ context.Context) ([]catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tracked := make(map[string]bool)
	for _, item := range s.trackedItems {
		if item.IsActive {
			tracked[item.ProductID] = true
		}
	}

	var result []catalog.Product
	for id := range tracked {
		if p, ok := s.products[id]; ok {
			result = append(result, cloneProduct(p))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].LastFetchedAt, result[j].LastFetchedAt
		switch {
		case a == nil && b == nil:
			return result[i].ID < result[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		case a.Equal(*b):
			return result[i].ID < result[j].ID
		default:
			return a.Before(*b)
		}
	})
	return result, nil
}

func (s *Store) ApplyPriceUpdates(_ context.Context, updates []storage.PriceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before mutating so a bad update cannot leave
	// the batch half applied.
	for _, u := range updates {
		if _, ok := s.products[u.Product.ID]; !ok {
			return storage.ErrNotFound
		}
	}

	now := time.Now().UTC()
	for _, u := range updates {
		p := u.Product
		existing := s.products[p.ID]
		p.ASIN = existing.ASIN
		p.CreatedAt = existing.CreatedAt
		p.UpdatedAt = now
		p.LastFetchedAt = cloneTime(p.LastFetchedAt)
		s.products[p.ID] = p

		rec := u.Record
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.ProductID = p.ID
		s.priceRecords[p.ID] = append(s.priceRecords[p.ID], rec)
	}
	return nil
}

func (s *Store) ListDeals(_ context.Context, categorySlug, cursor string, limit int) ([]catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categoryID := ""
	if categorySlug != "" {
		id, ok := s.categoryBySlug[categorySlug]
		if !ok {
			return nil, nil
		}
		categoryID = id
	}

	var deals []catalog.Product
	for _, p := range s.products {
		if p.HighestPrice <= p.CurrentPrice {
			continue
		}
		if categoryID != "" && p.CategoryID != categoryID {
			continue
		}
		if cursor != "" && p.ID <= cursor {
			continue
		}
		deals = append(deals, cloneProduct(p))
	}
	sort.Slice(deals, func(i, j int) bool {
		di := (deals[i].HighestPrice - deals[i].CurrentPrice) / deals[i].HighestPrice
		dj := (deals[j].HighestPrice - deals[j].CurrentPrice) / deals[j].HighestPrice
		if di == dj {
			return deals[i].ID < deals[j].ID
		}
		return di > dj
	})
	if limit > 0 && len(deals) > limit {
		deals = deals[:limit]
	}
	return deals, nil
}

func (s *Store) RecomputeAveragePrices(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for id, records := range s.priceRecords {
		p, ok := s.products[id]
		if !ok || len(records) == 0 {
			continue
		}
		var sum float64
		for _, rec := range records {
			sum += rec.Price
		}
		avg := sum / float64(len(records))
		if p.AveragePrice != avg {
			p.AveragePrice = avg
			p.UpdatedAt = time.Now().UTC()
			s.products[id] = p
			changed++
		}
	}
	return changed, nil
}

// PriceRecordStore implementation --------------------------------------------

func (s *Store) ListPriceRecords(_ context.Context, productID string, since *time.Time) ([]catalog.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []catalog.PriceRecord
	for _, rec := range s.priceRecords[productID] {
		if since != nil && rec.RecordedAt.Before(*since) {
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RecordedAt.After(result[j].RecordedAt) })
	return result, nil
}

func (s *Store) LatestPriceRecords(ctx context.Context, productID string, limit int) ([]catalog.PriceRecord, error) {
	records, err := s.ListPriceRecords(ctx, productID, nil)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// TrackedItemStore implementation --------------------------------------------

func (s *Store) CreateTrackedItem(_ context.Context, item tracking.TrackedItem) (tracking.TrackedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerKey(item.UserID, item.ProductID)
	if _, exists := s.trackedByOwner[key]; exists {
		return tracking.TrackedItem{}, storage.ErrDuplicate
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.CreatedAt = time.Now().UTC()
	item.TargetPrice = cloneFloat(item.TargetPrice)

	s.trackedItems[item.ID] = item
	s.trackedByOwner[key] = item.ID
	return cloneTrackedItem(item), nil
}

func (s *Store) UpdateTrackedItem(_ context.Context, item tracking.TrackedItem) (tracking.TrackedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.trackedItems[item.ID]
	if !ok {
		return tracking.TrackedItem{}, storage.ErrNotFound
	}
	item.UserID = existing.UserID
	item.ProductID = existing.ProductID
	item.CreatedAt = existing.CreatedAt
	item.TargetPrice = cloneFloat(item.TargetPrice)

	s.trackedItems[item.ID] = item
	return cloneTrackedItem(item), nil
}

func (s *Store) GetTrackedItem(_ context.Context, id string) (tracking.TrackedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.trackedItems[id]
	if !ok {
		return tracking.TrackedItem{}, storage.ErrNotFound
	}
	return cloneTrackedItem(item), nil
}

func (s *Store) DeleteTrackedItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.trackedItems[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.trackedItems, id)
	delete(s.trackedByOwner, ownerKey(item.UserID, item.ProductID))
	delete(s.alerts, id)
	return nil
}

func (s *Store) ListTrackedItems(_ context.Context, userID string) ([]tracking.TrackedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []tracking.TrackedItem
	for _, item := range s.trackedItems {
		if item.UserID == userID {
			result = append(result, cloneTrackedItem(item))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) FindTrackedItem(_ context.Context, userID, productID string) (tracking.TrackedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.trackedByOwner[ownerKey(userID, productID)]
	if !ok {
		return tracking.TrackedItem{}, storage.ErrNotFound
	}
	return cloneTrackedItem(s.trackedItems[id]), nil
}

func (s *Store) ListAlertCandidates(_ context.Context, cutoff time.Time) ([]storage.AlertCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []storage.AlertCandidate
	for _, item := range s.trackedItems {
		if !item.IsActive || item.TargetPrice == nil {
			continue
		}
		p, ok := s.products[item.ProductID]
		if !ok || p.CurrentPrice > *item.TargetPrice {
			continue
		}
		u, ok := s.users[item.UserID]
		if !ok {
			continue
		}
		recent := false
		for _, alert := range s.alerts[item.ID] {
			if alert.SentAt.After(cutoff) {
				recent = true
				break
			}
		}
		if recent {
			continue
		}
		result = append(result, storage.AlertCandidate{
			Item:    cloneTrackedItem(item),
			Product: cloneProduct(p),
			User:    u,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Item.ID < result[j].Item.ID })
	return result, nil
}

// AlertStore implementation ---------------------------------------------------

func (s *Store) CreateAlerts(_ context.Context, alerts []tracking.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, alert := range alerts {
		if _, ok := s.trackedItems[alert.TrackedItemID]; !ok {
			return storage.ErrNotFound
		}
	}
	for _, alert := range alerts {
		if alert.ID == "" {
			alert.ID = uuid.NewString()
		}
		s.alerts[alert.TrackedItemID] = append(s.alerts[alert.TrackedItemID], alert)
	}
	return nil
}

func (s *Store) ListAlerts(_ context.Context, trackedItemID string) ([]tracking.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tracking.Alert, len(s.alerts[trackedItemID]))
	copy(result, s.alerts[trackedItemID])
	return result, nil
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, exists := s.userByEmail[email]; exists {
		return user.User{}, storage.ErrDuplicate
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()

	s.users[u.ID] = u
	s.userByEmail[email] = u.ID
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.userByEmail[strings.ToLower(email)]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return s.users[id], nil
}

// CategoryStore implementation -------------------------------------------------

func (s *Store) CreateCategory(_ context.Context, c catalog.Category) (catalog.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.categoryBySlug[c.Slug]; exists {
		return catalog.Category{}, storage.ErrDuplicate
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()

	s.categories[c.ID] = c
	s.categoryBySlug[c.Slug] = c.ID
	return c, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok {
		return catalog.Category{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) GetCategoryBySlug(_ context.Context, slug string) (catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.categoryBySlug[slug]
	if !ok {
		return catalog.Category{}, storage.ErrNotFound
	}
	return s.categories[id], nil
}

func (s *Store) ListCategories(_ context.Context) ([]catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]catalog.Category, 0, len(s.categories))
	for _, c := range s.categories {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Clone helpers ----------------------------------------------------------------

func cloneProduct(p catalog.Product) catalog.Product {
	p.LastFetchedAt = cloneTime(p.LastFetchedAt)
	return p
}

func cloneTrackedItem(item tracking.TrackedItem) tracking.TrackedItem {
	item.TargetPrice = cloneFloat(item.TargetPrice)
	return item
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
