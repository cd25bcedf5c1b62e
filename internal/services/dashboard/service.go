// Package dashboard assembles a user's tracking overview: summary counts
// plus each subscription annotated with its recent price movement.
package dashboard

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/pricemate/service/internal/domain/catalog"
	"github.com/pricemate/service/internal/domain/tracking"
	"github.com/pricemate/service/internal/services/deals"
	"github.com/pricemate/service/internal/storage"
	"github.com/pricemate/service/pkg/logger"
)

// recentDropWindow bounds the summary's recent-observation count.
const recentDropWindow = 7 * 24 * time.Hour

// sparklinePoints is how many observations each item's sparkline carries.
const sparklinePoints = 5

// Summary aggregates a user's tracking activity.
type Summary struct {
	TotalTracked int
	ActiveAlerts int
	RecentDrops  int
}

// PriceChange describes the move from the previous observation to the
// current price. Percentage is rounded to one decimal place.
type PriceChange struct {
	Amount     float64
	Percentage float64
}

// Item is one subscription annotated for display: deal score, the change
// since the previous observation, and a short price history oldest-first.
type Item struct {
	Item        tracking.TrackedItem
	Product     catalog.Product
	Score       deals.Score
	PriceChange *PriceChange
	Sparkline   []float64
}

// Overview is the full dashboard payload, items newest-first.
type Overview struct {
	Summary Summary
	Items   []Item
}

// Service builds dashboard overviews.
type Service struct {
	items    storage.TrackedItemStore
	products storage.ProductStore
	records  storage.PriceRecordStore
	log      *logger.Logger
	now      func() time.Time
}

// New creates the dashboard service.
func New(items storage.TrackedItemStore, products storage.ProductStore, records storage.PriceRecordStore, log *logger.Logger) (*Service, error) {
	if items == nil {
		return nil, errors.New("dashboard: tracked item store required")
	}
	if products == nil {
		return nil, errors.New("dashboard: product store required")
	}
	if records == nil {
		return nil, errors.New("dashboard: price record store required")
	}
	if log == nil {
		log = logger.NewDefault("dashboard")
	}
	return &Service{
		items:    items,
		products: products,
		records:  records,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Get returns the user's overview. Subscriptions whose product has gone
// missing are skipped rather than failing the whole dashboard.
func (s *Service) Get(ctx context.Context, userID string) (Overview, error) {
	tracked, err := s.items.ListTrackedItems(ctx, userID)
	if err != nil {
		return Overview{}, err
	}

	overview := Overview{Items: make([]Item, 0, len(tracked))}
	overview.Summary.TotalTracked = len(tracked)
	dropCutoff := s.now().Add(-recentDropWindow)

	for _, item := range tracked {
		if item.IsActive && item.TargetPrice != nil {
			overview.Summary.ActiveAlerts++
		}

		product, err := s.products.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.log.WithField("tracked_item_id", item.ID).Warn("tracked item references missing product")
				continue
			}
			return Overview{}, err
		}

		recentWindow, err := s.records.ListPriceRecords(ctx, product.ID, &dropCutoff)
		if err != nil {
			return Overview{}, err
		}
		overview.Summary.RecentDrops += len(recentWindow)

		// One extra record beyond the sparkline gives the previous price.
		recent, err := s.records.LatestPriceRecords(ctx, product.ID, sparklinePoints+1)
		if err != nil {
			return Overview{}, err
		}

		overview.Items = append(overview.Items, Item{
			Item:        item,
			Product:     product,
			Score:       deals.ScoreFor(product.CurrentPrice, product.LowestPrice, product.HighestPrice),
			PriceChange: changeFrom(recent, product.CurrentPrice),
			Sparkline:   sparkline(recent),
		})
	}

	sort.Slice(overview.Items, func(i, j int) bool {
		return overview.Items[i].Item.CreatedAt.After(overview.Items[j].Item.CreatedAt)
	})
	return overview, nil
}

// sparkline flips up to sparklinePoints newest-first records into an
// oldest-first price series.
func sparkline(recent []catalog.PriceRecord) []float64 {
	n := len(recent)
	if n > sparklinePoints {
		n = sparklinePoints
	}
	series := make([]float64, n)
	for i := 0; i < n; i++ {
		series[n-1-i] = recent[i].Price
	}
	return series
}

// changeFrom compares the current price with the observation before the
// latest one. Without a usable previous price there is no change to report.
func changeFrom(recent []catalog.PriceRecord, current float64) *PriceChange {
	if len(recent) < 2 || recent[1].Price == 0 {
		return nil
	}
	previous := recent[1].Price
	amount := current - previous
	return &PriceChange{
		Amount:     amount,
		Percentage: math.Round(amount/previous*1000) / 10,
	}
}
