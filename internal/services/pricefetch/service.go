// Package pricefetch reconciles tracked products against the external
// catalog and hands the results to the alert checker.
package pricefetch

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

// CatalogClient looks up current listings for a batch of ASINs.
type CatalogClient interface {
	GetItems(ctx context.Context, asins []string) ([]amazon.Item, error)
}

// AlertChecker evaluates tracked items after a cycle and reports how many
// alerts were dispatched.
type AlertChecker interface {
	CheckAlerts(ctx context.Context) (int, error)
}

// Service runs price fetch cycles: it drains the fetch queue in catalog-sized
// batches, reconciles each product's price aggregates and commits every batch
// in its own transaction.
type Service struct {
	products  storage.ProductStore
	client    CatalogClient
	alerts    AlertChecker
	log       *logger.Logger
	batchSize int
}

// New creates the fetch service. The alert checker is optional; batchSize
// values outside 1..amazon.MaxBatchSize fall back to the catalog maximum.
func New(products storage.ProductStore, client CatalogClient, alerts AlertChecker, batchSize int, log *logger.Logger) (*Service, error) {
	if products == nil {
		return nil, errors.New("pricefetch: product store required")
	}
	if client == nil {
		return nil, errors.New("pricefetch: catalog client required")
	}
	if batchSize <= 0 || batchSize > amazon.MaxBatchSize {
		batchSize = amazon.MaxBatchSize
	}
	if log == nil {
		log = logger.NewDefault("pricefetch")
	}
	return &Service{
		products:  products,
		client:    client,
		alerts:    alerts,
		log:       log,
		batchSize: batchSize,
	}, nil
}

// RunCycle executes one full fetch pass. A batch that stays throttled through
// every retry is skipped so the rest of the queue still gets fetched; any
// other error aborts the cycle. The alert checker runs once per cycle
// regardless of how many batches were skipped.
func (s *Service) RunCycle(ctx context.Context) error {
	start := time.Now()
	updated, err := s.runCycle(ctx)
	metrics.RecordFetchCycle(time.Since(start), updated, err)
	return err
}

func (s *Service) runCycle(ctx context.Context) (int, error) {
	queue, err := s.products.ListFetchQueue(ctx)
	if err != nil {
		return 0, err
	}
	if len(queue) == 0 {
		s.log.Debug("fetch queue empty")
		return 0, nil
	}

	s.log.WithField("products", len(queue)).Info("fetch cycle started")

	updated := 0
	for offset := 0; offset < len(queue); offset += s.batchSize {
		end := offset + s.batchSize
		if end > len(queue) {
			end = len(queue)
		}
		batch := queue[offset:end]

		n, err := s.fetchBatch(ctx, batch)
		if errors.Is(err, amazon.ErrMaxRetries) {
			s.log.WithField("batch_size", len(batch)).
				Warn("batch skipped, catalog still throttled after retries")
			continue
		}
		if err != nil {
			return updated, err
		}
		updated += n
	}

	if s.alerts != nil {
		sent, err := s.alerts.CheckAlerts(ctx)
		if err != nil {
			s.log.WithError(err).Error("alert check failed")
		} else if sent > 0 {
			s.log.WithField("alerts", sent).Info("price drop alerts dispatched")
		}
	}

	s.log.WithField("updated", updated).Info("fetch cycle finished")
	return updated, nil
}

func (s *Service) fetchBatch(ctx context.Context, batch []catalog.Product) (int, error) {
	asins := make([]string, 0, len(batch))
	byASIN := make(map[string]catalog.Product, len(batch))
	for _, p := range batch {
		asins = append(asins, p.ASIN)
		byASIN[p.ASIN] = p
	}

	items, err := s.client.GetItems(ctx, asins)
	metrics.RecordAmazonRequest("GetItems", err)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var updates []storage.PriceUpdate
	for _, item := range items {
		p, ok := byASIN[item.ASIN]
		if !ok {
			s.log.WithField("asin", item.ASIN).Debug("unrequested asin in catalog response")
			continue
		}
		if item.Price == nil {
			s.log.WithField("asin", item.ASIN).Debug("listing has no offer, skipping")
			continue
		}
		updates = append(updates, reconcile(p, item, now))
	}

	if len(updates) == 0 {
		return 0, nil
	}
	if err := s.products.ApplyPriceUpdates(ctx, updates); err != nil {
		return 0, err
	}
	return len(updates), nil
}

// reconcile folds one observed listing into the product's running aggregates.
// Zero lowest/highest means no observation exists yet, so the first price
// seeds both bounds.
func reconcile(p catalog.Product, item amazon.Item, now time.Time) storage.PriceUpdate {
	price := *item.Price

	if item.Title != "" {
		p.Title = item.Title
	}
	if item.ImageURL != "" {
		p.ImageURL = item.ImageURL
	}
	if item.DetailURL != "" {
		p.DetailURL = item.DetailURL
	}

	p.CurrentPrice = price
	if p.LowestPrice == 0 || price < p.LowestPrice {
		p.LowestPrice = price
	}
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	p.LastFetchedAt = &now

	return storage.PriceUpdate{
		Product: p,
		Record: catalog.PriceRecord{
			ProductID:  p.ID,
			Price:      price,
			RecordedAt: now,
		},
	}
}
