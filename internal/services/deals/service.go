// Package deals ranks products by how far their current price sits below the
// observed highest.
package deals

import (
	"context"
	"errors"

	"github.com/pricemate/service/internal/domain/catalog"
	"github.com/pricemate/service/internal/storage"
	"github.com/pricemate/service/pkg/logger"
)

// Score buckets a deal by its position within the observed price band.
type Score string

const (
	ScoreGreat   Score = "great"
	ScoreGood    Score = "good"
	ScoreAverage Score = "average"
	ScoreNone    Score = ""
)

// ScoreFor places the current price within the [lowest, highest] band and
// buckets the result. A product without a band (no spread, or no
// observations yet) scores none.
func ScoreFor(current, lowest, highest float64) Score {
	if highest <= lowest || lowest <= 0 {
		return ScoreNone
	}
	position := (highest - current) / (highest - lowest)
	switch {
	case position >= 0.7:
		return ScoreGreat
	case position >= 0.4:
		return ScoreGood
	case position >= 0.1:
		return ScoreAverage
	default:
		return ScoreNone
	}
}

// Deal is a product currently priced below its observed highest, annotated
// with its score and the price seen before the latest observation.
type Deal struct {
	Product       catalog.Product
	Score         Score
	Discount      float64
	PreviousPrice *float64
}

// Service lists and scores deals.
type Service struct {
	products storage.ProductStore
	records  storage.PriceRecordStore
	log      *logger.Logger
}

// New creates the deal service.
func New(products storage.ProductStore, records storage.PriceRecordStore, log *logger.Logger) (*Service, error) {
	if products == nil {
		return nil, errors.New("deals: product store required")
	}
	if records == nil {
		return nil, errors.New("deals: price record store required")
	}
	if log == nil {
		log = logger.NewDefault("deals")
	}
	return &Service{products: products, records: records, log: log}, nil
}

// List returns deals ordered by discount depth, optionally filtered by
// category slug.
func (s *Service) List(ctx context.Context, categorySlug, cursor string, limit int) ([]Deal, error) {
	products, err := s.products.ListDeals(ctx, categorySlug, cursor, limit)
	if err != nil {
		return nil, err
	}

	deals := make([]Deal, 0, len(products))
	for _, p := range products {
		deal := Deal{
			Product:  p,
			Score:    ScoreFor(p.CurrentPrice, p.LowestPrice, p.HighestPrice),
			Discount: (p.HighestPrice - p.CurrentPrice) / p.HighestPrice,
		}
		// The latest record is the current price; the one before it is the
		// price the deal moved from.
		recent, err := s.records.LatestPriceRecords(ctx, p.ID, 2)
		if err != nil {
			return nil, err
		}
		if len(recent) == 2 {
			prev := recent[1].Price
			deal.PreviousPrice = &prev
		}
		deals = append(deals, deal)
	}
	return deals, nil
}
