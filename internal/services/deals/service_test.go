package deals

import (
	"context"
	"testing"
	"time"

	"github.com/pricemate/service/internal/domain/catalog"
	"github.com/pricemate/service/internal/storage"
	"github.com/pricemate/service/internal/storage/memory"
)

func TestScoreFor(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		lowest  float64
		highest float64
		want    Score
	}{
		{"at the floor", 10, 10, 100, ScoreGreat},
		{"deep discount", 30, 10, 100, ScoreGreat},
		{"middle of the band", 50, 10, 100, ScoreGood},
		{"shallow discount", 85, 10, 100, ScoreAverage},
		{"near the ceiling", 99, 10, 100, ScoreNone},
		{"no spread", 10, 10, 10, ScoreNone},
		{"no observations", 0, 0, 0, ScoreNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScoreFor(tt.current, tt.lowest, tt.highest); got != tt.want {
				t.Fatalf("ScoreFor(%v, %v, %v) = %q, want %q", tt.current, tt.lowest, tt.highest, got, tt.want)
			}
		})
	}
}

func TestListOrdersByDiscountWithPreviousPrice(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	seed := func(asin string, prices ...float64) catalog.Product {
		t.Helper()
		p, err := store.CreateProduct(ctx, catalog.Product{ASIN: asin, Title: asin})
		if err != nil {
			t.Fatalf("create product: %v", err)
		}
		for i, price := range prices {
			at := time.Now().UTC().Add(time.Duration(i-len(prices)) * time.Hour)
			p.CurrentPrice = price
			if p.LowestPrice == 0 || price < p.LowestPrice {
				p.LowestPrice = price
			}
			if price > p.HighestPrice {
				p.HighestPrice = price
			}
			err := store.ApplyPriceUpdates(ctx, []storage.PriceUpdate{{
				Product: p,
				Record:  catalog.PriceRecord{ProductID: p.ID, Price: price, RecordedAt: at},
			}})
			if err != nil {
				t.Fatalf("apply updates: %v", err)
			}
		}
		return p
	}

	seed("B0DEEPDEAL", 100, 20) // 80% off its highest
	seed("B0SOFTDEAL", 100, 90) // 10% off
	seed("B0NODEALXX", 50, 50)  // never below its highest

	svc, err := New(store, store, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	deals, err := svc.List(ctx, "", "", 10)
	if err != nil {
		t.Fatalf("list deals: %v", err)
	}
	if len(deals) != 2 {
		t.Fatalf("expected 2 deals, got %d", len(deals))
	}
	if deals[0].Product.ASIN != "B0DEEPDEAL" || deals[1].Product.ASIN != "B0SOFTDEAL" {
		t.Fatalf("deals out of order: %s, %s", deals[0].Product.ASIN, deals[1].Product.ASIN)
	}
	if deals[0].Score != ScoreGreat {
		t.Fatalf("expected great score for deep deal, got %q", deals[0].Score)
	}
	if deals[0].PreviousPrice == nil || *deals[0].PreviousPrice != 100 {
		t.Fatalf("expected previous price 100, got %v", deals[0].PreviousPrice)
	}
}
