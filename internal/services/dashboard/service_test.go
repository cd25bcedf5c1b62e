package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/pricemate/service/internal/domain/catalog"
	"github.com/pricemate/service/internal/domain/tracking"
	"github.com/pricemate/service/internal/services/deals"
	"github.com/pricemate/service/internal/storage"
	"github.com/pricemate/service/internal/storage/memory"
)

func recordPrice(t *testing.T, store *memory.Store, p catalog.Product, price float64, at time.Time) catalog.Product {
	t.Helper()

	p.CurrentPrice = price
	if p.LowestPrice == 0 || price < p.LowestPrice {
		p.LowestPrice = price
	}
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	err := store.ApplyPriceUpdates(context.Background(), []storage.PriceUpdate{{
		Product: p,
		Record:  catalog.PriceRecord{ProductID: p.ID, Price: price, RecordedAt: at},
	}})
	if err != nil {
		t.Fatalf("apply price update: %v", err)
	}
	return p
}

func TestGetOverview(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	falling, err := store.CreateProduct(ctx, catalog.Product{ASIN: "B0FALLING1", Title: "Falling"})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	// One observation outside the 7-day window, then a daily slide.
	falling = recordPrice(t, store, falling, 70, base.AddDate(0, 0, -10))
	for i, price := range []float64{60, 50, 40, 30, 20, 10} {
		falling = recordPrice(t, store, falling, price, base.AddDate(0, 0, i-6))
	}

	flat, err := store.CreateProduct(ctx, catalog.Product{ASIN: "B0FLATLINE", Title: "Flat"})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	flat = recordPrice(t, store, flat, 25, base.AddDate(0, 0, -1))

	target := 15.0
	first, err := store.CreateTrackedItem(ctx, tracking.TrackedItem{
		UserID: "u1", ProductID: falling.ID, TargetPrice: &target, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create tracked item: %v", err)
	}
	second, err := store.CreateTrackedItem(ctx, tracking.TrackedItem{
		UserID: "u1", ProductID: flat.ID, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create tracked item: %v", err)
	}
	// A subscription whose product has vanished still counts as tracked.
	if _, err := store.CreateTrackedItem(ctx, tracking.TrackedItem{
		UserID: "u1", ProductID: "gone", IsActive: true,
	}); err != nil {
		t.Fatalf("create tracked item: %v", err)
	}

	svc, err := New(store, store, store, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.now = func() time.Time { return base }

	overview, err := svc.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get overview: %v", err)
	}

	if overview.Summary.TotalTracked != 3 {
		t.Fatalf("expected 3 tracked, got %d", overview.Summary.TotalTracked)
	}
	if overview.Summary.ActiveAlerts != 1 {
		t.Fatalf("expected 1 active alert, got %d", overview.Summary.ActiveAlerts)
	}
	// Six falling observations plus the flat one; the 10-day-old record is out.
	if overview.Summary.RecentDrops != 7 {
		t.Fatalf("expected 7 recent observations, got %d", overview.Summary.RecentDrops)
	}

	if len(overview.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(overview.Items))
	}
	if overview.Items[0].Item.ID != second.ID || overview.Items[1].Item.ID != first.ID {
		t.Fatalf("items not newest-first: %s then %s", overview.Items[0].Item.ID, overview.Items[1].Item.ID)
	}

	drop := overview.Items[1]
	if got, want := drop.Sparkline, []float64{50, 40, 30, 20, 10}; len(got) != len(want) {
		t.Fatalf("unexpected sparkline: %v", got)
	} else {
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("sparkline not oldest-first: %v", got)
			}
		}
	}
	if drop.PriceChange == nil {
		t.Fatal("expected a price change for the falling product")
	}
	if drop.PriceChange.Amount != -10 || drop.PriceChange.Percentage != -50 {
		t.Fatalf("unexpected price change: %+v", drop.PriceChange)
	}
	if drop.Score != deals.ScoreGreat {
		t.Fatalf("expected great score at the band bottom, got %q", drop.Score)
	}

	single := overview.Items[0]
	if single.PriceChange != nil {
		t.Fatalf("single observation should carry no change: %+v", single.PriceChange)
	}
	if len(single.Sparkline) != 1 || single.Sparkline[0] != 25 {
		t.Fatalf("unexpected sparkline: %v", single.Sparkline)
	}
	if single.Score != deals.ScoreNone {
		t.Fatalf("expected no score without a band, got %q", single.Score)
	}
}

func TestGetOverviewEmptyUser(t *testing.T) {
	store := memory.New()
	svc, err := New(store, store, store, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	overview, err := svc.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get overview: %v", err)
	}
	if overview.Summary != (Summary{}) {
		t.Fatalf("expected zero summary, got %+v", overview.Summary)
	}
	if len(overview.Items) != 0 {
		t.Fatalf("expected no items, got %d", len(overview.Items))
	}
}

func TestGetOverviewRoundsPercentage(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	p, err := store.CreateProduct(ctx, catalog.Product{ASIN: "B0ROUNDING", Title: "Round"})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	p = recordPrice(t, store, p, 29.99, base.AddDate(0, 0, -2))
	p = recordPrice(t, store, p, 27.50, base.AddDate(0, 0, -1))

	if _, err := store.CreateTrackedItem(ctx, tracking.TrackedItem{
		UserID: "u1", ProductID: p.ID, IsActive: true,
	}); err != nil {
		t.Fatalf("create tracked item: %v", err)
	}

	svc, err := New(store, store, store, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.now = func() time.Time { return base }

	overview, err := svc.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get overview: %v", err)
	}
	change := overview.Items[0].PriceChange
	if change == nil {
		t.Fatal("expected a price change")
	}
	// -2.49 / 29.99 is -8.3027...%; one decimal place.
	if change.Percentage != -8.3 {
		t.Fatalf("percentage not rounded to one decimal: %v", change.Percentage)
	}
}
