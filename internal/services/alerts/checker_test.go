package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pricemate/service/internal/domain/catalog"
	"github.com/pricemate/service/internal/domain/tracking"
	"github.com/pricemate/service/internal/domain/user"
	"github.com/pricemate/service/internal/storage/memory"
)

type fakeMailer struct {
	failFor map[string]bool
	sent    []Notification
}

func (m *fakeMailer) SendPriceDropAlert(_ context.Context, n Notification) error {
	if m.failFor[n.Email] {
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, n)
	return nil
}

type fixture struct {
	store  *memory.Store
	mailer *fakeMailer
	check  *Checker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	mailer := &fakeMailer{failFor: map[string]bool{}}
	check, err := New(store, store, mailer, nil)
	if err != nil {
		t.Fatalf("new checker: %v", err)
	}
	return &fixture{store: store, mailer: mailer, check: check}
}

func (f *fixture) addCandidate(t *testing.T, email string, current, target float64, active bool) tracking.TrackedItem {
	t.Helper()
	ctx := context.Background()

	u, err := f.store.CreateUser(ctx, user.User{Email: email, PasswordHash: "x"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	p, err := f.store.CreateProduct(ctx, catalog.Product{
		ASIN:         "B00000" + u.ID[:4],
		Title:        "Widget for " + email,
		DetailURL:    "https://www.amazon.com.au/dp/B000000001",
		CurrentPrice: current,
		LowestPrice:  current,
		HighestPrice: current,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	item, err := f.store.CreateTrackedItem(ctx, tracking.TrackedItem{
		UserID:      u.ID,
		ProductID:   p.ID,
		TargetPrice: &target,
		IsActive:    active,
	})
	if err != nil {
		t.Fatalf("create tracked item: %v", err)
	}
	return item
}

func TestCheckAlertsSendsWhenTargetMet(t *testing.T) {
	f := newFixture(t)
	item := f.addCandidate(t, "a@example.com", 10, 15, true)

	sent, err := f.check.CheckAlerts(context.Background())
	if err != nil {
		t.Fatalf("check alerts: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 alert, got %d", sent)
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0].TargetPrice != 15 || f.mailer.sent[0].CurrentPrice != 10 {
		t.Fatalf("unexpected notification: %+v", f.mailer.sent)
	}

	alerts, err := f.store.ListAlerts(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Type != tracking.AlertTypePriceDrop || alerts[0].PriceAtAlert != 10 {
		t.Fatalf("unexpected alert row: %+v", alerts)
	}
}

func TestCheckAlertsCooldownSuppressesRepeat(t *testing.T) {
	f := newFixture(t)
	f.addCandidate(t, "a@example.com", 10, 15, true)

	if sent, _ := f.check.CheckAlerts(context.Background()); sent != 1 {
		t.Fatalf("expected first pass to alert, got %d", sent)
	}
	sent, err := f.check.CheckAlerts(context.Background())
	if err != nil {
		t.Fatalf("check alerts: %v", err)
	}
	if sent != 0 {
		t.Fatalf("expected cooldown to suppress repeat, got %d", sent)
	}
}

func TestCheckAlertsResendsAfterCooldown(t *testing.T) {
	f := newFixture(t)
	f.addCandidate(t, "a@example.com", 10, 15, true)

	base := time.Now().UTC()
	f.check.now = func() time.Time { return base }
	if sent, _ := f.check.CheckAlerts(context.Background()); sent != 1 {
		t.Fatal("expected first alert")
	}

	f.check.now = func() time.Time { return base.Add(12 * time.Hour) }
	if sent, _ := f.check.CheckAlerts(context.Background()); sent != 0 {
		t.Fatal("expected suppression inside the cooldown window")
	}

	f.check.now = func() time.Time { return base.Add(25 * time.Hour) }
	sent, err := f.check.CheckAlerts(context.Background())
	if err != nil {
		t.Fatalf("check alerts: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected a second alert after the window, got %d", sent)
	}
}

func TestCheckAlertsSendFailureDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	failedItem := f.addCandidate(t, "fails@example.com", 10, 15, true)
	okItem := f.addCandidate(t, "works@example.com", 20, 25, true)
	f.mailer.failFor["fails@example.com"] = true

	recorded, err := f.check.CheckAlerts(context.Background())
	if err != nil {
		t.Fatalf("check alerts: %v", err)
	}
	if recorded != 2 {
		t.Fatalf("expected both alerts recorded, got %d", recorded)
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0].Email != "works@example.com" {
		t.Fatalf("unexpected notifications: %+v", f.mailer.sent)
	}

	for _, item := range []tracking.TrackedItem{failedItem, okItem} {
		alerts, err := f.store.ListAlerts(context.Background(), item.ID)
		if err != nil || len(alerts) != 1 {
			t.Fatalf("expected alert row for item %s, got %v (%v)", item.ID, alerts, err)
		}
	}
}

func TestCheckAlertsSendFailureStillStartsCooldown(t *testing.T) {
	f := newFixture(t)
	item := f.addCandidate(t, "fails@example.com", 10, 15, true)
	f.mailer.failFor["fails@example.com"] = true

	base := time.Now().UTC()
	f.check.now = func() time.Time { return base }
	if recorded, _ := f.check.CheckAlerts(context.Background()); recorded != 1 {
		t.Fatal("expected failed send to still record the alert")
	}

	alerts, err := f.store.ListAlerts(context.Background(), item.ID)
	if err != nil || len(alerts) != 1 {
		t.Fatalf("alert row must be persisted despite the send failure, got %v (%v)", alerts, err)
	}

	// Even with the mailer healthy again, the item stays quiet until the
	// window elapses.
	f.mailer.failFor = map[string]bool{}
	f.check.now = func() time.Time { return base.Add(5 * time.Hour) }
	if recorded, _ := f.check.CheckAlerts(context.Background()); recorded != 0 {
		t.Fatalf("expected cooldown after a failed send, got %d alerts", recorded)
	}

	f.check.now = func() time.Time { return base.Add(25 * time.Hour) }
	if recorded, _ := f.check.CheckAlerts(context.Background()); recorded != 1 {
		t.Fatal("expected a fresh alert after the window")
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0].Email != "fails@example.com" {
		t.Fatalf("unexpected notifications: %+v", f.mailer.sent)
	}
}

func TestCheckAlertsIgnoresIneligibleItems(t *testing.T) {
	f := newFixture(t)
	f.addCandidate(t, "inactive@example.com", 10, 15, false)
	f.addCandidate(t, "above@example.com", 30, 15, true)

	ctx := context.Background()
	u, _ := f.store.CreateUser(ctx, user.User{Email: "notarget@example.com", PasswordHash: "x"})
	p, _ := f.store.CreateProduct(ctx, catalog.Product{ASIN: "B0NOTARGET", CurrentPrice: 5})
	if _, err := f.store.CreateTrackedItem(ctx, tracking.TrackedItem{UserID: u.ID, ProductID: p.ID, IsActive: true}); err != nil {
		t.Fatalf("create tracked item: %v", err)
	}

	sent, err := f.check.CheckAlerts(ctx)
	if err != nil {
		t.Fatalf("check alerts: %v", err)
	}
	if sent != 0 {
		t.Fatalf("expected no alerts, got %d", sent)
	}
}
