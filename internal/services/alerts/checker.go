// Package alerts evaluates tracked items against their target prices and
// dispatches price drop notifications.
package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/pricemate/service/internal/domain/tracking"
	"github.com/pricemate/service/internal/metrics"
	"github.com/pricemate/service/internal/storage"
	"github.com/pricemate/service/pkg/logger"
)

// cooldown is how long a tracked item stays quiet after an alert so a price
// hovering at the target does not spam the user every cycle.
const cooldown = 24 * time.Hour

// Notification carries everything the mail channel needs for one alert.
type Notification struct {
	Email        string
	ProductTitle string
	ProductURL   string
	CurrentPrice float64
	TargetPrice  float64
}

// Mailer delivers a single price drop notification.
type Mailer interface {
	SendPriceDropAlert(ctx context.Context, n Notification) error
}

// Checker scans for tracked items whose target price has been met and sends
// at most one alert per item per cooldown window.
type Checker struct {
	items  storage.TrackedItemStore
	alerts storage.AlertStore
	mailer Mailer
	log    *logger.Logger
	now    func() time.Time
}

// New creates a checker. All dependencies are required.
func New(items storage.TrackedItemStore, alertStore storage.AlertStore, mailer Mailer, log *logger.Logger) (*Checker, error) {
	if items == nil {
		return nil, errors.New("alerts: tracked item store required")
	}
	if alertStore == nil {
		return nil, errors.New("alerts: alert store required")
	}
	if mailer == nil {
		return nil, errors.New("alerts: mailer required")
	}
	if log == nil {
		log = logger.NewDefault("alerts")
	}
	return &Checker{
		items:  items,
		alerts: alertStore,
		mailer: mailer,
		log:    log,
		now:    time.Now,
	}, nil
}

// CheckAlerts evaluates every eligible tracked item once and returns how many
// alerts were recorded. A send failure for one item never blocks the others,
// and the Alert row is persisted either way so the cooldown window still
// applies: a broken mail channel must not turn into a resend every cycle.
// Delivery is at-least-once — rows are committed in one batch after the scan,
// so a commit failure after successful sends may resend on the next pass.
func (c *Checker) CheckAlerts(ctx context.Context) (int, error) {
	now := c.now().UTC()
	candidates, err := c.items.ListAlertCandidates(ctx, now.Add(-cooldown))
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	recorded := make([]tracking.Alert, 0, len(candidates))
	for _, cand := range candidates {
		recorded = append(recorded, tracking.Alert{
			TrackedItemID: cand.Item.ID,
			Type:          tracking.AlertTypePriceDrop,
			PriceAtAlert:  cand.Product.CurrentPrice,
			SentAt:        now,
		})

		n := Notification{
			Email:        cand.User.Email,
			ProductTitle: cand.Product.Title,
			ProductURL:   cand.Product.DetailURL,
			CurrentPrice: cand.Product.CurrentPrice,
			TargetPrice:  *cand.Item.TargetPrice,
		}
		if err := c.mailer.SendPriceDropAlert(ctx, n); err != nil {
			c.log.WithError(err).
				WithField("tracked_item_id", cand.Item.ID).
				Warn("alert send failed")
		}
	}

	if err := c.alerts.CreateAlerts(ctx, recorded); err != nil {
		return len(recorded), err
	}
	metrics.RecordAlertsSent(len(recorded))
	return len(recorded), nil
}
