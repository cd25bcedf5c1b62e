// Package tracking holds the user-subscription domain models.
package tracking

import "time"

// AlertType identifies why an alert was sent.
type AlertType string

// AlertTypePriceDrop is emitted when a product's current price reaches a
// tracked item's target price.
const AlertTypePriceDrop AlertType = "price_drop"

// TrackedItem is a user's subscription to one product's price changes. At
// most one tracked item exists per (user, product) pair.
type TrackedItem struct {
	ID          string
	UserID      string
	ProductID   string
	TargetPrice *float64
	IsActive    bool
	CreatedAt   time.Time
}

// Alert records one sent notification. Rows are append-only and exist for
// cooldown deduplication and audit.
type Alert struct {
	ID            string
	TrackedItemID string
	Type          AlertType
	PriceAtAlert  float64
	SentAt        time.Time
}
